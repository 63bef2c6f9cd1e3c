package deocean

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SwitchStatus is the last known on/off state of a device.
type SwitchStatus int

// Switch states.
const (
	SwitchUnknown SwitchStatus = iota
	SwitchOn
	SwitchOff
)

// String returns "unknown", "on" or "off".
func (s SwitchStatus) String() string {
	switch s {
	case SwitchOn:
		return "on"
	case SwitchOff:
		return "off"
	default:
		return "unknown"
	}
}

// TogglePolicy decides what Toggle does while the switch status is unknown.
type TogglePolicy int

const (
	// ToggleTurnOn turns the device on when its status is unknown.
	ToggleTurnOn TogglePolicy = iota

	// ToggleSyncFirst requests the status and waits for the reply before
	// toggling; if no reply arrives in time the device is turned on. A cover
	// that replies with only a position counts as open above 0.
	ToggleSyncFirst
)

// ParseTogglePolicy parses "turn_on" or "sync_first". Empty means turn_on.
func ParseTogglePolicy(s string) (TogglePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "turn_on":
		return ToggleTurnOn, nil
	case "sync_first":
		return ToggleSyncFirst, nil
	default:
		return ToggleTurnOn, fmt.Errorf("unknown toggle policy %q (use turn_on or sync_first)", s)
	}
}

// String returns the policy name.
func (p TogglePolicy) String() string {
	if p == ToggleSyncFirst {
		return "sync_first"
	}
	return "turn_on"
}

// StateUpdate is a state delta reported by the gateway.
type StateUpdate struct {
	// Status is the new switch status. SwitchUnknown leaves it unchanged.
	Status SwitchStatus

	// Position is the new cover position, applied when HasPosition is set.
	Position    uint8
	HasPosition bool
}

// Device is a light or cover known to the gateway.
//
// State changes only through Update, which notifies observers when the
// state actually changed. Commands are fire-and-forget: they validate their
// arguments and hand a frame to the owning registry's sender.
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	address Address
	kind    TypeCode
	name    string

	mu          sync.RWMutex
	registry    *Registry
	status      SwitchStatus
	position    uint8
	hasPosition bool
	observers   []func(*Device)
	waiters     []chan struct{}
}

// NewDevice creates an unregistered device.
//
// Parameters:
//   - addr: Device address
//   - kind: TypeLight or TypeCover
//   - name: Display name; defaults to the type name when empty
//
// Returns:
//   - *Device: New device with unknown status
//   - error: ErrInvalidAddress or ErrInvalidDeviceType
func NewDevice(addr Address, kind TypeCode, name string) (*Device, error) {
	if addr == 0 {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidDeviceType, byte(kind))
	}
	if name == "" {
		name = kind.String()
	}
	return &Device{address: addr, kind: kind, name: name}, nil
}

// Address returns the device address.
func (d *Device) Address() Address { return d.address }

// Type returns the device type.
func (d *Device) Type() TypeCode { return d.kind }

// Name returns the display name.
func (d *Device) Name() string { return d.name }

// UniqueID returns a stable identifier for host integrations.
func (d *Device) UniqueID() string { return d.address.String() }

// Status returns the last known switch status.
func (d *Device) Status() SwitchStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Position returns the last reported position, if any.
func (d *Device) Position() (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.position, d.hasPosition
}

// IsOn reports whether the device is known to be on (or open).
func (d *Device) IsOn() bool { return d.Status() == SwitchOn }

// IsClosed reports whether the device is known to be off (or closed).
func (d *Device) IsClosed() bool { return d.Status() == SwitchOff }

// CoverPosition returns the effective cover position: 100 when the cover
// was last switched open, 0 when switched closed, otherwise the last
// reported position.
func (d *Device) CoverPosition() (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch d.status {
	case SwitchOn:
		return maxPosition, true
	case SwitchOff:
		return 0, true
	default:
		return d.position, d.hasPosition
	}
}

// OnUpdate registers an observer called with the device after every
// state change, in registration order.
//
// Returns:
//   - bool: false if fn is nil
func (d *Device) OnUpdate(fn func(*Device)) bool {
	if fn == nil {
		return false
	}
	d.mu.Lock()
	d.observers = append(d.observers, fn)
	d.mu.Unlock()
	return true
}

// Update applies a state delta from the gateway.
//
// Observers run synchronously on the caller's goroutine, outside the device
// lock, and only when a supplied field differs from the current state.
//
// Returns:
//   - bool: true if the state changed
func (d *Device) Update(u StateUpdate) bool {
	d.mu.Lock()
	dirty := false
	if u.HasPosition {
		dirty = !d.hasPosition || d.position != u.Position
		d.position, d.hasPosition = u.Position, true
	}
	if u.Status != SwitchUnknown {
		dirty = dirty || d.status != u.Status
		d.status = u.Status
	}
	if u.HasPosition || u.Status != SwitchUnknown {
		for _, w := range d.waiters {
			close(w)
		}
		d.waiters = nil
	}

	var observers []func(*Device)
	if dirty {
		observers = make([]func(*Device), len(d.observers))
		copy(observers, d.observers)
	}
	reg := d.registry
	d.mu.Unlock()

	if !dirty {
		if reg != nil {
			reg.logDebug("device state unchanged", "device", d.String())
		}
		return false
	}

	if reg != nil {
		reg.logDebug("device state updated", "device", d.String())
	}
	for _, fn := range observers {
		d.notify(reg, fn)
	}
	return true
}

// notify runs one observer, recovering from panics so a faulty observer
// cannot take down the receive loop.
func (d *Device) notify(reg *Registry, fn func(*Device)) {
	defer func() {
		if r := recover(); r != nil && reg != nil {
			reg.logError("device observer panic", fmt.Errorf("%v", r), "device", d.address.String())
		}
	}()
	fn(d)
}

// TurnOn switches the device on (opens a cover).
func (d *Device) TurnOn() error {
	reg, err := d.owner()
	if err != nil {
		return err
	}
	return d.command(reg, FuncSwitch, d.onCode(reg), 0, false)
}

// TurnOff switches the device off (closes a cover).
func (d *Device) TurnOff() error {
	reg, err := d.owner()
	if err != nil {
		return err
	}
	return d.command(reg, FuncSwitch, d.offCode(reg), 0, false)
}

// Toggle flips the switch status. With an unknown status the registry's
// TogglePolicy decides between turning on directly and syncing first.
func (d *Device) Toggle() error {
	reg, err := d.owner()
	if err != nil {
		return err
	}

	status := d.Status()
	if status == SwitchUnknown && reg.togglePolicy == ToggleSyncFirst {
		d.awaitReply(reg, reg.toggleSyncTimeout)
		status = d.effectiveStatus()
	}

	if status == SwitchOn {
		return d.TurnOff()
	}
	return d.TurnOn()
}

// SetPosition moves a cover. The position is clamped to 0-100; 0 and 100
// are sent as off/on switch commands.
//
// Returns:
//   - error: ErrUnsupportedOperation for lights
func (d *Device) SetPosition(pos int) error {
	if d.kind != TypeCover {
		return fmt.Errorf("%w: set position on %s %s", ErrUnsupportedOperation, d.kind, d.address)
	}
	reg, err := d.owner()
	if err != nil {
		return err
	}
	return d.command(reg, FuncSetPosition, 0, pos, true)
}

// Sync asks the gateway to report the device state.
func (d *Device) Sync() error {
	reg, err := d.owner()
	if err != nil {
		return err
	}
	return d.command(reg, FuncSync, 0, 0, false)
}

// command validates a command against the device type and sends it.
func (d *Device) command(reg *Registry, fn FuncCode, ctrl ControlCode, pos int, hasPos bool) error {
	frame := Frame{Type: d.kind, Func: fn, Address: d.address, Control: ctrl}
	pos = max(min(pos, maxPosition), 0)

	switch d.kind {
	case TypeLight:
		if fn != FuncSync && fn != FuncSwitch {
			return fmt.Errorf("%w: light accepts only Sync and Switch, got %s", ErrUnsupportedOperation, fn)
		}
		if hasPos {
			reg.logWarn("ignoring position for light", "device", d.address.String(), "position", pos)
		}

	case TypeCover:
		switch fn {
		case FuncSync, FuncSwitch:
		case FuncSetPosition:
			if !hasPos {
				return ErrMissingPosition
			}
			switch pos {
			case 0:
				frame.Func, frame.Control = FuncSwitch, reg.polarity.Off()
			case maxPosition:
				frame.Func, frame.Control = FuncSwitch, reg.polarity.On()
			default:
				frame.Control = 0
				frame = frame.WithPosition(uint8(pos))
			}
		default:
			return fmt.Errorf("%w: cover does not accept %s", ErrUnsupportedOperation, fn)
		}
	}

	reg.send(frame)
	return nil
}

// awaitReply sends a Sync and waits up to timeout for the gateway to
// report a switch status or a position.
func (d *Device) awaitReply(reg *Registry, timeout time.Duration) {
	ready := make(chan struct{})
	d.mu.Lock()
	d.waiters = append(d.waiters, ready)
	d.mu.Unlock()

	if err := d.command(reg, FuncSync, 0, 0, false); err != nil {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
		d.mu.Lock()
		for i, w := range d.waiters {
			if w == ready {
				d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
				break
			}
		}
		d.mu.Unlock()
		reg.logDebug("no status reply before toggle", "device", d.address.String())
	}
}

// effectiveStatus is the switch status, or for a cover with no status the
// status implied by its position: open above 0, closed at 0.
func (d *Device) effectiveStatus() SwitchStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.status != SwitchUnknown || d.kind != TypeCover || !d.hasPosition {
		return d.status
	}
	if d.position > 0 {
		return SwitchOn
	}
	return SwitchOff
}

// owner returns the registry the device belongs to.
func (d *Device) owner() (*Registry, error) {
	d.mu.RLock()
	reg := d.registry
	d.mu.RUnlock()
	if reg == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, d.address)
	}
	return reg, nil
}

func (d *Device) onCode(reg *Registry) ControlCode {
	if d.kind == TypeCover {
		return reg.polarity.On()
	}
	return ControlLightOn
}

func (d *Device) offCode(reg *Registry) ControlCode {
	if d.kind == TypeCover {
		return reg.polarity.Off()
	}
	return ControlLightOff
}

// String returns "name<type=light,addr=001E9DFE,status=on>".
func (d *Device) String() string {
	return fmt.Sprintf("%s<type=%s,addr=%s,status=%s>", d.name, d.kind, d.address, d.Status())
}
