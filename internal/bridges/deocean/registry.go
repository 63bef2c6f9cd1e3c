package deocean

import (
	"sync"
	"time"
)

// defaultToggleSyncTimeout bounds the wait for a status reply under
// ToggleSyncFirst.
const defaultToggleSyncTimeout = 2 * time.Second

// Sender delivers frames to the gateway. Sending is fire-and-forget;
// transport failures are handled (and logged) by the sender.
type Sender interface {
	Send(frame Frame)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(Frame)

// Send calls f(frame).
func (f SenderFunc) Send(frame Frame) { f(frame) }

// RegistryOptions holds configuration for creating a registry.
type RegistryOptions struct {
	// Sender receives every outbound frame. May be set later with SetSender.
	Sender Sender

	// CoverPolarity selects the open/close control codes for covers.
	CoverPolarity CoverPolarity

	// TogglePolicy decides how Toggle treats an unknown status.
	TogglePolicy TogglePolicy

	// ToggleSyncTimeout bounds the wait under ToggleSyncFirst.
	// Default: 2 seconds.
	ToggleSyncTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Registry holds the devices and panel scenes of one gateway session.
//
// Devices are keyed by address and enumerated in registration order.
// Incoming frames are routed by Dispatch: a frame for a known device
// updates that device, otherwise a frame carrying a channel fires the
// matching scene.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	devices  map[Address]*Device
	order    []*Device
	byName   map[string]*Device
	scenes   map[string]*SceneTask
	sceneIDs []string

	sender            Sender
	polarity          CoverPolarity
	togglePolicy      TogglePolicy
	toggleSyncTimeout time.Duration

	// runScene executes a triggered scene; nil runs it inline.
	runScene func(*SceneTask)
	onScene  []func(*SceneTask)

	logSink
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	timeout := opts.ToggleSyncTimeout
	if timeout <= 0 {
		timeout = defaultToggleSyncTimeout
	}

	r := &Registry{
		devices:           make(map[Address]*Device),
		byName:            make(map[string]*Device),
		scenes:            make(map[string]*SceneTask),
		sender:            opts.Sender,
		polarity:          opts.CoverPolarity,
		togglePolicy:      opts.TogglePolicy,
		toggleSyncTimeout: timeout,
	}
	r.set(opts.Logger)
	return r
}

// SetLogger sets the logger for the registry and its devices.
func (r *Registry) SetLogger(logger Logger) {
	r.set(logger)
}

// SetSender replaces the frame sender.
func (r *Registry) SetSender(sender Sender) {
	r.mu.Lock()
	r.sender = sender
	r.mu.Unlock()
}

// CoverPolarity returns the configured cover polarity.
func (r *Registry) CoverPolarity() CoverPolarity {
	return r.polarity
}

// Add registers a device.
//
// An existing device with the same address is kept unless force is set.
// A device already owned by another registry is rejected.
//
// Returns:
//   - bool: true if the device was registered
func (r *Registry) Add(dev *Device, force bool) bool {
	if dev == nil {
		return false
	}

	dev.mu.Lock()
	if dev.registry != nil && dev.registry != r {
		dev.mu.Unlock()
		r.logWarn("device belongs to another registry", "device", dev.address.String())
		return false
	}
	dev.mu.Unlock()

	r.mu.Lock()
	existing, exists := r.devices[dev.address]
	if exists && !force {
		r.mu.Unlock()
		r.logWarn("device already registered", "address", dev.address.String(), "name", existing.name)
		return false
	}

	if exists {
		for i, d := range r.order {
			if d == existing {
				r.order[i] = dev
				break
			}
		}
		if r.byName[existing.name] == existing {
			delete(r.byName, existing.name)
		}
	} else {
		r.order = append(r.order, dev)
	}
	r.devices[dev.address] = dev
	r.byName[dev.name] = dev
	panelClash := r.hasPanelLocked(dev.address)
	r.mu.Unlock()

	if exists && existing != dev {
		existing.mu.Lock()
		existing.registry = nil
		existing.mu.Unlock()
	}

	dev.mu.Lock()
	dev.registry = r
	dev.mu.Unlock()

	if panelClash {
		r.logWarn("device address matches a panel scene; the scene will never fire",
			"address", dev.address.String())
	}
	return true
}

// Get returns the device with the given address.
func (r *Registry) Get(addr Address) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[addr]
	return dev, ok
}

// ByName returns the device registered under name. When names repeat, the
// most recently registered device wins.
func (r *Registry) ByName(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byName[name]
	return dev, ok
}

// ListByType returns the devices of one type in registration order.
func (r *Registry) ListByType(kind TypeCode) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Device
	for _, dev := range r.order {
		if dev.kind == kind {
			out = append(out, dev)
		}
	}
	return out
}

// Devices returns every device in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, len(r.order))
	copy(out, r.order)
	return out
}

// DeviceCount returns the number of registered devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// DispatchResult describes what Dispatch did with a frame.
type DispatchResult int

// Dispatch outcomes.
const (
	DispatchIgnored DispatchResult = iota
	DispatchDevice
	DispatchScene
	DispatchUnmatched
)

// String returns the outcome name.
func (d DispatchResult) String() string {
	switch d {
	case DispatchDevice:
		return "device"
	case DispatchScene:
		return "scene"
	case DispatchUnmatched:
		return "unmatched"
	default:
		return "ignored"
	}
}

// Dispatch routes a decoded frame.
//
// Search frames and frames without an address are ignored. A frame whose
// address belongs to a device updates that device (device match wins over
// any channel). Otherwise a frame with a channel fires the scene
// registered for (address, channel).
//
// Parameters:
//   - frame: Decoded frame from the gateway
//
// Returns:
//   - DispatchResult: What the frame was routed to
func (r *Registry) Dispatch(frame Frame) DispatchResult {
	if frame.Func == FuncSearch || frame.Address == 0 {
		return DispatchIgnored
	}

	if dev, ok := r.Get(frame.Address); ok {
		update := StateUpdate{
			Status:      r.statusFor(frame.Control),
			Position:    frame.Position,
			HasPosition: frame.HasPosition,
		}
		dev.Update(update)
		return DispatchDevice
	}

	if frame.Channel == 0 {
		r.logDebug("frame for unknown device", "frame", frame.String())
		return DispatchUnmatched
	}

	id := SceneID(frame.Address, int(frame.Channel))
	task, ok := r.Scene(id)
	if !ok {
		r.logInfo("panel pressed with no scene registered", "scene_id", id)
		return DispatchUnmatched
	}

	r.logInfo("scene triggered", "scene_id", id, "name", task.Name)
	r.trigger(task)
	return DispatchScene
}

// statusFor maps an on/off control code to a switch status.
func (r *Registry) statusFor(ctrl ControlCode) SwitchStatus {
	switch ctrl {
	case ControlLightOn, r.polarity.On():
		return SwitchOn
	case ControlLightOff, r.polarity.Off():
		return SwitchOff
	default:
		return SwitchUnknown
	}
}

// send hands a frame to the current sender.
func (r *Registry) send(frame Frame) {
	r.mu.RLock()
	sender := r.sender
	r.mu.RUnlock()

	if sender == nil {
		r.logDebug("no sender configured, dropping frame", "frame", frame.String())
		return
	}
	sender.Send(frame)
}
