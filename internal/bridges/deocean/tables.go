package deocean

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Table syntax.
const (
	commentPrefix  = "#"
	fieldSeparator = ","
	targetSep      = "|"
	opSep          = ":"
)

// ErrInvalidRecord is wrapped by LineError for malformed table records.
var ErrInvalidRecord = errors.New("deocean: invalid table record")

// LineError reports a table record that was skipped.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// OpKind identifies a scene operation.
type OpKind int

// Scene operations.
const (
	OpTurnOn OpKind = iota
	OpTurnOff
	OpToggle
	OpSync
	OpPosition
)

// Operation is a command applied to a device by a scene.
type Operation struct {
	Kind OpKind

	// Position is the target position for OpPosition.
	Position int
}

// ParseOperation parses "turn_on", "turn_off", "toggle", "sync" or an
// integer position.
func ParseOperation(s string) (Operation, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "turn_on":
		return Operation{Kind: OpTurnOn}, nil
	case "turn_off":
		return Operation{Kind: OpTurnOff}, nil
	case "toggle":
		return Operation{Kind: OpToggle}, nil
	case "sync":
		return Operation{Kind: OpSync}, nil
	}

	pos, err := strconv.Atoi(s)
	if err != nil {
		return Operation{}, fmt.Errorf("unknown operation %q", s)
	}
	return Operation{Kind: OpPosition, Position: pos}, nil
}

// String returns the table form of the operation.
func (o Operation) String() string {
	switch o.Kind {
	case OpTurnOn:
		return "turn_on"
	case OpTurnOff:
		return "turn_off"
	case OpToggle:
		return "toggle"
	case OpSync:
		return "sync"
	default:
		return strconv.Itoa(o.Position)
	}
}

// Apply runs the operation on a device.
func (o Operation) Apply(dev *Device) error {
	switch o.Kind {
	case OpTurnOn:
		return dev.TurnOn()
	case OpTurnOff:
		return dev.TurnOff()
	case OpToggle:
		return dev.Toggle()
	case OpSync:
		return dev.Sync()
	default:
		return dev.SetPosition(o.Position)
	}
}

// Group is a device set alias usable in scene targets.
type Group int

// Group aliases. GroupNone means the target names a single device.
const (
	GroupNone Group = iota
	GroupAll
	GroupAllLight
	GroupAllCover
)

// ParseGroup recognises the "all", "all_light" and "all_cover" aliases.
func ParseGroup(s string) Group {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return GroupAll
	case "all_light":
		return GroupAllLight
	case "all_cover":
		return GroupAllCover
	default:
		return GroupNone
	}
}

// String returns the alias name.
func (g Group) String() string {
	switch g {
	case GroupAll:
		return "all"
	case GroupAllLight:
		return "all_light"
	case GroupAllCover:
		return "all_cover"
	default:
		return ""
	}
}

// DeviceSpec is one record of the device table.
type DeviceSpec struct {
	Name    string
	Type    TypeCode
	Address Address
	Line    int
}

// SceneTarget is one "|"-separated entry of a scene record.
type SceneTarget struct {
	// Name is the device name; empty when Group is set.
	Name  string
	Group Group

	// Op overrides the scene's default operation when HasOp is set.
	Op    Operation
	HasOp bool
}

// SceneSpec is one record of the scene table.
type SceneSpec struct {
	Name    string
	Address Address
	Channel int
	Targets []SceneTarget

	DefaultOp    Operation
	HasDefaultOp bool

	Line int
}

// ParseDeviceTable parses device records of the form
// "name, light|blind, address".
//
// Malformed records are skipped and reported in the returned errors; the
// remaining records are still parsed.
//
// Returns:
//   - []DeviceSpec: Parsed records in table order
//   - []error: One *LineError per skipped record
func ParseDeviceTable(text string) ([]DeviceSpec, []error) {
	var specs []DeviceSpec
	var errs []error

	eachRecord(text, func(line int, raw string, fields []string) {
		if len(fields) != 3 {
			errs = append(errs, lineErr(line, raw, "expected 3 fields, got %d", len(fields)))
			return
		}

		kind, ok := ParseTypeCode(fields[1])
		if !ok {
			errs = append(errs, &LineError{Line: line, Text: raw,
				Err: fmt.Errorf("%w: %q", ErrInvalidDeviceType, fields[1])})
			return
		}

		addr, err := ParseAddress(fields[2])
		if err != nil {
			errs = append(errs, &LineError{Line: line, Text: raw, Err: err})
			return
		}

		specs = append(specs, DeviceSpec{Name: fields[0], Type: kind, Address: addr, Line: line})
	})
	return specs, errs
}

// ParseSceneTable parses scene records of the form
// "name, address, channel, targets[, default_op]".
//
// Targets are "|"-separated device names or group aliases, each optionally
// suffixed with ":op". A target with an invalid op is dropped from its
// scene; a record that cannot be parsed at all is skipped.
//
// Returns:
//   - []SceneSpec: Parsed records in table order
//   - []error: One *LineError per skipped record or target
func ParseSceneTable(text string) ([]SceneSpec, []error) {
	var specs []SceneSpec
	var errs []error

	eachRecord(text, func(line int, raw string, fields []string) {
		if len(fields) != 4 && len(fields) != 5 {
			errs = append(errs, lineErr(line, raw, "expected 4 or 5 fields, got %d", len(fields)))
			return
		}

		addr, err := ParseAddress(fields[1])
		if err != nil {
			errs = append(errs, &LineError{Line: line, Text: raw, Err: err})
			return
		}

		channel, err := strconv.Atoi(fields[2])
		if err != nil || channel < 1 || channel > 255 {
			errs = append(errs, &LineError{Line: line, Text: raw,
				Err: fmt.Errorf("%w: %q", ErrInvalidChannel, fields[2])})
			return
		}

		spec := SceneSpec{Name: fields[0], Address: addr, Channel: channel, Line: line}
		if len(fields) == 5 {
			op, err := ParseOperation(fields[4])
			if err != nil {
				errs = append(errs, &LineError{Line: line, Text: raw,
					Err: fmt.Errorf("%w: default %v", ErrInvalidRecord, err)})
			} else {
				spec.DefaultOp, spec.HasDefaultOp = op, true
			}
		}

		for _, token := range strings.Split(fields[3], targetSep) {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			target, err := parseTarget(token)
			if err != nil {
				errs = append(errs, &LineError{Line: line, Text: raw, Err: err})
				continue
			}
			spec.Targets = append(spec.Targets, target)
		}

		specs = append(specs, spec)
	})
	return specs, errs
}

// parseTarget parses "name" or "name:op".
func parseTarget(token string) (SceneTarget, error) {
	name, opText, hasOp := strings.Cut(token, opSep)
	name = strings.TrimSpace(name)
	if name == "" {
		return SceneTarget{}, fmt.Errorf("%w: empty target in %q", ErrInvalidRecord, token)
	}

	target := SceneTarget{Group: ParseGroup(name)}
	if target.Group == GroupNone {
		target.Name = name
	}
	if hasOp {
		op, err := ParseOperation(opText)
		if err != nil {
			return SceneTarget{}, fmt.Errorf("%w: target %q: %v", ErrInvalidRecord, name, err)
		}
		target.Op, target.HasOp = op, true
	}
	return target, nil
}

// eachRecord calls fn for every non-blank, non-comment line with its
// trimmed comma-separated fields.
func eachRecord(text string, fn func(line int, raw string, fields []string)) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, commentPrefix) {
			continue
		}
		fields := strings.Split(raw, fieldSeparator)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		fn(line, raw, fields)
	}
}

func lineErr(line int, raw, format string, args ...any) *LineError {
	return &LineError{Line: line, Text: raw, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidRecord}, args...)...)}
}

// BoundAction is a scene operation resolved to a concrete device.
type BoundAction struct {
	Device *Device
	Op     Operation
}

// ResolveScene expands a scene's targets against the registry.
//
// Group aliases expand to the devices registered at call time. Unknown
// device names, targets without an operation and position operations on
// lights are logged and skipped. The result keeps first-seen order and
// holds each (device, operation) pair once.
func (r *Registry) ResolveScene(spec SceneSpec) []BoundAction {
	type key struct {
		addr Address
		op   Operation
	}
	seen := make(map[key]bool)
	var bound []BoundAction

	for _, target := range spec.Targets {
		op, hasOp := spec.DefaultOp, spec.HasDefaultOp
		if target.HasOp {
			op, hasOp = target.Op, true
		}
		label := target.Name
		if target.Group != GroupNone {
			label = target.Group.String()
		}
		if !hasOp {
			r.logWarn("scene target has no operation, skipping", "scene", spec.Name, "target", label)
			continue
		}

		devices := r.targetDevices(target)
		if len(devices) == 0 && target.Group == GroupNone {
			r.logWarn("scene target not found, skipping", "scene", spec.Name, "target", label)
			continue
		}

		for _, dev := range devices {
			if op.Kind == OpPosition && dev.Type() != TypeCover {
				if target.Group == GroupNone {
					r.logWarn("position operation on a light, skipping",
						"scene", spec.Name, "target", label)
				}
				continue
			}
			k := key{addr: dev.Address(), op: op}
			if seen[k] {
				continue
			}
			seen[k] = true
			bound = append(bound, BoundAction{Device: dev, Op: op})
		}
	}
	return bound
}

func (r *Registry) targetDevices(target SceneTarget) []*Device {
	switch target.Group {
	case GroupAll:
		return r.Devices()
	case GroupAllLight:
		return r.ListByType(TypeLight)
	case GroupAllCover:
		return r.ListByType(TypeCover)
	default:
		if dev, ok := r.ByName(target.Name); ok {
			return []*Device{dev}
		}
		return nil
	}
}

// sceneAction returns the action run when a scene fires.
func (r *Registry) sceneAction(name string, bound []BoundAction) func() {
	return func() {
		for _, b := range bound {
			if err := b.Op.Apply(b.Device); err != nil {
				r.logError("scene operation failed", err,
					"scene", name, "device", b.Device.Address().String(), "op", b.Op.String())
			}
		}
	}
}

// LoadDevices parses a device table, registers every device and requests
// its current state.
//
// Returns:
//   - int: Number of devices registered
func (r *Registry) LoadDevices(text string) int {
	specs, errs := ParseDeviceTable(text)
	for _, err := range errs {
		r.logWarn("skipping device record", "error", err)
	}

	loaded := 0
	for _, spec := range specs {
		dev, err := NewDevice(spec.Address, spec.Type, spec.Name)
		if err != nil {
			r.logWarn("skipping device record", "line", spec.Line, "error", err)
			continue
		}
		if !r.Add(dev, false) {
			continue
		}
		loaded++
		if err := dev.Sync(); err != nil {
			r.logWarn("initial sync failed", "device", dev.String(), "error", err)
		}
	}

	r.logInfo("device table loaded", "devices", loaded, "skipped", len(errs))
	return loaded
}

// LoadScenes parses a scene table and registers every scene, replacing any
// scene with the same id. Scenes that resolve to no actions are skipped.
// Devices must be loaded first.
//
// Returns:
//   - int: Number of scenes registered
func (r *Registry) LoadScenes(text string) int {
	specs, errs := ParseSceneTable(text)
	for _, err := range errs {
		r.logWarn("skipping scene record", "error", err)
	}

	loaded := 0
	for _, spec := range specs {
		bound := r.ResolveScene(spec)
		if len(bound) == 0 {
			r.logWarn("scene resolves to no actions, skipping", "scene", spec.Name, "line", spec.Line)
			continue
		}

		id, err := r.RegisterScene(spec.Address, spec.Channel, r.sceneAction(spec.Name, bound), spec.Name, true)
		if err != nil {
			r.logWarn("skipping scene", "scene", spec.Name, "error", err)
			continue
		}
		loaded++
		r.logDebug("scene bound", "scene_id", id, "actions", len(bound))
	}

	r.logInfo("scene table loaded", "scenes", loaded, "skipped", len(errs))
	return loaded
}
