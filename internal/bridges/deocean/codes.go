package deocean

import (
	"fmt"
	"strings"
)

// TypeCode identifies the device class a frame is addressed to.
// It is the first byte of every frame.
type TypeCode byte

// Device type codes.
const (
	TypeLight TypeCode = 0x7E
	TypeCover TypeCode = 0x55
)

// String returns the lower-case type name.
func (t TypeCode) String() string {
	switch t {
	case TypeLight:
		return "light"
	case TypeCover:
		return "cover"
	default:
		return fmt.Sprintf("type(0x%02X)", byte(t))
	}
}

// Valid reports whether t is a known device type.
func (t TypeCode) Valid() bool {
	return t == TypeLight || t == TypeCover
}

// ParseTypeCode maps a device table type name to a TypeCode.
// "blind" and "cover" both map to TypeCover.
func ParseTypeCode(s string) (TypeCode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "light":
		return TypeLight, true
	case "blind", "cover":
		return TypeCover, true
	default:
		return 0, false
	}
}

// FuncCode is the function byte of a frame.
// The gateway echoes a command asynchronously with the request code + 1.
type FuncCode byte

// Function codes.
const (
	FuncSearch          FuncCode = 0x01
	FuncSwitch          FuncCode = 0x0B
	FuncSwitchUpdated   FuncCode = 0x0C
	FuncSync            FuncCode = 0x0D
	FuncSetPosition     FuncCode = 0x1B
	FuncPositionUpdated FuncCode = 0x1C
)

// String returns the function name.
func (f FuncCode) String() string {
	switch f {
	case FuncSearch:
		return "Search"
	case FuncSwitch:
		return "Switch"
	case FuncSwitchUpdated:
		return "SwitchUpdated"
	case FuncSync:
		return "Sync"
	case FuncSetPosition:
		return "SetPosition"
	case FuncPositionUpdated:
		return "PositionUpdated"
	default:
		return fmt.Sprintf("func(0x%02X)", byte(f))
	}
}

// Valid reports whether f is a known function code.
func (f FuncCode) Valid() bool {
	switch f {
	case FuncSearch, FuncSwitch, FuncSwitchUpdated, FuncSync, FuncSetPosition, FuncPositionUpdated:
		return true
	default:
		return false
	}
}

// ControlCode is the 16-bit action carried in a frame tail.
type ControlCode uint16

// Control codes.
//
// Which of ControlCoverA and ControlCoverB opens a cover differs between
// installations; see CoverPolarity.
const (
	ControlLightOff  ControlCode = 0x0200
	ControlLightOn   ControlCode = 0x0201
	ControlCoverA    ControlCode = 0x0401
	ControlCoverB    ControlCode = 0x0402
	ControlCoverSync ControlCode = 0x04FF
)

// String returns the control code name.
func (c ControlCode) String() string {
	switch c {
	case ControlLightOff:
		return "LightOff"
	case ControlLightOn:
		return "LightOn"
	case ControlCoverA:
		return "Cover0401"
	case ControlCoverB:
		return "Cover0402"
	case ControlCoverSync:
		return "CoverSync"
	default:
		return fmt.Sprintf("ctrl(0x%04X)", uint16(c))
	}
}

// Valid reports whether c is a known control code.
func (c ControlCode) Valid() bool {
	switch c {
	case ControlLightOff, ControlLightOn, ControlCoverA, ControlCoverB, ControlCoverSync:
		return true
	default:
		return false
	}
}

// CoverPolarity selects which cover control code means "open".
type CoverPolarity int

const (
	// CoverPolarityNormal maps open to 0x0402 and close to 0x0401.
	CoverPolarityNormal CoverPolarity = iota

	// CoverPolarityInverted maps open to 0x0401 and close to 0x0402.
	CoverPolarityInverted
)

// ParseCoverPolarity parses "normal" or "inverted". Empty means normal.
func ParseCoverPolarity(s string) (CoverPolarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return CoverPolarityNormal, nil
	case "inverted":
		return CoverPolarityInverted, nil
	default:
		return CoverPolarityNormal, fmt.Errorf("unknown cover polarity %q (use normal or inverted)", s)
	}
}

// On returns the control code that opens a cover.
func (p CoverPolarity) On() ControlCode {
	if p == CoverPolarityInverted {
		return ControlCoverA
	}
	return ControlCoverB
}

// Off returns the control code that closes a cover.
func (p CoverPolarity) Off() ControlCode {
	if p == CoverPolarityInverted {
		return ControlCoverB
	}
	return ControlCoverA
}

// String returns the polarity name.
func (p CoverPolarity) String() string {
	if p == CoverPolarityInverted {
		return "inverted"
	}
	return "normal"
}
