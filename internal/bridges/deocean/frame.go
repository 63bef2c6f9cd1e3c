package deocean

import (
	"fmt"
	"strings"
)

// Wire constants.
const (
	// stopByte terminates every frame.
	stopByte byte = 0x0D

	// coverPlaceholder follows the type byte in cover frames.
	coverPlaceholder byte = 0xAA

	// tailControl marks a tail carrying a 2-byte control code.
	tailControl byte = 0x01

	// tailPosition marks a tail carrying a position ([0x02, 0x04, pos]).
	tailPosition byte = 0x02

	// tailPositionWidth is the second byte of a position tail.
	tailPositionWidth byte = 0x04

	// sceneMarker precedes the channel byte in panel frames.
	sceneMarker byte = 0xEF

	// noPosition is reported in the position slot of a cover sync tail
	// when the gateway has no position for the device.
	noPosition byte = 0xFF

	// maxPosition is the fully-open cover position.
	maxPosition = 100

	// lightHeaderSize is type + length.
	lightHeaderSize = 2

	// coverHeaderSize is type + placeholder + length.
	coverHeaderSize = 3

	// minClassifiedPayload is function + address + stop. Payloads longer
	// than this carry a tail that is classified into control, channel or
	// position.
	minClassifiedPayload = 1 + addressBytes + 1
)

// Frame is one decoded or to-be-encoded protocol message.
//
// Optional fields use their zero value for "absent": the zero address and
// channel 0 never occur on real hardware. Position is optional through
// HasPosition since 0 is a valid position.
type Frame struct {
	// Type is the device class (light or cover).
	Type TypeCode

	// Func is the function code.
	Func FuncCode

	// Address is the device or panel address. Zero when absent.
	Address Address

	// Control is the control code. Zero when absent.
	Control ControlCode

	// Channel is the panel button (1-255) of a scene frame. Zero when absent.
	Channel uint8

	// Position is the cover position (0-100), valid when HasPosition is set.
	Position    uint8
	HasPosition bool
}

// WithPosition returns a copy of f carrying the given position.
func (f Frame) WithPosition(pos uint8) Frame {
	f.Position = pos
	f.HasPosition = true
	return f
}

// Validate checks that the frame can be encoded.
//
// Rejected combinations:
//   - unknown type, function or control code
//   - a missing address on anything other than a Search frame
//   - a SetPosition frame without a position
//   - a position outside 0-100, on a light, or on a function that does not
//     carry one (only SetPosition and PositionUpdated do)
//   - a control code together with a position or channel
//   - a channel on a cover frame
//
// Returns:
//   - error: ErrInvalidFrame describing the first problem, or nil
func (f Frame) Validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: unknown type 0x%02X", ErrInvalidFrame, byte(f.Type))
	}
	if !f.Func.Valid() {
		return fmt.Errorf("%w: unknown function 0x%02X", ErrInvalidFrame, byte(f.Func))
	}
	if f.Address == 0 && f.Func != FuncSearch {
		return fmt.Errorf("%w: %s requires an address", ErrInvalidFrame, f.Func)
	}
	if f.Control != 0 && !f.Control.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidFrame, f.Control)
	}

	if f.HasPosition {
		switch {
		case f.Type != TypeCover:
			return fmt.Errorf("%w: position on %s frame", ErrInvalidFrame, f.Type)
		case f.Position > maxPosition:
			return fmt.Errorf("%w: position %d out of range", ErrInvalidFrame, f.Position)
		case f.Func != FuncSetPosition && f.Func != FuncPositionUpdated:
			return fmt.Errorf("%w: position on %s frame", ErrInvalidFrame, f.Func)
		case f.Control != 0:
			return fmt.Errorf("%w: both position and control code set", ErrInvalidFrame)
		}
	}

	if f.Func == FuncSetPosition && !f.HasPosition {
		return fmt.Errorf("%w: %s requires a position", ErrInvalidFrame, f.Func)
	}

	if f.Channel != 0 {
		if f.Type != TypeLight {
			return fmt.Errorf("%w: channel on %s frame", ErrInvalidFrame, f.Type)
		}
		if f.Control != 0 {
			return fmt.Errorf("%w: both channel and control code set", ErrInvalidFrame)
		}
	}

	if f.Func == FuncSync && f.Control != 0 && f.Control != ControlCoverSync {
		return fmt.Errorf("%w: sync frame with control %s", ErrInvalidFrame, f.Control)
	}

	return nil
}

// Encode encodes the frame to its wire form.
//
// Layout:
//
//	Light: 7E len func [addr x4] [tail x3] 0D
//	Cover: 55 AA len func [addr x4] [tail x3] 0D
//
// The tail is [02 04 pos] for a position, [01 04 FF] for a cover Sync,
// [01 hi lo] for a control code and [01 EF ch] for a panel channel.
// The length byte counts the address, tail and stop byte; cover frames
// add one for the placeholder.
//
// Returns:
//   - []byte: Encoded frame
//   - error: ErrInvalidFrame if Validate fails
func (f Frame) Encode() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, coverHeaderSize+1+addressBytes+4)
	buf = append(buf, byte(f.Type))
	if f.Type == TypeCover {
		buf = append(buf, coverPlaceholder)
	}
	lengthAt := len(buf)
	buf = append(buf, 0, byte(f.Func))

	if f.Address != 0 {
		addr := f.Address.Bytes()
		buf = append(buf, addr[:]...)
	}

	switch {
	case f.HasPosition:
		buf = append(buf, tailPosition, tailPositionWidth, f.Position)
	case f.Type == TypeCover && f.Func == FuncSync:
		buf = append(buf, tailControl, byte(ControlCoverSync>>8), byte(ControlCoverSync&0xFF))
	case f.Control != 0:
		buf = append(buf, tailControl, byte(f.Control>>8), byte(f.Control))
	case f.Channel != 0:
		buf = append(buf, tailControl, sceneMarker, f.Channel)
	}
	buf = append(buf, stopByte)

	// Everything after the function byte, plus the placeholder for covers.
	length := len(buf) - lengthAt - 2
	if f.Type == TypeCover {
		length++
	}
	buf[lengthAt] = byte(length)

	return buf, nil
}

// classifyTail extracts the channel, control code or position from a frame
// payload (function byte through stop byte) into f.
//
// Light payloads ending [EF ch 0D] are panel frames; otherwise the two bytes
// before the stop byte are a control code. Cover payloads use the marker
// byte: 0x02 carries a position, 0x01 a control code. Cover Sync replies
// report the current position in the last tail byte (0xFF when unknown).
//
// Returns:
//   - error: ErrUnknownControlCode when the control code is not recognised
func classifyTail(f *Frame, payload []byte) error {
	n := len(payload)
	if n <= minClassifiedPayload {
		return nil
	}

	switch f.Type {
	case TypeLight:
		if payload[n-3] == sceneMarker {
			f.Channel = payload[n-2]
			return nil
		}
		return setControl(f, payload[n-3], payload[n-2])

	case TypeCover:
		marker, last := payload[n-4], payload[n-2]
		switch {
		case marker == tailPosition:
			if last <= maxPosition {
				f.Position, f.HasPosition = last, true
			}
		case f.Func == FuncSync:
			if last != noPosition && last <= maxPosition {
				f.Position, f.HasPosition = last, true
			}
		case marker == tailControl:
			return setControl(f, payload[n-3], payload[n-2])
		}
	}

	return nil
}

// setControl validates and stores a big-endian control code.
func setControl(f *Frame, hi, lo byte) error {
	ctrl := ControlCode(uint16(hi)<<8 | uint16(lo))
	if !ctrl.Valid() {
		return fmt.Errorf("%w: 0x%04X", ErrUnknownControlCode, uint16(ctrl))
	}
	f.Control = ctrl
	return nil
}

// String returns a compact human-readable form for logs.
func (f Frame) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", f.Type, f.Func)
	if f.Address != 0 {
		fmt.Fprintf(&sb, " addr=%s", f.Address)
	}
	if f.Control != 0 {
		fmt.Fprintf(&sb, " ctrl=%s", f.Control)
	}
	if f.Channel != 0 {
		fmt.Fprintf(&sb, " channel=%d", f.Channel)
	}
	if f.HasPosition {
		fmt.Fprintf(&sb, " position=%d", f.Position)
	}
	return sb.String()
}

// hexDump formats bytes as space-separated upper-case hex ("7E 05 0D").
func hexDump(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
