package deocean

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Address is a Deocean device or panel address.
//
// On the wire an address is 4 bytes, big-endian. The zero address is never
// assigned to real hardware; received frames carrying it are treated as noise.
type Address uint32

// addressBytes is the number of bytes in the wire form of an address.
const addressBytes = 4

// ParseAddress normalises an address given in any of the accepted shapes.
//
// Accepts:
//   - Address or any integer type (0 to 0xFFFFFFFF)
//   - hex string, with or without a "0x" prefix (e.g. "001E9DFE")
//   - a 4-element []byte, [4]byte, []int, []string or []any; each element
//     must fit in 8 bits, strings are parsed as hex
//
// Parameters:
//   - v: Address in one of the accepted shapes
//
// Returns:
//   - Address: Canonical 32-bit address
//   - error: ErrInvalidAddress if v cannot be normalised
//
// Example:
//
//	addr, err := ParseAddress("0x001E9DFE")
//	addr, err = ParseAddress([]string{"00", "1E", "9D", "FE"})
func ParseAddress(v any) (Address, error) {
	switch a := v.(type) {
	case Address:
		return a, nil
	case string:
		return parseHexAddress(a)
	case [addressBytes]byte:
		return Address(binary.BigEndian.Uint32(a[:])), nil
	case []byte:
		if len(a) != addressBytes {
			return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, addressBytes, len(a))
		}
		return Address(binary.BigEndian.Uint32(a)), nil
	case []int:
		elems := make([]any, len(a))
		for i, e := range a {
			elems[i] = e
		}
		return addressFromElements(elems)
	case []string:
		elems := make([]any, len(a))
		for i, e := range a {
			elems[i] = e
		}
		return addressFromElements(elems)
	case []any:
		return addressFromElements(a)
	}

	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidAddress, v)
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidAddress, n)
	}
	return Address(n), nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for tests and static tables.
func MustParseAddress(v any) Address {
	addr, err := ParseAddress(v)
	if err != nil {
		panic(err)
	}
	return addr
}

// parseHexAddress parses a hex string with an optional 0x prefix.
func parseHexAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}

	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a 32-bit hex value", ErrInvalidAddress, s)
	}
	return Address(n), nil
}

// addressFromElements builds an address from exactly four 8-bit elements.
func addressFromElements(elems []any) (Address, error) {
	if len(elems) != addressBytes {
		return 0, fmt.Errorf("%w: expected %d elements, got %d", ErrInvalidAddress, addressBytes, len(elems))
	}

	var raw [addressBytes]byte
	for i, e := range elems {
		b, err := parseAddressElement(e)
		if err != nil {
			return 0, fmt.Errorf("%w: element %d: %w", ErrInvalidAddress, i, err)
		}
		raw[i] = b
	}
	return Address(binary.BigEndian.Uint32(raw[:])), nil
}

// parseAddressElement converts one sequence element to a byte.
func parseAddressElement(e any) (byte, error) {
	if s, ok := e.(string); ok {
		s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
		n, err := strconv.ParseUint(s, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("%q is not an 8-bit hex value", s)
		}
		return byte(n), nil
	}

	n, ok := toInt64(e)
	if !ok {
		return 0, fmt.Errorf("unsupported element type %T", e)
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%d does not fit in 8 bits", n)
	}
	return byte(n), nil
}

// toInt64 widens any Go integer type. Values above MaxInt64 are reported
// as not convertible.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// Bytes returns the big-endian wire form of the address.
func (a Address) Bytes() [addressBytes]byte {
	var b [addressBytes]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))
	return b
}

// String returns the address as 8 upper-case hex digits (e.g. "001E9DFE").
func (a Address) String() string {
	return fmt.Sprintf("%08X", uint32(a))
}
