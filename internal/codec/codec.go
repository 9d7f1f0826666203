// Package codec encodes and decodes GATT attribute values.
//
// It covers the characteristic value formats that show up on real
// peripherals: fixed-width integers in both byte orders, the two
// IEEE-11073 medical float formats (SFLOAT and FLOAT), the 7-byte
// date-time, and trimmed UTF-8 strings. Stateless Encode* functions
// produce wire bytes; Buffer provides cursor-based decoding over a
// received value.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Format identifies a value format. Values follow the GATT
// characteristic presentation format table (descriptor 0x2904).
type Format uint8

const (
	FormatUint8  Format = 0x04
	FormatUint16 Format = 0x06
	FormatUint32 Format = 0x08
	FormatUint64 Format = 0x0A // decode only
	FormatSint8  Format = 0x0C
	FormatSint16 Format = 0x0E
	FormatSint32 Format = 0x10
	FormatSFloat Format = 0x16 // IEEE-11073 16-bit SFLOAT
	FormatFloat  Format = 0x17 // IEEE-11073 32-bit FLOAT
)

// formatNames maps known formats to display names.
var formatNames = map[Format]string{
	FormatUint8:  "uint8",
	FormatUint16: "uint16",
	FormatUint32: "uint32",
	FormatUint64: "uint64",
	FormatSint8:  "sint8",
	FormatSint16: "sint16",
	FormatSint32: "sint32",
	FormatSFloat: "sfloat",
	FormatFloat:  "float",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(0x%02X)", uint8(f))
}

// Width returns the wire width of the format in bytes, or 0 for an
// unknown format.
func (f Format) Width() int {
	switch f {
	case FormatUint8, FormatSint8:
		return 1
	case FormatUint16, FormatSint16, FormatSFloat:
		return 2
	case FormatUint32, FormatSint32, FormatFloat:
		return 4
	case FormatUint64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether the format carries a two's-complement integer.
func (f Format) Signed() bool {
	switch f {
	case FormatSint8, FormatSint16, FormatSint32:
		return true
	default:
		return false
	}
}

// Integer reports whether the format is one of the fixed-width integer
// formats (signed or unsigned).
func (f Format) Integer() bool {
	switch f {
	case FormatUint8, FormatUint16, FormatUint32, FormatUint64,
		FormatSint8, FormatSint16, FormatSint32:
		return true
	default:
		return false
	}
}

// ErrFormat is the sentinel all FormatError values match via errors.Is.
var ErrFormat = errors.New("value format error")

// FormatError reports a malformed value or an unusable format tag.
type FormatError struct {
	Op     string // operation that failed, e.g. "read uint"
	Format Format
	Want   int // bytes required, 0 if not a length problem
	Have   int // bytes available
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Format, e.Msg)
	}
	return fmt.Sprintf("%s: %s: need %d bytes, have %d", e.Op, e.Format, e.Want, e.Have)
}

// Is makes every FormatError match the ErrFormat sentinel.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// maxUint returns the largest unsigned value representable in width bytes.
func maxUint(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * width)) - 1
}

// putUint serializes v into exactly width bytes using the given order.
func putUint(v uint64, width int, order binary.ByteOrder) []byte {
	var scratch [8]byte
	order.PutUint64(scratch[:], v)
	out := make([]byte, width)
	if order == binary.BigEndian {
		copy(out, scratch[8-width:])
	} else {
		copy(out, scratch[:width])
	}
	return out
}

// getUint deserializes width bytes into an unsigned value.
func getUint(data []byte, width int, order binary.ByteOrder) uint64 {
	var scratch [8]byte
	if order == binary.BigEndian {
		copy(scratch[8-width:], data[:width])
	} else {
		copy(scratch[:width], data[:width])
	}
	return order.Uint64(scratch[:])
}

// EncodeUint encodes v in the given unsigned integer format.
// FormatUint64 is decode-only and rejected here, as is any non-integer
// or signed format and any value that does not fit the width.
func EncodeUint(v uint64, f Format, order binary.ByteOrder) ([]byte, error) {
	if !f.Integer() || f.Signed() {
		return nil, &FormatError{Op: "encode uint", Format: f, Msg: "not an unsigned integer format"}
	}
	if f == FormatUint64 {
		return nil, &FormatError{Op: "encode uint", Format: f, Msg: "decode-only format"}
	}
	width := f.Width()
	if v > maxUint(width) {
		return nil, &FormatError{Op: "encode uint", Format: f, Msg: fmt.Sprintf("value %d overflows %d bytes", v, width)}
	}
	return putUint(v, width, order), nil
}

// EncodeInt encodes v in the given signed integer format using
// two's complement.
func EncodeInt(v int64, f Format, order binary.ByteOrder) ([]byte, error) {
	if !f.Signed() {
		return nil, &FormatError{Op: "encode int", Format: f, Msg: "not a signed integer format"}
	}
	width := f.Width()
	min := -(int64(1) << (8*width - 1))
	max := (int64(1) << (8*width - 1)) - 1
	if v < min || v > max {
		return nil, &FormatError{Op: "encode int", Format: f, Msg: fmt.Sprintf("value %d outside [%d, %d]", v, min, max)}
	}
	return putUint(uint64(v)&maxUint(width), width, order), nil
}

// EncodeString encodes s as raw UTF-8 bytes, no terminator.
func EncodeString(s string) []byte {
	return []byte(s)
}
