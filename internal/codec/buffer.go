package codec

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"
)

// Buffer wraps an attribute value for sequential decoding and building.
//
// Cursor-based reads consume from the current cursor and advance it by
// the width read. The *At variants read from an explicit offset and
// leave the cursor alone; the two styles may be mixed freely on one
// Buffer. Writes insert at the cursor, growing the buffer as needed,
// and advance it.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	data   []byte
	cursor int
}

// NewBuffer wraps data without copying it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the underlying value bytes.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the total value length.
func (b *Buffer) Len() int { return len(b.data) }

// Cursor returns the current cursor position.
func (b *Buffer) Cursor() int { return b.cursor }

// Remaining returns the number of bytes between the cursor and the end.
func (b *Buffer) Remaining() int { return len(b.data) - b.cursor }

// SetCursor moves the cursor. Positions from 0 through Len() are legal.
func (b *Buffer) SetCursor(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return &FormatError{Op: "set cursor", Want: pos, Have: len(b.data), Msg: "position out of range"}
	}
	b.cursor = pos
	return nil
}

// take returns width bytes starting at off, or a FormatError when the
// value is too short. advance moves the cursor past the taken bytes.
func (b *Buffer) take(op string, f Format, off, width int, advance bool) ([]byte, error) {
	if off < 0 || off+width > len(b.data) {
		return nil, &FormatError{Op: op, Format: f, Want: width, Have: len(b.data) - off}
	}
	if advance {
		b.cursor = off + width
	}
	return b.data[off : off+width], nil
}

// ReadUint decodes an unsigned integer at the cursor and advances it.
func (b *Buffer) ReadUint(f Format, order binary.ByteOrder) (uint64, error) {
	return b.readUint(f, order, b.cursor, true)
}

// ReadUintAt decodes an unsigned integer at off without moving the cursor.
func (b *Buffer) ReadUintAt(off int, f Format, order binary.ByteOrder) (uint64, error) {
	return b.readUint(f, order, off, false)
}

func (b *Buffer) readUint(f Format, order binary.ByteOrder, off int, advance bool) (uint64, error) {
	if !f.Integer() || f.Signed() {
		return 0, &FormatError{Op: "read uint", Format: f, Msg: "not an unsigned integer format"}
	}
	data, err := b.take("read uint", f, off, f.Width(), advance)
	if err != nil {
		return 0, err
	}
	return getUint(data, f.Width(), order), nil
}

// ReadInt decodes a signed integer at the cursor and advances it.
func (b *Buffer) ReadInt(f Format, order binary.ByteOrder) (int64, error) {
	return b.readInt(f, order, b.cursor, true)
}

// ReadIntAt decodes a signed integer at off without moving the cursor.
func (b *Buffer) ReadIntAt(off int, f Format, order binary.ByteOrder) (int64, error) {
	return b.readInt(f, order, off, false)
}

func (b *Buffer) readInt(f Format, order binary.ByteOrder, off int, advance bool) (int64, error) {
	if !f.Signed() {
		return 0, &FormatError{Op: "read int", Format: f, Msg: "not a signed integer format"}
	}
	width := f.Width()
	data, err := b.take("read int", f, off, width, advance)
	if err != nil {
		return 0, err
	}
	raw := getUint(data, width, order)
	shift := 64 - 8*width
	// Two's-complement sign extension through the full 64-bit width.
	return int64(raw<<shift) >> shift, nil
}

// ReadFloat decodes an IEEE-11073 SFLOAT or FLOAT at the cursor and
// advances it. Reserved mantissa values decode to NaN and the infinities.
func (b *Buffer) ReadFloat(f Format, order binary.ByteOrder) (float64, error) {
	return b.readFloat(f, order, b.cursor, true)
}

// ReadFloatAt decodes an SFLOAT or FLOAT at off without moving the cursor.
func (b *Buffer) ReadFloatAt(off int, f Format, order binary.ByteOrder) (float64, error) {
	return b.readFloat(f, order, off, false)
}

func (b *Buffer) readFloat(f Format, order binary.ByteOrder, off int, advance bool) (float64, error) {
	switch f {
	case FormatSFloat:
		data, err := b.take("read float", f, off, 2, advance)
		if err != nil {
			return 0, err
		}
		return decodeSFloat(uint16(getUint(data, 2, order))), nil
	case FormatFloat:
		data, err := b.take("read float", f, off, 4, advance)
		if err != nil {
			return 0, err
		}
		return decodeFloat(uint32(getUint(data, 4, order))), nil
	default:
		return 0, &FormatError{Op: "read float", Format: f, Msg: "not a float format"}
	}
}

// ReadDateTime decodes a date-time at the cursor. The decode is
// permissive: fields missing from a short value stay zero and no error
// is returned. The cursor advances past the fields actually present.
func (b *Buffer) ReadDateTime(order binary.ByteOrder) DateTime {
	d, consumed := decodeDateTime(b.data[b.cursor:], order)
	b.cursor += consumed
	return d
}

// ReadDateTimeAt decodes a date-time at off without moving the cursor.
func (b *Buffer) ReadDateTimeAt(off int, order binary.ByteOrder) DateTime {
	if off < 0 || off > len(b.data) {
		return DateTime{}
	}
	d, _ := decodeDateTime(b.data[off:], order)
	return d
}

// ReadString decodes the rest of the value from the cursor as UTF-8,
// trimming trailing NUL bytes, then trailing spaces, from the end only.
// The cursor advances to the end of the value.
func (b *Buffer) ReadString() (string, error) {
	s, err := b.stringAt(b.cursor)
	if err != nil {
		return "", err
	}
	b.cursor = len(b.data)
	return s, nil
}

// ReadStringAt decodes from off to the end without moving the cursor.
func (b *Buffer) ReadStringAt(off int) (string, error) {
	return b.stringAt(off)
}

func (b *Buffer) stringAt(off int) (string, error) {
	if off < 0 || off > len(b.data) {
		return "", &FormatError{Op: "read string", Want: off, Have: len(b.data), Msg: "offset out of range"}
	}
	s := string(b.data[off:])
	s = strings.TrimRight(s, "\x00")
	s = strings.TrimRight(s, " ")
	if !utf8.ValidString(s) {
		return "", &FormatError{Op: "read string", Msg: "invalid UTF-8"}
	}
	return s, nil
}

// put inserts p at the cursor, overwriting existing bytes and growing
// the buffer when p runs past the end, then advances the cursor.
func (b *Buffer) put(p []byte) {
	need := b.cursor + len(p)
	if need > len(b.data) {
		if need > cap(b.data) {
			grown := make([]byte, need)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:need]
		}
	}
	copy(b.data[b.cursor:], p)
	b.cursor = need
}

// WriteUint encodes v at the cursor and advances it.
func (b *Buffer) WriteUint(v uint64, f Format, order binary.ByteOrder) error {
	out, err := EncodeUint(v, f, order)
	if err != nil {
		return err
	}
	b.put(out)
	return nil
}

// WriteInt encodes v at the cursor and advances it.
func (b *Buffer) WriteInt(v int64, f Format, order binary.ByteOrder) error {
	out, err := EncodeInt(v, f, order)
	if err != nil {
		return err
	}
	b.put(out)
	return nil
}

// WriteSFloat encodes an SFLOAT from its parts at the cursor.
func (b *Buffer) WriteSFloat(mantissa int16, exponent int8, order binary.ByteOrder) error {
	out, err := EncodeSFloat(mantissa, exponent, order)
	if err != nil {
		return err
	}
	b.put(out)
	return nil
}

// WriteFloat encodes a 32-bit FLOAT from its parts at the cursor.
func (b *Buffer) WriteFloat(mantissa int32, exponent int8, order binary.ByteOrder) error {
	out, err := EncodeFloat(mantissa, exponent, order)
	if err != nil {
		return err
	}
	b.put(out)
	return nil
}

// WriteDateTime encodes d at the cursor, always 7 bytes.
func (b *Buffer) WriteDateTime(d DateTime, order binary.ByteOrder) {
	b.put(EncodeDateTime(d, order))
}

// WriteString appends the raw UTF-8 bytes of s at the cursor.
func (b *Buffer) WriteString(s string) {
	b.put(EncodeString(s))
}
