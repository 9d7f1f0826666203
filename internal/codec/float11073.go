package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// IEEE-11073 reserved mantissa values. The float formats reserve the
// extremes of the mantissa range for special values; everything else is
// value = mantissa * 10^exponent.
const (
	// 16-bit SFLOAT: 4-bit exponent, 12-bit mantissa.
	SFloatPositiveInfinity uint16 = 0x07FE
	SFloatNaN              uint16 = 0x07FF
	SFloatNRes             uint16 = 0x0800
	SFloatReserved         uint16 = 0x0801
	SFloatNegativeInfinity uint16 = 0x0802

	// 32-bit FLOAT: 8-bit exponent, 24-bit mantissa.
	FloatPositiveInfinity uint32 = 0x7FFFFE
	FloatNaN              uint32 = 0x7FFFFF
	FloatNRes             uint32 = 0x800000
	FloatReserved         uint32 = 0x800001
	FloatNegativeInfinity uint32 = 0x800002
)

// Numeric mantissa bounds. The reserved values clip three counts off
// each end of the raw two's-complement range.
const (
	sfloatMantissaMax = 0x07FD  // 2045
	sfloatMantissaMin = -0x07FD // -2045
	sfloatExponentMax = 7
	sfloatExponentMin = -8

	floatMantissaMax = 0x7FFFFD  // 8388605
	floatMantissaMin = -0x7FFFFD // -8388605
)

// decodeSFloat converts a raw 16-bit SFLOAT to float64.
// Reserved mantissa values map to NaN and the infinities; NRes and the
// reserved slot both decode as NaN since neither carries a magnitude.
func decodeSFloat(raw uint16) float64 {
	mantissa := raw & 0x0FFF
	switch mantissa {
	case SFloatPositiveInfinity:
		return math.Inf(1)
	case SFloatNegativeInfinity:
		return math.Inf(-1)
	case SFloatNaN, SFloatNRes, SFloatReserved:
		return math.NaN()
	}

	m := int(mantissa)
	if m >= 0x0800 {
		m -= 0x1000
	}
	exp := int(raw >> 12)
	if exp >= 8 {
		exp -= 16
	}
	return float64(m) * math.Pow10(exp)
}

// decodeFloat converts a raw 32-bit FLOAT to float64.
func decodeFloat(raw uint32) float64 {
	mantissa := raw & 0x00FFFFFF
	switch mantissa {
	case FloatPositiveInfinity:
		return math.Inf(1)
	case FloatNegativeInfinity:
		return math.Inf(-1)
	case FloatNaN, FloatNRes, FloatReserved:
		return math.NaN()
	}

	m := int(mantissa)
	if m >= 0x800000 {
		m -= 0x1000000
	}
	exp := int(int8(raw >> 24))
	return float64(m) * math.Pow10(exp)
}

// EncodeSFloat encodes an SFLOAT from its parts: value = mantissa * 10^exponent.
// The mantissa must stay clear of the reserved range, the exponent must
// fit the 4-bit field.
func EncodeSFloat(mantissa int16, exponent int8, order binary.ByteOrder) ([]byte, error) {
	if mantissa < sfloatMantissaMin || mantissa > sfloatMantissaMax {
		return nil, &FormatError{Op: "encode sfloat", Format: FormatSFloat,
			Msg: fmt.Sprintf("mantissa %d outside [%d, %d]", mantissa, sfloatMantissaMin, sfloatMantissaMax)}
	}
	if exponent < sfloatExponentMin || exponent > sfloatExponentMax {
		return nil, &FormatError{Op: "encode sfloat", Format: FormatSFloat,
			Msg: fmt.Sprintf("exponent %d outside [%d, %d]", exponent, sfloatExponentMin, sfloatExponentMax)}
	}
	raw := (uint16(exponent)&0x000F)<<12 | uint16(mantissa)&0x0FFF
	return putUint(uint64(raw), 2, order), nil
}

// EncodeFloat encodes a 32-bit FLOAT from its parts: value = mantissa * 10^exponent.
func EncodeFloat(mantissa int32, exponent int8, order binary.ByteOrder) ([]byte, error) {
	if mantissa < floatMantissaMin || mantissa > floatMantissaMax {
		return nil, &FormatError{Op: "encode float", Format: FormatFloat,
			Msg: fmt.Sprintf("mantissa %d outside [%d, %d]", mantissa, floatMantissaMin, floatMantissaMax)}
	}
	raw := uint32(uint8(exponent))<<24 | uint32(mantissa)&0x00FFFFFF
	return putUint(uint64(raw), 4, order), nil
}
