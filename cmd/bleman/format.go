package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/bleman/internal/codec"
)

// valueFormats maps the CLI --format names onto GATT presentation
// formats. "string" and "hex" are handled outside the codec tables.
var valueFormats = map[string]codec.Format{
	"u8":     codec.FormatUint8,
	"u16":    codec.FormatUint16,
	"u32":    codec.FormatUint32,
	"u64":    codec.FormatUint64,
	"s8":     codec.FormatSint8,
	"s16":    codec.FormatSint16,
	"s32":    codec.FormatSint32,
	"sfloat": codec.FormatSFloat,
	"float":  codec.FormatFloat,
}

// parseHandle parses an attribute handle: 0x-prefixed hex or decimal
// first, bare hex ("2a03") as a fallback.
func parseHandle(s string) (uint16, error) {
	if v, err := strconv.ParseUint(s, 0, 16); err == nil {
		return uint16(v), nil
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: use hex (0x002A) or decimal", s)
	}
	return uint16(v), nil
}

// parseByteOrder maps the --order flag onto a binary.ByteOrder.
func parseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "le":
		return binary.LittleEndian, nil
	case "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("invalid byte order %q: use le or be", s)
	}
}

// decodeValue renders an attribute value per the --format flag.
func decodeValue(data []byte, format string, order binary.ByteOrder) (string, error) {
	switch format {
	case "hex":
		return hex.EncodeToString(data), nil
	case "string":
		return codec.NewBuffer(data).ReadString()
	}

	f, ok := valueFormats[format]
	if !ok {
		return "", fmt.Errorf("invalid format %q: use %s", format, formatNamesForHelp())
	}

	buf := codec.NewBuffer(data)
	switch {
	case f == codec.FormatSFloat || f == codec.FormatFloat:
		v, err := buf.ReadFloat(f, order)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case f.Signed():
		v, err := buf.ReadInt(f, order)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	default:
		v, err := buf.ReadUint(f, order)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(v, 10), nil
	}
}

// encodeValue turns the --value flag into wire bytes per --format.
// SFLOAT and FLOAT payloads must be supplied pre-encoded via --hex.
func encodeValue(value, format string, order binary.ByteOrder) ([]byte, error) {
	if format == "string" {
		return codec.EncodeString(value), nil
	}

	f, ok := valueFormats[format]
	if !ok {
		return nil, fmt.Errorf("invalid format %q: use %s", format, formatNamesForHelp())
	}
	switch {
	case f == codec.FormatSFloat || f == codec.FormatFloat:
		return nil, fmt.Errorf("format %q is decode-only: supply the encoded payload via --hex", format)
	case f.Signed():
		v, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", format, value, err)
		}
		return codec.EncodeInt(v, f, order)
	default:
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", format, value, err)
		}
		return codec.EncodeUint(v, f, order)
	}
}

// parseHexData decodes hex input, tolerating the usual separators.
func parseHexData(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "").Replace(s)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

func formatNamesForHelp() string {
	return "u8|u16|u32|u64|s8|s16|s32|sfloat|float|string|hex"
}
