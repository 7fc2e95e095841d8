package schema

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/naokiiwakami/mission-control/internal/mcerr"
)

// FormatValue renders raw property bytes as an operator-facing string,
// applying enum label interpretation when the definition carries one.
// Invalid payload lengths surface as a decode error, never a panic.
func FormatValue(def PropertyDef, data []byte) (string, error) {
	switch def.ValueType {
	case TypeU8:
		if len(data) != 1 {
			return "", fmt.Errorf("%w: %s expects 1 byte, got %d", mcerr.ErrProtocol, def.Name, len(data))
		}
		return enumOrNumber(def, uint64(data[0])), nil
	case TypeU16:
		if len(data) != 2 {
			return "", fmt.Errorf("%w: %s expects 2 bytes, got %d", mcerr.ErrProtocol, def.Name, len(data))
		}
		return enumOrNumber(def, uint64(binary.BigEndian.Uint16(data))), nil
	case TypeU32:
		if len(data) != 4 {
			return "", fmt.Errorf("%w: %s expects 4 bytes, got %d", mcerr.ErrProtocol, def.Name, len(data))
		}
		return enumOrNumber(def, uint64(binary.BigEndian.Uint32(data))), nil
	case TypeBoolean:
		if len(data) != 1 {
			return "", fmt.Errorf("%w: %s expects 1 byte, got %d", mcerr.ErrProtocol, def.Name, len(data))
		}
		return strconv.FormatBool(data[0] != 0), nil
	case TypeText:
		return escapeText(data), nil
	case TypeVectorU8:
		parts := make([]string, len(data))
		for i, b := range data {
			parts[i] = strconv.Itoa(int(b))
		}
		return strings.Join(parts, ","), nil
	case TypeVectorU16:
		if len(data)%2 != 0 {
			return "", fmt.Errorf("%w: %s vector_u16 odd byte length %d", mcerr.ErrProtocol, def.Name, len(data))
		}
		parts := make([]string, len(data)/2)
		for i := range parts {
			parts[i] = strconv.Itoa(int(binary.BigEndian.Uint16(data[i*2:])))
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("%w: unknown value type %q for %s", mcerr.ErrSchema, def.ValueType, def.Name)
	}
}

// enumOrNumber renders v via the enum label table when present and in
// range; otherwise as a plain decimal.
func enumOrNumber(def PropertyDef, v uint64) string {
	if len(def.EnumNames) > 0 && v < uint64(len(def.EnumNames)) {
		return def.EnumNames[v]
	}
	return strconv.FormatUint(v, 10)
}

// escapeText renders raw bytes as UTF-8, lossily escaping invalid sequences
// as \xNN.
func escapeText(data []byte) string {
	var b strings.Builder
	i := 0
	for i < len(data) {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, `\x%02X`, data[i])
			i++
			continue
		}
		b.Write(data[i : i+size])
		i += size
	}
	return b.String()
}

// ParseValue converts an operator-supplied string into the raw bytes for
// def's wire type. Accepts either the numeric form or (for enum properties)
// the label. Vector values use comma separation.
func ParseValue(def PropertyDef, value string) ([]byte, error) {
	switch def.ValueType {
	case TypeU8:
		v, err := parseEnumOrUint(def, value, 8)
		if err != nil {
			return nil, err
		}
		return []byte{byte(v)}, nil
	case TypeU16:
		v, err := parseEnumOrUint(def, value, 16)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, uint16(v))
		return out, nil
	case TypeU32:
		v, err := parseEnumOrUint(def, value, 32)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(v))
		return out, nil
	case TypeBoolean:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", mcerr.ErrInvalidValue, def.Name, err)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TypeText:
		return []byte(value), nil
	case TypeVectorU8:
		fields := splitNonEmpty(value)
		out := make([]byte, len(fields))
		for i, f := range fields {
			n, err := strconv.ParseUint(strings.TrimSpace(f), 0, 8)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", mcerr.ErrInvalidValue, def.Name, i, err)
			}
			out[i] = byte(n)
		}
		return out, nil
	case TypeVectorU16:
		fields := splitNonEmpty(value)
		out := make([]byte, len(fields)*2)
		for i, f := range fields {
			n, err := strconv.ParseUint(strings.TrimSpace(f), 0, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", mcerr.ErrInvalidValue, def.Name, i, err)
			}
			binary.BigEndian.PutUint16(out[i*2:], uint16(n))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown value type %q for %s", mcerr.ErrSchema, def.ValueType, def.Name)
	}
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func parseEnumOrUint(def PropertyDef, value string, bits int) (uint64, error) {
	for i, name := range def.EnumNames {
		if strings.EqualFold(name, value) {
			return uint64(i), nil
		}
	}
	n, err := strconv.ParseUint(strings.TrimSpace(value), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", mcerr.ErrInvalidValue, def.Name, err)
	}
	return n, nil
}
