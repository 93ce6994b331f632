package protocol

import (
	"math"
	"strconv"
	"strings"
)

// Encode returns the canonical wire bytes of f.
func Encode(f Frame) []byte {
	return AppendFrame(make([]byte, 0, 64), f)
}

// AppendFrame appends the canonical encoding of f to dst and returns the extended slice.
func AppendFrame(dst []byte, f Frame) []byte {
	switch v := f.(type) {
	case SimpleString:
		return appendLine(dst, TypeSimpleString, string(v))
	case SimpleError:
		return appendLine(dst, TypeError, string(v))
	case Integer:
		dst = append(dst, TypeInteger)
		if v >= 0 {
			dst = append(dst, '+')
		}
		dst = strconv.AppendInt(dst, int64(v), 10)
		return append(dst, crlf...)
	case BulkString:
		dst = appendHeader(dst, TypeBulkString, len(v.data))
		dst = append(dst, v.data...)
		return append(dst, crlf...)
	case NullBulkString:
		return append(dst, nullBulkLiteral...)
	case Array:
		dst = appendHeader(dst, TypeArray, len(v.items))
		for _, item := range v.items {
			dst = AppendFrame(dst, item)
		}
		return dst
	case NullArray:
		return append(dst, nullArrayLiteral...)
	case Null:
		return append(dst, nullLiteral...)
	case Boolean:
		if v {
			return append(dst, trueLiteral...)
		}
		return append(dst, falseLiteral...)
	case Double:
		return appendLine(dst, TypeDouble, formatDouble(float64(v)))
	case *Map:
		dst = appendHeader(dst, TypeMap, v.Len())
		v.Ascend(func(key string, value Frame) bool {
			dst = appendLine(dst, TypeSimpleString, key)
			dst = AppendFrame(dst, value)
			return true
		})
		return dst
	case Set:
		dst = appendHeader(dst, TypeSet, len(v.items))
		for _, item := range v.items {
			dst = AppendFrame(dst, item)
		}
		return dst
	default:
		// Frame is sealed; a nil interface encodes as the null bulk string.
		return append(dst, nullBulkLiteral...)
	}
}

// appendLine writes s unescaped; a CRLF in s ends the line early.
func appendLine(dst []byte, sigil byte, s string) []byte {
	dst = append(dst, sigil)
	dst = append(dst, s...)
	return append(dst, crlf...)
}

func appendHeader(dst []byte, sigil byte, n int) []byte {
	dst = append(dst, sigil)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, crlf...)
}

// formatDouble renders f with an explicit sign. Magnitudes above 1e8 or below
// 1e-8 use scientific notation with signed mantissa and exponent.
func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs > 1e8 || abs < 1e-8 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		expSign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return withSign(mantissa) + "e" + expSign + digits
	}
	return withSign(strconv.FormatFloat(f, 'f', -1, 64))
}

func withSign(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}
