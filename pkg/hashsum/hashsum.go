// Package hashsum derives short, path-safe tokens from identifiers.
//
// The fold matches the widely used JavaScript hash-sum routine so tokens
// written by earlier versions of the reader app stay addressable: "1" hashes
// to 8daa1a0a and the page index 0 to 1a96284a.
package hashsum

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Sum returns the 8 character (occasionally 9) lowercase hex token for v.
// Strings, integers, floats and booleans are folded with their type tag so
// "0" and 0 produce different tokens. Any other value is folded as its
// fmt.Sprint string form.
func Sum(v any) string {
	tag, kind, text := describe(v)

	var h int64
	h = fold(h, "")
	h = fold(h, tag)
	h = fold(h, kind)
	h = fold(h, text)

	s := strconv.FormatInt(h, 16)
	for len(s) < 8 {
		s = "0" + s
	}
	return s
}

// String is Sum for string identifiers.
func String(s string) string {
	return Sum(s)
}

// Int is Sum for positional indexes.
func Int(i int) string {
	return Sum(i)
}

func describe(v any) (tag, kind, text string) {
	switch x := v.(type) {
	case string:
		return "[object String]", "string", x
	case int:
		return "[object Number]", "number", strconv.FormatInt(int64(x), 10)
	case int32:
		return "[object Number]", "number", strconv.FormatInt(int64(x), 10)
	case int64:
		return "[object Number]", "number", strconv.FormatInt(x, 10)
	case uint:
		return "[object Number]", "number", strconv.FormatUint(uint64(x), 10)
	case uint32:
		return "[object Number]", "number", strconv.FormatUint(uint64(x), 10)
	case uint64:
		return "[object Number]", "number", strconv.FormatUint(x, 10)
	case float64:
		return "[object Number]", "number", formatNumber(x)
	case bool:
		return "[object Boolean]", "boolean", strconv.FormatBool(x)
	default:
		return "[object String]", "string", fmt.Sprint(v)
	}
}

// formatNumber renders f as JavaScript's Number#toString does: shortest
// round-trip digits, plain notation from 1e-6 up to 1e21 and exponent
// notation such as 1e+21 or 1.5e-7 outside it.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	mantissa, exponent, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	sign, digits := exponent[:1], strings.TrimLeft(exponent[1:], "0")
	return mantissa + "e" + sign + digits
}

// fold mixes text into h with 32-bit wraparound. A negative result is
// doubled and negated, which is why tokens may exceed 32 bits.
func fold(h int64, text string) int64 {
	if text == "" {
		return h
	}
	for _, c := range utf16.Encode([]rune(text)) {
		shifted := int64(int32(uint32(h)) << 5)
		h = int64(int32(shifted - h + int64(c)))
	}
	if h < 0 {
		return h * -2
	}
	return h
}
