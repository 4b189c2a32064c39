package util

import (
	"math"
	"strconv"
	"strings"
)

// FormatCoordinate renders a decimal string with five decimals.
// Text that does not parse as a float is returned unchanged.
func FormatCoordinate(raw string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', 5, 64)
}

// IntegerPart returns the text before the first '.', or "" when raw has no '.'.
func IntegerPart(raw string) string {
	head, _, found := strings.Cut(raw, ".")
	if !found {
		return ""
	}
	return head
}
