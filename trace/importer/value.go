package importer

import (
	"strconv"
	"strings"
)

// The dynamic-bag coercions below accept what encoding/json produces for
// untyped values: float64 for numbers, string, bool, map[string]any, []any.

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asInt64(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// idString normalises node and frame ids, which some producers emit as
// numbers and others as strings.
func idString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// asHexUint parses memory dump quantities, which arrive as hex strings with
// or without a 0x prefix, or occasionally as plain numbers.
func asHexUint(v any) (uint64, bool) {
	switch v := v.(type) {
	case string:
		s := strings.TrimPrefix(v, "0x")
		n, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

func hexOrZero(v any) uint64 {
	n, _ := asHexUint(v)
	return n
}
