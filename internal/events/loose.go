package events

import (
	"encoding/json"
	"strconv"
)

// Coercion helpers for loosely-typed upstream maps. Decoded JSON delivers
// float64 for every number; integer and json.Number cases cover values built
// in-process. Anything uncoercible yields the zero value; no upstream field
// may take the pipeline down.

// AsString returns v as a string. Numbers are formatted without a decimal
// point when integral (some upstream ids arrive as numbers).
func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}

// AsFloat returns v as a float64, or def when missing or uncoercible.
func AsFloat(v any, def float64) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int:
		return float64(f)
	case int64:
		return float64(f)
	case json.Number:
		if x, err := f.Float64(); err == nil {
			return x
		}
	case string:
		if x, err := strconv.ParseFloat(f, 64); err == nil {
			return x
		}
	}
	return def
}

// AsInt returns v as an int, or def when missing or uncoercible.
func AsInt(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		if x, err := n.Int64(); err == nil {
			return int(x)
		}
	case string:
		if x, err := strconv.Atoi(n); err == nil {
			return x
		}
	}
	return def
}

// AsBool returns v as a bool; non-bool values count as false except
// non-zero numbers and the strings "true"/"1".
func AsBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		return b == "true" || b == "1"
	}
	return false
}

// AsMap returns v as a map, or nil.
func AsMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

// AsSlice returns v as a slice, or nil.
func AsSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

// AsFloatPtr returns a pointer to the numeric value of v, or nil when v is
// absent, null, or uncoercible. Callers that must distinguish "not sent"
// from zero use this form.
func AsFloatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case float64, int, int64, json.Number:
		f := AsFloat(v, 0)
		return &f
	case string:
		if x, err := strconv.ParseFloat(v.(string), 64); err == nil {
			return &x
		}
	}
	return nil
}

// AsStringSlice coerces a loose slice to its non-empty string members.
func AsStringSlice(v any) []string {
	raw := AsSlice(v)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s := AsString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
