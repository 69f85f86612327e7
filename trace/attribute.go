package trace

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Attribute is one {key, value} pair as carried by a span or resource.
//
// Value is either an OTLP typed wrapper ({"stringValue": ...},
// {"intValue": ...}, {"boolValue": ...}, {"doubleValue": ...},
// {"arrayValue": {"values": [...]}}, {"kvlistValue": {"values": [...]}})
// or a bare scalar. Type is set only by the legacy {key, type, value} form.
type Attribute struct {
	Key   string `json:"key"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// Attr builds an attribute holding a bare value.
func Attr(key string, value any) Attribute {
	return Attribute{Key: key, Value: value}
}

// StringAttr builds an attribute in the OTLP stringValue wrapper form.
func StringAttr(key, value string) Attribute {
	return Attribute{Key: key, Value: map[string]any{"stringValue": value}}
}

// Decode returns the plain value of an attribute. Typed wrappers are
// unwrapped, legacy typed values are coerced, and strings holding a JSON
// object or array are parsed. Decode never mutates its input.
func Decode(attr Attribute) any {
	if attr.Type != "" {
		return decodeLegacy(attr.Type, attr.Value)
	}
	return decodeValue(attr.Value)
}

func decodeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if inner, ok := unwrapTyped(val); ok {
			return inner
		}
		return val
	case string:
		return parseEmbedded(val)
	default:
		return val
	}
}

// unwrapTyped recognizes the OTLP AnyValue wrappers.
func unwrapTyped(m map[string]any) (any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for k, raw := range m {
		switch k {
		case "stringValue":
			s, ok := raw.(string)
			if !ok {
				return raw, true
			}
			return parseEmbedded(s), true
		case "intValue":
			if n, ok := toInt64(raw); ok {
				return n, true
			}
			return raw, true
		case "boolValue":
			if b, ok := toBool(raw); ok {
				return b, true
			}
			return raw, true
		case "doubleValue":
			if f, ok := toFloat64(raw); ok {
				return f, true
			}
			return raw, true
		case "bytesValue":
			return raw, true
		case "arrayValue":
			inner, _ := raw.(map[string]any)
			values, _ := inner["values"].([]any)
			out := make([]any, len(values))
			for i, item := range values {
				out[i] = decodeValue(item)
			}
			return out, true
		case "kvlistValue":
			inner, _ := raw.(map[string]any)
			values, _ := inner["values"].([]any)
			out := make(map[string]any, len(values))
			for _, item := range values {
				kv, ok := item.(map[string]any)
				if !ok {
					continue
				}
				key, _ := kv["key"].(string)
				out[key] = decodeValue(kv["value"])
			}
			return out, true
		}
	}
	return nil, false
}

func decodeLegacy(typ string, v any) any {
	switch strings.ToLower(typ) {
	case "string":
		switch s := v.(type) {
		case string:
			return s
		case nil:
			return ""
		default:
			b, _ := json.Marshal(s)
			return string(b)
		}
	case "int", "int64":
		if n, ok := toInt64(v); ok {
			return n
		}
	case "bool":
		if b, ok := toBool(v); ok {
			return b
		}
	case "float64", "double", "float":
		if f, ok := toFloat64(v); ok {
			return f
		}
	}
	return decodeValue(v)
}

// parseEmbedded returns the decoded JSON when s holds a non-empty JSON
// object or array, otherwise s itself.
func parseEmbedded(s string) any {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return s
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return s
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return s
	}
	switch p := parsed.(type) {
	case map[string]any:
		if len(p) == 0 {
			return s
		}
	case []any:
		if len(p) == 0 {
			return s
		}
	}
	return parsed
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// Find returns the first attribute with the given key.
func Find(attrs []Attribute, key string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a, true
		}
	}
	return Attribute{}, false
}

// Value returns the decoded value of the first attribute with key, or def.
func Value(attrs []Attribute, key string, def any) any {
	a, ok := Find(attrs, key)
	if !ok {
		return def
	}
	return Decode(a)
}

// StringValue is Value narrowed to a non-empty string; "" when absent or not a string.
func StringValue(attrs []Attribute, key string) string {
	a, ok := Find(attrs, key)
	if !ok {
		return ""
	}
	switch v := Decode(a).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// MaxListIndex is the largest integer segment RebuildHierarchy treats as a
// list position. Larger segments are kept as map keys.
const MaxListIndex = 4096

// RebuildHierarchy turns dotted attribute keys into nested maps and lists.
// Integer segments up to MaxListIndex address list positions (padded with
// nil). When two attributes disagree on the shape of a path, the later one
// wins.
func RebuildHierarchy(attrs []Attribute) map[string]any {
	root := make(map[string]any)
	for _, a := range attrs {
		segments := strings.Split(a.Key, ".")
		head := segments[0]
		root[head] = insertInto(root[head], segments[1:], Decode(a))
	}
	return root
}

func insertInto(current any, path []string, value any) any {
	if len(path) == 0 {
		return value
	}
	seg, rest := path[0], path[1:]

	if idx, err := strconv.Atoi(seg); err == nil && idx >= 0 && idx <= MaxListIndex && isDigits(seg) {
		list, ok := current.([]any)
		if !ok {
			list = nil
		}
		for len(list) <= idx {
			list = append(list, nil)
		}
		list[idx] = insertInto(list[idx], rest, value)
		return list
	}

	m, ok := current.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	m[seg] = insertInto(m[seg], rest, value)
	return m
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
