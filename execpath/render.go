package execpath

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RedactedValue replaces embedded binary payloads.
const RedactedValue = "__REDACTED__"

// DefaultMaxInfoLength bounds rendered info values in Compact.
const DefaultMaxInfoLength = 50

var (
	redactKeys  = []string{"otel", "span", "token_usage"}
	compactSkip = map[string]bool{"metadata": true, "otel": true, "token_count": true, "span": true, "session": true}
)

// Redact returns a copy of info without bookkeeping keys and inline images.
// Serialized framework objects ({lc, type, id, kwargs}) are replaced by
// their kwargs.
func Redact(info any) any {
	switch v := info.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		for _, k := range redactKeys {
			delete(out, k)
		}
		if isSerializedObject(out) {
			return Redact(out["kwargs"])
		}
		for k, val := range out {
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Redact(item)
		}
		return out
	case string:
		if strings.HasPrefix(v, "data:image") {
			return RedactedValue
		}
	}
	return info
}

func isSerializedObject(m map[string]any) bool {
	if len(m) != 4 {
		return false
	}
	for _, k := range []string{"lc", "type", "id", "kwargs"} {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

// Compact renders the path for a language-model prompt: one line per state
// and action, action info reduced to two levels with long values cut.
func (p *ExecutionPath) Compact(maxInfoLength int, includeStateInfo bool) string {
	if maxInfoLength <= 0 {
		maxInfoLength = DefaultMaxInfoLength
	}
	lines := []string{"Trace ID: " + p.TraceID}
	for _, s := range p.States {
		lines = append(lines, fmt.Sprintf("  ├─ %s (ID:%s)", s.Name, s.SpanID))
		if includeStateInfo {
			lines = append(lines, "  │  ├─ info: "+compactInfo(s.Info, maxInfoLength))
		}
		if len(s.Actions) == 0 {
			continue
		}
		lines = append(lines, "  │  ├─ Actions:")
		for _, a := range s.Actions {
			lines = append(lines,
				fmt.Sprintf("  │  │  ├─ %s (ID:%s)", a.Name, a.SpanID),
				"  │  │  │  ├─ info: "+compactInfo(a.Info, maxInfoLength),
			)
		}
	}
	return strings.Join(lines, "\n")
}

func compactInfo(info map[string]any, maxLen int) string {
	redacted, _ := Redact(info).(map[string]any)
	processed := make(map[string]any, len(redacted))
	for k, v := range redacted {
		if compactSkip[k] {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			nested := make(map[string]any, len(val))
			for sk, sv := range val {
				if compactSkip[sk] {
					continue
				}
				str := stringify(sv)
				switch {
				case len(str) < maxLen:
					nested[sk] = str
				case isMap(sv):
					nested[sk] = "{...}"
				case isList(sv):
					nested[sk] = "[...]"
				default:
					nested[sk] = truncate(str, maxLen)
				}
			}
			processed[k] = nested
		case []any:
			processed[k] = "[...]"
		default:
			str := stringify(v)
			if len(str) > maxLen {
				processed[k] = truncate(str, maxLen)
			} else {
				processed[k] = v
			}
		}
	}
	data, err := json.Marshal(processed)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func isMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}
