package trace

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Nanos is a unix timestamp in nanoseconds. OTLP JSON encodes 64-bit
// integers as strings, so both forms are accepted.
type Nanos int64

// UnmarshalJSON accepts a JSON number or a decimal string.
func (n *Nanos) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		v = int64(f)
	}
	*n = Nanos(v)
	return nil
}

// Resource carries the attributes shared by every span of one producer.
type Resource struct {
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Scope identifies the instrumentation library that produced a span.
type Scope struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// RawSpan is one span record as received, before tree reconstruction.
type RawSpan struct {
	TraceID           string          `json:"traceId,omitempty"`
	SpanID            string          `json:"spanId"`
	ParentSpanID      string          `json:"parentSpanId,omitempty"`
	Name              string          `json:"name"`
	Kind              json.RawMessage `json:"kind,omitempty"`
	Attributes        []Attribute     `json:"attributes,omitempty"`
	StartTimeUnixNano Nanos           `json:"startTimeUnixNano"`
	EndTimeUnixNano   Nanos           `json:"endTimeUnixNano"`
	Resource          Resource        `json:"resource"`
	Scope             *Scope          `json:"scope,omitempty"`
}

// Batch is the OTLP JSON span batch: {"resourceSpans": [...]}.
type Batch struct {
	ResourceSpans []ResourceSpans `json:"resourceSpans"`
}

// ResourceSpans groups scope spans under one resource.
type ResourceSpans struct {
	Resource   Resource     `json:"resource"`
	ScopeSpans []ScopeSpans `json:"scopeSpans"`
}

// ScopeSpans groups spans under one instrumentation scope.
type ScopeSpans struct {
	Scope Scope     `json:"scope"`
	Spans []RawSpan `json:"spans"`
}

// SpanCount returns the number of spans in the batch.
func (b Batch) SpanCount() int {
	n := 0
	for _, rs := range b.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			n += len(ss.Spans)
		}
	}
	return n
}

// ServiceName returns the service.name resource attribute.
func (rs ResourceSpans) ServiceName() string {
	return StringValue(rs.Resource.Attributes, "service.name")
}

// NormalizeID returns id as lowercase hex. Ids that are already hex are
// kept; base64 ids (protobuf JSON encoding of bytes) are converted.
func NormalizeID(id string) string {
	if id == "" {
		return ""
	}
	if isHexID(id) {
		return strings.ToLower(id)
	}
	if raw, err := base64.StdEncoding.DecodeString(id); err == nil && len(raw) > 0 {
		return hex.EncodeToString(raw)
	}
	return id
}

func isHexID(s string) bool {
	if len(s) != 16 && len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
