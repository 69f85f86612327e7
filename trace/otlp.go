package trace

import (
	"encoding/base64"
	"encoding/hex"
	"strconv"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// FromProto converts protobuf resource spans into the JSON batch shape.
// Ids become lowercase hex and attribute values take the typed-wrapper form.
func FromProto(resourceSpans []*tracepb.ResourceSpans) Batch {
	batch := Batch{ResourceSpans: make([]ResourceSpans, 0, len(resourceSpans))}
	for _, rs := range resourceSpans {
		batch.ResourceSpans = append(batch.ResourceSpans, fromProtoResourceSpans(rs))
	}
	return batch
}

func fromProtoResourceSpans(rs *tracepb.ResourceSpans) ResourceSpans {
	out := ResourceSpans{Resource: fromProtoResource(rs.GetResource())}
	for _, ss := range rs.GetScopeSpans() {
		out.ScopeSpans = append(out.ScopeSpans, fromProtoScopeSpans(ss, out.Resource))
	}
	return out
}

func fromProtoScopeSpans(ss *tracepb.ScopeSpans, res Resource) ScopeSpans {
	out := ScopeSpans{Scope: Scope{
		Name:    ss.GetScope().GetName(),
		Version: ss.GetScope().GetVersion(),
	}}
	for _, s := range ss.GetSpans() {
		span := FromProtoSpan(s)
		span.Resource = res
		out.Spans = append(out.Spans, span)
	}
	return out
}

func fromProtoResource(r *resourcepb.Resource) Resource {
	return Resource{Attributes: fromProtoAttributes(r.GetAttributes())}
}

// FromProtoSpan converts a single protobuf span.
func FromProtoSpan(s *tracepb.Span) RawSpan {
	return RawSpan{
		TraceID:           hexID(s.GetTraceId()),
		SpanID:            hexID(s.GetSpanId()),
		ParentSpanID:      hexID(s.GetParentSpanId()),
		Name:              s.GetName(),
		Kind:              []byte(strconv.Itoa(int(s.GetKind()))),
		Attributes:        fromProtoAttributes(s.GetAttributes()),
		StartTimeUnixNano: Nanos(s.GetStartTimeUnixNano()),
		EndTimeUnixNano:   Nanos(s.GetEndTimeUnixNano()),
	}
}

func hexID(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

func fromProtoAttributes(kvs []*commonpb.KeyValue) []Attribute {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]Attribute, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, Attribute{Key: kv.GetKey(), Value: wrapAnyValue(kv.GetValue())})
	}
	return out
}

// wrapAnyValue produces the OTLP JSON typed wrapper for v.
func wrapAnyValue(v *commonpb.AnyValue) any {
	if v == nil {
		return nil
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return map[string]any{"stringValue": val.StringValue}
	case *commonpb.AnyValue_BoolValue:
		return map[string]any{"boolValue": val.BoolValue}
	case *commonpb.AnyValue_IntValue:
		return map[string]any{"intValue": val.IntValue}
	case *commonpb.AnyValue_DoubleValue:
		return map[string]any{"doubleValue": val.DoubleValue}
	case *commonpb.AnyValue_BytesValue:
		return map[string]any{"bytesValue": base64.StdEncoding.EncodeToString(val.BytesValue)}
	case *commonpb.AnyValue_ArrayValue:
		values := make([]any, 0, len(val.ArrayValue.GetValues()))
		for _, item := range val.ArrayValue.GetValues() {
			values = append(values, wrapAnyValue(item))
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	case *commonpb.AnyValue_KvlistValue:
		values := make([]any, 0, len(val.KvlistValue.GetValues()))
		for _, kv := range val.KvlistValue.GetValues() {
			values = append(values, map[string]any{"key": kv.GetKey(), "value": wrapAnyValue(kv.GetValue())})
		}
		return map[string]any{"kvlistValue": map[string]any{"values": values}}
	}
	return nil
}
