package certify

import (
	"bytes"
	"encoding/json"

	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/trace"
)

// Encoding names the wire shape a message was decoded from.
type Encoding string

const (
	EncodingJSON          Encoding = "json"
	EncodingTracesData    Encoding = "traces_data"
	EncodingResourceSpans Encoding = "resource_spans"
	EncodingScopeSpans    Encoding = "scope_spans"
	EncodingSpan          Encoding = "span"
	EncodingMetrics       Encoding = "metrics_data"
	EncodingLogs          Encoding = "logs_data"
)

// ErrNoSpans marks a message that decoded as telemetry other than spans.
var ErrNoSpans = errors.New("message carries no spans")

// Decode reads a queue message. A JSON span batch is tried first, then the
// OTLP protobuf messages in order TracesData, ResourceSpans, ScopeSpans and
// Span. MetricsData and LogsData are recognized and reported as ErrNoSpans.
// Anything else is MalformedInput.
func Decode(data []byte) (trace.Batch, Encoding, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return trace.Batch{}, "", errors.NewMalformedInputError("empty message")
	}
	if trimmed[0] == '{' && json.Valid(trimmed) {
		var batch trace.Batch
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return trace.Batch{}, EncodingJSON, errors.Mark(errors.Wrap(err, "decode JSON span batch"), errors.ErrMalformedInput)
		}
		return batch, EncodingJSON, nil
	}

	if td := new(tracepb.TracesData); strictUnmarshal(data, td) && len(td.GetResourceSpans()) > 0 {
		return trace.FromProto(td.GetResourceSpans()), EncodingTracesData, nil
	}
	if rs := new(tracepb.ResourceSpans); strictUnmarshal(data, rs) && len(rs.GetScopeSpans()) > 0 {
		return trace.FromProto([]*tracepb.ResourceSpans{rs}), EncodingResourceSpans, nil
	}
	if ss := new(tracepb.ScopeSpans); strictUnmarshal(data, ss) && len(ss.GetSpans()) > 0 {
		return trace.FromProto([]*tracepb.ResourceSpans{{ScopeSpans: []*tracepb.ScopeSpans{ss}}}), EncodingScopeSpans, nil
	}
	if span := new(tracepb.Span); strictUnmarshal(data, span) && len(span.GetSpanId()) > 0 {
		return trace.FromProto([]*tracepb.ResourceSpans{{
			ScopeSpans: []*tracepb.ScopeSpans{{Spans: []*tracepb.Span{span}}},
		}}), EncodingSpan, nil
	}
	if md := new(metricspb.MetricsData); strictUnmarshal(data, md) && len(md.GetResourceMetrics()) > 0 {
		return trace.Batch{}, EncodingMetrics, errors.Mark(errors.New("metrics payload"), ErrNoSpans)
	}
	if ld := new(logspb.LogsData); strictUnmarshal(data, ld) && len(ld.GetResourceLogs()) > 0 {
		return trace.Batch{}, EncodingLogs, errors.Mark(errors.New("logs payload"), ErrNoSpans)
	}
	return trace.Batch{}, "", errors.NewMalformedInputError("message is neither a JSON span batch nor an OTLP protobuf message (%d bytes)", len(data))
}

// strictUnmarshal reports whether data parses as m without unknown
// fields at any depth, which is how the wrong candidate message usually
// shows.
func strictUnmarshal(data []byte, m proto.Message) bool {
	if err := proto.Unmarshal(data, m); err != nil {
		return false
	}
	return !hasUnknown(m.ProtoReflect())
}

func hasUnknown(m protoreflect.Message) bool {
	if len(m.GetUnknown()) > 0 {
		return true
	}
	found := false
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind && fd.Kind() != protoreflect.GroupKind {
			return true
		}
		switch {
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len() && !found; i++ {
				found = hasUnknown(list.Get(i).Message())
			}
		case fd.IsMap():
			if fd.MapValue().Kind() == protoreflect.MessageKind {
				v.Map().Range(func(_ protoreflect.MapKey, mv protoreflect.Value) bool {
					found = hasUnknown(mv.Message())
					return !found
				})
			}
		default:
			found = hasUnknown(v.Message())
		}
		return !found
	})
	return found
}
