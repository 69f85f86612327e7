package certify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/trace"
)

// Ids made of 0x01/0x02 bytes never parse as an embedded message, which
// keeps the candidate order unambiguous.
var (
	protoTraceID = bytes.Repeat([]byte{0x01}, 16)
	protoSpanID  = bytes.Repeat([]byte{0x02}, 8)
)

func protoSpan(name string) *tracepb.Span {
	return &tracepb.Span{
		TraceId:           protoTraceID,
		SpanId:            protoSpanID,
		Name:              name,
		StartTimeUnixNano: 10,
		EndTimeUnixNano:   20,
	}
}

func protoScopeSpans() *tracepb.ScopeSpans {
	return &tracepb.ScopeSpans{
		Scope: &commonpb.InstrumentationScope{Name: trace.ScopeCrewAI},
		Spans: []*tracepb.Span{protoSpan("agent")},
	}
}

func protoResourceSpans() *tracepb.ResourceSpans {
	return &tracepb.ResourceSpans{
		Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
			Key:   "service.name",
			Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "relari-otel"}},
		}}},
		ScopeSpans: []*tracepb.ScopeSpans{protoScopeSpans()},
	}
}

func marshal(t *testing.T, m proto.Message) []byte {
	t.Helper()
	data, err := proto.Marshal(m)
	require.NoError(t, err)
	return data
}

func TestDecodeJSON(t *testing.T) {
	batch, enc, err := Decode(spanBatch(testTraceID, "relari-otel", "in", "out"))
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, enc)
	assert.Equal(t, 2, batch.SpanCount())
	assert.Equal(t, "relari-otel", batch.ResourceSpans[0].ServiceName())
}

func TestDecodeProtobufShapes(t *testing.T) {
	tests := []struct {
		name    string
		msg     proto.Message
		want    Encoding
		service string
	}{
		{"traces data", &tracepb.TracesData{ResourceSpans: []*tracepb.ResourceSpans{protoResourceSpans()}}, EncodingTracesData, "relari-otel"},
		{"resource spans", protoResourceSpans(), EncodingResourceSpans, "relari-otel"},
		{"scope spans", protoScopeSpans(), EncodingScopeSpans, ""},
		{"span", protoSpan("agent"), EncodingSpan, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, enc, err := Decode(marshal(t, tt.msg))
			require.NoError(t, err)
			assert.Equal(t, tt.want, enc)
			require.Equal(t, 1, batch.SpanCount())
			assert.Equal(t, tt.service, batch.ResourceSpans[0].ServiceName())

			span := batch.ResourceSpans[0].ScopeSpans[0].Spans[0]
			assert.Equal(t, "agent", span.Name)
			assert.Equal(t, "01010101010101010101010101010101", span.TraceID)
		})
	}
}

func TestDecodeOtherTelemetry(t *testing.T) {
	metrics := &metricspb.MetricsData{ResourceMetrics: []*metricspb.ResourceMetrics{{
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name: "latency",
				Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
					DataPoints: []*metricspb.NumberDataPoint{{Value: &metricspb.NumberDataPoint_AsInt{AsInt: 1}}},
				}},
			}},
		}},
	}}}
	logs := &logspb.LogsData{ResourceLogs: []*logspb.ResourceLogs{{
		ScopeLogs: []*logspb.ScopeLogs{{
			LogRecords: []*logspb.LogRecord{{
				TimeUnixNano: 1,
				SeverityText: "INFO",
				Body:         &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "hello"}},
			}},
		}},
	}}}

	_, enc, err := Decode(marshal(t, metrics))
	assert.True(t, errors.Is(err, ErrNoSpans))
	assert.Equal(t, EncodingMetrics, enc)

	_, enc, err = Decode(marshal(t, logs))
	assert.True(t, errors.Is(err, ErrNoSpans))
	assert.Equal(t, EncodingLogs, enc)
}

func TestDecodeMalformed(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"blank":     []byte("  \n"),
		"text":      []byte("hello world"),
		"bad bytes": {0xff, 0xff, 0xff},
		"bad json":  []byte(`{"resourceSpans": 7}`),
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(data)
			require.Error(t, err)
			assert.True(t, errors.IsMalformedInputError(err))
			assert.False(t, errors.Is(err, ErrNoSpans))
		})
	}
}

func TestDecodeIsIdempotent(t *testing.T) {
	data := marshal(t, &tracepb.TracesData{ResourceSpans: []*tracepb.ResourceSpans{protoResourceSpans()}})
	first, _, err := Decode(data)
	require.NoError(t, err)
	second, _, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
