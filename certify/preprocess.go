package certify

import (
	"github.com/teranos/pact/trace"
)

// TraceSpans is every span of one trace found in a message.
type TraceSpans struct {
	TraceID string
	Spans   []trace.RawSpan
}

// Preprocess selects the spans produced by serviceName, tags them with
// their scope name attribute, and groups them by hex trace id in order of
// first appearance. Resource spans without a service name (bare ScopeSpans or
// Span messages) are kept; an empty serviceName keeps everything.
func Preprocess(batch trace.Batch, serviceName string) []TraceSpans {
	var groups []TraceSpans
	index := make(map[string]int)

	for _, rs := range batch.ResourceSpans {
		if svc := rs.ServiceName(); serviceName != "" && svc != "" && svc != serviceName {
			continue
		}
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				id := trace.NormalizeID(span.TraceID)
				if id == "" {
					continue
				}
				span.TraceID = id
				span.Resource = rs.Resource
				if ss.Scope.Name != "" {
					scope := ss.Scope
					span.Scope = &scope
				}
				attrs := make([]trace.Attribute, 0, len(span.Attributes)+1)
				attrs = append(attrs, span.Attributes...)
				span.Attributes = append(attrs, trace.StringAttr(trace.ScopeAttribute, ss.Scope.Name))

				i, ok := index[id]
				if !ok {
					i = len(groups)
					index[id] = i
					groups = append(groups, TraceSpans{TraceID: id})
				}
				groups[i].Spans = append(groups[i].Spans, span)
			}
		}
	}
	return groups
}
