// Package jaeger fetches recorded traces from a Jaeger query service so
// they can be verified offline.
package jaeger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/internal/httpclient"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
	"github.com/teranos/pact/trace"
)

// Defaults for the Jaeger query service.
const (
	DefaultBaseURL = "http://localhost:16686"
	DefaultTimeout = 10 * time.Second
)

// maxResponseBytes caps a query response.
const maxResponseBytes = 64 << 20

// Client talks to the Jaeger query API.
type Client struct {
	baseURL string
	service string
	http    *httpclient.Client
	logger  *zap.SugaredLogger
}

// New builds a client from the jaeger config section. service is the
// tracer service name searched for.
func New(cfg am.JaegerConfig, service string, log *zap.SugaredLogger) (*Client, error) {
	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return NewWithHTTPClient(base, service, httpclient.New(httpclient.Options{Timeout: timeout}), log)
}

// NewWithHTTPClient builds a client on hc.
func NewWithHTTPClient(baseURL, service string, hc *httpclient.Client, log *zap.SugaredLogger) (*Client, error) {
	u, err := hc.ValidateURL(baseURL)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "jaeger base url %q", baseURL), errors.ErrConfiguration)
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		service: service,
		http:    hc,
		logger:  logger.OrNop(log).Named("jaeger"),
	}, nil
}

// Legacy /api/traces response shapes.

type legacyResponse struct {
	Data   []legacyTrace `json:"data"`
	Errors []struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"errors"`
}

type legacyTrace struct {
	TraceID   string                   `json:"traceID"`
	Spans     []legacySpan             `json:"spans"`
	Processes map[string]legacyProcess `json:"processes"`
}

type legacySpan struct {
	TraceID       string            `json:"traceID"`
	SpanID        string            `json:"spanID"`
	OperationName string            `json:"operationName"`
	References    []legacyReference `json:"references"`
	StartTime     int64             `json:"startTime"` // microseconds
	Duration      int64             `json:"duration"`  // microseconds
	Tags          []trace.Attribute `json:"tags"`
	ProcessID     string            `json:"processID"`
}

type legacyReference struct {
	RefType string `json:"refType"`
	TraceID string `json:"traceID"`
	SpanID  string `json:"spanID"`
}

type legacyProcess struct {
	ServiceName string            `json:"serviceName"`
	Tags        []trace.Attribute `json:"tags"`
}

// Spans fetches one trace and returns its spans as raw span records.
func (c *Client) Spans(ctx context.Context, traceID string) ([]trace.RawSpan, error) {
	var resp legacyResponse
	if err := c.getJSON(ctx, "/api/traces/"+url.PathEscape(traceID), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		if len(resp.Errors) > 0 {
			return nil, errors.NewNotFoundError("trace %s: %s", traceID, resp.Errors[0].Msg)
		}
		return nil, errors.NewNotFoundError("trace %s not found in jaeger", traceID)
	}
	spans := fromLegacy(resp.Data[0])
	c.logger.Debugw("trace fetched",
		logger.FieldSymbol, sym.Ingest,
		logger.FieldTraceID, traceID,
		logger.FieldCount, len(spans))
	return spans, nil
}

// Trace fetches one trace and rebuilds its span tree.
func (c *Client) Trace(ctx context.Context, traceID string) (*trace.Trace, error) {
	spans, err := c.Spans(ctx, traceID)
	if err != nil {
		return nil, err
	}
	return trace.Build(traceID, spans)
}

// fromLegacy converts Jaeger's span form. Times are in microseconds; the
// parent is the CHILD_OF reference, or the first one when none is.
func fromLegacy(t legacyTrace) []trace.RawSpan {
	spans := make([]trace.RawSpan, 0, len(t.Spans))
	for _, s := range t.Spans {
		raw := trace.RawSpan{
			TraceID:           trace.NormalizeID(s.TraceID),
			SpanID:            s.SpanID,
			ParentSpanID:      parentOf(s.References),
			Name:              s.OperationName,
			Attributes:        s.Tags,
			StartTimeUnixNano: trace.Nanos(s.StartTime * 1000),
			EndTimeUnixNano:   trace.Nanos((s.StartTime + s.Duration) * 1000),
		}
		if p, ok := t.Processes[s.ProcessID]; ok {
			raw.Resource.Attributes = p.Tags
		} else if p, ok := t.Processes["p1"]; ok {
			raw.Resource.Attributes = p.Tags
		}
		spans = append(spans, raw)
	}
	return spans
}

func parentOf(refs []legacyReference) string {
	for _, r := range refs {
		if r.RefType == "CHILD_OF" {
			return r.SpanID
		}
	}
	if len(refs) > 0 {
		return refs[0].SpanID
	}
	return ""
}

// Query narrows a search. Empty filters match everything.
type Query struct {
	Start            time.Time
	End              time.Time
	RunID            string
	SpecificationsID string
	ProjectName      string
}

// TraceInfo summarizes one trace found by Search.
type TraceInfo struct {
	TraceID          string    `json:"trace_id"`
	ProjectName      string    `json:"project_name,omitempty"`
	RunID            string    `json:"run_id,omitempty"`
	SpecificationsID string    `json:"specifications_id,omitempty"`
	ScenarioID       string    `json:"scenario_id,omitempty"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

type searchResponse struct {
	Result *trace.Batch     `json:"result"`
	Error  *json.RawMessage `json:"error"`
}

// Search lists the traces of the client's service that started within
// [q.Start, q.End], ordered by start time.
func (c *Client) Search(ctx context.Context, q Query) ([]TraceInfo, error) {
	params := url.Values{}
	params.Set("query.service_name", c.service)
	params.Set("query.start_time_min", q.Start.UTC().Format(time.RFC3339Nano))
	params.Set("query.start_time_max", q.End.UTC().Format(time.RFC3339Nano))

	var resp searchResponse
	err := c.getJSON(ctx, "/api/v3/traces", params, &resp)
	if errors.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.WrapTransport(errors.Newf("jaeger search: %s", string(*resp.Error)), "jaeger search")
	}
	if resp.Result == nil {
		return nil, nil
	}

	var infos []TraceInfo
	for _, info := range summarize(*resp.Result) {
		if q.RunID != "" && info.RunID != q.RunID {
			continue
		}
		if q.SpecificationsID != "" && info.SpecificationsID != q.SpecificationsID {
			continue
		}
		if q.ProjectName != "" && info.ProjectName != q.ProjectName {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// summarize groups the batch by trace and derives each trace's metadata.
func summarize(batch trace.Batch) []TraceInfo {
	byTrace := make(map[string][]trace.RawSpan)
	var order []string
	for _, rs := range batch.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for _, s := range ss.Spans {
				id := trace.NormalizeID(s.TraceID)
				if _, ok := byTrace[id]; !ok {
					order = append(order, id)
				}
				s.Resource = rs.Resource
				byTrace[id] = append(byTrace[id], s)
			}
		}
	}

	infos := make([]TraceInfo, 0, len(order))
	for _, id := range order {
		spans := byTrace[id]
		meta := trace.Analyze(spans)
		start := time.Unix(0, meta.StartTime).UTC()
		infos = append(infos, TraceInfo{
			TraceID:          id,
			ProjectName:      meta.ProjectName,
			RunID:            meta.RunID,
			SpecificationsID: meta.SpecificationsID,
			ScenarioID:       meta.ScenarioID,
			StartTime:        start,
			EndTime:          start.Add(time.Duration(meta.Duration * float64(time.Second))),
		})
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].StartTime.Before(infos[j].StartTime) })
	return infos
}

// RunInfo aggregates the traces of one evaluation run.
type RunInfo struct {
	RunID            string    `json:"run_id"`
	ProjectName      string    `json:"project_name,omitempty"`
	SpecificationsID string    `json:"specifications_id,omitempty"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Traces           int       `json:"traces"`
}

// RunIDs lists the evaluation runs with traces in [start, end].
func (c *Client) RunIDs(ctx context.Context, start, end time.Time) ([]RunInfo, error) {
	infos, err := c.Search(ctx, Query{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var runs []RunInfo
	for _, t := range infos {
		if t.RunID == "" {
			continue
		}
		i, ok := index[t.RunID]
		if !ok {
			index[t.RunID] = len(runs)
			runs = append(runs, RunInfo{
				RunID:            t.RunID,
				ProjectName:      t.ProjectName,
				SpecificationsID: t.SpecificationsID,
				StartTime:        t.StartTime,
				EndTime:          t.EndTime,
				Traces:           1,
			})
			continue
		}
		r := &runs[i]
		if t.StartTime.Before(r.StartTime) {
			r.StartTime = t.StartTime
		}
		if t.EndTime.After(r.EndTime) {
			r.EndTime = t.EndTime
		}
		r.Traces++
	}
	return runs, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "build jaeger request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransport(err, "jaeger request "+path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.WrapTransport(err, "read jaeger response")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NewNotFoundError("jaeger %s: not found", path)
	case resp.StatusCode >= 300:
		return errors.WrapTransport(
			errors.Newf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"jaeger request "+path)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Mark(errors.Wrapf(err, "decode jaeger response %s", path), errors.ErrMalformedInput)
	}
	return nil
}
