package certify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/trace"
	"github.com/teranos/pact/verify"
)

const testTraceID = "0af7651916cd43dd8448eb211c80319c"

// spanBatch is one agent span with a tool call below it, as the tracer of
// service emits it.
func spanBatch(traceID, service, input, output string) []byte {
	return []byte(fmt.Sprintf(`{"resourceSpans":[{
  "resource":{"attributes":[{"key":"service.name","value":{"stringValue":%q}}]},
  "scopeSpans":[{"scope":{"name":%q},"spans":[
    {"traceId":%q,"spanId":"0000000000000001","name":"agent",
     "startTimeUnixNano":"1000","endTimeUnixNano":"5000",
     "attributes":[{"key":"input","value":{"stringValue":%q}},{"key":"output","value":{"stringValue":%q}}]},
    {"traceId":%q,"spanId":"0000000000000002","parentSpanId":"0000000000000001","name":"issue_refund",
     "startTimeUnixNano":"2000","endTimeUnixNano":"3000"}
  ]}]}]}`, service, trace.ScopeCrewAI, traceID, input, output, traceID))
}

// countingPredicates registers substring predicates over the path input
// and output and counts their calls.
type countingPredicates struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingPredicates) registry() *verify.PredicateRegistry {
	r := verify.NewPredicateRegistry()
	r.Register("input_contains", verify.PredicateFunc(func(_ context.Context, p *execpath.ExecutionPath, req contract.Requirement) (verify.Result, error) {
		return c.contains(req, p.Input())
	}))
	r.Register("output_contains", verify.PredicateFunc(func(_ context.Context, p *execpath.ExecutionPath, req contract.Requirement) (verify.Result, error) {
		return c.contains(req, p.Output())
	}))
	return r
}

func (c *countingPredicates) contains(req contract.Requirement, v any) (verify.Result, error) {
	c.mu.Lock()
	c.calls[req.UUID]++
	c.mu.Unlock()
	text, _ := req.Args["text"].(string)
	s, _ := v.(string)
	if strings.Contains(s, text) {
		return verify.Satisfied(), nil
	}
	return verify.Unsatisfied(fmt.Sprintf("%q does not mention %q", s, text)), nil
}

func (c *countingPredicates) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func det(t *testing.T, kind contract.Kind, id, variant, text string) contract.Requirement {
	t.Helper()
	r, err := contract.NewDeterministic(kind, variant, map[string]any{"text": text})
	require.NoError(t, err)
	r.UUID = id
	return r
}

// refundSpecs holds three contracts: one satisfied by the refund trace,
// one unsatisfied, and one that does not apply. "refunds" is listed in
// two scenarios.
func refundSpecs(t *testing.T) *contract.Specifications {
	t.Helper()
	refunds := &contract.Contract{UUID: "con-refunds", Name: "refunds", Requirements: []contract.Requirement{
		det(t, contract.KindDeterministicPrecondition, "req-pre", "input_contains", "refund"),
		det(t, contract.KindDeterministicPostcondition, "req-post", "output_contains", "issued"),
	}}
	apology := &contract.Contract{UUID: "con-apology", Name: "apology", Requirements: []contract.Requirement{
		det(t, contract.KindDeterministicPrecondition, "req-pre2", "input_contains", "refund"),
		det(t, contract.KindDeterministicPostcondition, "req-sorry", "output_contains", "sorry"),
	}}
	shipping := &contract.Contract{UUID: "con-shipping", Name: "shipping", Requirements: []contract.Requirement{
		det(t, contract.KindDeterministicPrecondition, "req-ship", "input_contains", "shipping"),
		det(t, contract.KindDeterministicPostcondition, "req-track", "output_contains", "tracking"),
	}}
	specs, err := contract.NewSpecifications("spec-refunds",
		&contract.Scenario{UUID: "scene-refund", Contracts: []*contract.Contract{refunds, apology}},
		&contract.Scenario{UUID: "scene-shipping", Contracts: []*contract.Contract{shipping, refunds}},
	)
	require.NoError(t, err)
	return specs
}

type harness struct {
	certifier  *Certifier
	store      certstore.Store
	predicates *countingPredicates
	events     *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newHarness(t *testing.T, specs *contract.Specifications, store certstore.Store) *harness {
	t.Helper()
	if store == nil {
		store = certstore.NewMemoryStore("certificate")
	}
	preds := &countingPredicates{calls: make(map[string]int)}
	log := zaptest.NewLogger(t).Sugar()
	eval := verify.NewEvaluator(nil, verify.Options{Predicates: preds.registry()}, log)
	events := &eventLog{}
	c := NewCertifier(specs, verify.NewChecker(eval, 0, log), store, Options{Publisher: events}, log)
	return &harness{certifier: c, store: store, predicates: preds, events: events}
}
