package verify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teranos/pact/ai/chat"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
)

// testModels gives every phase its own model name so the scripted judge
// can answer per phase.
var testModels = Models{
	Init:          "init",
	Step:          "step",
	Verify:        "verify",
	Precondition:  "pre",
	Pathcondition: "path",
	Postcondition: "post",
}

// scriptedJudge replays canned answers per model, repeating the last one
// when a script runs out.
type scriptedJudge struct {
	mu      sync.Mutex
	scripts map[string][]string
	errs    map[string]error
	calls   []chat.Request
}

func newScriptedJudge(scripts map[string][]string) *scriptedJudge {
	return &scriptedJudge{scripts: scripts, errs: map[string]error{}}
}

func (j *scriptedJudge) Complete(_ context.Context, req chat.Request) (*chat.Response, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, req)
	if err := j.errs[req.Model]; err != nil {
		return nil, err
	}
	script := j.scripts[req.Model]
	if len(script) == 0 {
		return nil, errors.WrapTransport(errors.Newf("no script for model %s", req.Model), "scripted judge")
	}
	answer := script[0]
	if len(script) > 1 {
		j.scripts[req.Model] = script[1:]
	}
	return &chat.Response{Content: answer, Model: req.Model}, nil
}

func (j *scriptedJudge) callsFor(model string) []chat.Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []chat.Request
	for _, c := range j.calls {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}

func newTestEvaluator(j Judge, mutate ...func(*Options)) *Evaluator {
	opts := Options{Models: testModels, EarlyTermination: true}
	for _, m := range mutate {
		m(&opts)
	}
	return NewEvaluator(j, opts, nil)
}

func samplePath(t *testing.T) *execpath.ExecutionPath {
	t.Helper()
	p, err := execpath.New("4bf92f3577b34da6a3ce929d0e0e4736", []execpath.State{
		{
			SpanID: "s1",
			Name:   "billing_agent",
			Info:   map[string]any{"input": "Why was I charged twice?"},
			Actions: []execpath.Action{
				{SpanID: "a1", Name: "lookup_invoice", Info: map[string]any{
					"tool":       "lookup_invoice",
					"screenshot": "data:image/png;base64,iVBORw0KGgo",
				}},
				{SpanID: "a2", Name: "ChatOpenAI", Info: map[string]any{"output": "Found two charges"}},
			},
		},
		{
			SpanID: "s2",
			Name:   "responder",
			Info:   map[string]any{"output": "A refund for the duplicate charge was issued."},
			Actions: []execpath.Action{
				{SpanID: "a3", Name: "issue_refund", Info: map[string]any{"amount": 12.5}},
			},
		},
	})
	require.NoError(t, err)
	return p
}

const (
	yes = `{"explanation": "holds", "satisfied": true}`
	no  = `{"explanation": "does not hold", "satisfied": false}`

	validInit = `{"reasoning": "track lookups", "state_schema": "{\"looked_up\": false, \"refunded\": false}",
		"instructions": " set looked_up when the invoice is read ", "success_condition": "looked_up before refunded",
		"early_termination": ""}`
	emptyInit = `{"reasoning": "?", "state_schema": "{}", "instructions": "x", "success_condition": "y", "early_termination": ""}`
	validStep = `{"reasoning": "invoice read", "result": "{\"looked_up\": true, \"refunded\": false}", "early_termination": false}`
	stopStep  = `{"reasoning": "decided", "result": {"looked_up": true, "refunded": true}, "early_termination": true}`
)
