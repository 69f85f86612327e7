package verify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
)

func TestSimplePrompts(t *testing.T) {
	tests := []struct {
		name     string
		req      contract.Requirement
		model    string
		contains string
	}{
		{"precondition sees input", contract.MustRequirement(contract.KindPrecondition, "The user asks about a charge"), "pre", "Why was I charged twice?"},
		{"pathcondition sees path", contract.MustRequirement(contract.KindPathcondition, "An invoice is looked up"), "path", "lookup_invoice"},
		{"postcondition sees output", contract.MustRequirement(contract.KindPostcondition, "A refund is issued"), "post", "A refund for the duplicate charge was issued."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := newScriptedJudge(map[string][]string{tt.model: {"```json\n" + yes + "\n```"}})
			res, err := newTestEvaluator(judge).Evaluate(context.Background(), samplePath(t), tt.req)
			require.NoError(t, err)
			assert.Equal(t, Result{Satisfied: true, Explanation: "holds"}, res)

			calls := judge.callsFor(tt.model)
			require.Len(t, calls, 1)
			assert.True(t, calls[0].JSON)
			assert.Contains(t, calls[0].User, tt.req.Text)
			assert.Contains(t, calls[0].User, tt.contains)
		})
	}
}

func TestSimpleConversationPostcondition(t *testing.T) {
	path, err := execpath.New("t", []execpath.State{{
		SpanID: "s1",
		Name:   "chat",
		Info: map[string]any{
			"input":  map[string]any{"messages": []any{map[string]any{"content": "Cancel my plan"}}},
			"output": map[string]any{"messages": []any{map[string]any{"content": "Your plan is cancelled"}}},
		},
	}})
	require.NoError(t, err)

	req := contract.MustRequirement(contract.KindPostcondition, "The agent confirms").WithTarget(contract.OnConversation)
	judge := newScriptedJudge(map[string][]string{"post": {yes}})
	_, err = newTestEvaluator(judge).Evaluate(context.Background(), path, req)
	require.NoError(t, err)

	calls := judge.callsFor("post")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].User, "[user] Cancel my plan")
	assert.Contains(t, calls[0].User, "[assistant] Your plan is cancelled")
}

func TestSimpleRetriesMalformedVerdict(t *testing.T) {
	judge := newScriptedJudge(map[string][]string{"pre": {
		"I think it is fine",
		`{"explanation": "no flag"}`,
		no,
	}})
	res, err := newTestEvaluator(judge).Evaluate(context.Background(), samplePath(t),
		contract.MustRequirement(contract.KindPrecondition, "x"))
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.Equal(t, "does not hold", res.Explanation)
	assert.Len(t, judge.callsFor("pre"), 3)
}

func TestSimpleRetriesUnexplainedRejection(t *testing.T) {
	judge := newScriptedJudge(map[string][]string{"pre": {
		`{"satisfied": false}`,
		`{"explanation": "   ", "satisfied": false}`,
		no,
	}})
	res, err := newTestEvaluator(judge).Evaluate(context.Background(), samplePath(t),
		contract.MustRequirement(contract.KindPrecondition, "x"))
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.Equal(t, "does not hold", res.Explanation)
	assert.Len(t, judge.callsFor("pre"), 3)
}

func TestEvaluateWithoutJudge(t *testing.T) {
	e := NewEvaluator(nil, Options{}, nil)
	_, err := e.Evaluate(context.Background(), samplePath(t), contract.MustRequirement(contract.KindPrecondition, "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	det, err := contract.NewDeterministic(contract.KindDeterministicPostcondition, "anything", nil)
	require.NoError(t, err)
	res, err := e.Evaluate(context.Background(), samplePath(t), det)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
}

func TestDeterministicPredicates(t *testing.T) {
	registry := NewPredicateRegistry()
	registry.Register("max_actions", PredicateFunc(func(_ context.Context, path *execpath.ExecutionPath, req contract.Requirement) (Result, error) {
		limit, _ := req.Args["limit"].(int)
		if n := len(path.Steps()); n > limit {
			return Unsatisfied("too many actions"), nil
		}
		return Satisfied(), nil
	}))
	assert.Panics(t, func() { registry.Register("max_actions", PredicateFunc(alwaysSatisfied)) })
	assert.True(t, registry.Has("max_actions"))
	assert.False(t, registry.Has("tool_called"))
	assert.Equal(t, []string{"max_actions", ReferenceVariant}, registry.Variants())

	judge := newScriptedJudge(nil)
	e := newTestEvaluator(judge, func(o *Options) { o.Predicates = registry })

	tight, err := contract.NewDeterministic(contract.KindDeterministicPathcondition, "max_actions", map[string]any{"limit": 2})
	require.NoError(t, err)
	res, err := e.Evaluate(context.Background(), samplePath(t), tight)
	require.NoError(t, err)
	assert.Equal(t, Unsatisfied("too many actions"), res)

	loose, err := contract.NewDeterministic(contract.KindDeterministicPathcondition, "max_actions", map[string]any{"limit": 10})
	require.NoError(t, err)
	res, err = e.Evaluate(context.Background(), samplePath(t), loose)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)

	assert.Empty(t, judge.calls)
}

func TestDecodeObject(t *testing.T) {
	var v verdict
	require.NoError(t, decodeObject("Sure!\n```json\n{\"satisfied\": true, \"explanation\": \"ok\"}\n```", &v))
	require.NotNil(t, v.Satisfied)
	assert.True(t, *v.Satisfied)

	assert.Error(t, decodeObject("no json here", &v))
	assert.Error(t, decodeObject("{broken", &v))
}

func TestParseState(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"inline object", `{"a": 1}`, map[string]any{"a": float64(1)}},
		{"encoded object", `"{\"a\": true}"`, map[string]any{"a": true}},
		{"encoded with fences", "\"```json\\n{\\\"a\\\": 1}\\n```\"", map[string]any{"a": float64(1)}},
		{"array", `[1, 2]`, nil},
		{"number", `3`, nil},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseState(json.RawMessage(tt.raw))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseState mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailedResultClasses(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.Mark(errors.WrapTransport(errors.New("slow"), "call"), errors.ErrTimeout), "timeout: "},
		{errors.NewSchemaViolationError("bad shape"), "schema violation: "},
		{errors.WrapTransport(errors.New("refused"), "call"), "transport failure: "},
		{errors.NewMalformedInputError("bad"), "malformed input: "},
		{errors.NewConfigurationError("no key"), "configuration error: "},
		{errors.New("boom"), "evaluation failed: "},
	}
	for _, tt := range tests {
		res := FailedResult(tt.err)
		assert.False(t, res.Satisfied)
		assert.Contains(t, res.Explanation, tt.want)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(am.VerificationConfig{
		Models:             am.ModelsConfig{Init: "i", Step: "s", Verify: "v", Precondition: "pre", Pathcondition: "path", Postcondition: "post"},
		EarlyTermination:   true,
		SchemaAttempts:     2,
		FoldTimeoutSeconds: 30,
		MaxInfoLength:      80,
	})
	assert.Equal(t, Models{Init: "i", Step: "s", Verify: "v", Precondition: "pre", Pathcondition: "path", Postcondition: "post"}, opts.Models)
	assert.Equal(t, 2, opts.SchemaAttempts)
	assert.Equal(t, 30.0, opts.FoldTimeout.Seconds())
}
