package verify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pact/ai/chat"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
)

func pathRequirement() contract.Requirement {
	return contract.MustRequirement(contract.KindMultiStagePathcondition,
		"The agent looks up the invoice before issuing a refund")
}

// Empty state schemas are retried until the judge produces a usable one.
func TestFoldRetriesEmptySchema(t *testing.T) {
	judge := newScriptedJudge(map[string][]string{
		"init":   {emptyInit, emptyInit, emptyInit, validInit},
		"step":   {validStep},
		"verify": {yes},
	})
	e := NewEvaluator(judge, Options{Models: testModels, EarlyTermination: true}, zaptest.NewLogger(t).Sugar())

	res, err := e.Evaluate(context.Background(), samplePath(t), pathRequirement())
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
	assert.Len(t, judge.callsFor("init"), 4)
	assert.Len(t, judge.callsFor("step"), 3)
	assert.Len(t, judge.callsFor("verify"), 1)

	info, ok := res.Info.(FoldInfo)
	require.True(t, ok)
	require.Len(t, info.Updates, 3)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{info.Updates[0].SpanID, info.Updates[1].SpanID, info.Updates[2].SpanID})
	assert.Equal(t, map[string]any{"looked_up": true, "refunded": false}, info.Updates[0].Result)
	assert.Equal(t, "set looked_up when the invoice is read", info.StepUpdateInstruction)
	assert.Equal(t, "looked_up before refunded", info.StepSuccessCondition)
	require.NotNil(t, info.Instructions)
	assert.Equal(t, NeverTerminateEarly, info.Instructions.EarlyTermination)
}

func TestFoldSchemaExhaustion(t *testing.T) {
	judge := newScriptedJudge(map[string][]string{"init": {emptyInit}})
	e := newTestEvaluator(judge, func(o *Options) { o.SchemaAttempts = 3 })

	_, err := e.Evaluate(context.Background(), samplePath(t), pathRequirement())
	require.Error(t, err)
	assert.True(t, errors.IsSchemaViolationError(err))
	assert.Len(t, judge.callsFor("init"), 3)
	assert.Empty(t, judge.callsFor("step"))

	res := FailedResult(err)
	assert.False(t, res.Satisfied)
	assert.Contains(t, res.Explanation, "schema violation")
}

func TestFoldStepMustKeepSchemaKeys(t *testing.T) {
	missing := `{"reasoning": "dropped a key", "result": {"looked_up": true}, "early_termination": false}`
	judge := newScriptedJudge(map[string][]string{
		"init":   {validInit},
		"step":   {missing, validStep},
		"verify": {no},
	})
	e := newTestEvaluator(judge)

	res, err := e.Evaluate(context.Background(), samplePath(t), pathRequirement())
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	// one rejected answer plus one per action
	assert.Len(t, judge.callsFor("step"), 4)
	for _, c := range judge.callsFor("step") {
		require.NotNil(t, c.Temperature)
		assert.Zero(t, *c.Temperature)
	}
}

func TestFoldEarlyTermination(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		wantSteps int
	}{
		{"enabled stops after first action", true, 1},
		{"disabled visits every action", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := newScriptedJudge(map[string][]string{
				"init":   {validInit},
				"step":   {stopStep},
				"verify": {yes},
			})
			e := newTestEvaluator(judge, func(o *Options) { o.EarlyTermination = tt.enabled })

			res, err := e.Evaluate(context.Background(), samplePath(t), pathRequirement())
			require.NoError(t, err)
			assert.Len(t, judge.callsFor("step"), tt.wantSteps)

			info := res.Info.(FoldInfo)
			require.Len(t, info.Updates, tt.wantSteps)
			assert.Equal(t, tt.enabled, info.Updates[0].EarlyTermination)
		})
	}
}

func TestFoldStepPromptCarriesPreviousState(t *testing.T) {
	judge := newScriptedJudge(map[string][]string{
		"init":   {validInit},
		"step":   {validStep},
		"verify": {yes},
	})
	_, err := newTestEvaluator(judge).Evaluate(context.Background(), samplePath(t), pathRequirement())
	require.NoError(t, err)

	steps := judge.callsFor("step")
	require.Len(t, steps, 3)
	assert.Contains(t, steps[0].User, `"looked_up": false`)
	assert.NotContains(t, steps[0].User, "Reasoning behind the current state")
	assert.Contains(t, steps[0].User, execpath.RedactedValue)
	assert.NotContains(t, steps[0].User, "iVBORw0KGgo")
	assert.Contains(t, steps[0].User, "State: billing_agent (ID:s1)")

	assert.Contains(t, steps[1].User, `"looked_up": true`)
	assert.Contains(t, steps[1].User, "invoice read")
	assert.Contains(t, steps[2].User, "State: responder (ID:s2)")

	verify := judge.callsFor("verify")
	require.Len(t, verify, 1)
	assert.Contains(t, verify[0].User, "a3")
}

func TestFoldNoActions(t *testing.T) {
	path, err := execpath.New("t", []execpath.State{{SpanID: "s1", Name: "idle", Info: map[string]any{}}})
	require.NoError(t, err)
	judge := newScriptedJudge(map[string][]string{"init": {validInit}, "verify": {yes}})

	res, err := newTestEvaluator(judge).Evaluate(context.Background(), path, pathRequirement())
	require.NoError(t, err)
	assert.Empty(t, judge.callsFor("step"))

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"updates":[]`)
}

func TestFoldTimeout(t *testing.T) {
	blocking := JudgeFunc(func(ctx context.Context, req chat.Request) (*chat.Response, error) {
		if req.Model == "init" {
			return &chat.Response{Content: validInit}, nil
		}
		<-ctx.Done()
		return nil, errors.WrapTransport(ctx.Err(), "judge call")
	})
	e := newTestEvaluator(blocking, func(o *Options) { o.FoldTimeout = 20 * time.Millisecond })

	_, err := e.Evaluate(context.Background(), samplePath(t), pathRequirement())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Contains(t, FailedResult(err).Explanation, "timeout")
}

func TestFoldTransportErrorIsNotRetried(t *testing.T) {
	judge := newScriptedJudge(map[string][]string{})
	judge.errs["init"] = errors.WrapTransport(errors.New("connection refused"), "judge API error")

	_, err := newTestEvaluator(judge).Evaluate(context.Background(), samplePath(t), pathRequirement())
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
	assert.Len(t, judge.callsFor("init"), 1)
}
