package verify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
)

// outcomeEvaluator answers from a fixed table keyed by requirement id.
type outcomeEvaluator map[string]bool

func (o outcomeEvaluator) Evaluate(_ context.Context, _ *execpath.ExecutionPath, req contract.Requirement) (Result, error) {
	ok, found := o[req.UUID]
	if !found {
		return Result{}, errors.WrapTransport(errors.New("judge unreachable"), "judge API error")
	}
	return Result{Satisfied: ok}, nil
}

func req(kind contract.Kind, id string, level contract.Level) contract.Requirement {
	return contract.MustRequirement(kind, id).WithID(id).WithLevel(level)
}

func TestReduce(t *testing.T) {
	c := contract.NewContract("refunds",
		req(contract.KindPostcondition, "post", contract.Must),
		req(contract.KindPrecondition, "pre", contract.Must),
		req(contract.KindMultiStagePathcondition, "path", contract.Must),
		req(contract.KindPrecondition, "pre-should", contract.Should),
	)

	tests := []struct {
		name    string
		results map[string]Result
		want    Status
	}{
		{"all satisfied", map[string]Result{"pre": Satisfied(), "path": Satisfied(), "post": Satisfied()}, StatusSatisfied},
		{"failed precondition", map[string]Result{"pre": Unsatisfied("x"), "path": Satisfied(), "post": Satisfied()}, StatusInvalid},
		{"failed pathcondition", map[string]Result{"pre": Satisfied(), "path": Unsatisfied("x"), "post": Satisfied()}, StatusUnsatisfied},
		{"failed precondition wins over failed post", map[string]Result{"pre": Unsatisfied("x"), "post": Unsatisfied("y")}, StatusInvalid},
		{"should precondition ignored", map[string]Result{"pre": Satisfied(), "pre-should": Unsatisfied("x")}, StatusSatisfied},
		{"missing results skipped", map[string]Result{"post": Satisfied()}, StatusSatisfied},
		{"no results", map[string]Result{}, StatusSatisfied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(c, tt.results))
		})
	}
}

// Every combination of outcomes over a contract with MUST and SHOULD
// requirements in each section.
func TestReduceProperties(t *testing.T) {
	ids := []string{"pre-m", "pre-s", "path-m", "path-s", "post-m", "post-s"}
	c := contract.NewContract("props",
		req(contract.KindPrecondition, "pre-m", contract.Must),
		req(contract.KindPrecondition, "pre-s", contract.Should),
		req(contract.KindPathcondition, "path-m", contract.Must),
		req(contract.KindPathcondition, "path-s", contract.Should),
		req(contract.KindPostcondition, "post-m", contract.Must),
		req(contract.KindPostcondition, "post-s", contract.Should),
	)

	for mask := 0; mask < 1<<len(ids); mask++ {
		results := make(map[string]Result, len(ids))
		for i, id := range ids {
			results[id] = Result{Satisfied: mask&(1<<i) != 0}
		}
		status := Reduce(c, results)
		label := fmt.Sprintf("mask %06b", mask)

		if !results["pre-m"].Satisfied {
			assert.Equal(t, StatusInvalid, status, label)
			continue
		}
		if results["path-m"].Satisfied && results["post-m"].Satisfied {
			assert.Equal(t, StatusSatisfied, status, label)
		} else {
			assert.Equal(t, StatusUnsatisfied, status, label)
		}
	}
}

func TestCheckerIsolatesFailures(t *testing.T) {
	c := contract.NewContract("c",
		req(contract.KindPrecondition, "pre", contract.Must),
		req(contract.KindPathcondition, "broken", contract.Must),
		req(contract.KindPostcondition, "post", contract.Must),
	)
	checker := NewChecker(outcomeEvaluator{"pre": true, "post": true}, 2, nil)

	status, results := checker.Check(context.Background(), samplePath(t), c, contract.AllSections)
	assert.Equal(t, StatusUnsatisfied, status)
	require.Len(t, results, 3)
	assert.True(t, results["pre"].Satisfied)
	assert.True(t, results["post"].Satisfied)
	assert.False(t, results["broken"].Satisfied)
	assert.Contains(t, results["broken"].Explanation, "transport failure")
}

func TestCheckerFilter(t *testing.T) {
	c := contract.NewContract("c",
		req(contract.KindPrecondition, "pre", contract.Must),
		req(contract.KindPathcondition, "path", contract.Must),
		req(contract.KindPostcondition, "post", contract.Must),
	)
	checker := NewChecker(outcomeEvaluator{"pre": false, "path": true, "post": true}, 0, nil)

	status, results := checker.Check(context.Background(), samplePath(t), c, contract.Pathconditions|contract.Postconditions)
	assert.Equal(t, StatusSatisfied, status)
	assert.NotContains(t, results, "pre")
	assert.Len(t, results, 2)
}

func TestCheckerGate(t *testing.T) {
	c := contract.NewContract("c",
		req(contract.KindPrecondition, "pre-must", contract.Must),
		req(contract.KindPrecondition, "pre-should", contract.Should),
		req(contract.KindPostcondition, "post", contract.Must),
	)

	active, results := NewChecker(outcomeEvaluator{"pre-must": true}, 0, nil).Gate(context.Background(), samplePath(t), c)
	assert.True(t, active)
	assert.Equal(t, []string{"pre-must"}, keys(results))

	active, _ = NewChecker(outcomeEvaluator{"pre-must": false}, 0, nil).Gate(context.Background(), samplePath(t), c)
	assert.False(t, active)

	noPre := contract.NewContract("open", req(contract.KindPostcondition, "post", contract.Must))
	active, results = NewChecker(outcomeEvaluator{}, 0, nil).Gate(context.Background(), samplePath(t), noPre)
	assert.True(t, active)
	assert.Empty(t, results)
}

// An unsatisfied MUST precondition makes the contract INVALID while the
// postcondition result is still reported.
func TestInvalidContractKeepsPostconditionResult(t *testing.T) {
	pre := req(contract.KindPrecondition, "pre", contract.Must)
	post := req(contract.KindPostcondition, "post", contract.Must)
	c := contract.NewContract("billing", pre, post)

	judge := newScriptedJudge(map[string][]string{"pre": {no}, "post": {yes}})
	checker := NewChecker(newTestEvaluator(judge), 0, nil)

	status, results := checker.Check(context.Background(), samplePath(t), c, contract.AllSections)
	assert.Equal(t, StatusInvalid, status)
	require.Contains(t, results, "post")
	assert.True(t, results["post"].Satisfied)
	assert.Equal(t, "holds", results["post"].Explanation)
	assert.False(t, results["pre"].Satisfied)
}

func TestCheckerFillsMissingExplanation(t *testing.T) {
	c := contract.NewContract("c",
		req(contract.KindPrecondition, "pre", contract.Must),
		req(contract.KindPostcondition, "post", contract.Must),
	)
	checker := NewChecker(outcomeEvaluator{"pre": true, "post": false}, 0, nil)

	status, results := checker.Check(context.Background(), samplePath(t), c, contract.AllSections)
	assert.Equal(t, StatusUnsatisfied, status)
	assert.Empty(t, results["pre"].Explanation)
	assert.False(t, results["post"].Satisfied)
	assert.Equal(t, noExplanation, results["post"].Explanation)
}

func keys(m map[string]Result) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
