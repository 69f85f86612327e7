package verify

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// Checker evaluates contracts requirement by requirement, concurrently.
type Checker struct {
	eval        RequirementEvaluator
	concurrency int
	logger      *zap.SugaredLogger
}

// NewChecker builds a checker. concurrency bounds in-flight requirement
// evaluations per call; 0 means unbounded.
func NewChecker(eval RequirementEvaluator, concurrency int, log *zap.SugaredLogger) *Checker {
	return &Checker{eval: eval, concurrency: concurrency, logger: logger.OrNop(log).Named("checker")}
}

// Check evaluates the requirements of c matching filter and derives the
// contract status from them. A requirement whose evaluation fails gets an
// unsatisfied result explaining the failure; its siblings are unaffected.
func (k *Checker) Check(ctx context.Context, path *execpath.ExecutionPath, c *contract.Contract, filter contract.Section) (Status, map[string]Result) {
	start := time.Now()
	results := k.evaluate(ctx, path, c.Ordered(filter))
	status := Reduce(c, results)
	k.logger.Debugw("contract checked",
		logger.FieldSymbol, sym.Verdict,
		logger.FieldTraceID, path.TraceID,
		logger.FieldContractID, c.UUID,
		logger.FieldStatus, status,
		logger.FieldCount, len(results),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return status, results
}

// Gate evaluates the MUST preconditions of c. The contract applies to the
// execution only when every one of them is satisfied.
func (k *Checker) Gate(ctx context.Context, path *execpath.ExecutionPath, c *contract.Contract) (bool, map[string]Result) {
	var musts []contract.Requirement
	for _, r := range c.Preconditions() {
		if r.IsMust() {
			musts = append(musts, r)
		}
	}
	results := k.evaluate(ctx, path, musts)
	for _, r := range results {
		if !r.Satisfied {
			return false, results
		}
	}
	return true, results
}

// noExplanation stands in for an unsatisfied result that carries no reason.
const noExplanation = "not satisfied (no explanation given)"

func (k *Checker) evaluate(ctx context.Context, path *execpath.ExecutionPath, reqs []contract.Requirement) map[string]Result {
	out := make([]Result, len(reqs))
	var g errgroup.Group
	if k.concurrency > 0 {
		g.SetLimit(k.concurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := k.eval.Evaluate(ctx, path, req)
			if err != nil {
				k.logger.Warnw("requirement evaluation failed",
					logger.FieldTraceID, path.TraceID,
					logger.FieldRequirementID, req.UUID,
					logger.FieldError, err)
				res = FailedResult(err)
			}
			if !res.Satisfied && strings.TrimSpace(res.Explanation) == "" {
				res.Explanation = noExplanation
			}
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]Result, len(reqs))
	for i, req := range reqs {
		results[req.UUID] = out[i]
	}
	return results
}

// Reduce derives a contract status from already computed results. SHOULD
// requirements never count. An unsatisfied MUST precondition makes the
// contract INVALID; otherwise an unsatisfied MUST pathcondition or
// postcondition makes it UNSATISFIED. Requirements without a result are
// skipped.
func Reduce(c *contract.Contract, results map[string]Result) Status {
	status := StatusSatisfied
	for _, req := range c.Ordered(contract.AllSections) {
		if !req.IsMust() {
			continue
		}
		res, ok := results[req.UUID]
		if !ok || res.Satisfied {
			continue
		}
		if req.Section() == contract.Preconditions {
			return StatusInvalid
		}
		status = StatusUnsatisfied
	}
	return status
}
