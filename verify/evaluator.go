package verify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/logger"
)

// Models names the judge model per phase.
type Models struct {
	Init          string
	Step          string
	Verify        string
	Precondition  string
	Pathcondition string
	Postcondition string
}

// DefaultSchemaAttempts bounds shape retries per judge phase.
const DefaultSchemaAttempts = 5

// Options tunes an Evaluator.
type Options struct {
	Models           Models
	EarlyTermination bool
	SchemaAttempts   int
	FoldTimeout      time.Duration // 0 = unbounded
	MaxInfoLength    int
	Predicates       *PredicateRegistry
}

// OptionsFromConfig maps the verification section of am.toml.
func OptionsFromConfig(cfg am.VerificationConfig) Options {
	return Options{
		Models: Models{
			Init:          cfg.Models.Init,
			Step:          cfg.Models.Step,
			Verify:        cfg.Models.Verify,
			Precondition:  cfg.Models.Precondition,
			Pathcondition: cfg.Models.Pathcondition,
			Postcondition: cfg.Models.Postcondition,
		},
		EarlyTermination: cfg.EarlyTermination,
		SchemaAttempts:   cfg.SchemaAttempts,
		FoldTimeout:      time.Duration(cfg.FoldTimeoutSeconds) * time.Second,
		MaxInfoLength:    cfg.MaxInfoLength,
	}
}

// RequirementEvaluator evaluates one requirement against one path.
type RequirementEvaluator interface {
	Evaluate(ctx context.Context, path *execpath.ExecutionPath, req contract.Requirement) (Result, error)
}

// Evaluator dispatches a requirement to its technique: a registered
// predicate, a single judge call, or the multi-stage fold.
type Evaluator struct {
	judge      Judge
	opts       Options
	predicates *PredicateRegistry
	logger     *zap.SugaredLogger
}

// NewEvaluator builds an evaluator. judge may be nil when only
// deterministic requirements are evaluated.
func NewEvaluator(judge Judge, opts Options, log *zap.SugaredLogger) *Evaluator {
	if opts.SchemaAttempts <= 0 {
		opts.SchemaAttempts = DefaultSchemaAttempts
	}
	if opts.MaxInfoLength <= 0 {
		opts.MaxInfoLength = execpath.DefaultMaxInfoLength
	}
	predicates := opts.Predicates
	if predicates == nil {
		predicates = NewPredicateRegistry()
	}
	return &Evaluator{
		judge:      judge,
		opts:       opts,
		predicates: predicates,
		logger:     logger.OrNop(log).Named("verify"),
	}
}

// Predicates returns the deterministic predicate registry.
func (e *Evaluator) Predicates() *PredicateRegistry { return e.predicates }

// Evaluate runs req against path.
func (e *Evaluator) Evaluate(ctx context.Context, path *execpath.ExecutionPath, req contract.Requirement) (Result, error) {
	log := e.logger.With(logger.FieldTraceID, path.TraceID, logger.FieldRequirementID, req.UUID)

	switch req.Technique() {
	case contract.Deterministic:
		if !e.predicates.Has(req.Variant) {
			log.Debugw("no predicate registered, using reference", "variant", req.Variant)
		}
		return e.predicates.Get(req.Variant).Check(ctx, path, req)
	case contract.Simple:
		if e.judge == nil {
			return Result{}, errors.NewConfigurationError("requirement %s needs a judge", req.UUID)
		}
		return e.simple(ctx, path, req, log)
	case contract.MultiStage:
		if e.judge == nil {
			return Result{}, errors.NewConfigurationError("requirement %s needs a judge", req.UUID)
		}
		return e.runFold(ctx, path, req, log)
	}
	return Result{}, errors.NewNotFoundError("no evaluation technique for requirement kind %s", req.Kind)
}
