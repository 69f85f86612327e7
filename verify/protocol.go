package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/pact/ai/chat"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// NeverTerminateEarly replaces an empty early-termination condition.
const NeverTerminateEarly = "Never terminate early"

// Instructions records how the fold was told to proceed.
type Instructions struct {
	Update           string `json:"update"`
	EarlyTermination string `json:"early_termination"`
}

// StepResult is the running state after one action.
type StepResult struct {
	SpanID           string         `json:"span_id"`
	Result           map[string]any `json:"result"`
	Reasoning        string         `json:"reasoning"`
	EarlyTermination bool           `json:"early_termination"`
}

// FoldInfo is the audit trail attached to a multi-stage result.
type FoldInfo struct {
	Instructions          *Instructions `json:"instructions,omitempty"`
	Updates               []StepResult  `json:"updates"`
	StepSuccessCondition  string        `json:"step_success_condition"`
	StepUpdateInstruction string        `json:"step_update_instruction"`
}

type initAnswer struct {
	Reasoning        string          `json:"reasoning"`
	StateSchema      json.RawMessage `json:"state_schema"`
	Instructions     string          `json:"instructions"`
	SuccessCondition string          `json:"success_condition"`
	EarlyTermination any             `json:"early_termination"`

	schema map[string]any
}

func (a *initAnswer) validate() error {
	a.schema = parseState(a.StateSchema)
	if len(a.schema) == 0 {
		return errors.Newf("state_schema is not a non-empty JSON object: %s", truncateText(string(a.StateSchema), 80))
	}
	return nil
}

func (a *initAnswer) earlyTermination() string {
	switch v := a.EarlyTermination.(type) {
	case string:
		return strings.TrimSpace(v)
	case nil, bool:
		return ""
	}
	return fmt.Sprint(a.EarlyTermination)
}

type stepAnswer struct {
	Reasoning        string          `json:"reasoning"`
	Result           json.RawMessage `json:"result"`
	EarlyTermination bool            `json:"early_termination"`

	state map[string]any
}

type stepPromptData struct {
	Context          any
	PrevReasoning    string
	State            *execpath.State
	Action           map[string]any
	Instructions     string
	EarlyTermination string
}

// fold is the state of one multi-stage evaluation. It is never shared.
type fold struct {
	e   *Evaluator
	req contract.Requirement
	log *zap.SugaredLogger

	schema           map[string]any
	instructions     string
	successCondition string
	earlyTermination string
	updates          []StepResult
}

func (e *Evaluator) runFold(ctx context.Context, path *execpath.ExecutionPath, req contract.Requirement, log *zap.SugaredLogger) (Result, error) {
	if e.opts.FoldTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.FoldTimeout)
		defer cancel()
	}
	f := &fold{e: e, req: req, log: log}
	res, err := f.run(ctx, path)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{}, errors.Mark(errors.Wrapf(err, "fold exceeded %s", e.opts.FoldTimeout), errors.ErrTimeout)
	}
	return res, err
}

func (f *fold) run(ctx context.Context, path *execpath.ExecutionPath) (Result, error) {
	if err := f.init(ctx, path); err != nil {
		return Result{}, err
	}
	steps := 0
outer:
	for i := range path.States {
		state := &path.States[i]
		for j := range state.Actions {
			if err := ctx.Err(); err != nil {
				return Result{}, errors.Wrap(err, "fold canceled")
			}
			update, err := f.step(ctx, state, &state.Actions[j])
			if err != nil {
				return Result{}, err
			}
			steps++
			if update.EarlyTermination {
				f.log.Debugw("early termination", logger.FieldSpanID, update.SpanID, "steps", steps)
				break outer
			}
		}
	}
	return f.verify(ctx)
}

// init asks the judge to design the state schema.
func (f *fold) init(ctx context.Context, path *execpath.ExecutionPath) error {
	system, user, err := render(promptInit, map[string]any{
		"Requirement":      f.req.Text,
		"Path":             path.Compact(f.e.opts.MaxInfoLength, false),
		"EarlyTermination": f.e.opts.EarlyTermination,
	})
	if err != nil {
		return err
	}
	a, err := ask(ctx, f.e.judge, chat.Request{System: system, User: user, Model: f.e.opts.Models.Init, JSON: true},
		f.e.opts.SchemaAttempts, "init", f.log, (*initAnswer).validate)
	if err != nil {
		return err
	}
	f.schema = a.schema
	f.instructions = strings.TrimSpace(a.Instructions)
	f.successCondition = strings.TrimSpace(a.SuccessCondition)
	f.earlyTermination = a.earlyTermination()
	if f.earlyTermination == "" {
		f.earlyTermination = NeverTerminateEarly
	}
	f.log.Debugw("fold initialized", logger.FieldSymbol, sym.Judge, "schema_keys", sortedKeys(f.schema))
	return nil
}

// step folds one action into the running state.
func (f *fold) step(ctx context.Context, state *execpath.State, action *execpath.Action) (StepResult, error) {
	data := stepPromptData{
		Context: f.schema,
		State:   state,
		Action: map[string]any{
			"spanId": action.SpanID,
			"name":   action.Name,
			"info":   execpath.Redact(action.Info),
		},
		Instructions:     f.instructions,
		EarlyTermination: f.earlyTermination,
	}
	if n := len(f.updates); n > 0 {
		data.Context = f.updates[n-1].Result
		data.PrevReasoning = f.updates[n-1].Reasoning
	}
	system, user, err := render(promptStep, data)
	if err != nil {
		return StepResult{}, err
	}

	zero := 0.0
	a, err := ask(ctx, f.e.judge, chat.Request{System: system, User: user, Model: f.e.opts.Models.Step, Temperature: &zero, JSON: true},
		f.e.opts.SchemaAttempts, "step", f.log, f.validateStep)
	if err != nil {
		return StepResult{}, errors.Wrapf(err, "step %s", action.SpanID)
	}
	update := StepResult{
		SpanID:           action.SpanID,
		Result:           a.state,
		Reasoning:        a.Reasoning,
		EarlyTermination: f.e.opts.EarlyTermination && a.EarlyTermination,
	}
	f.updates = append(f.updates, update)
	return update, nil
}

// validateStep requires the updated state to keep every schema key.
func (f *fold) validateStep(a *stepAnswer) error {
	a.state = parseState(a.Result)
	if a.state == nil {
		return errors.Newf("result is not a JSON object: %s", truncateText(string(a.Result), 80))
	}
	var missing []string
	for k := range f.schema {
		if _, ok := a.state[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Newf("result is missing schema keys %v", missing)
	}
	return nil
}

// verify asks for the final verdict from the update history.
func (f *fold) verify(ctx context.Context) (Result, error) {
	system, user, err := render(promptVerify, map[string]any{
		"Requirement":      f.req.Text,
		"Instructions":     f.instructions,
		"SuccessCondition": f.successCondition,
		"Updates":          f.updates,
	})
	if err != nil {
		return Result{}, err
	}
	v, err := ask(ctx, f.e.judge, chat.Request{System: system, User: user, Model: f.e.opts.Models.Verify, JSON: true},
		f.e.opts.SchemaAttempts, "verify", f.log, (*verdict).validate)
	if err != nil {
		return Result{}, err
	}

	updates := f.updates
	if updates == nil {
		updates = []StepResult{}
	}
	res := v.result()
	res.Info = FoldInfo{
		Instructions: &Instructions{
			Update:           f.instructions,
			EarlyTermination: f.earlyTermination,
		},
		Updates:               updates,
		StepSuccessCondition:  f.successCondition,
		StepUpdateInstruction: f.instructions,
	}
	return res, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
