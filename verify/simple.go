package verify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/ai/chat"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

type simpleInput struct {
	Requirement  string
	Input        any
	Path         string
	Output       any
	Conversation []execpath.Message
}

// prepareSimple picks the prompt, model and input for a single-call check:
// preconditions see the path input, pathconditions the rendered path and
// postconditions the output or the conversation.
func (e *Evaluator) prepareSimple(path *execpath.ExecutionPath, req contract.Requirement) (string, string, simpleInput, error) {
	in := simpleInput{Requirement: req.Text}
	switch req.Section() {
	case contract.Preconditions:
		in.Input = path.Input()
		return promptPrecondition, e.opts.Models.Precondition, in, nil
	case contract.Pathconditions:
		in.Path = path.Compact(e.opts.MaxInfoLength, false)
		return promptPathcondition, e.opts.Models.Pathcondition, in, nil
	case contract.Postconditions:
		if req.On == contract.OnConversation {
			conv, err := path.Conversation()
			if err != nil {
				return "", "", in, errors.Wrap(err, "rebuild conversation")
			}
			in.Conversation = conv
			return promptPostconditionConversation, e.opts.Models.Postcondition, in, nil
		}
		in.Output = path.Output()
		return promptPostconditionOutput, e.opts.Models.Postcondition, in, nil
	}
	return "", "", in, errors.NewMalformedInputError("requirement %s has no section", req.UUID)
}

func (e *Evaluator) simple(ctx context.Context, path *execpath.ExecutionPath, req contract.Requirement, log *zap.SugaredLogger) (Result, error) {
	start := time.Now()
	name, model, in, err := e.prepareSimple(path, req)
	if err != nil {
		return Result{}, err
	}
	system, user, err := render(name, in)
	if err != nil {
		return Result{}, err
	}

	v, err := ask(ctx, e.judge, chat.Request{System: system, User: user, Model: model, JSON: true},
		e.opts.SchemaAttempts, name, log, (*verdict).validate)
	if err != nil {
		return Result{}, err
	}
	res := v.result()
	log.Debugw("simple check",
		logger.FieldSymbol, sym.Judge,
		logger.FieldPhase, name,
		logger.FieldModel, model,
		"satisfied", res.Satisfied,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return res, nil
}
