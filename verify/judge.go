package verify

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/pact/ai/chat"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
)

// Judge answers one chat request. *chat.Client implements it; it is
// responsible for transport retries.
type Judge interface {
	Complete(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, req chat.Request) (*chat.Response, error)

// Complete calls f.
func (f JudgeFunc) Complete(ctx context.Context, req chat.Request) (*chat.Response, error) {
	return f(ctx, req)
}

// verdict is the answer shape of every single-call check.
type verdict struct {
	Explanation string `json:"explanation"`
	Satisfied   *bool  `json:"satisfied"`
}

func (v *verdict) validate() error {
	if v.Satisfied == nil {
		return errors.New(`missing boolean "satisfied"`)
	}
	if !*v.Satisfied && strings.TrimSpace(v.Explanation) == "" {
		return errors.New(`unsatisfied verdict needs an "explanation"`)
	}
	return nil
}

func (v *verdict) result() Result {
	return Result{Satisfied: *v.Satisfied, Explanation: strings.TrimSpace(v.Explanation)}
}

// ask sends req until the decoded answer passes validate, at most attempts
// times. Transport errors are returned as is; running out of attempts is a
// schema violation.
func ask[T any](ctx context.Context, j Judge, req chat.Request, attempts int, phase string, log *zap.SugaredLogger, validate func(*T) error) (*T, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := j.Complete(ctx, req)
		if err != nil {
			return nil, errors.Wrapf(err, "%s judge call", phase)
		}
		out := new(T)
		if err := decodeObject(resp.Content, out); err != nil {
			lastErr = err
		} else if err := validate(out); err != nil {
			lastErr = err
		} else {
			return out, nil
		}
		log.Debugw("invalid judge response, retrying",
			logger.FieldPhase, phase,
			logger.FieldAttempt, attempt,
			logger.FieldError, lastErr)
	}
	return nil, errors.NewSchemaViolationError("%s: no valid judge response after %d attempts: %v", phase, attempts, lastErr)
}

// decodeObject reads the first JSON object in content. Markdown code
// fences and surrounding prose are tolerated.
func decodeObject(content string, v any) error {
	s := strings.TrimSpace(content)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return errors.Newf("no JSON object in response %q", truncateText(s, 80))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return errors.Wrap(err, "decode judge response")
	}
	return nil
}

// parseState reads a state object that may arrive JSON-encoded as a string
// or inline as an object. Anything else, or an empty object, yields nil.
func parseState(raw json.RawMessage) map[string]any {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		var m map[string]any
		if decodeObject(s, &m) != nil {
			return nil
		}
		return m
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
