// Package verify evaluates requirements against an execution path and
// derives contract status from the results.
package verify

import (
	"github.com/teranos/pact/errors"
)

// Result is the outcome of one requirement.
type Result struct {
	Satisfied   bool   `json:"satisfied"`
	Explanation string `json:"explanation,omitempty"`
	Info        any    `json:"info,omitempty"`
}

// Satisfied is a passing result with no explanation.
func Satisfied() Result { return Result{Satisfied: true} }

// Unsatisfied is a failing result carrying explanation.
func Unsatisfied(explanation string) Result {
	return Result{Satisfied: false, Explanation: explanation}
}

// FailedResult turns an evaluation error into an unsatisfied result whose
// explanation names the failure class.
func FailedResult(err error) Result {
	class := "evaluation failed"
	switch {
	case errors.Is(err, errors.ErrTimeout):
		class = "timeout"
	case errors.IsSchemaViolationError(err):
		class = "schema violation"
	case errors.IsTransportError(err):
		class = "transport failure"
	case errors.IsMalformedInputError(err):
		class = "malformed input"
	case errors.IsNotFoundError(err):
		class = "not found"
	case errors.Is(err, errors.ErrConfiguration):
		class = "configuration error"
	}
	return Result{Satisfied: false, Explanation: class + ": " + err.Error()}
}

// Status is the derived verdict of a contract.
type Status string

const (
	// StatusInvalid means a MUST precondition failed: the contract does not
	// apply to this execution.
	StatusInvalid     Status = "INVALID"
	StatusSatisfied   Status = "SATISFIED"
	StatusUnsatisfied Status = "UNSATISFIED"
)
