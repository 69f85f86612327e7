// Package execpath flattens a span tree into the ordered states and
// actions that contracts are checked against.
package execpath

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/trace"
)

// Action is a leaf operation performed while in a state.
type Action struct {
	SpanID string         `json:"spanId"`
	Name   string         `json:"name"`
	Info   map[string]any `json:"info"`
}

// State is a semantically meaningful step of the execution.
type State struct {
	SpanID  string         `json:"spanId"`
	Name    string         `json:"name"`
	Info    map[string]any `json:"info"`
	Actions []Action       `json:"actions"`
}

// ExecutionPath is the ordered state sequence of one trace.
type ExecutionPath struct {
	TraceID string  `json:"trace_id"`
	States  []State `json:"states"`
}

// New validates that no span id appears twice across states and actions.
func New(traceID string, states []State) (*ExecutionPath, error) {
	seen := make(map[string]struct{})
	check := func(id string) error {
		if _, dup := seen[id]; dup {
			return errors.NewMalformedInputError("execution path %s: duplicate span id %s", traceID, id)
		}
		seen[id] = struct{}{}
		return nil
	}
	for _, s := range states {
		if err := check(s.SpanID); err != nil {
			return nil, err
		}
		for _, a := range s.Actions {
			if err := check(a.SpanID); err != nil {
				return nil, err
			}
		}
	}
	if states == nil {
		states = []State{}
	}
	return &ExecutionPath{TraceID: traceID, States: states}, nil
}

// Fill sets the info of every state and action from the matching span.
func (p *ExecutionPath) Fill(tr *trace.Trace) error {
	lookup := func(id string) (map[string]any, error) {
		span, ok := tr.Tree.Lookup(id)
		if !ok {
			return nil, errors.NewNotFoundError("span %s not found in trace %s", id, tr.ID)
		}
		return span.Attributes, nil
	}
	for i := range p.States {
		info, err := lookup(p.States[i].SpanID)
		if err != nil {
			return err
		}
		p.States[i].Info = info
		for j := range p.States[i].Actions {
			info, err := lookup(p.States[i].Actions[j].SpanID)
			if err != nil {
				return err
			}
			p.States[i].Actions[j].Info = info
		}
	}
	return nil
}

// FromTrace extracts, validates and fills the execution path of tr.
func FromTrace(tr *trace.Trace) (*ExecutionPath, error) {
	states, err := ExtractorFor(tr.Info.Framework).Extract(tr)
	if err != nil {
		return nil, errors.Wrapf(err, "extract execution path of trace %s", tr.ID)
	}
	path, err := New(tr.ID, states)
	if err != nil {
		return nil, err
	}
	if err := path.Fill(tr); err != nil {
		return nil, err
	}
	return path, nil
}

// Step is one (state, action) pair in execution order.
type Step struct {
	State  *State
	Action *Action
}

// Steps returns every (state, action) pair in order.
func (p *ExecutionPath) Steps() []Step {
	var steps []Step
	for i := range p.States {
		for j := range p.States[i].Actions {
			steps = append(steps, Step{State: &p.States[i], Action: &p.States[i].Actions[j]})
		}
	}
	return steps
}

// Input returns the input recorded on the first state.
func (p *ExecutionPath) Input() any {
	if len(p.States) == 0 {
		return nil
	}
	return p.States[0].Info["input"]
}

// Output returns the output recorded on the last state.
func (p *ExecutionPath) Output() any {
	if len(p.States) == 0 {
		return nil
	}
	return p.States[len(p.States)-1].Info["output"]
}

// String renders the path as ExecutionPath[a --(x|y)--> b ----> __end__].
func (p *ExecutionPath) String() string {
	parts := make([]string, 0, len(p.States)+1)
	for _, s := range p.States {
		if len(s.Actions) == 0 {
			parts = append(parts, s.Name+" ---->")
			continue
		}
		names := make([]string, len(s.Actions))
		for i, a := range s.Actions {
			names[i] = a.Name
		}
		parts = append(parts, fmt.Sprintf("%s --(%s)-->", s.Name, strings.Join(names, "|")))
	}
	parts = append(parts, "__end__")
	return "ExecutionPath[" + strings.Join(parts, " ") + "]"
}

// Mermaid renders the path as a mermaid state diagram.
func (p *ExecutionPath) Mermaid() string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	for i := 0; i+1 < len(p.States); i++ {
		cur, next := p.States[i], p.States[i+1]
		if len(cur.Actions) == 0 {
			fmt.Fprintf(&b, "    %s --> %s\n", cur.Name, next.Name)
			continue
		}
		for _, a := range cur.Actions {
			fmt.Fprintf(&b, "    %s --> %s: %s\n", cur.Name, next.Name, a.Name)
		}
	}
	return b.String()
}

// Save writes the path as JSON.
func (p *ExecutionPath) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode execution path")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write execution path to %s", path)
	}
	return nil
}

// Load reads a path written by Save, checking span id uniqueness.
func Load(path string) (*ExecutionPath, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read execution path %s", path)
	}
	var p ExecutionPath
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode execution path %s", path), errors.ErrMalformedInput)
	}
	return New(p.TraceID, p.States)
}
