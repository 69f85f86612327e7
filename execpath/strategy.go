package execpath

import (
	"fmt"

	"github.com/teranos/pact/trace"
)

// LevelOrder picks states breadth-first: a span is a state when its name
// is not ignored and none of its ancestors was already picked. The
// synthesized root is never a state. States without actions are dropped.
type LevelOrder struct{}

// Extract implements Extractor.
func (LevelOrder) Extract(tr *trace.Trace) ([]State, error) {
	t := tr.Tree
	chosen := make(map[int]bool)
	var states []State

	for _, i := range t.LevelOrder() {
		if i == t.RootIndex() && t.HasVirtualRoot() {
			continue
		}
		span := t.At(i)
		if ignored(span.Name) || hasChosenAncestor(t, i, chosen) {
			continue
		}
		chosen[i] = true
		actions := leafActions(t, i)
		if len(actions) == 0 {
			continue
		}
		states = append(states, State{
			SpanID:  span.ID,
			Name:    span.Name,
			Info:    span.Attributes,
			Actions: actions,
		})
	}
	return states, nil
}

func hasChosenAncestor(t *trace.Tree, i int, chosen map[int]bool) bool {
	for p := t.At(i).Parent; p != trace.NoParent; p = t.At(p).Parent {
		if chosen[p] {
			return true
		}
	}
	return false
}

// LangGraph takes the children of every top-level LangGraph span as states,
// suffixing "(turn N)" when the trace holds several graph runs. Traces
// without a LangGraph span use the level-order strategy.
type LangGraph struct{}

// Extract implements Extractor.
func (LangGraph) Extract(tr *trace.Trace) ([]State, error) {
	t := tr.Tree
	var graphs []int
	for _, c := range t.Root().Children {
		if t.At(c).Name == "LangGraph" {
			graphs = append(graphs, c)
		}
	}
	if len(graphs) == 0 && t.Root().Name == "LangGraph" {
		graphs = []int{t.RootIndex()}
	}
	if len(graphs) == 0 {
		return LevelOrder{}.Extract(tr)
	}

	numbered := len(graphs) > 1
	var states []State
	for turn, g := range graphs {
		for _, c := range t.At(g).Children {
			span := t.At(c)
			if ignored(span.Name) {
				continue
			}
			actions := leafActions(t, c)
			if len(actions) == 0 {
				continue
			}
			name := span.Name
			if numbered {
				name = fmt.Sprintf("%s (turn %d)", name, turn+1)
			}
			states = append(states, State{
				SpanID:  span.ID,
				Name:    name,
				Info:    span.Attributes,
				Actions: actions,
			})
		}
	}
	return states, nil
}
