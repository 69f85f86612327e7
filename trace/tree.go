package trace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/pact/errors"
)

// Span kinds assigned during tree construction.
const (
	KindRoot      = "ROOT"
	KindEvalStart = "EVAL_START"
	KindUnknown   = "UNKNOWN"
)

// NoParent marks the root in Span.Parent.
const NoParent = -1

// Span is one node of a Tree. Parent and Children are arena indices.
type Span struct {
	ID         string
	Name       string
	Kind       string
	Attributes map[string]any
	Raw        []Attribute
	Start      int64
	End        int64
	Parent     int
	Children   []int
}

// Tree is an arena of spans with exactly one root.
type Tree struct {
	spans   []Span
	index   map[string]int
	root    int
	virtual bool
}

// Len returns the number of spans, including a virtual root.
func (t *Tree) Len() int { return len(t.spans) }

// Root returns the root span.
func (t *Tree) Root() *Span { return &t.spans[t.root] }

// RootIndex returns the arena index of the root.
func (t *Tree) RootIndex() int { return t.root }

// HasVirtualRoot reports whether the root was synthesized.
func (t *Tree) HasVirtualRoot() bool { return t.virtual }

// At returns the span at arena index i.
func (t *Tree) At(i int) *Span { return &t.spans[i] }

// Lookup returns the span with the given id.
func (t *Tree) Lookup(id string) (*Span, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.spans[i], true
}

// IndexOf returns the arena index of id.
func (t *Tree) IndexOf(id string) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// ParentOf returns the parent span of i, or nil for the root.
func (t *Tree) ParentOf(i int) *Span {
	p := t.spans[i].Parent
	if p == NoParent {
		return nil
	}
	return &t.spans[p]
}

// IsLeaf reports whether i has no children.
func (t *Tree) IsLeaf(i int) bool { return len(t.spans[i].Children) == 0 }

// LevelOrder returns arena indices breadth-first from the root.
func (t *Tree) LevelOrder() []int {
	order := make([]int, 0, len(t.spans))
	queue := []int{t.root}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		queue = append(queue, t.spans[i].Children...)
	}
	return order
}

// Descendants returns the descendants of i in pre-order, excluding i.
func (t *Tree) Descendants(i int) []int {
	var out []int
	var walk func(int)
	walk = func(n int) {
		for _, c := range t.spans[n].Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(i)
	return out
}

// String renders the tree one span per line.
func (t *Tree) String() string {
	var b strings.Builder
	var walk func(i int, prefix string, last bool, top bool)
	walk = func(i int, prefix string, last bool, top bool) {
		s := &t.spans[i]
		branch := "├── "
		next := prefix + "│   "
		if last {
			branch = "└── "
			next = prefix + "    "
		}
		if top {
			branch, next = "", ""
		}
		fmt.Fprintf(&b, "%s%s[%s] %s (spanID: %s)\n", prefix, branch, s.Kind, s.Name, s.ID)
		for n, c := range s.Children {
			walk(c, next, n == len(s.Children)-1, false)
		}
	}
	walk(t.root, "", true, true)
	return b.String()
}

// BuildTree links raw spans into a Tree. Spans are ordered by start time
// (stable); a parent id naming no known span makes the span a root. Several
// roots are reparented under a synthesized ROOT span.
func BuildTree(spans []RawSpan) (*Tree, error) {
	if len(spans) == 0 {
		return nil, errors.NewMalformedInputError("span tree: missing root, no spans")
	}

	ordered := make([]RawSpan, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTimeUnixNano < ordered[j].StartTimeUnixNano
	})

	t := &Tree{
		spans: make([]Span, 0, len(ordered)+1),
		index: make(map[string]int, len(ordered)+1),
	}
	for _, raw := range ordered {
		id := NormalizeID(raw.SpanID)
		if id == "" {
			return nil, errors.NewMalformedInputError("span tree: span %q has no id", raw.Name)
		}
		if _, dup := t.index[id]; dup {
			return nil, errors.NewMalformedInputError("span tree: duplicate span id %s", id)
		}
		t.index[id] = len(t.spans)
		t.spans = append(t.spans, Span{
			ID:         id,
			Name:       raw.Name,
			Kind:       spanKind(raw.Attributes),
			Attributes: spanAttributes(raw.Attributes),
			Raw:        raw.Attributes,
			Start:      int64(raw.StartTimeUnixNano),
			End:        int64(raw.EndTimeUnixNano),
			Parent:     NoParent,
		})
	}

	var roots []int
	for i, raw := range ordered {
		parent, ok := t.index[NormalizeID(raw.ParentSpanID)]
		if raw.ParentSpanID == "" || !ok || parent == i {
			roots = append(roots, i)
			continue
		}
		t.spans[i].Parent = parent
		t.spans[parent].Children = append(t.spans[parent].Children, i)
	}

	if len(roots) == 0 {
		return nil, errors.NewMalformedInputError("span tree: missing root, parent links form a cycle")
	}
	if n := t.reachable(roots); n != len(t.spans) {
		return nil, errors.NewMalformedInputError("span tree: %d spans unreachable from any root, parent links form a cycle",
			len(t.spans)-n)
	}
	if len(roots) == 1 {
		t.root = roots[0]
		return t, nil
	}

	start, end := t.spans[roots[0]].Start, t.spans[roots[0]].End
	for _, r := range roots[1:] {
		if s := t.spans[r].Start; s < start {
			start = s
		}
		if e := t.spans[r].End; e > end {
			end = e
		}
	}
	id := t.virtualRootID()
	t.root = len(t.spans)
	t.index[id] = t.root
	t.virtual = true
	t.spans = append(t.spans, Span{
		ID:         id,
		Name:       "root",
		Kind:       KindRoot,
		Attributes: map[string]any{},
		Start:      start,
		End:        end,
		Parent:     NoParent,
		Children:   roots,
	})
	for _, r := range roots {
		t.spans[r].Parent = t.root
	}
	return t, nil
}

// reachable counts the spans under roots.
func (t *Tree) reachable(roots []int) int {
	n := 0
	stack := append([]int(nil), roots...)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		stack = append(stack, t.spans[i].Children...)
	}
	return n
}

func (t *Tree) virtualRootID() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		if _, taken := t.index[id]; !taken {
			return id
		}
	}
}

func spanKind(attrs []Attribute) string {
	if v := Value(attrs, "eval.uuid", nil); v != nil && v != "" {
		return KindEvalStart
	}
	if kind := StringValue(attrs, "openinference.span.kind"); kind != "" {
		return kind
	}
	return KindUnknown
}

func spanAttributes(attrs []Attribute) map[string]any {
	tree := RebuildHierarchy(attrs)
	for k := range tree {
		if strings.Contains(k, "openinference") {
			delete(tree, k)
		}
	}
	collapseValues(tree)
	return tree
}

// collapseValues replaces {value, mime_type} maps with their value.
func collapseValues(m map[string]any) {
	for k, v := range m {
		inner, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if val, hasValue := inner["value"]; hasValue && len(inner) == 2 {
			if _, hasMime := inner["mime_type"]; hasMime {
				m[k] = val
				continue
			}
		}
		collapseValues(inner)
	}
}
