package execpath

import (
	"fmt"
	"sync"

	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/trace"
)

// Extractor turns a built trace into ordered states with their actions.
type Extractor interface {
	Extract(tr *trace.Trace) ([]State, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(tr *trace.Trace) ([]State, error)

// Extract calls f(tr).
func (f ExtractorFunc) Extract(tr *trace.Trace) ([]State, error) { return f(tr) }

// IgnoredNodes are framework-internal span names that are never states
// or actions.
var IgnoredNodes = map[string]struct{}{
	"__start__":           {},
	"__end__":             {},
	"_write":              {},
	"RunnableSequence":    {},
	"ChatPromptTemplate":  {},
	"PydanticToolsParser": {},
	"StateModifier":       {},
	"call_model":          {},
	"Unnamed":             {},
	"should_continue":     {},
	"Prompt":              {},
}

func ignored(name string) bool {
	_, ok := IgnoredNodes[name]
	return ok
}

var (
	registryMu sync.RWMutex
	registry   = map[trace.Framework]Extractor{}
)

func init() {
	Register(trace.FrameworkLangChain, LangGraph{})
	Register(trace.FrameworkCrewAI, LevelOrder{})
}

// Register installs the extractor for a framework.
// Panics if one is already registered for it.
func Register(fw trace.Framework, e Extractor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[fw]; exists {
		panic(fmt.Sprintf("extractor already registered for framework: %s", fw))
	}
	registry[fw] = e
}

// ExtractorFor returns the extractor for fw. Frameworks without one get
// the level-order strategy.
func ExtractorFor(fw trace.Framework) Extractor {
	registryMu.RLock()
	e, ok := registry[fw]
	registryMu.RUnlock()
	if ok {
		return e
	}
	logger.Logger.Named("execpath").Warnw("No extractor for framework, using level-order strategy",
		logger.FieldFramework, string(fw),
	)
	return LevelOrder{}
}

// leafActions returns the non-ignored leaves under node, in pre-order.
func leafActions(t *trace.Tree, node int) []Action {
	var actions []Action
	for _, d := range t.Descendants(node) {
		span := t.At(d)
		if ignored(span.Name) || !t.IsLeaf(d) {
			continue
		}
		actions = append(actions, Action{SpanID: span.ID, Name: span.Name, Info: span.Attributes})
	}
	return actions
}
