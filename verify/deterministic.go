package verify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/execpath"
)

// Predicate evaluates a deterministic requirement. It must not call a judge.
type Predicate interface {
	Check(ctx context.Context, path *execpath.ExecutionPath, req contract.Requirement) (Result, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, path *execpath.ExecutionPath, req contract.Requirement) (Result, error)

// Check calls f.
func (f PredicateFunc) Check(ctx context.Context, path *execpath.ExecutionPath, req contract.Requirement) (Result, error) {
	return f(ctx, path, req)
}

// ReferenceVariant names the built-in predicate; it is always satisfied.
const ReferenceVariant = "reference"

// PredicateRegistry maps a requirement variant to its predicate.
// Safe for concurrent registration and lookup.
type PredicateRegistry struct {
	predicates map[string]Predicate
	mu         sync.RWMutex
}

// NewPredicateRegistry returns a registry holding the reference predicate.
func NewPredicateRegistry() *PredicateRegistry {
	r := &PredicateRegistry{predicates: make(map[string]Predicate)}
	r.Register(ReferenceVariant, PredicateFunc(alwaysSatisfied))
	return r
}

// Register adds a predicate for variant.
// Panics if the variant is already registered.
func (r *PredicateRegistry) Register(variant string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.predicates[variant]; exists {
		panic(fmt.Sprintf("predicate already registered for variant: %s", variant))
	}
	r.predicates[variant] = p
}

// Get returns the predicate for variant. Unknown variants get the
// reference predicate.
func (r *PredicateRegistry) Get(variant string) Predicate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.predicates[variant]; ok {
		return p
	}
	return r.predicates[ReferenceVariant]
}

// Has reports whether variant has its own predicate.
func (r *PredicateRegistry) Has(variant string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.predicates[variant]
	return ok
}

// Variants returns the registered variants, sorted.
func (r *PredicateRegistry) Variants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.predicates))
	for v := range r.predicates {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func alwaysSatisfied(context.Context, *execpath.ExecutionPath, contract.Requirement) (Result, error) {
	return Satisfied(), nil
}
