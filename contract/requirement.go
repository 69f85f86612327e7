// Package contract defines requirements, contracts and the specification
// documents that bundle them per scenario.
package contract

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/teranos/pact/errors"
)

// Level is the RFC 2119 strength of a requirement.
type Level string

const (
	Must   Level = "must"
	Should Level = "should"
)

// Section says which part of an execution a requirement inspects.
// Sections are bit flags so a set of them can be passed as a filter.
type Section uint8

const (
	Preconditions Section = 1 << iota
	Pathconditions
	Postconditions

	AllSections = Preconditions | Pathconditions | Postconditions
)

// Has reports whether s includes every section of other.
func (s Section) Has(other Section) bool { return s&other == other }

func (s Section) String() string {
	var parts []string
	if s.Has(Preconditions) {
		parts = append(parts, "precondition")
	}
	if s.Has(Pathconditions) {
		parts = append(parts, "pathcondition")
	}
	if s.Has(Postconditions) {
		parts = append(parts, "postcondition")
	}
	return strings.Join(parts, "|")
}

// Technique is how a requirement is evaluated.
type Technique string

const (
	// Simple requirements take one judge call.
	Simple Technique = "simple"
	// MultiStage requirements run the init/step/verify fold.
	MultiStage Technique = "multi_stage"
	// Deterministic requirements dispatch to a registered predicate.
	Deterministic Technique = "deterministic"
)

// Target is the part of the output a postcondition looks at.
type Target string

const (
	OnOutput       Target = "output"
	OnConversation Target = "conversation"
)

// Kind is the wire tag identifying a requirement type.
type Kind string

const (
	KindPrecondition               Kind = "Precondition"
	KindPathcondition              Kind = "Pathcondition"
	KindMultiStagePathcondition    Kind = "MultiStagePathcondition"
	KindPostcondition              Kind = "Postcondition"
	KindDeterministicPrecondition  Kind = "DeterministicPrecondition"
	KindDeterministicPathcondition Kind = "DeterministicPathcondition"
	KindDeterministicPostcondition Kind = "DeterministicPostcondition"
)

// KindInfo describes a registered requirement kind.
type KindInfo struct {
	Section   Section
	Technique Technique
}

var (
	kindsMu sync.RWMutex
	kinds   = map[Kind]KindInfo{}
)

func init() {
	RegisterKind(KindPrecondition, KindInfo{Preconditions, Simple})
	RegisterKind(KindPathcondition, KindInfo{Pathconditions, Simple})
	RegisterKind(KindMultiStagePathcondition, KindInfo{Pathconditions, MultiStage})
	RegisterKind(KindPostcondition, KindInfo{Postconditions, Simple})
	RegisterKind(KindDeterministicPrecondition, KindInfo{Preconditions, Deterministic})
	RegisterKind(KindDeterministicPathcondition, KindInfo{Pathconditions, Deterministic})
	RegisterKind(KindDeterministicPostcondition, KindInfo{Postconditions, Deterministic})
}

// RegisterKind adds a requirement kind to the process-wide table.
// Panics if the kind is already registered.
func RegisterKind(kind Kind, info KindInfo) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, exists := kinds[kind]; exists {
		panic(fmt.Sprintf("requirement kind already registered: %s", kind))
	}
	kinds[kind] = info
}

// LookupKind returns the registration of kind, or NotFound.
func LookupKind(kind Kind) (KindInfo, error) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	info, ok := kinds[kind]
	if !ok {
		return KindInfo{}, errors.NewNotFoundError("requirement kind %q not registered", kind)
	}
	return info, nil
}

// Kinds returns the registered kinds in lexical order.
func Kinds() []Kind {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Requirement is one checkable condition. Kind selects the variant:
// natural-language kinds use Text, deterministic kinds use Variant and
// Args, and postconditions also set On.
type Requirement struct {
	Kind  Kind
	UUID  string
	Name  string
	Level Level

	Text string
	On   Target

	Variant string
	Args    map[string]any
}

// NewRequirement builds a natural-language requirement with defaults
// applied: generated id, MUST level, name equal to the text.
func NewRequirement(kind Kind, text string) (Requirement, error) {
	r := Requirement{Kind: kind, Text: text}
	if err := r.normalize(); err != nil {
		return Requirement{}, err
	}
	return r, nil
}

// NewDeterministic builds a deterministic requirement.
func NewDeterministic(kind Kind, variant string, args map[string]any) (Requirement, error) {
	r := Requirement{Kind: kind, Variant: variant, Args: args}
	if err := r.normalize(); err != nil {
		return Requirement{}, err
	}
	return r, nil
}

// MustRequirement is NewRequirement for statically known kinds.
func MustRequirement(kind Kind, text string) Requirement {
	r, err := NewRequirement(kind, text)
	if err != nil {
		panic(err)
	}
	return r
}

// WithLevel returns a copy of r at level l.
func (r Requirement) WithLevel(l Level) Requirement {
	r.Level = l
	return r
}

// WithTarget returns a copy of r inspecting t.
func (r Requirement) WithTarget(t Target) Requirement {
	r.On = t
	return r
}

// WithID returns a copy of r with the given id.
func (r Requirement) WithID(id string) Requirement {
	r.UUID = id
	return r
}

// Section returns the section of r's kind.
func (r Requirement) Section() Section {
	info, err := LookupKind(r.Kind)
	if err != nil {
		return 0
	}
	return info.Section
}

// Technique returns how r is evaluated.
func (r Requirement) Technique() Technique {
	info, err := LookupKind(r.Kind)
	if err != nil {
		return ""
	}
	return info.Technique
}

// IsMust reports whether r affects contract status.
func (r Requirement) IsMust() bool { return r.Level != Should }

func (r *Requirement) normalize() error {
	info, err := LookupKind(r.Kind)
	if err != nil {
		return err
	}
	if r.UUID == "" {
		r.UUID = NewRequirementID()
	}
	switch r.Level {
	case "":
		r.Level = Must
	case Must, Should:
	default:
		lower := Level(strings.ToLower(string(r.Level)))
		if lower != Must && lower != Should {
			return errors.NewMalformedInputError("requirement %s: unknown level %q", r.UUID, r.Level)
		}
		r.Level = lower
	}

	if info.Technique == Deterministic {
		if r.Variant == "" {
			return errors.NewMalformedInputError("requirement %s: deterministic requirement without variant", r.UUID)
		}
		if r.Args == nil {
			r.Args = map[string]any{}
		}
		if r.Name == "" {
			r.Name = r.Variant
		}
	} else {
		if r.Text == "" {
			return errors.NewMalformedInputError("requirement %s: empty requirement text", r.UUID)
		}
		if r.Name == "" {
			r.Name = r.Text
		}
	}

	if info.Section == Postconditions {
		switch r.On {
		case "":
			r.On = OnOutput
		case OnOutput, OnConversation:
		default:
			return errors.NewMalformedInputError("requirement %s: postcondition on %q, want output or conversation", r.UUID, r.On)
		}
	} else {
		r.On = ""
	}
	return nil
}
