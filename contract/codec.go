package contract

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/pact/errors"
)

// ClassField is the JSON discriminator of a requirement.
const ClassField = "__class__"

type wireRequirement struct {
	Class       string         `json:"__class__,omitempty" yaml:"__class__,omitempty"`
	UUID        string         `json:"uuid" yaml:"uuid"`
	Name        string         `json:"name" yaml:"name"`
	Level       Level          `json:"level" yaml:"level"`
	Requirement string         `json:"requirement,omitempty" yaml:"requirement,omitempty"`
	On          Target         `json:"on,omitempty" yaml:"on,omitempty"`
	Variant     string         `json:"variant,omitempty" yaml:"variant,omitempty"`
	Args        map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

func (r Requirement) toWire(withClass bool) wireRequirement {
	w := wireRequirement{
		UUID:        r.UUID,
		Name:        r.Name,
		Level:       r.Level,
		Requirement: r.Text,
		On:          r.On,
		Variant:     r.Variant,
		Args:        r.Args,
	}
	if withClass {
		w.Class = string(r.Kind)
	}
	return w
}

func (r *Requirement) fromWire(class string, w wireRequirement) error {
	if class == "" {
		return errors.NewMalformedInputError("requirement %q has no %s", w.UUID, ClassField)
	}
	*r = Requirement{
		Kind:    Kind(class),
		UUID:    w.UUID,
		Name:    w.Name,
		Level:   w.Level,
		Text:    w.Requirement,
		On:      w.On,
		Variant: w.Variant,
		Args:    w.Args,
	}
	return r.normalize()
}

// MarshalJSON writes the requirement with its __class__ discriminator.
func (r Requirement) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire(true))
}

// UnmarshalJSON reads a requirement, dispatching on __class__.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	var w wireRequirement
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Mark(errors.Wrap(err, "decode requirement"), errors.ErrMalformedInput)
	}
	return r.fromWire(w.Class, w)
}

// MarshalYAML writes the requirement as a mapping tagged !<Kind>.
func (r Requirement) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	if err := node.Encode(r.toWire(false)); err != nil {
		return nil, errors.Wrap(err, "encode requirement")
	}
	node.Tag = "!" + string(r.Kind)
	return &node, nil
}

// UnmarshalYAML reads a requirement tagged !<Kind>. An untagged mapping
// may carry the kind in __class__ instead.
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	plain := *node
	class := ""
	if strings.HasPrefix(node.Tag, "!") && !strings.HasPrefix(node.Tag, "!!") {
		class = strings.TrimPrefix(node.Tag, "!")
		plain.Tag = ""
	}
	var w wireRequirement
	if err := plain.Decode(&w); err != nil {
		return errors.Mark(errors.Wrapf(err, "decode requirement at line %d", node.Line), errors.ErrMalformedInput)
	}
	if class == "" {
		class = w.Class
	}
	return r.fromWire(class, w)
}
