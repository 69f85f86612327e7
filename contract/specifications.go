package contract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/pact/errors"
)

// Scenario is one situation an agent is expected to handle, with the
// contracts that apply to it.
type Scenario struct {
	UUID      string         `json:"uuid" yaml:"uuid"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Data      any            `json:"data" yaml:"data"`
	Contracts []*Contract    `json:"contracts" yaml:"contracts"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Contract returns the scenario's contract with the given id.
func (s *Scenario) Contract(id string) (*Contract, error) {
	for _, c := range s.Contracts {
		if c.UUID == id {
			return c, nil
		}
	}
	return nil, errors.NewNotFoundError("contract %s not found in scenario %s", id, s.UUID)
}

// Specifications is the full set of scenarios a deployment verifies
// against. It is loaded once and only read afterwards.
type Specifications struct {
	UUID      string      `json:"uuid" yaml:"uuid"`
	Scenarios []*Scenario `json:"scenarios" yaml:"scenarios"`
}

// NewSpecifications validates scenarios and fills missing ids.
func NewSpecifications(uuid string, scenarios ...*Scenario) (*Specifications, error) {
	s := &Specifications{UUID: uuid, Scenarios: scenarios}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Specifications) normalize() error {
	if s.UUID == "" {
		s.UUID = shortID()
	}
	seen := make(map[string]bool, len(s.Scenarios))
	for _, sc := range s.Scenarios {
		if sc == nil {
			return errors.NewMalformedInputError("specifications %s: empty scenario", s.UUID)
		}
		if sc.UUID == "" {
			sc.UUID = NewScenarioID()
		}
		if seen[sc.UUID] {
			return errors.NewMalformedInputError("specifications %s: duplicate scenario id %s", s.UUID, sc.UUID)
		}
		seen[sc.UUID] = true
	}
	return nil
}

// Len returns the number of scenarios.
func (s *Specifications) Len() int { return len(s.Scenarios) }

// Scenario returns the scenario with the given id.
func (s *Specifications) Scenario(id string) (*Scenario, error) {
	for _, sc := range s.Scenarios {
		if sc.UUID == id {
			return sc, nil
		}
	}
	return nil, errors.NewNotFoundError("scenario %s not found", id)
}

// Contracts returns every contract of every scenario, in document order.
func (s *Specifications) Contracts() []*Contract {
	var out []*Contract
	for _, sc := range s.Scenarios {
		out = append(out, sc.Contracts...)
	}
	return out
}

// Contract returns the contract with the given id from any scenario.
func (s *Specifications) Contract(id string) (*Contract, error) {
	for _, c := range s.Contracts() {
		if c.UUID == id {
			return c, nil
		}
	}
	return nil, errors.NewNotFoundError("contract %s not found", id)
}

// Requirement returns the requirement with the given id from any contract.
func (s *Specifications) Requirement(id string) (Requirement, error) {
	for _, c := range s.Contracts() {
		if r, err := c.Requirement(id); err == nil {
			return r, nil
		}
	}
	return Requirement{}, errors.NewNotFoundError("requirement %s not found", id)
}

// Format is a specification file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", errors.WithHint(
		errors.NewMalformedInputError("unsupported specifications file extension %q", filepath.Ext(path)),
		"use .json, .yaml or .yml")
}

// Decode parses a specifications document.
func Decode(data []byte, format Format) (*Specifications, error) {
	var s Specifications
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, markMalformed(err, "decode specifications json")
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, markMalformed(err, "decode specifications yaml")
		}
	default:
		return nil, errors.NewMalformedInputError("unknown specifications format %q", format)
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Encode serializes the document. YAML requirements carry !<Kind> tags.
func (s *Specifications) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(s, "", "  ")
	case FormatYAML:
		return yaml.Marshal(s)
	}
	return nil, errors.NewMalformedInputError("unknown specifications format %q", format)
}

// Load reads a specifications file; the extension selects the format.
func Load(path string) (*Specifications, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read specifications %s", path)
	}
	s, err := Decode(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "load specifications %s", path)
	}
	return s, nil
}

// Save writes the specifications file; the extension selects the format.
func (s *Specifications) Save(path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := s.Encode(format)
	if err != nil {
		return errors.Wrap(err, "encode specifications")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write specifications %s", path)
	}
	return nil
}

// markMalformed keeps taxonomy marks from nested decoders and classifies
// everything else as malformed input.
func markMalformed(err error, msg string) error {
	if errors.IsAny(err, errors.ErrNotFound, errors.ErrMalformedInput) {
		return errors.Wrap(err, msg)
	}
	return errors.Mark(errors.Wrap(err, msg), errors.ErrMalformedInput)
}
