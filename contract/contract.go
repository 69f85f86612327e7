package contract

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/teranos/pact/errors"
)

// Contract is a named bundle of requirements.
type Contract struct {
	UUID         string        `json:"uuid" yaml:"uuid"`
	Name         string        `json:"name" yaml:"name"`
	Requirements []Requirement `json:"requirements" yaml:"requirements"`
}

// NewContract builds a contract with a generated id.
func NewContract(name string, reqs ...Requirement) *Contract {
	return &Contract{UUID: NewContractID(), Name: name, Requirements: reqs}
}

// Len returns the number of requirements.
func (c *Contract) Len() int { return len(c.Requirements) }

// Ordered returns the requirements matching filter, preconditions first,
// then pathconditions, then postconditions. Storage order is kept within
// a section.
func (c *Contract) Ordered(filter Section) []Requirement {
	out := make([]Requirement, 0, len(c.Requirements))
	for _, sec := range []Section{Preconditions, Pathconditions, Postconditions} {
		if !filter.Has(sec) {
			continue
		}
		for _, r := range c.Requirements {
			if r.Section() == sec {
				out = append(out, r)
			}
		}
	}
	return out
}

// Preconditions returns the precondition requirements.
func (c *Contract) Preconditions() []Requirement { return c.Ordered(Preconditions) }

// Pathconditions returns the pathcondition requirements.
func (c *Contract) Pathconditions() []Requirement { return c.Ordered(Pathconditions) }

// Postconditions returns the postcondition requirements.
func (c *Contract) Postconditions() []Requirement { return c.Ordered(Postconditions) }

// Requirement returns the requirement with the given id.
func (c *Contract) Requirement(id string) (Requirement, error) {
	for _, r := range c.Requirements {
		if r.UUID == id {
			return r, nil
		}
	}
	return Requirement{}, errors.NewNotFoundError("requirement %s not found in contract %s", id, c.UUID)
}

// Contains reports whether the contract holds requirement id.
func (c *Contract) Contains(id string) bool {
	_, err := c.Requirement(id)
	return err == nil
}

func (c *Contract) String() string {
	return fmt.Sprintf("Contract(uuid=%s, name=%s, requirements=%d)", c.UUID, c.Name, len(c.Requirements))
}

func (c *Contract) normalize() error {
	if c.UUID == "" {
		c.UUID = NewContractID()
	}
	seen := make(map[string]bool, len(c.Requirements))
	for _, r := range c.Requirements {
		if seen[r.UUID] {
			return errors.NewMalformedInputError("contract %s: duplicate requirement id %s", c.UUID, r.UUID)
		}
		seen[r.UUID] = true
	}
	return nil
}

// UnmarshalJSON applies contract defaults after decoding.
func (c *Contract) UnmarshalJSON(data []byte) error {
	type plain Contract
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Contract(p)
	return c.normalize()
}

// UnmarshalYAML applies contract defaults after decoding.
func (c *Contract) UnmarshalYAML(node *yaml.Node) error {
	type plain Contract
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Contract(p)
	return c.normalize()
}
