package contract

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRequirementID returns "req-" followed by eight [a-z0-9] characters.
func NewRequirementID() string { return "req-" + shortID() }

// NewContractID returns "con-" followed by eight [a-z0-9] characters.
func NewContractID() string { return "con-" + shortID() }

// NewScenarioID returns "scene-" followed by eight [a-z0-9] characters.
func NewScenarioID() string { return "scene-" + shortID() }

func shortID() string {
	return gonanoid.MustGenerate(idAlphabet, 8)
}
