// Package certify turns span batches into certificates: for every trace it
// rebuilds the execution path, gates each contract on its MUST
// preconditions, checks the active ones and stores the verdicts.
package certify

import (
	"encoding/json"
	"sort"

	"github.com/teranos/pact/verify"
)

// ContractResult is the certificate entry of one active contract.
type ContractResult struct {
	Status       verify.Status            `json:"status"`
	Requirements map[string]verify.Result `json:"requirements"`
}

// Certificate maps contract id to its result. Contracts whose MUST
// preconditions failed are absent; a trace with no active contract has an
// empty certificate.
type Certificate map[string]ContractResult

// Encode returns the stored JSON form. An empty certificate is "{}".
func (c Certificate) Encode() ([]byte, error) {
	if c == nil {
		c = Certificate{}
	}
	return json.Marshal(c)
}

// DecodeCertificate parses a stored certificate.
func DecodeCertificate(data []byte) (Certificate, error) {
	c := Certificate{}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// ContractIDs returns the contract ids in lexical order.
func (c Certificate) ContractIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts tallies contracts per status.
func (c Certificate) Counts() map[verify.Status]int {
	counts := make(map[verify.Status]int, 3)
	for _, r := range c {
		counts[r.Status]++
	}
	return counts
}

// Event announces a stored certificate.
type Event struct {
	TraceID     string      `json:"trace_id"`
	Version     int64       `json:"version"`
	Certificate Certificate `json:"certificate"`
}

// Publisher receives an event for each stored certificate. Publish must
// not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f.
func (f PublisherFunc) Publish(e Event) { f(e) }
