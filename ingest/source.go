// Package ingest delivers span batches to the certification pipeline from
// a Kafka topic, an OTLP/gRPC endpoint or a recorded file.
package ingest

import (
	"context"

	"github.com/teranos/pact/trace"
)

// Message is one unit of work for the pipeline. Queue sources carry the
// raw payload in Data; sources that receive decoded spans set Batch.
type Message struct {
	Data   []byte
	Batch  *trace.Batch
	Source string
	Key    string
	Offset int64

	commit func(context.Context) error
}

// NewMessage builds a message for a custom source. commit may be nil.
func NewMessage(data []byte, source, key string, offset int64, commit func(context.Context) error) Message {
	return Message{Data: data, Source: source, Key: key, Offset: offset, commit: commit}
}

// Commit acknowledges the message to its source once it is processed.
// Sources that acknowledge on receipt leave it a no-op.
func (m Message) Commit(ctx context.Context) error {
	if m.commit == nil {
		return nil
	}
	return m.commit(ctx)
}

// Source feeds messages into out until ctx is canceled or the source is
// exhausted. Run returns nil on either.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Message) error
	Close() error
}

// send delivers m unless ctx ends first.
func send(ctx context.Context, out chan<- Message, m Message) bool {
	select {
	case out <- m:
		return true
	case <-ctx.Done():
		return false
	}
}
