package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// kafkaReader is the part of *kafka.Reader the source uses.
type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes span batches from a topic as part of a consumer
// group. With auto commit on, offsets are committed as messages are read.
// Otherwise Message.Commit marks a message done and the source commits,
// per partition, the highest offset below which every fetched message is
// done, so a message that never completes holds back its partition.
type KafkaSource struct {
	reader     kafkaReader
	offsets    *offsetTracker
	autoCommit bool
	topic      string
	logger     *zap.SugaredLogger
}

// NewKafkaSource builds a group reader from the kafka section of am.toml.
func NewKafkaSource(cfg am.KafkaConfig, log *zap.SugaredLogger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.NewConfigurationError("kafka.brokers is empty")
	}
	if cfg.Topic == "" {
		return nil, errors.NewConfigurationError("kafka.topic is empty")
	}
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: startOffset(cfg.AutoOffsetReset),
		MaxBytes:    10 << 20,
	}
	if cfg.FetchWaitMaxMS > 0 {
		rc.MaxWait = time.Duration(cfg.FetchWaitMaxMS) * time.Millisecond
	}
	if cfg.SessionTimeoutMS > 0 {
		rc.SessionTimeout = time.Duration(cfg.SessionTimeoutMS) * time.Millisecond
	}
	return newKafkaSource(kafka.NewReader(rc), cfg, log), nil
}

func newKafkaSource(r kafkaReader, cfg am.KafkaConfig, log *zap.SugaredLogger) *KafkaSource {
	return &KafkaSource{
		reader:     r,
		offsets:    newOffsetTracker(r),
		autoCommit: cfg.AutoCommit,
		topic:      cfg.Topic,
		logger:     logger.OrNop(log).Named("ingest.kafka"),
	}
}

func startOffset(reset string) int64 {
	if strings.EqualFold(reset, "latest") {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

// Name implements Source.
func (s *KafkaSource) Name() string { return "kafka" }

// Topic returns the consumed topic.
func (s *KafkaSource) Topic() string { return s.topic }

// Run reads until ctx is canceled. Read errors other than cancellation are
// returned; the caller decides whether to restart.
func (s *KafkaSource) Run(ctx context.Context, out chan<- Message) error {
	s.logger.Infow("consuming", logger.FieldSymbol, sym.Ingest, "topic", s.topic, "auto_commit", s.autoCommit)
	for {
		var km kafka.Message
		var err error
		if s.autoCommit {
			km, err = s.reader.ReadMessage(ctx)
		} else {
			km, err = s.reader.FetchMessage(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapTransport(err, "read from topic "+s.topic)
		}

		m := Message{Data: km.Value, Source: s.Name(), Key: string(km.Key), Offset: km.Offset}
		if !s.autoCommit {
			s.offsets.fetched(km)
			m.commit = func(ctx context.Context) error {
				return s.offsets.complete(ctx, km)
			}
		}
		s.logger.Debugw("message received",
			"partition", km.Partition,
			"offset", km.Offset,
			"bytes", len(km.Value))
		if !send(ctx, out, m) {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// offsetTracker orders completions within each partition. Messages finish
// out of order when several workers consume one source.
type offsetTracker struct {
	mu         sync.Mutex
	reader     kafkaReader
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []kafka.Message // fetch order
	done    map[int64]bool
}

func newOffsetTracker(r kafkaReader) *offsetTracker {
	return &offsetTracker{reader: r, partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) fetched(km kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[km.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.partitions[km.Partition] = p
	}
	p.pending = append(p.pending, km)
}

// complete marks km done and commits the contiguous done prefix of its
// partition. The lock is held across the commit so offsets never move
// backwards.
func (t *offsetTracker) complete(ctx context.Context, km kafka.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[km.Partition]
	if !ok || len(p.pending) == 0 || km.Offset < p.pending[0].Offset {
		return nil
	}
	p.done[km.Offset] = true

	var head kafka.Message
	advanced := false
	for len(p.pending) > 0 && p.done[p.pending[0].Offset] {
		head = p.pending[0]
		delete(p.done, head.Offset)
		p.pending = p.pending[1:]
		advanced = true
	}
	if !advanced {
		return nil
	}
	if err := t.reader.CommitMessages(ctx, head); err != nil {
		return errors.WrapTransport(err, "commit offset")
	}
	return nil
}
