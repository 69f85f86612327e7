package ingest

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// Record is one line of a recording. The payload is hex encoded to keep
// binary protobuf messages intact.
type Record struct {
	Key       *string    `json:"key"`
	Value     string     `json:"value_base64"`
	Topic     string     `json:"topic"`
	Partition int        `json:"partition"`
	Offset    int64      `json:"offset"`
	Timestamp int64      `json:"timestamp"`
	Headers   [][]string `json:"headers"`
}

// Payload decodes the stored value. Older recordings used base64 despite
// the field name, so that is accepted too.
func (r Record) Payload() ([]byte, error) {
	if b, err := hex.DecodeString(r.Value); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(r.Value)
	if err != nil {
		return nil, errors.NewMalformedInputError("record at offset %d: value is neither hex nor base64", r.Offset)
	}
	return b, nil
}

// FileSource replays a newline-delimited recording.
type FileSource struct {
	path   string
	delay  time.Duration
	logger *zap.SugaredLogger
}

// NewFileSource replays path, sleeping delay between messages.
func NewFileSource(path string, delay time.Duration, log *zap.SugaredLogger) *FileSource {
	return &FileSource{path: path, delay: delay, logger: logger.OrNop(log).Named("ingest.file")}
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }

// Run streams every record of the file, then returns.
func (s *FileSource) Run(ctx context.Context, out chan<- Message) error {
	f, err := os.Open(s.path)
	if err != nil {
		return errors.Wrapf(err, "open recording %s", s.path)
	}
	defer f.Close()
	return s.replay(ctx, f, out)
}

func (s *FileSource) replay(ctx context.Context, r io.Reader, out chan<- Message) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line, sent := 0, 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.logger.Warnw("skipping unreadable record", "line", line, logger.FieldError, err)
			continue
		}
		data, err := rec.Payload()
		if err != nil {
			s.logger.Warnw("skipping record", "line", line, logger.FieldError, err)
			continue
		}
		m := Message{Data: data, Source: s.Name(), Offset: rec.Offset}
		if rec.Key != nil {
			m.Key = *rec.Key
		}
		if !send(ctx, out, m) {
			return nil
		}
		sent++
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read recording %s", s.path)
	}
	s.logger.Infow("recording replayed", logger.FieldSymbol, sym.Ingest, logger.FieldCount, sent)
	return nil
}

// Close is a no-op; the file is closed when Run returns.
func (s *FileSource) Close() error { return nil }

// Recorder appends every message that passes through it to a recording in
// the format FileSource reads.
type Recorder struct {
	mu  sync.Mutex
	w   *bufio.Writer
	f   *os.File
	now func() time.Time
}

// NewRecorder creates (or truncates) the recording at path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create recording %s", path)
	}
	return &Recorder{w: bufio.NewWriter(f), f: f, now: time.Now}, nil
}

// Write appends m. Messages without a raw payload are skipped.
func (r *Recorder) Write(m Message, topic string) error {
	if len(m.Data) == 0 {
		return nil
	}
	rec := Record{
		Value:     hex.EncodeToString(m.Data),
		Topic:     topic,
		Offset:    m.Offset,
		Timestamp: r.now().UnixMilli(),
		Headers:   [][]string{},
	}
	if m.Key != "" {
		key := m.Key
		rec.Key = &key
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "write record")
	}
	return nil
}

// Close flushes and closes the recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return errors.Wrap(err, "flush recording")
	}
	return r.f.Close()
}

// Tee wraps src so every message it produces is also recorded.
func Tee(src Source, rec *Recorder, topic string, log *zap.SugaredLogger) Source {
	return &teeSource{Source: src, rec: rec, topic: topic, logger: logger.OrNop(log)}
}

type teeSource struct {
	Source
	rec    *Recorder
	topic  string
	logger *zap.SugaredLogger
}

func (t *teeSource) Run(ctx context.Context, out chan<- Message) error {
	inner := make(chan Message)
	done := make(chan error, 1)
	go func() {
		done <- t.Source.Run(ctx, inner)
		close(inner)
	}()
	for m := range inner {
		if err := t.rec.Write(m, t.topic); err != nil {
			t.logger.Warnw("recording failed", logger.FieldError, err)
		}
		if !send(ctx, out, m) {
			break
		}
	}
	// drain so the inner source can observe cancellation and return
	go func() {
		for range inner {
		}
	}()
	return <-done
}

func (t *teeSource) Close() error {
	return errors.CombineErrors(t.Source.Close(), t.rec.Close())
}
