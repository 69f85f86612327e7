package certstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record  Record
	expires time.Time
}

// MemoryStore keeps certificates in process. Used by tests and by
// `pact verify` runs that never persist.
type MemoryStore struct {
	prefix  string
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{prefix: prefix, entries: make(map[string]*memoryEntry), now: time.Now}
}

func (s *MemoryStore) live(key string) (*memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expires) {
		return e, false
	}
	return e, true
}

// Get returns the live certificate of traceID.
func (s *MemoryStore) Get(_ context.Context, traceID string) (*Record, error) {
	key := Key(s.prefix, traceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, notFound(key)
	}
	rec := e.record
	rec.Payload = append([]byte(nil), e.record.Payload...)
	return &rec, nil
}

// Put stores payload if the live version matches expectVersion.
func (s *MemoryStore) Put(_ context.Context, traceID string, payload []byte, ttl time.Duration, expectVersion int64) (int64, error) {
	key := Key(s.prefix, traceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, live := s.live(key)
	var current, last int64
	if e != nil {
		last = e.record.Version
		if live {
			current = last
		}
	}
	if expectVersion != AnyVersion && expectVersion != current {
		return 0, conflict(key, expectVersion, current)
	}

	now := s.now()
	next := last + 1
	s.entries[key] = &memoryEntry{
		record: Record{
			Key:       key,
			TraceID:   traceID,
			Payload:   append([]byte(nil), payload...),
			Version:   next,
			ExpiresAt: now.Add(ttl),
		},
		expires: now.Add(ttl),
	}
	return next, nil
}

// Delete removes the certificate of traceID, if any.
func (s *MemoryStore) Delete(_ context.Context, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, Key(s.prefix, traceID))
	return nil
}

// Sweep drops expired entries.
func (s *MemoryStore) Sweep(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.entries {
		if _, live := s.live(key); !live {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
