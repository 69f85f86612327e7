// Package certstore keeps certificates: the per-trace verdict payload the
// pipeline writes and the server reads back. Writes are conditional on the
// stored version so a trace delivered twice is certified once.
package certstore

import (
	"context"
	"time"

	"github.com/teranos/pact/errors"
)

// AnyVersion makes Put unconditional.
const AnyVersion int64 = -1

// Record is a stored certificate.
type Record struct {
	Key       string
	TraceID   string
	Payload   []byte
	Version   int64
	ExpiresAt time.Time
}

// Store persists certificates under "<prefix>:<traceID>".
//
// Put writes payload when the current version equals expectVersion, where
// 0 means "no live record". It returns the new version. A mismatch is an
// ErrConflict. Versions only grow; an expired record reads as NotFound but
// its successor still gets a higher version where the backend remembers it.
type Store interface {
	Get(ctx context.Context, traceID string) (*Record, error)
	Put(ctx context.Context, traceID string, payload []byte, ttl time.Duration, expectVersion int64) (int64, error)
	Delete(ctx context.Context, traceID string) error
	Close() error
}

// Sweeper is a Store that needs expired records removed explicitly.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Key builds the storage key of a trace.
func Key(prefix, traceID string) string {
	if prefix == "" {
		return traceID
	}
	return prefix + ":" + traceID
}

// IsConflict reports whether err is a lost conditional write.
func IsConflict(err error) bool {
	return errors.Is(err, errors.ErrConflict)
}

func conflict(key string, expect, current int64) error {
	return errors.Mark(
		errors.Newf("certificate %s: expected version %d, found %d", key, expect, current),
		errors.ErrConflict)
}

func notFound(key string) error {
	return errors.NewNotFoundError("certificate %s not found", key)
}
