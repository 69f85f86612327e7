package certstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// versionSuffix names the companion key holding a certificate's version.
// The certificate key itself holds the bare JSON payload.
const versionSuffix = ":version"

// maxWatchRetries bounds optimistic retries when a watched key changes
// between read and EXEC for an unconditional put.
const maxWatchRetries = 8

// RedisStore keeps certificates as plain string keys with a TTL. The
// version lives in a sibling key with the same expiry, so versions restart
// at 1 once a certificate has expired.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *zap.SugaredLogger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string, log *zap.SugaredLogger) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, logger: logger.OrNop(log).Named("certstore")}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, database int, prefix string, log *zap.SugaredLogger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: database})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.WrapTransport(err, "connect to redis at "+addr)
	}
	return NewRedisStore(client, prefix, log), nil
}

// Get returns the live certificate of traceID.
func (s *RedisStore) Get(ctx context.Context, traceID string) (*Record, error) {
	key := Key(s.prefix, traceID)
	var payload *redis.StringCmd
	var version *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		payload = p.Get(ctx, key)
		version = p.Get(ctx, key+versionSuffix)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.WrapTransport(err, "read certificate "+key)
	}
	data, err := payload.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, errors.WrapTransport(err, "read certificate "+key)
	}
	rec := &Record{Key: key, TraceID: traceID, Payload: data}
	if v, err := version.Int64(); err == nil {
		rec.Version = v
	}
	if d := ttl.Val(); d > 0 {
		rec.ExpiresAt = time.Now().Add(d)
	}
	return rec, nil
}

// Put stores payload if the live version matches expectVersion. Both keys
// are watched, so a concurrent writer makes EXEC fail and the put conflict.
func (s *RedisStore) Put(ctx context.Context, traceID string, payload []byte, ttl time.Duration, expectVersion int64) (int64, error) {
	key := Key(s.prefix, traceID)
	versionKey := key + versionSuffix
	var next int64

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if expectVersion != AnyVersion && expectVersion != current {
			return conflict(key, expectVersion, current)
		}
		next = current + 1
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, ttl)
			p.Set(ctx, versionKey, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key, versionKey)
		switch {
		case err == nil:
			s.logger.Debugw("certificate stored",
				logger.FieldSymbol, sym.Store,
				logger.FieldTraceID, traceID,
				"version", next)
			return next, nil
		case IsConflict(err):
			return 0, err
		case errors.Is(err, redis.TxFailedErr):
			if expectVersion != AnyVersion {
				return 0, errors.Mark(errors.Wrapf(err, "certificate %s changed during write", key), errors.ErrConflict)
			}
			continue
		default:
			return 0, errors.WrapTransport(err, "write certificate "+key)
		}
	}
	return 0, errors.Mark(errors.Newf("certificate %s: too much write contention", key), errors.ErrConflict)
}

// Delete removes the certificate of traceID, if any.
func (s *RedisStore) Delete(ctx context.Context, traceID string) error {
	key := Key(s.prefix, traceID)
	if err := s.client.Del(ctx, key, key+versionSuffix).Err(); err != nil {
		return errors.WrapTransport(err, "delete certificate "+key)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
