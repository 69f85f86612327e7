package certstore

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/db"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

const (
	sqlGet = `SELECT trace_id, payload, version, expires_at FROM certificates
WHERE cert_key = ? AND expires_at > ?`

	// Inserts, or takes over an expired row. A live row makes the statement
	// return nothing.
	sqlCreate = `INSERT INTO certificates (cert_key, trace_id, payload, version, expires_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(cert_key) DO UPDATE SET
    payload = excluded.payload,
    version = certificates.version + 1,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at
WHERE certificates.expires_at <= excluded.updated_at
RETURNING version`

	sqlReplace = `UPDATE certificates
SET payload = ?, version = version + 1, expires_at = ?, updated_at = ?
WHERE cert_key = ? AND version = ? AND expires_at > ?
RETURNING version`

	sqlUpsert = `INSERT INTO certificates (cert_key, trace_id, payload, version, expires_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(cert_key) DO UPDATE SET
    payload = excluded.payload,
    version = certificates.version + 1,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at
RETURNING version`

	sqlVersion = `SELECT version FROM certificates WHERE cert_key = ? AND expires_at > ?`
	sqlDelete  = `DELETE FROM certificates WHERE cert_key = ?`
	sqlSweep   = `DELETE FROM certificates WHERE expires_at <= ?`
)

// SQLiteStore keeps certificates in the certificates table. Each write is
// a single statement, so the version check and the write are atomic.
type SQLiteStore struct {
	db     *sql.DB
	prefix string
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(database *sql.DB, prefix string, log *zap.SugaredLogger) *SQLiteStore {
	return &SQLiteStore{db: database, prefix: prefix, now: time.Now, logger: logger.OrNop(log).Named("certstore")}
}

// OpenSQLite opens and migrates the database at path.
func OpenSQLite(path, prefix string, log *zap.SugaredLogger) (*SQLiteStore, error) {
	database, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(database, prefix, log), nil
}

// Get returns the live certificate of traceID.
func (s *SQLiteStore) Get(ctx context.Context, traceID string) (*Record, error) {
	key := Key(s.prefix, traceID)
	rec := Record{Key: key}
	var payload string
	var expires int64
	err := s.db.QueryRowContext(ctx, sqlGet, key, s.now().UnixMilli()).
		Scan(&rec.TraceID, &payload, &rec.Version, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read certificate %s", key)
	}
	rec.Payload = []byte(payload)
	rec.ExpiresAt = time.UnixMilli(expires)
	return &rec, nil
}

// Put stores payload if the live version matches expectVersion.
func (s *SQLiteStore) Put(ctx context.Context, traceID string, payload []byte, ttl time.Duration, expectVersion int64) (int64, error) {
	key := Key(s.prefix, traceID)
	now := s.now()
	expires := now.Add(ttl).UnixMilli()

	var row *sql.Row
	switch {
	case expectVersion == AnyVersion:
		row = s.db.QueryRowContext(ctx, sqlUpsert, key, traceID, string(payload), expires, now.UnixMilli())
	case expectVersion == 0:
		row = s.db.QueryRowContext(ctx, sqlCreate, key, traceID, string(payload), expires, now.UnixMilli())
	default:
		row = s.db.QueryRowContext(ctx, sqlReplace, string(payload), expires, now.UnixMilli(), key, expectVersion, now.UnixMilli())
	}

	var version int64
	err := row.Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, conflict(key, expectVersion, s.currentVersion(ctx, key, now))
	}
	if err != nil {
		if db.IsDatabaseClosed(err) {
			err = errors.Mark(err, db.ErrDatabaseClosed)
		}
		return 0, errors.Wrapf(err, "write certificate %s", key)
	}
	s.logger.Debugw("certificate stored",
		logger.FieldSymbol, sym.Store,
		logger.FieldTraceID, traceID,
		"version", version)
	return version, nil
}

// currentVersion is for conflict messages only; 0 when unknown.
func (s *SQLiteStore) currentVersion(ctx context.Context, key string, now time.Time) int64 {
	var v int64
	if err := s.db.QueryRowContext(ctx, sqlVersion, key, now.UnixMilli()).Scan(&v); err != nil {
		return 0
	}
	return v
}

// Delete removes the certificate of traceID, if any.
func (s *SQLiteStore) Delete(ctx context.Context, traceID string) error {
	key := Key(s.prefix, traceID)
	if _, err := s.db.ExecContext(ctx, sqlDelete, key); err != nil {
		return errors.Wrapf(err, "delete certificate %s", key)
	}
	return nil
}

// Sweep deletes expired rows and returns how many went.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlSweep, s.now().UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "sweep expired certificates")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sweep expired certificates")
	}
	if n > 0 {
		s.logger.Infow("expired certificates swept", logger.FieldSymbol, sym.Store, logger.FieldCount, n)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
