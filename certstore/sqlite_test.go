package certstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pact/db"
	"github.com/teranos/pact/errors"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewSQLiteStore(database, "certificate", nil), mock
}

func TestSQLiteStoreReadFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT trace_id, payload, version, expires_at FROM certificates").
		WithArgs("certificate:abc", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	_, err := s.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read certificate certificate:abc")
	assert.False(t, errors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreWriteFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE certificates").
		WithArgs(`{}`, sqlmock.AnyArg(), sqlmock.AnyArg(), "certificate:abc", int64(3), sqlmock.AnyArg()).
		WillReturnError(sql.ErrConnDone)

	_, err := s.Put(context.Background(), "abc", []byte(`{}`), time.Minute, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write certificate certificate:abc")
	assert.False(t, IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreConflictReportsCurrentVersion(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO certificates").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery("SELECT version FROM certificates").
		WithArgs("certificate:abc", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))

	_, err := s.Put(context.Background(), "abc", []byte(`{}`), time.Minute, 0)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "expected version 0, found 4")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreClosedDatabase(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO certificates").
		WillReturnError(errors.New("sql: database is closed"))

	_, err := s.Put(context.Background(), "abc", []byte(`{}`), time.Minute, AnyVersion)
	require.Error(t, err)
	assert.True(t, db.IsDatabaseClosed(err))
}

func TestSQLiteStoreSweepFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM certificates WHERE expires_at").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows unavailable")))

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep expired certificates")
}
