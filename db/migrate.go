package db

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migration is one embedded schema change.
type Migration struct {
	Version string
	File    string
}

// Migrations lists the embedded migrations in the order they apply.
// 000_create_schema_migrations.sql always sorts first.
func Migrations() ([]Migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		out = append(out, Migration{Version: strings.SplitN(name, "_", 2)[0], File: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

// Migrate applies pending migrations in a background context.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	return MigrateContext(context.Background(), db, logger)
}

// MigrateContext applies every migration not yet recorded in
// schema_migrations, each in its own transaction. Running it again is a
// no-op.
func MigrateContext(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	list, err := Migrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range list {
		done, err := isApplied(ctx, db, m)
		if err != nil {
			return err
		}
		if done {
			if logger != nil {
				logger.Debugw("Skipping migration", "migration", m.File, "version", m.Version)
			}
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		applied++
		if logger != nil {
			logger.Infow("Applied migration", "migration", m.File, "version", m.Version)
		}
	}

	if logger != nil {
		logger.Infow("Migrations complete",
			"symbol", sym.Store,
			"applied", applied,
			"total_migrations", len(list),
		)
	}
	return nil
}

// isApplied reports whether m is recorded. Before 000 has run the
// bookkeeping table is missing, which only 000 may encounter.
func isApplied(ctx context.Context, db *sql.DB, m Migration) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.Version).Scan(&exists)
	if err == nil {
		return exists, nil
	}
	if IsDatabaseClosed(err) {
		return false, errors.Mark(errors.Wrapf(err, "check %s", m.File), ErrDatabaseClosed)
	}
	if m.Version != "000" {
		return false, errors.Wrapf(err, "schema_migrations table missing, but migration is not 000: %s", m.File)
	}
	return false, nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.File))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.File)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.File)
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.File)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.File)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", m.File)
	}
	return nil
}
