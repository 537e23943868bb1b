package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"contentflow/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in the database header as PRAGMA user_version.
const schemaVersion = 2

// ErrSchemaMismatch is returned when the database was written by a newer
// schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// migrations[v] upgrades a database at version v to v+1.
var migrations = map[int]func(context.Context, *sql.Tx) error{
	1: migrateRunHistory,
}

func (s *Store) initSchema(ctx context.Context) error {
	version, err := s.userVersion(ctx)
	if err != nil {
		return err
	}
	switch {
	case version == schemaVersion:
		return nil
	case version == 0:
		return s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			return stampVersion(ctx, tx, schemaVersion)
		})
	case version > schemaVersion:
		return fmt.Errorf("%w: %s is at version %d, this build expects %d; remove it to start fresh",
			ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	for v := version; v < schemaVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return fmt.Errorf("%w: no migration from version %d", ErrSchemaMismatch, v)
		}
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := migrate(ctx, tx); err != nil {
				return fmt.Errorf("migrate schema from version %d: %w", v, err)
			}
			return stampVersion(ctx, tx, v+1)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) userVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func stampVersion(ctx context.Context, tx *sql.Tx, version int) error {
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return nil
}

// migrateRunHistory adds run_history and backfills it from completed runs.
func migrateRunHistory(ctx context.Context, tx *sql.Tx) error {
	const ddl = `CREATE TABLE run_history (
    run_id TEXT PRIMARY KEY,
    template TEXT NOT NULL,
    completed_at TEXT NOT NULL,
    sample_json TEXT NOT NULL
);
CREATE INDEX idx_run_history_completed ON run_history(completed_at);`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create run_history: %w", err)
	}

	query, args, err := sq.Select("snapshot_json").From("runs").
		Where(sq.Eq{"state": string(pipeline.StateCompleted)}).ToSql()
	if err != nil {
		return err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("select completed runs: %w", err)
	}
	var completed []pipeline.Run
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			_ = rows.Close()
			return err
		}
		run, err := pipeline.UnmarshalSnapshot([]byte(raw))
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode snapshot: %w", err)
		}
		completed = append(completed, run)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, run := range completed {
		if run.CompletedAt == nil {
			continue
		}
		stmt, err := historyInsert(run)
		if err != nil {
			return err
		}
		insert, insertArgs, err := stmt.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert, insertArgs...); err != nil {
			return fmt.Errorf("backfill history %s: %w", run.ID, err)
		}
	}
	return nil
}
