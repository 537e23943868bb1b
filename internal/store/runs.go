package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"contentflow/internal/pipeline"
	"contentflow/internal/services"
)

// ErrRunExists is returned by Create when the run id is already stored.
var ErrRunExists = errors.New("run already exists")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	States       []pipeline.State
	TranscriptID string
	Template     string
	Blocked      bool
	Limit        int
}

var runColumns = []string{"snapshot_json", "last_heartbeat"}

// Create inserts a new run. It fails with ErrRunExists on duplicate ids.
func (s *Store) Create(ctx context.Context, run pipeline.Run) error {
	existing, err := s.Get(ctx, run.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	return s.Save(ctx, run)
}

// Save upserts the run snapshot and its indexed columns.
func (s *Store) Save(ctx context.Context, run pipeline.Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return services.Wrap(services.ErrValidation, "store", "save run", "run id is empty", nil)
	}
	snapshot, err := run.MarshalSnapshot()
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	stmt := sq.Insert("runs").
		Columns("id", "transcript_id", "template", "state", "progress", "retry_count",
			"blocking_count", "snapshot_json", "created_at", "updated_at", "completed_at").
		Values(run.ID, run.TranscriptID, run.Template, string(run.State), run.Progress, run.RetryCount,
			run.Ledger.Count(), string(snapshot), formatTime(run.CreatedAt), formatTime(run.UpdatedAt),
			nullableTime(run.CompletedAt)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
            transcript_id = excluded.transcript_id,
            template = excluded.template,
            state = excluded.state,
            progress = excluded.progress,
            retry_count = excluded.retry_count,
            blocking_count = excluded.blocking_count,
            snapshot_json = excluded.snapshot_json,
            updated_at = excluded.updated_at,
            completed_at = excluded.completed_at`)
	if _, err := s.exec(ctx, stmt); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return s.recordHistory(ctx, run)
}

// Get fetches a run by id. It returns nil without error when the run is unknown.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.Run, error) {
	runs, err := s.selectRuns(ctx, sq.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0].Run, nil
}

// Stored pairs a run with store-only bookkeeping.
type Stored struct {
	Run           pipeline.Run
	LastHeartbeat time.Time
}

// List returns runs matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]pipeline.Run, error) {
	stmt := sq.Select(runColumns...).From("runs").OrderBy("created_at DESC", "id")
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		stmt = stmt.Where(sq.Eq{"state": states})
	}
	if filter.TranscriptID != "" {
		stmt = stmt.Where(sq.Eq{"transcript_id": filter.TranscriptID})
	}
	if filter.Template != "" {
		stmt = stmt.Where(sq.Eq{"template": filter.Template})
	}
	if filter.Blocked {
		stmt = stmt.Where(sq.Gt{"blocking_count": 0})
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(uint64(filter.Limit))
	}
	stored, err := s.selectRuns(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]pipeline.Run, len(stored))
	for i, r := range stored {
		runs[i] = r.Run
	}
	return runs, nil
}

// ListActive returns every run that can still receive events, oldest first.
// Completed and cancelled runs are excluded.
func (s *Store) ListActive(ctx context.Context) ([]Stored, error) {
	stmt := sq.Select(runColumns...).From("runs").
		Where(sq.NotEq{"state": []string{string(pipeline.StateCompleted), string(pipeline.StateCancelled)}}).
		OrderBy("created_at", "id")
	stored, err := s.selectRuns(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	return stored, nil
}

// Delete removes a run and its event journal.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.exec(ctx, sq.Delete("runs").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "delete run", id, nil)
	}
	return nil
}

// UpdateHeartbeat stamps a run whose stage is still executing.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := s.exec(ctx, sq.Update("runs").Set("last_heartbeat", formatTime(at)).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update heartbeat %s: %w", id, err)
	}
	return nil
}

// Stats returns a count of runs grouped by state.
func (s *Store) Stats(ctx context.Context) (map[pipeline.State]int, error) {
	stats := make(map[pipeline.State]int)
	err := s.query(ctx, sq.Select("state", "COUNT(1)").From("runs").GroupBy("state"), func(rows *sql.Rows) error {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return err
		}
		stats[pipeline.State(state)] = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	return stats, nil
}

// ClearFinished deletes completed and cancelled runs, returning how many were
// removed. History samples are kept.
func (s *Store) ClearFinished(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, sq.Delete("runs").
		Where(sq.Eq{"state": []string{string(pipeline.StateCompleted), string(pipeline.StateCancelled)}}))
	if err != nil {
		return 0, fmt.Errorf("clear finished runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) selectRuns(ctx context.Context, stmt sq.Sqlizer) ([]Stored, error) {
	var out []Stored
	err := s.query(ctx, stmt, func(rows *sql.Rows) error {
		var (
			snapshot  string
			heartbeat sql.NullString
		)
		if err := rows.Scan(&snapshot, &heartbeat); err != nil {
			return err
		}
		run, err := pipeline.UnmarshalSnapshot([]byte(snapshot))
		if err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, Stored{Run: run, LastHeartbeat: parseTime(heartbeat)})
		return nil
	})
	return out, err
}
