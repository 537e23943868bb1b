package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"contentflow/internal/pipeline"
)

// historyInsert builds the run_history row for a completed run. Rows are not
// tied to the runs table, so pruning finished runs keeps their samples.
func historyInsert(run pipeline.Run) (sq.InsertBuilder, error) {
	sample := pipeline.SampleFromRun(run)
	data, err := json.Marshal(sample)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode history sample %s: %w", run.ID, err)
	}
	return sq.Insert("run_history").
		Columns("run_id", "template", "completed_at", "sample_json").
		Values(run.ID, run.Template, formatTime(sample.CompletedAt), string(data)).
		Suffix("ON CONFLICT(run_id) DO NOTHING"), nil
}

func (s *Store) recordHistory(ctx context.Context, run pipeline.Run) error {
	if run.State != pipeline.StateCompleted || run.CompletedAt == nil {
		return nil
	}
	stmt, err := historyInsert(run)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, stmt); err != nil {
		return fmt.Errorf("record history %s: %w", run.ID, err)
	}
	return nil
}

// HistorySamples returns metrics samples of completed runs, newest first,
// for use with pipeline.Summarize.
func (s *Store) HistorySamples(ctx context.Context, limit int) ([]pipeline.Sample, error) {
	stmt := sq.Select("sample_json").From("run_history").OrderBy("completed_at DESC")
	if limit > 0 {
		stmt = stmt.Limit(uint64(limit))
	}
	var samples []pipeline.Sample
	err := s.query(ctx, stmt, func(rows *sql.Rows) error {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		var sample pipeline.Sample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			return fmt.Errorf("decode history sample: %w", err)
		}
		samples = append(samples, sample)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history samples: %w", err)
	}
	return samples, nil
}

// Historical summarizes recent completed runs with the given defaults.
func (s *Store) Historical(ctx context.Context, limit int, defaults pipeline.Defaults) (pipeline.Historical, error) {
	samples, err := s.HistorySamples(ctx, limit)
	if err != nil {
		return pipeline.Historical{}, err
	}
	return pipeline.Summarize(samples, defaults), nil
}
