package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"contentflow/internal/pipeline"
)

// EventRecord is one journaled event delivery.
type EventRecord struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	Applied    bool            `json:"applied"`
	Error      string          `json:"error,omitempty"`
	StateAfter pipeline.State  `json:"state_after"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AppendEvent journals an event delivered to runID. rejectErr is non-nil when
// the transition was refused; stateAfter is the run state once handled.
func (s *Store) AppendEvent(ctx context.Context, runID string, ev pipeline.Event, stateAfter pipeline.State, rejectErr error, at time.Time) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.EventName(), err)
	}
	var errText any
	if rejectErr != nil {
		errText = rejectErr.Error()
	}
	applied := 0
	if rejectErr == nil {
		applied = 1
	}
	stmt := sq.Insert("run_events").
		Columns("run_id", "event", "payload_json", "applied", "error", "state_after", "created_at").
		Values(runID, ev.EventName(), string(payload), applied, errText, string(stateAfter), formatTime(at))
	if _, err := s.exec(ctx, stmt); err != nil {
		return fmt.Errorf("append event %s for %s: %w", ev.EventName(), runID, err)
	}
	return nil
}

// Events returns the journal for runID in delivery order. A positive limit
// keeps only the most recent entries.
func (s *Store) Events(ctx context.Context, runID string, limit int) ([]EventRecord, error) {
	inner := sq.Select("id", "run_id", "event", "payload_json", "applied", "error", "state_after", "created_at").
		From("run_events").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("id DESC")
	if limit > 0 {
		inner = inner.Limit(uint64(limit))
	}
	var out []EventRecord
	err := s.query(ctx, inner, func(rows *sql.Rows) error {
		var (
			rec     EventRecord
			payload string
			applied int
			errText sql.NullString
			state   string
			created sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Event, &payload, &applied, &errText, &state, &created); err != nil {
			return err
		}
		rec.Payload = json.RawMessage(payload)
		rec.Applied = applied != 0
		rec.Error = errText.String
		rec.StateAfter = pipeline.State(state)
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", runID, err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
