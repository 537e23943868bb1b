package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/store"
	"contentflow/internal/testsupport"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func apply(t *testing.T, run pipeline.Run, ev pipeline.Event, now time.Time) pipeline.Run {
	t.Helper()
	next, _, err := pipeline.Transition(run, ev, now)
	if err != nil {
		t.Fatalf("%s in %s: %v", ev.EventName(), run.State, err)
	}
	return next
}

// completedRun drives an auto-approved run to completion starting at minute offset.
func completedRun(t *testing.T, id string, offset int) pipeline.Run {
	t.Helper()
	run := pipeline.NewRun(id, "transcript-"+id, pipeline.TemplateFastTrack, at(offset))
	run = apply(t, run, pipeline.Start{TranscriptID: "transcript-" + id, Options: pipeline.Options{AutoApprove: true}}, at(offset))
	run = apply(t, run, pipeline.StageSucceeded{Stage: pipeline.StageClean, OutputIDs: []string{"c1"}}, at(offset+1))
	run = apply(t, run, pipeline.StageSucceeded{Stage: pipeline.StageExtract, OutputIDs: []string{"i1"}}, at(offset+2))
	run = apply(t, run, pipeline.StageSucceeded{Stage: pipeline.StageGenerate, SourceID: "i1", OutputIDs: []string{"p1"}}, at(offset+3))
	run = apply(t, run, pipeline.StartScheduling{}, at(offset+4))
	run = apply(t, run, pipeline.StageSucceeded{Stage: pipeline.StageSchedule, OutputIDs: []string{"s1"}}, at(offset+5))
	if run.State != pipeline.StateCompleted {
		t.Fatalf("expected completed run, got %s", run.State)
	}
	return run
}

func TestCreateGetAndDuplicate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := testsupport.MustCreateRun(t, st, "run-1", "transcript-1", t0)
	if err := st.Create(ctx, run); !errors.Is(err, store.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}

	got, err := st.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.TranscriptID != "transcript-1" || got.State != pipeline.StateIdle {
		t.Fatalf("unexpected run: %#v", got)
	}
	missing, err := st.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown run, got %#v %v", missing, err)
	}
}

func TestSaveRoundTripsSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	run := pipeline.NewRun("run-1", "", pipeline.TemplateStandard, t0)
	run = apply(t, run, pipeline.Start{TranscriptID: "transcript-1"}, at(0))
	run = apply(t, run, pipeline.StageSucceeded{Stage: pipeline.StageClean, OutputIDs: []string{"c1"}}, at(1))
	run = apply(t, run, pipeline.StageSucceeded{Stage: pipeline.StageExtract, OutputIDs: []string{"i1", "i2"}}, at(2))
	if err := st.Save(ctx, run); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := st.Get(ctx, "run-1")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != pipeline.StateReviewingInsights {
		t.Fatalf("expected reviewing_insights, got %s", got.State)
	}
	if got.Ledger.Count() != 2 || got.Tracker.Count(pipeline.KindInsight) != 2 {
		t.Fatalf("expected tracker and ledger restored, got ledger=%d insights=%d", got.Ledger.Count(), got.Tracker.Count(pipeline.KindInsight))
	}
	if got.Progress != run.Progress {
		t.Fatalf("expected progress %d, got %d", run.Progress, got.Progress)
	}

	blocked, err := st.List(ctx, store.Filter{Blocked: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(blocked) != 1 || blocked[0].ID != "run-1" {
		t.Fatalf("expected blocked run listed, got %d", len(blocked))
	}
}

func TestSaveRejectsEmptyID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if err := st.Save(context.Background(), pipeline.Run{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersAndActive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustCreateRun(t, st, "idle-1", "t-a", at(0))
	done := completedRun(t, "done-1", 1)
	if err := st.Save(ctx, done); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cancelled := testsupport.MustCreateRun(t, st, "cancel-1", "t-b", at(2))
	cancelled = apply(t, cancelled, pipeline.Cancel{Reason: "dup"}, at(3))
	if err := st.Save(ctx, cancelled); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	all, err := st.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "cancel-1" {
		t.Fatalf("expected newest first, got %d runs", len(all))
	}

	completed, err := st.List(ctx, store.Filter{States: []pipeline.State{pipeline.StateCompleted}})
	if err != nil || len(completed) != 1 || completed[0].ID != "done-1" {
		t.Fatalf("unexpected completed filter result: %v %v", completed, err)
	}
	byTranscript, err := st.List(ctx, store.Filter{TranscriptID: "t-a"})
	if err != nil || len(byTranscript) != 1 || byTranscript[0].ID != "idle-1" {
		t.Fatalf("unexpected transcript filter result: %v %v", byTranscript, err)
	}
	limited, err := st.List(ctx, store.Filter{Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d %v", len(limited), err)
	}

	active, err := st.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].Run.ID != "idle-1" {
		t.Fatalf("expected only idle run active, got %d", len(active))
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[pipeline.StateIdle] != 1 || stats[pipeline.StateCompleted] != 1 || stats[pipeline.StateCancelled] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	removed, err := st.ClearFinished(ctx)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 cleared, got %d %v", removed, err)
	}
}

func TestEventsJournal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustCreateRun(t, st, "run-1", "transcript-1", t0)

	if err := st.AppendEvent(ctx, "run-1", pipeline.Start{TranscriptID: "transcript-1"}, pipeline.StateCleaningTranscript, nil, at(0)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	rejection := &pipeline.TransitionError{State: pipeline.StateCleaningTranscript, Event: "start", Err: pipeline.ErrInvalidTransition}
	if err := st.AppendEvent(ctx, "run-1", pipeline.Start{}, pipeline.StateCleaningTranscript, rejection, at(1)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := st.AppendEvent(ctx, "run-1", pipeline.Pause{}, pipeline.StatePaused, nil, at(2)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := st.Events(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Event != "start" || !events[0].Applied || events[1].Applied || events[1].Error == "" {
		t.Fatalf("unexpected journal: %#v", events)
	}
	if events[2].StateAfter != pipeline.StatePaused || !events[2].CreatedAt.Equal(at(2)) {
		t.Fatalf("unexpected last event: %#v", events[2])
	}

	recent, err := st.Events(ctx, "run-1", 2)
	if err != nil || len(recent) != 2 || recent[0].ID != events[1].ID {
		t.Fatalf("expected the two most recent in order, got %#v %v", recent, err)
	}

	if err := st.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if events, _ := st.Events(ctx, "run-1", 0); len(events) != 0 {
		t.Fatalf("expected journal removed with run, got %d", len(events))
	}
	if err := st.Delete(ctx, "run-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHistorySamplesNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := st.Save(ctx, completedRun(t, id, i*10)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	testsupport.MustCreateRun(t, st, "idle", "t", t0)

	samples, err := st.HistorySamples(ctx, 2)
	if err != nil {
		t.Fatalf("HistorySamples failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if !samples[0].CompletedAt.Equal(at(25)) || !samples[1].CompletedAt.Equal(at(15)) {
		t.Fatalf("expected newest first, got %v then %v", samples[0].CompletedAt, samples[1].CompletedAt)
	}
	if samples[0].Duration != 5*time.Minute {
		t.Fatalf("expected 5m duration, got %v", samples[0].Duration)
	}

	h, err := st.Historical(ctx, 10, pipeline.DefaultEstimates)
	if err != nil || h.SampleSize != 3 {
		t.Fatalf("expected 3 samples summarized, got %d %v", h.SampleSize, err)
	}
}

func TestHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustCreateRun(t, st, "run-1", "transcript-1", t0)

	if err := st.UpdateHeartbeat(ctx, "run-1", at(5)); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
	active, err := st.ListActive(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("ListActive: %v", err)
	}
	if !active[0].LastHeartbeat.Equal(at(5)) {
		t.Fatalf("expected heartbeat stamped, got %v", active[0].LastHeartbeat)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	testsupport.MustCreateRun(t, st, "run-1", "transcript-1", t0)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.Get(context.Background(), "run-1")
	if err != nil || got == nil {
		t.Fatalf("expected run after reopen, got %v %v", got, err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := store.OpenPath(path); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestPruneKeepsHistorySamples(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i, id := range []string{"a", "b"} {
		run := completedRun(t, id, i*10)
		if err := st.Save(ctx, run); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		// A later save of the same settled run must not add a second sample.
		if err := st.Save(ctx, run); err != nil {
			t.Fatalf("Save again failed: %v", err)
		}
	}
	before, err := st.Historical(ctx, 10, pipeline.DefaultEstimates)
	if err != nil || before.SampleSize != 2 {
		t.Fatalf("expected 2 samples before prune, got %d %v", before.SampleSize, err)
	}

	removed, err := st.ClearFinished(ctx)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 pruned, got %d %v", removed, err)
	}
	after, err := st.Historical(ctx, 10, pipeline.DefaultEstimates)
	if err != nil {
		t.Fatalf("Historical failed: %v", err)
	}
	if after.SampleSize != 2 || after.AverageDuration != before.AverageDuration {
		t.Fatalf("expected history to survive prune, got %+v (before %+v)", after, before)
	}
	if after.AverageDuration == pipeline.DefaultEstimates.RunDuration {
		t.Fatalf("expected measured duration, got default %v", after.AverageDuration)
	}
}

func TestOpenMigratesVersionOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	run := completedRun(t, "old", 0)
	snapshot, err := run.MarshalSnapshot()
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE runs (
			id TEXT PRIMARY KEY, transcript_id TEXT NOT NULL, template TEXT NOT NULL,
			state TEXT NOT NULL, progress INTEGER NOT NULL DEFAULT 0, retry_count INTEGER NOT NULL DEFAULT 0,
			blocking_count INTEGER NOT NULL DEFAULT 0, snapshot_json TEXT NOT NULL,
			created_at TEXT NOT NULL, updated_at TEXT NOT NULL, completed_at TEXT, last_heartbeat TEXT)`,
		`CREATE TABLE run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			event TEXT NOT NULL, payload_json TEXT NOT NULL, applied INTEGER NOT NULL, error TEXT,
			state_after TEXT NOT NULL, created_at TEXT NOT NULL)`,
		"PRAGMA user_version = 1",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("prepare v1 schema: %v", err)
		}
	}
	if _, err := db.Exec(`INSERT INTO runs (id, transcript_id, template, state, snapshot_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TranscriptID, run.Template, string(run.State), string(snapshot), "2026-03-02T09:00:00Z", "2026-03-02T09:05:00Z"); err != nil {
		t.Fatalf("insert v1 run: %v", err)
	}
	_ = db.Close()

	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	samples, err := st.HistorySamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("HistorySamples failed: %v", err)
	}
	if len(samples) != 1 || samples[0].Duration != 5*time.Minute {
		t.Fatalf("expected backfilled sample, got %+v", samples)
	}
}
