package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"contentflow/internal/api"
	"contentflow/internal/config"
	"contentflow/internal/daemon"
	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/stage"
	"contentflow/internal/store"
	"contentflow/internal/templates"
	"contentflow/internal/testsupport"
	"contentflow/internal/workflow"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	tmpl, err := templates.Load(cfg.Paths.TemplatesFile)
	if err != nil {
		t.Fatalf("templates.Load: %v", err)
	}
	executors := stage.NewRegistry()
	for _, s := range pipeline.Stages() {
		executors.Register(s, stage.Deferred{Name: string(s)})
	}
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, st, tmpl, executors, logger)
	d, err := daemon.New(cfg, st, tmpl, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running || status.PID == 0 {
		t.Fatalf("expected daemon to report running, got %+v", status)
	}
	if len(status.Checks) == 0 {
		t.Fatal("expected preflight checks in status")
	}
	if status.APIAddress != "" {
		t.Fatalf("expected no api address without bind, got %q", status.APIAddress)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if status := d.Status(ctx); status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	tmpl, err := templates.Builtin()
	if err != nil {
		t.Fatalf("templates.Builtin: %v", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	mgr := workflow.NewManager(cfg, st, tmpl, nil, logging.NewNop())
	second, err := daemon.New(cfg, st, tmpl, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer second.Close()

	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention to fail the second daemon")
	}
}

func TestDaemonRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	run, err := d.StartRun(ctx, workflow.StartRequest{TranscriptID: "transcript-9"})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.State != pipeline.StateCleaningTranscript {
		t.Fatalf("expected cleaning_transcript, got %s", run.State)
	}

	run, err = d.Submit(ctx, run.ID, pipeline.StageSucceeded{Stage: pipeline.StageClean, OutputIDs: []string{"clean-9"}})
	if err != nil {
		t.Fatalf("clean result rejected: %v", err)
	}
	if run.State != pipeline.StateExtractingInsights {
		t.Fatalf("expected extracting_insights, got %s", run.State)
	}

	detail, err := d.ShowRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ShowRun failed: %v", err)
	}
	if detail.Run.ID != run.ID || detail.Estimate.RunID != run.ID {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	events, err := d.Events(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected start and stage events, got %d", len(events))
	}

	runs, err := d.ListRuns(ctx, store.Filter{States: []pipeline.State{pipeline.StateExtractingInsights}})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one extracting run, got %d", len(runs))
	}

	if _, err := d.Submit(ctx, run.ID, pipeline.Cancel{Reason: "test"}); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if removed, err := d.Prune(ctx); err != nil || removed != 1 {
		t.Fatalf("expected one pruned run, got %d (%v)", removed, err)
	}
	if _, err := d.ShowRun(ctx, run.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after prune, got %v", err)
	}
}

func TestDaemonTemplatesAndRecommendation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	if len(d.Templates()) == 0 {
		t.Fatal("expected built-in templates")
	}
	if got := d.RecommendTemplate(100, "", pipeline.UrgencyHigh); got != pipeline.TemplateFastTrack {
		t.Fatalf("expected fast_track, got %s", got)
	}
	ok, msg, err := d.TestNotification(context.Background())
	if ok || err != nil || msg == "" {
		t.Fatalf("expected unconfigured notification to be skipped, got %v %q %v", ok, msg, err)
	}
}

func TestDaemonServesStatusAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = "127.0.0.1:0"
	cfg.API.Token = "secret"
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	addr := d.Status(context.Background()).APIAddress
	if addr == "" {
		t.Fatal("expected api address")
	}
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/status", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}
