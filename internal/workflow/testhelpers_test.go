package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/stage"
	"contentflow/internal/store"
	"contentflow/internal/templates"
	"contentflow/internal/testsupport"
	"contentflow/internal/workflow"
)

type recordingNotifier struct {
	mu        sync.Mutex
	blocked   []pipeline.Summary
	completed []pipeline.Summary
	partial   []pipeline.Summary
	failed    []pipeline.Summary
	cancelled []pipeline.Summary
}

func (n *recordingNotifier) NotifyRunBlocked(_ context.Context, s pipeline.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = append(n.blocked, s)
	return nil
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, s pipeline.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, s)
	return nil
}

func (n *recordingNotifier) NotifyRunPartial(_ context.Context, s pipeline.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partial = append(n.partial, s)
	return nil
}

func (n *recordingNotifier) NotifyRunFailed(_ context.Context, s pipeline.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, s)
	return nil
}

func (n *recordingNotifier) NotifyRunCancelled(_ context.Context, s pipeline.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, s)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func (n *recordingNotifier) counts() (blocked, completed, failed, cancelled int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.blocked), len(n.completed), len(n.failed), len(n.cancelled)
}

// happyExecutors returns executors that finish every stage immediately.
func happyExecutors() *stage.Registry {
	reg := stage.NewRegistry()
	reg.Register(pipeline.StageClean, stage.ExecutorFunc(func(_ context.Context, req stage.Request) (stage.Result, error) {
		req.ReportProgress(50, "cleaning")
		return stage.Result{OutputIDs: []string{"clean-" + req.RunID}}, nil
	}))
	reg.Register(pipeline.StageExtract, stage.ExecutorFunc(func(context.Context, stage.Request) (stage.Result, error) {
		return stage.Result{OutputIDs: []string{"i1", "i2"}}, nil
	}))
	reg.Register(pipeline.StageGenerate, stage.ExecutorFunc(func(_ context.Context, req stage.Request) (stage.Result, error) {
		if len(req.InputIDs) != 1 {
			return stage.Result{}, fmt.Errorf("expected one insight, got %v", req.InputIDs)
		}
		return stage.Result{OutputIDs: []string{req.InputIDs[0] + "-post"}}, nil
	}))
	reg.Register(pipeline.StageSchedule, stage.ExecutorFunc(func(_ context.Context, req stage.Request) (stage.Result, error) {
		out := make([]string, 0, len(req.InputIDs))
		for _, id := range req.InputIDs {
			out = append(out, "sched-"+id)
		}
		return stage.Result{OutputIDs: out}, nil
	}))
	return reg
}

type harness struct {
	cfg      *config.Config
	store    *store.Store
	manager  *workflow.Manager
	notifier *recordingNotifier
}

func newHarness(t *testing.T, executors *stage.Registry, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	return startHarness(t, cfg, st, executors)
}

func startHarness(t *testing.T, cfg *config.Config, st *store.Store, executors *stage.Registry) *harness {
	t.Helper()
	tmpl, err := templates.Load(cfg.Paths.TemplatesFile)
	if err != nil {
		t.Fatalf("templates.Load: %v", err)
	}
	notifier := &recordingNotifier{}
	counter := 0
	mgr := workflow.NewManager(cfg, st, tmpl, executors, logging.NewNop(),
		workflow.WithNotifier(notifier),
		workflow.WithIDGenerator(func() string {
			counter++
			return fmt.Sprintf("run-%d", counter)
		}),
	)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return &harness{cfg: cfg, store: st, manager: mgr, notifier: notifier}
}

func (h *harness) waitForState(t *testing.T, runID string, want pipeline.State) pipeline.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last pipeline.Run
	for time.Now().Before(deadline) {
		run, err := h.manager.Snapshot(context.Background(), runID)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if run.State == want {
			return run
		}
		last = run
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, run is %s (%s)", want, last.State, last.LastError)
	return last
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func autoApprove() templates.Settings {
	return templates.Settings{AutoApprove: templates.Bool(true)}
}
