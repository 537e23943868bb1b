package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"contentflow/internal/config"
	"contentflow/internal/logging"
	"contentflow/internal/notifications"
	"contentflow/internal/pipeline"
	"contentflow/internal/preflight"
	"contentflow/internal/stage"
	"contentflow/internal/store"
	"contentflow/internal/templates"
	"contentflow/internal/workflow"
)

// Daemon coordinates the background run processing and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	templates *templates.Registry
	workflow  *workflow.Manager
	logPath   string

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	checksMu sync.RWMutex
	checks   []preflight.Result

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	SocketPath   string
	LogPath      string
	APIAddress   string
	Checks       []preflight.Result
}

// RunDetail is a run snapshot with its projected completion.
type RunDetail struct {
	Run      pipeline.Run
	Estimate workflow.Estimate
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, tmpl *templates.Registry, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || st == nil || tmpl == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, templates, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     st,
		templates: tmpl,
		workflow:  wf,
		logPath:   filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start runs preflight checks, acquires the daemon lock, and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another contentflow daemon instance is already running")
	}

	d.refreshChecks(ctx)

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("contentflow daemon started",
		slog.String("lock", d.lockPath),
		slog.String("database", d.store.Path()),
		slog.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

func (d *Daemon) refreshChecks(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg)
	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			slog.String("check", failed.Name),
			slog.String("detail", failed.Detail),
			slog.String(logging.FieldImpact, "stages depending on this check will fail"),
		)
	}
	if health := d.workflow.Executors().Health(ctx); !stage.AllReady(health) {
		for _, h := range health {
			if h.Ready {
				continue
			}
			logging.WarnWithContext(d.logger, "stage executor not ready", "executor_unready",
				slog.String(logging.FieldStage, h.Name),
				slog.String("mode", string(h.Mode)),
				slog.String("detail", h.Detail),
			)
		}
	}
	d.checksMu.Lock()
	d.checks = results
	d.checksMu.Unlock()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("contentflow daemon stopped", slog.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.checksMu.RLock()
	checks := append([]preflight.Result(nil), d.checks...)
	d.checksMu.RUnlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.Paths.SocketPath,
		LogPath:      d.logPath,
		APIAddress:   d.api.address(),
		Checks:       checks,
	}
}

// StartRun creates and starts a run.
func (d *Daemon) StartRun(ctx context.Context, req workflow.StartRequest) (pipeline.Run, error) {
	return d.workflow.StartRun(ctx, req)
}

// Submit delivers an event to a run.
func (d *Daemon) Submit(ctx context.Context, runID string, ev pipeline.Event) (pipeline.Run, error) {
	return d.workflow.Submit(ctx, strings.TrimSpace(runID), ev)
}

// Snapshot returns the current state of a run.
func (d *Daemon) Snapshot(ctx context.Context, runID string) (pipeline.Run, error) {
	return d.workflow.Snapshot(ctx, strings.TrimSpace(runID))
}

// ListRuns returns stored runs matching filter.
func (d *Daemon) ListRuns(ctx context.Context, filter store.Filter) ([]pipeline.Run, error) {
	return d.workflow.List(ctx, filter)
}

// ShowRun returns a run together with its completion estimate.
func (d *Daemon) ShowRun(ctx context.Context, runID string) (RunDetail, error) {
	est, err := d.workflow.Estimate(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	run, err := d.workflow.Snapshot(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Estimate: est}, nil
}

// Events returns the event journal of a run.
func (d *Daemon) Events(ctx context.Context, runID string, limit int) ([]store.EventRecord, error) {
	return d.workflow.Events(ctx, runID, limit)
}

// Estimate projects the completion of a run.
func (d *Daemon) Estimate(ctx context.Context, runID string) (workflow.Estimate, error) {
	return d.workflow.Estimate(ctx, runID)
}

// Prune deletes completed and cancelled runs.
func (d *Daemon) Prune(ctx context.Context) (int64, error) {
	return d.workflow.Prune(ctx)
}

// Templates lists the known templates.
func (d *Daemon) Templates() []templates.Template {
	return d.templates.List()
}

// DefaultOptions returns the configured option defaults templates layer over.
func (d *Daemon) DefaultOptions() pipeline.Options {
	return d.cfg.DefaultOptions()
}

// RecommendTemplate picks a template for the described content.
func (d *Daemon) RecommendTemplate(contentLength int, sourceType string, urgency pipeline.Urgency) string {
	return d.workflow.RecommendTemplate(contentLength, sourceType, urgency)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
