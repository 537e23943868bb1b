package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"contentflow/internal/config"
	"contentflow/internal/logging"
	"contentflow/internal/notifications"
	"contentflow/internal/pipeline"
	"contentflow/internal/stage"
	"contentflow/internal/store"
	"contentflow/internal/templates"
)

// ErrNotRunning is returned when events are submitted before Start or after Stop.
var ErrNotRunning = errors.New("workflow manager not running")

// Manager coordinates pipeline runs using registered stage executors.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	templates *templates.Registry
	executors *stage.Registry
	notifier  notifications.Service
	logger    *slog.Logger
	sampler   *logging.ProgressSampler
	now       func() time.Time
	newID     func() string

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	actors  map[string]*actor
	lastErr error
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithNotifier replaces the config-derived notification service.
func WithNotifier(n notifications.Service) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithClock replaces time.Now as the source of transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator replaces the UUID run id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st *store.Store, tmpl *templates.Registry, executors *stage.Registry, logger *slog.Logger, opts ...Option) *Manager {
	if executors == nil {
		executors = stage.NewRegistry()
	}
	m := &Manager{
		cfg:       cfg,
		store:     st,
		templates: tmpl,
		executors: executors,
		notifier:  notifications.NewService(cfg),
		logger:    logging.NewComponentLogger(logger, "workflow"),
		sampler:   logging.NewProgressSampler(10),
		now:       time.Now,
		newID:     uuid.NewString,
		actors:    make(map[string]*actor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Executors exposes the stage registry so callers can register executors.
func (m *Manager) Executors() *stage.Registry {
	return m.executors
}

// Start begins processing and recovers runs left active by a previous process.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	m.ctx = groupCtx
	m.cancel = cancel
	m.group = group
	m.running = true
	m.mu.Unlock()

	recovered, err := m.recover(groupCtx)
	if err != nil {
		m.Stop()
		return err
	}
	m.logger.Info("workflow manager started",
		slog.Int("recovered_runs", recovered),
		slog.String(logging.FieldEventType, "workflow_start"),
	)
	return nil
}

// Stop cancels in-flight stage work and waits for run goroutines to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	group := m.group
	m.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("workflow shutdown reported error", logging.Error(err))
	}
	m.mu.Lock()
	m.actors = make(map[string]*actor)
	m.mu.Unlock()
	m.logger.Info("workflow manager stopped", slog.String(logging.FieldEventType, "workflow_stop"))
}

// Running reports whether Start has been called without a matching Stop.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) setLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                   `json:"running"`
	ActiveRuns  int                    `json:"active_runs"`
	RunStats    map[pipeline.State]int `json:"run_stats"`
	StageHealth []stage.Health         `json:"stage_health"`
	LastError   string                 `json:"last_error,omitempty"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, ActiveRuns: len(m.actors)}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read run stats", logging.Error(err))
	}
	summary.RunStats = stats
	summary.StageHealth = m.executors.Health(ctx)
	return summary
}
