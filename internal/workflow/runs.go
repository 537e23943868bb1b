package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/store"
	"contentflow/internal/templates"
)

// StartRequest describes a new run.
type StartRequest struct {
	TranscriptID string             `json:"transcript_id"`
	Template     string             `json:"template,omitempty"`
	Overrides    templates.Settings `json:"overrides,omitempty"`
}

// Estimate is the projected completion of a run.
type Estimate struct {
	RunID      string              `json:"run_id"`
	Completion time.Time           `json:"completion"`
	Remaining  time.Duration       `json:"remaining"`
	Estimable  bool                `json:"estimable"`
	History    pipeline.Historical `json:"history"`
}

func (m *Manager) actorFor(id string) *actor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.actors[id]
}

// spawn starts the actor for run unless one is already live.
func (m *Manager) spawn(run pipeline.Run, resume []pipeline.Command) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrNotRunning
	}
	if existing, ok := m.actors[run.ID]; ok {
		return existing, nil
	}
	a := m.newActor(m.ctx, run)
	a.resume = resume
	m.actors[run.ID] = a
	m.group.Go(a.loop)
	return a, nil
}

func (m *Manager) removeActor(a *actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actors[a.run.ID] == a {
		delete(m.actors, a.run.ID)
	}
}

// recover restarts actors for every run a previous process left in motion
// and re-issues the stage work of their current state. Failed, partially
// completed and paused runs wait for Submit to load them.
func (m *Manager) recover(ctx context.Context) (int, error) {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active runs: %w", err)
	}
	now := m.now()
	stale := m.cfg.StageTimeout()
	recovered := 0
	for _, stored := range active {
		run := stored.Run
		if !needsActor(run.State) {
			m.logger.Debug("run left idle until next event",
				slog.String(logging.FieldRunID, run.ID),
				slog.String(logging.FieldState, string(run.State)),
			)
			continue
		}
		attrs := []slog.Attr{
			slog.String(logging.FieldRunID, run.ID),
			slog.String(logging.FieldState, string(run.State)),
			slog.String(logging.FieldEventType, "run_recovered"),
		}
		if !stored.LastHeartbeat.IsZero() && now.Sub(stored.LastHeartbeat) > stale {
			attrs = append(attrs, slog.Duration("heartbeat_age", now.Sub(stored.LastHeartbeat)))
		}
		if _, err := m.spawn(run, pipeline.Reenter(run)); err != nil {
			return 0, err
		}
		m.logger.Info("recovered run", logging.Args(attrs...)...)
		recovered++
	}
	return recovered, nil
}

func needsActor(state pipeline.State) bool {
	return !state.IsTerminal() && !state.IsRetryable() && state != pipeline.StatePaused
}

// StartRun creates a run from a template and starts it.
func (m *Manager) StartRun(ctx context.Context, req StartRequest) (pipeline.Run, error) {
	if !m.Running() {
		return pipeline.Run{}, ErrNotRunning
	}
	transcriptID := strings.TrimSpace(req.TranscriptID)
	if transcriptID == "" {
		return pipeline.Run{}, services.Wrap(services.ErrValidation, "workflow", "start run", "transcript id is required", nil)
	}
	name := strings.ToLower(strings.TrimSpace(req.Template))
	if name == "" {
		name = m.cfg.Pipeline.DefaultTemplate
	}
	opts, err := m.templates.Resolve(name, m.cfg.DefaultOptions(), req.Overrides)
	if err != nil {
		return pipeline.Run{}, err
	}

	run := pipeline.NewRun(m.newID(), transcriptID, name, m.now())
	if err := m.store.Create(ctx, run); err != nil {
		return pipeline.Run{}, err
	}
	if _, err := m.spawn(run, nil); err != nil {
		return pipeline.Run{}, err
	}
	m.logger.Info("run created",
		slog.String(logging.FieldRunID, run.ID),
		slog.String(logging.FieldTranscriptID, transcriptID),
		slog.String("template", name),
		slog.String(logging.FieldEventType, "run_created"),
	)
	return m.Submit(ctx, run.ID, pipeline.Start{TranscriptID: transcriptID, Template: name, Options: opts})
}

// Submit delivers ev to the run and returns the run as it stands afterwards.
// A rejected event returns the unchanged run with a *pipeline.TransitionError.
func (m *Manager) Submit(ctx context.Context, runID string, ev pipeline.Event) (pipeline.Run, error) {
	if !m.Running() {
		return pipeline.Run{}, ErrNotRunning
	}
	if ev == nil {
		return pipeline.Run{}, services.Wrap(services.ErrValidation, "workflow", "submit", "event is required", nil)
	}
	a := m.actorFor(runID)
	if a == nil {
		run, err := m.load(ctx, runID)
		if err != nil {
			return pipeline.Run{}, err
		}
		if run.State.IsTerminal() {
			return m.settled(ctx, run, ev)
		}
		if a, err = m.spawn(run, nil); err != nil {
			return pipeline.Run{}, err
		}
	}
	return m.ask(ctx, a, ev)
}

func (m *Manager) ask(ctx context.Context, a *actor, ev pipeline.Event) (pipeline.Run, error) {
	env := envelope{event: ev, reply: make(chan result, 1)}
	if err := a.send(ctx, env); err != nil {
		if errors.Is(err, errActorStopped) {
			return m.afterStop(ctx, a.run.ID, ev)
		}
		return pipeline.Run{}, err
	}
	select {
	case r := <-env.reply:
		return r.run, r.err
	case <-a.done:
		select {
		case r := <-env.reply:
			return r.run, r.err
		default:
		}
		return m.afterStop(ctx, a.run.ID, ev)
	case <-ctx.Done():
		return pipeline.Run{}, ctx.Err()
	}
}

// afterStop handles an event that raced with its actor's exit.
func (m *Manager) afterStop(ctx context.Context, runID string, ev pipeline.Event) (pipeline.Run, error) {
	if !m.Running() {
		return pipeline.Run{}, ErrNotRunning
	}
	run, err := m.load(ctx, runID)
	if err != nil {
		return pipeline.Run{}, err
	}
	if !run.State.IsTerminal() {
		return pipeline.Run{}, ErrNotRunning
	}
	return m.settled(ctx, run, ev)
}

// settled applies ev to a run that has released its actor. Terminal runs
// accept nothing, so this only produces and journals the rejection.
func (m *Manager) settled(ctx context.Context, run pipeline.Run, ev pipeline.Event) (pipeline.Run, error) {
	now := m.now()
	_, _, err := pipeline.Transition(run, ev, now)
	if jerr := m.store.AppendEvent(ctx, run.ID, ev, run.State, err, now); jerr != nil {
		m.logger.Warn("failed to journal event", slog.String(logging.FieldRunID, run.ID), logging.Error(jerr))
	}
	return run, err
}

func (m *Manager) load(ctx context.Context, runID string) (pipeline.Run, error) {
	run, err := m.store.Get(ctx, runID)
	if err != nil {
		return pipeline.Run{}, err
	}
	if run == nil {
		return pipeline.Run{}, services.Wrap(services.ErrNotFound, "workflow", "load run", runID, nil)
	}
	return *run, nil
}

// Snapshot returns the current state of a run.
func (m *Manager) Snapshot(ctx context.Context, runID string) (pipeline.Run, error) {
	if a := m.actorFor(runID); a != nil {
		env := envelope{reply: make(chan result, 1)}
		if err := a.send(ctx, env); err == nil {
			select {
			case r := <-env.reply:
				return r.run, nil
			case <-a.done:
			case <-ctx.Done():
				return pipeline.Run{}, ctx.Err()
			}
		}
	}
	return m.load(ctx, runID)
}

// List returns stored runs matching filter.
func (m *Manager) List(ctx context.Context, filter store.Filter) ([]pipeline.Run, error) {
	return m.store.List(ctx, filter)
}

// Events returns the event journal of a run.
func (m *Manager) Events(ctx context.Context, runID string, limit int) ([]store.EventRecord, error) {
	if _, err := m.load(ctx, runID); err != nil {
		return nil, err
	}
	return m.store.Events(ctx, runID, limit)
}

// Estimate projects the completion of a run from recent completed runs.
func (m *Manager) Estimate(ctx context.Context, runID string) (Estimate, error) {
	run, err := m.Snapshot(ctx, runID)
	if err != nil {
		return Estimate{}, err
	}
	history, err := m.store.Historical(ctx, m.cfg.Metrics.HistoryLimit, m.cfg.EstimateDefaults())
	if err != nil {
		return Estimate{}, err
	}
	now := m.now()
	completion := pipeline.EstimateCompletion(run, history, now)
	remaining := completion.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return Estimate{
		RunID:      run.ID,
		Completion: completion,
		Remaining:  remaining,
		Estimable:  pipeline.Estimable(run),
		History:    history,
	}, nil
}

// RecommendTemplate picks a template for content with the configured thresholds.
func (m *Manager) RecommendTemplate(contentLength int, sourceType string, urgency pipeline.Urgency) string {
	return pipeline.RecommendTemplate(contentLength, sourceType, urgency, m.cfg.Thresholds())
}

// Prune deletes completed and cancelled runs.
func (m *Manager) Prune(ctx context.Context) (int64, error) {
	removed, err := m.store.ClearFinished(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Info("pruned finished runs", slog.Int64("removed", removed), slog.String(logging.FieldEventType, "runs_pruned"))
	return removed, nil
}
