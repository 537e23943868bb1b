package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/stage"
)

// execute carries out commands returned by a transition and reports whether
// the run released its resources.
func (a *actor) execute(cmds []pipeline.Command) bool {
	release := false
	settling := false
	for _, cmd := range cmds {
		if _, ok := cmd.(pipeline.RunTerminal); ok {
			settling = true
		}
	}
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case pipeline.RunStage:
			a.launch(c)
		case pipeline.CancelStage:
			a.cancelStage(c.Stage)
		case pipeline.StateChanged:
			a.logger.Info("run state changed",
				slog.String("from", string(c.From)),
				slog.String(logging.FieldState, string(c.To)),
				slog.String(logging.FieldEventType, "state_changed"),
			)
		case pipeline.ProgressChanged:
			if a.m.sampler.ShouldLog(a.run.ID, string(a.run.State), c.Percent) {
				a.logger.Info("run progress",
					slog.Int("percent", c.Percent),
					slog.String(logging.FieldState, string(a.run.State)),
					slog.String(logging.FieldEventType, "progress"),
				)
			}
		case pipeline.BlockingItemsChanged:
			a.blockingChanged(c, !settling)
		case pipeline.RunTerminal:
			a.terminal(c)
		case pipeline.ReleaseResources:
			release = true
		}
	}
	if release {
		for _, st := range a.inflightStages() {
			a.cancelStage(st)
		}
		a.m.sampler.Forget(a.run.ID)
	}
	return release
}

func (a *actor) generation(st pipeline.Stage) uint64 {
	if a.generations[st] == 0 {
		a.generations[st] = 1
	}
	return a.generations[st]
}

func (a *actor) cancelStage(st pipeline.Stage) {
	a.generations[st] = a.generation(st) + 1
	a.inflightMu.Lock()
	cancels := a.inflight[st]
	delete(a.inflight, st)
	a.inflightMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// track registers the cancel func of a launched executor and returns its key.
func (a *actor) track(st pipeline.Stage, cancel context.CancelFunc) uint64 {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	a.launches++
	if a.inflight[st] == nil {
		a.inflight[st] = make(map[uint64]context.CancelFunc)
	}
	a.inflight[st][a.launches] = cancel
	return a.launches
}

// untrack drops a finished executor's cancel func.
func (a *actor) untrack(st pipeline.Stage, seq uint64) {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	delete(a.inflight[st], seq)
	if len(a.inflight[st]) == 0 {
		delete(a.inflight, st)
	}
}

func (a *actor) inflightStages() []pipeline.Stage {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	stages := make([]pipeline.Stage, 0, len(a.inflight))
	for st := range a.inflight {
		stages = append(stages, st)
	}
	return stages
}

func (a *actor) inflightCount() int {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	n := 0
	for _, cancels := range a.inflight {
		n += len(cancels)
	}
	return n
}

func (a *actor) parallelism() int {
	if n := a.run.Options.Parallelism; n > 0 {
		return n
	}
	return 1
}

// launch starts an executor for cmd on the manager's errgroup.
func (a *actor) launch(cmd pipeline.RunStage) {
	exec, err := a.m.executors.Get(cmd.Stage)
	if err != nil {
		a.m.setLastError(err)
		logging.ErrorWithContext(a.logger, "no executor for stage", "stage_unconfigured",
			append(logging.ErrorDetails(err), slog.String(logging.FieldStage, string(cmd.Stage)))...)
		a.failLater(cmd, err, a.generation(cmd.Stage))
		return
	}
	if a.slots == nil {
		a.slots = make(chan struct{}, a.parallelism())
	}

	generation := a.generation(cmd.Stage)
	timeout := a.m.cfg.StageTimeout()
	stageCtx, cancel := context.WithCancel(a.ctx)
	stageCtx = services.WithScope(stageCtx, services.Scope{
		RunID:         a.run.ID,
		Stage:         string(cmd.Stage),
		CorrelationID: uuid.NewString(),
	})
	seq := a.track(cmd.Stage, cancel)

	req := stage.Request{
		RunID:    a.run.ID,
		Stage:    cmd.Stage,
		InputIDs: append([]string(nil), cmd.InputIDs...),
		Options:  a.run.Options,
		Progress: func(percent int, message string) {
			a.deliverProgress(cmd.Stage, generation, pipeline.ProgressUpdate{Percent: percent, Message: message})
		},
	}
	sourceID := ""
	if cmd.Stage == pipeline.StageGenerate && len(cmd.InputIDs) > 0 {
		sourceID = cmd.InputIDs[0]
	}
	logger := logging.WithContext(stageCtx, a.m.logger)
	slots := a.slots

	a.m.group.Go(func() error {
		defer a.untrack(req.Stage, seq)
		defer cancel()
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
		case <-stageCtx.Done():
			return nil
		}

		logger.Info("stage started",
			slog.Int("inputs", len(req.InputIDs)),
			slog.String(logging.FieldEventType, "stage_start"),
		)
		started := time.Now()
		execCtx, stop := context.WithTimeout(stageCtx, timeout)
		defer stop()
		go a.m.heartbeat(execCtx, req.RunID)

		res, execErr := exec.Execute(execCtx, req)
		switch {
		case errors.Is(execErr, stage.ErrDeferred):
			logger.Info("stage awaiting external result", slog.String(logging.FieldEventType, "stage_deferred"))
			return nil
		case stageCtx.Err() != nil:
			logger.Debug("stage cancelled", slog.Duration("stage_duration", time.Since(started)))
			return nil
		case execErr == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
			execErr = context.DeadlineExceeded
		}
		if errors.Is(execErr, context.DeadlineExceeded) {
			execErr = services.Wrap(services.ErrTimeout, string(req.Stage), "execute", "stage exceeded workflow.stage_timeout", execErr)
		}

		if execErr != nil {
			logging.ErrorWithContext(logger, "stage failed", "stage_failed",
				append(logging.ErrorDetails(execErr), slog.Duration("stage_duration", time.Since(started)))...)
			a.deliverResult(req.Stage, generation, pipeline.StageFailed{
				Stage:    req.Stage,
				SourceID: sourceID,
				Error:    stage.FailureMessage(execErr),
			})
			return nil
		}
		outputs := stage.NormalizeOutputs(res.OutputIDs)
		logger.Info("stage completed",
			slog.Int("outputs", len(outputs)),
			slog.Duration("stage_duration", time.Since(started)),
			slog.String(logging.FieldEventType, "stage_complete"),
		)
		a.deliverResult(req.Stage, generation, pipeline.StageSucceeded{
			Stage:     req.Stage,
			OutputIDs: outputs,
			SourceID:  sourceID,
		})
		return nil
	})
}

// failLater reports a stage that could not be launched as a stage failure.
func (a *actor) failLater(cmd pipeline.RunStage, err error, generation uint64) {
	sourceID := ""
	if cmd.Stage == pipeline.StageGenerate && len(cmd.InputIDs) > 0 {
		sourceID = cmd.InputIDs[0]
	}
	ev := pipeline.StageFailed{Stage: cmd.Stage, SourceID: sourceID, Error: stage.FailureMessage(err)}
	a.m.group.Go(func() error {
		a.deliverResult(cmd.Stage, generation, ev)
		return nil
	})
}

func (m *Manager) heartbeat(ctx context.Context, runID string) {
	interval := m.cfg.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.UpdateHeartbeat(ctx, runID, m.now()); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("heartbeat update failed", slog.String(logging.FieldRunID, runID), logging.Error(err))
			}
		}
	}
}

// blockingChanged pushes a blocked notification when new items appear. The
// outcome notification covers items added by the transition that settles the run.
func (a *actor) blockingChanged(c pipeline.BlockingItemsChanged, notify bool) {
	previous := a.blocked
	a.blocked = c.Count
	a.logger.Info("blocking items changed",
		slog.Int("count", c.Count),
		slog.Int("previous", previous),
		slog.String(logging.FieldEventType, "blocking_items"),
	)
	if !notify || c.Count <= previous {
		return
	}
	summary := pipeline.Describe(a.run)
	a.notify("blocked", func(ctx context.Context) error {
		return a.m.notifier.NotifyRunBlocked(ctx, summary)
	})
}

func (a *actor) terminal(c pipeline.RunTerminal) {
	attrs := []slog.Attr{
		slog.String(logging.FieldState, string(c.Outcome)),
		slog.Int("progress", c.Summary.Progress),
		slog.String(logging.FieldEventType, "run_outcome"),
	}
	if c.Summary.Reason != "" {
		attrs = append(attrs, slog.String("reason", c.Summary.Reason))
	}
	if c.Outcome == pipeline.StateFailed {
		attrs = append(attrs, slog.String("alert", "run_failed"), slog.String("last_error", c.Summary.LastError))
		a.logger.Error("run failed", logging.Args(attrs...)...)
	} else {
		a.logger.Info("run settled", logging.Args(attrs...)...)
	}

	summary := c.Summary
	var send func(context.Context) error
	switch c.Outcome {
	case pipeline.StateCompleted:
		send = func(ctx context.Context) error { return a.m.notifier.NotifyRunCompleted(ctx, summary) }
	case pipeline.StatePartiallyCompleted:
		send = func(ctx context.Context) error { return a.m.notifier.NotifyRunPartial(ctx, summary) }
	case pipeline.StateFailed:
		send = func(ctx context.Context) error { return a.m.notifier.NotifyRunFailed(ctx, summary) }
	case pipeline.StateCancelled:
		send = func(ctx context.Context) error { return a.m.notifier.NotifyRunCancelled(ctx, summary) }
	default:
		return
	}
	a.notify(string(c.Outcome), send)
}

// notify sends off the actor goroutine so slow pushes never stall the mailbox.
func (a *actor) notify(kind string, send func(context.Context) error) {
	ctx := a.m.ctx
	logger := a.logger
	a.m.group.Go(func() error {
		if err := send(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Debug("daemon shutting down, notification skipped", slog.String("notification", kind))
				return nil
			}
			logging.WarnWithContext(logger, "notification failed", "notify_failed",
				slog.String("notification", kind),
				logging.Error(err),
				slog.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				slog.String(logging.FieldImpact, "no push sent for this milestone"),
			)
		}
		return nil
	})
}
