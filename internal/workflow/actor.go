package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/services"
)

const persistAttempts = 3

type result struct {
	run pipeline.Run
	err error
}

// envelope is one mailbox entry. A nil event is a snapshot query. A non-zero
// generation marks a stage result that is dropped if its stage was cancelled.
type envelope struct {
	event      pipeline.Event
	stage      pipeline.Stage
	generation uint64
	reply      chan result
}

type actor struct {
	m       *Manager
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	mailbox chan envelope
	control chan envelope
	done    chan struct{}

	run         pipeline.Run
	generations map[pipeline.Stage]uint64
	slots       chan struct{}

	// inflight holds the cancel func of every executor goroutine still
	// running, keyed by launch sequence. Goroutines remove their own entry.
	inflightMu sync.Mutex
	inflight   map[pipeline.Stage]map[uint64]context.CancelFunc
	launches   uint64
	blocked     int
	resume      []pipeline.Command
}

func (m *Manager) newActor(parent context.Context, run pipeline.Run) *actor {
	ctx, cancel := context.WithCancel(parent)
	size := m.cfg.Workflow.MailboxSize
	if size <= 0 {
		size = 64
	}
	return &actor{
		m:           m,
		ctx:         ctx,
		cancel:      cancel,
		logger:      m.logger.With(slog.String(logging.FieldRunID, run.ID)),
		mailbox:     make(chan envelope, size),
		control:     make(chan envelope, 4),
		done:        make(chan struct{}),
		run:         run,
		generations: make(map[pipeline.Stage]uint64),
		inflight:    make(map[pipeline.Stage]map[uint64]context.CancelFunc),
		blocked:     run.Ledger.Count(),
	}
}

func (a *actor) loop() error {
	defer func() {
		a.cancel()
		close(a.done)
		a.m.removeActor(a)
	}()
	if len(a.resume) > 0 {
		cmds := a.resume
		a.resume = nil
		if a.execute(cmds) {
			return nil
		}
	}
	for {
		// Control messages win over anything already queued in the mailbox.
		select {
		case <-a.ctx.Done():
			return nil
		case env := <-a.control:
			if a.handle(env) {
				return nil
			}
			continue
		default:
		}
		select {
		case <-a.ctx.Done():
			return nil
		case env := <-a.control:
			if a.handle(env) {
				return nil
			}
		case env := <-a.mailbox:
			if a.handle(env) {
				return nil
			}
		}
	}
}

// send queues env, routing cancels to the control channel.
func (a *actor) send(ctx context.Context, env envelope) error {
	ch := a.mailbox
	if _, ok := env.event.(pipeline.Cancel); ok {
		ch = a.control
	}
	select {
	case ch <- env:
		return nil
	case <-a.done:
		return errActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errActorStopped = errors.New("run actor stopped")

// handle applies one envelope and reports whether the actor should exit.
func (a *actor) handle(env envelope) bool {
	if env.event == nil {
		a.reply(env, result{run: a.run.Clone()})
		return false
	}
	if env.generation != 0 && env.generation != a.generations[env.stage] {
		a.logger.Debug("dropping result from cancelled stage",
			slog.String(logging.FieldStage, string(env.stage)),
			slog.String(logging.FieldEvent, env.event.EventName()),
		)
		a.reply(env, result{run: a.run.Clone()})
		return false
	}

	now := a.m.now()
	next, cmds, err := pipeline.Transition(a.run, env.event, now)
	if err != nil {
		logging.WarnWithContext(a.logger, "event rejected", "transition_rejected",
			slog.String(logging.FieldEvent, env.event.EventName()),
			slog.String(logging.FieldState, string(a.run.State)),
			logging.Error(err),
			slog.String(logging.FieldErrorHint, "check the run state before sending this event"),
			slog.String(logging.FieldImpact, "run unchanged"),
		)
		a.journal(env.event, a.run.State, err, now)
		a.reply(env, result{run: a.run.Clone(), err: err})
		return false
	}

	a.run = next
	a.persist()
	a.journal(env.event, a.run.State, nil, now)
	release := a.execute(cmds)
	a.reply(env, result{run: a.run.Clone()})
	return release
}

func (a *actor) reply(env envelope, r result) {
	if env.reply != nil {
		env.reply <- r
	}
}

func (a *actor) persist() {
	interval := a.m.cfg.ErrorRetryInterval()
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = a.m.store.Save(a.ctx, a.run); err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		select {
		case <-time.After(interval):
		case <-a.ctx.Done():
			return
		}
	}
	a.m.setLastError(err)
	logging.ErrorWithContext(a.logger, "failed to persist run", "persist_failed",
		append(logging.ErrorDetails(services.Wrap(services.ErrTransient, "store", "save run", "", err)),
			slog.String(logging.FieldState, string(a.run.State)))...,
	)
}

func (a *actor) journal(ev pipeline.Event, state pipeline.State, rejectErr error, now time.Time) {
	if err := a.m.store.AppendEvent(a.ctx, a.run.ID, ev, state, rejectErr, now); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("failed to journal event", slog.String(logging.FieldEvent, ev.EventName()), logging.Error(err))
	}
}

// deliverResult queues a stage outcome from an executor goroutine.
func (a *actor) deliverResult(st pipeline.Stage, generation uint64, ev pipeline.Event) {
	select {
	case a.mailbox <- envelope{event: ev, stage: st, generation: generation}:
	case <-a.done:
	case <-a.ctx.Done():
	}
}

// deliverProgress queues a progress update, dropping it when the mailbox is full.
func (a *actor) deliverProgress(st pipeline.Stage, generation uint64, ev pipeline.ProgressUpdate) {
	select {
	case a.mailbox <- envelope{event: ev, stage: st, generation: generation}:
	default:
	}
}
