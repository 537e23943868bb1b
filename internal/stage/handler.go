package stage

import (
	"context"
	"errors"

	"contentflow/internal/pipeline"
)

// ErrDeferred is returned by executors whose result is reported later through
// the daemon (for example by an operator or an out-of-process worker).
var ErrDeferred = errors.New("stage result deferred")

// Request is one unit of stage work issued by the workflow manager.
type Request struct {
	RunID    string
	Stage    pipeline.Stage
	InputIDs []string
	Options  pipeline.Options
	// Progress reports intermediate progress for the run; it may be nil.
	Progress func(percent int, message string)
}

// Result carries the ids produced by a stage.
type Result struct {
	OutputIDs []string
}

// Executor describes the contract the workflow manager needs from each stage.
type Executor interface {
	Execute(context.Context, Request) (Result, error)
	HealthCheck(context.Context) Health
}

// ExecutorFunc adapts a function into an always-healthy Executor.
type ExecutorFunc func(context.Context, Request) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// HealthCheck reports ready.
func (f ExecutorFunc) HealthCheck(context.Context) Health {
	return Healthy("func", ModeFunc, "")
}

// Deferred is an executor that never produces results itself.
type Deferred struct {
	Name string
}

// Execute returns ErrDeferred.
func (d Deferred) Execute(context.Context, Request) (Result, error) {
	return Result{}, ErrDeferred
}

// HealthCheck reports ready with a detail noting external reporting.
func (d Deferred) HealthCheck(context.Context) Health {
	return Healthy(d.Name, ModeDeferred, "results reported externally")
}

// ReportProgress forwards to req.Progress when set.
func (r Request) ReportProgress(percent int, message string) {
	if r.Progress != nil {
		r.Progress(percent, message)
	}
}
