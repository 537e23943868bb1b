package services

import "context"

// Scope identifies the unit of stage work a context belongs to.
type Scope struct {
	RunID         string
	Stage         string
	CorrelationID string
}

type scopeKey struct{}

// WithScope merges the non-blank fields of s into any scope already on ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	current := ScopeFromContext(ctx)
	if s.RunID != "" {
		current.RunID = s.RunID
	}
	if s.Stage != "" {
		current.Stage = s.Stage
	}
	if s.CorrelationID != "" {
		current.CorrelationID = s.CorrelationID
	}
	if current == (Scope{}) {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, current)
}

// ScopeFromContext returns the scope attached to ctx, or the zero Scope.
func ScopeFromContext(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// WithRunID annotates ctx with a pipeline run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return WithScope(ctx, Scope{RunID: id})
}

// RunIDFromContext returns the run id on ctx.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFromContext(ctx).RunID
	return id, id != ""
}

// StageFromContext returns the stage on ctx.
func StageFromContext(ctx context.Context) (string, bool) {
	stage := ScopeFromContext(ctx).Stage
	return stage, stage != ""
}

// CorrelationIDFromContext returns the id shared by one stage invocation's logs.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFromContext(ctx).CorrelationID
	return id, id != ""
}
