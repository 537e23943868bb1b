package logging

import (
	"context"
	"log/slog"

	"contentflow/internal/services"
)

const (
	// FieldComponent names the emitting subsystem.
	FieldComponent = "component"
	// FieldRunID identifies the pipeline run.
	FieldRunID = "run_id"
	// FieldTranscriptID identifies the source transcript of a run.
	FieldTranscriptID = "transcript_id"
	// FieldStage names the pipeline stage being executed.
	FieldStage = "stage"
	// FieldState is the run state after a transition.
	FieldState = "state"
	// FieldEvent names the event delivered to a run.
	FieldEvent = "event"
	// FieldEntityID identifies an insight or post.
	FieldEntityID = "entity_id"
	// FieldCorrelationID is the request correlation identifier.
	FieldCorrelationID = "correlation_id"
	// FieldEventType is a stable machine-readable tag for the log line.
	FieldEventType = "event_type"
	// FieldErrorKind is the classified error marker.
	FieldErrorKind = "error_kind"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	scope := services.ScopeFromContext(ctx)
	fields := make([]slog.Attr, 0, 3)
	if scope.RunID != "" {
		fields = append(fields, slog.String(FieldRunID, scope.RunID))
	}
	if scope.Stage != "" {
		fields = append(fields, slog.String(FieldStage, scope.Stage))
	}
	if scope.CorrelationID != "" {
		fields = append(fields, slog.String(FieldCorrelationID, scope.CorrelationID))
	}
	return fields
}

// WithContext returns a logger augmented with fields derived from ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
