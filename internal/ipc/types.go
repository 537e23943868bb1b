package ipc

import (
	"contentflow/internal/api"
	"contentflow/internal/templates"
)

// StartRequest triggers daemon workflow startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon workflow.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries combined daemon and workflow status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// RunStartRequest creates a run for a transcript.
type RunStartRequest struct {
	TranscriptID string             `json:"transcript_id"`
	Template     string             `json:"template,omitempty"`
	Overrides    templates.Settings `json:"overrides,omitempty"`
}

// RunRequest addresses a single run.
type RunRequest struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

// RunResponse returns a run after a lifecycle call.
type RunResponse struct {
	Run api.RunDetail `json:"run"`
}

// ReviewRequest records a decision for one insight or post.
type ReviewRequest struct {
	RunID    string `json:"run_id"`
	EntityID string `json:"entity_id"`
	Decision string `json:"decision"`
	Reviewer string `json:"reviewer,omitempty"`
}

// ReviewAllRequest records one decision for every awaiting entity of a kind.
// A blank kind targets the kind under review in the run's current state.
type ReviewAllRequest struct {
	RunID    string `json:"run_id"`
	Kind     string `json:"kind,omitempty"`
	Decision string `json:"decision"`
	Reviewer string `json:"reviewer,omitempty"`
}

// StageReportRequest reports the outcome of externally executed stage work.
type StageReportRequest struct {
	RunID     string   `json:"run_id"`
	Stage     string   `json:"stage"`
	Succeeded bool     `json:"succeeded"`
	OutputIDs []string `json:"output_ids,omitempty"`
	SourceID  string   `json:"source_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ProgressRequest reports intra-stage progress for a run.
type ProgressRequest struct {
	RunID   string `json:"run_id"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// RunListRequest filters run listing.
type RunListRequest struct {
	States       []string `json:"states,omitempty"`
	TranscriptID string   `json:"transcript_id,omitempty"`
	Template     string   `json:"template,omitempty"`
	Blocked      bool     `json:"blocked,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// RunListResponse contains matching runs.
type RunListResponse struct {
	Runs []api.Run `json:"runs"`
}

// RunEventsRequest fetches a run's event journal.
type RunEventsRequest struct {
	RunID string `json:"run_id"`
	Limit int    `json:"limit,omitempty"`
}

// RunEventsResponse contains journal entries, oldest first.
type RunEventsResponse struct {
	Events []api.Event `json:"events"`
}

// EstimateResponse projects a run's completion.
type EstimateResponse struct {
	RunID            string  `json:"run_id"`
	Completion       string  `json:"completion"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Estimable        bool    `json:"estimable"`
	SampleSize       int     `json:"sample_size"`
	AverageSeconds   float64 `json:"average_seconds"`
}

// PruneRequest removes completed and cancelled runs.
type PruneRequest struct{}

// PruneResponse reports how many runs were removed.
type PruneResponse struct {
	Removed int64 `json:"removed"`
}

// TemplateListRequest lists templates.
type TemplateListRequest struct{}

// TemplateListResponse contains the known templates with resolved options.
type TemplateListResponse struct {
	Templates []api.Template `json:"templates"`
}

// RecommendRequest describes content needing a template.
type RecommendRequest struct {
	ContentLength int    `json:"content_length"`
	SourceType    string `json:"source_type,omitempty"`
	Urgency       string `json:"urgency,omitempty"`
}

// RecommendResponse names the recommended template.
type RecommendResponse struct {
	Template string `json:"template"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the outcome of a notification test.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
