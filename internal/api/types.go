package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a pipeline run in list views.
type Run struct {
	ID                 string         `json:"id"`
	TranscriptID       string         `json:"transcriptId"`
	Template           string         `json:"template"`
	State              string         `json:"state"`
	Label              string         `json:"label"`
	PausedFrom         string         `json:"pausedFrom,omitempty"`
	Progress           int            `json:"progress"`
	StagePercent       int            `json:"stagePercent,omitempty"`
	StageMessage       string         `json:"stageMessage,omitempty"`
	BlockingCount      int            `json:"blockingCount"`
	BlockingByPriority map[string]int `json:"blockingByPriority,omitempty"`
	AwaitingSchedule   bool           `json:"awaitingSchedule"`
	Retryable          bool           `json:"retryable"`
	RetryCount         int            `json:"retryCount"`
	RetriesRemaining   int            `json:"retriesRemaining"`
	Insights           int            `json:"insights"`
	ApprovedInsights   int            `json:"approvedInsights"`
	Posts              int            `json:"posts"`
	ApprovedPosts      int            `json:"approvedPosts"`
	Reason             string         `json:"reason,omitempty"`
	LastError          string         `json:"lastError,omitempty"`
	CreatedAt          string         `json:"createdAt,omitempty"`
	UpdatedAt          string         `json:"updatedAt,omitempty"`
	CompletedAt        string         `json:"completedAt,omitempty"`
}

// RunDetail is the full view of one run.
type RunDetail struct {
	Run
	Options             Options        `json:"options"`
	Steps               []Step         `json:"steps"`
	BlockingItems       []BlockingItem `json:"blockingItems"`
	Entities            []Entity       `json:"entities"`
	ScheduleIDs         []string       `json:"scheduleIds,omitempty"`
	DurationSeconds     float64        `json:"durationSeconds,omitempty"`
	EstimatedCompletion string         `json:"estimatedCompletion,omitempty"`
}

// Options mirrors the resolved per-run options.
type Options struct {
	AutoApprove       bool     `json:"autoApprove"`
	SkipInsightReview bool     `json:"skipInsightReview"`
	SkipPostReview    bool     `json:"skipPostReview"`
	Platforms         []string `json:"platforms,omitempty"`
	MaxRetries        int      `json:"maxRetries"`
	EntityMaxRetries  int      `json:"entityMaxRetries"`
	Parallelism       int      `json:"parallelism"`
}

// Step captures one pipeline step.
type Step struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	RetryCount      int     `json:"retryCount,omitempty"`
	Error           string  `json:"error,omitempty"`
	StartedAt       string  `json:"startedAt,omitempty"`
	CompletedAt     string  `json:"completedAt,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// BlockingItem is an open unit of required human attention.
type BlockingItem struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	EntityID    string `json:"entityId"`
	EntityKind  string `json:"entityKind,omitempty"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// Entity is one insight or post tracked by a run.
type Entity struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Label      string `json:"label"`
	SourceID   string `json:"sourceId,omitempty"`
	Reviewer   string `json:"reviewer,omitempty"`
	RetryCount int    `json:"retryCount,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Event is one journaled event delivery.
type Event struct {
	ID         int64           `json:"id"`
	Event      string          `json:"event"`
	Applied    bool            `json:"applied"`
	Error      string          `json:"error,omitempty"`
	StateAfter string          `json:"stateAfter"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  string          `json:"createdAt,omitempty"`
}

// StageHealth mirrors readiness reporting for stage executors.
type StageHealth struct {
	Name   string `json:"name"`
	Mode   string `json:"mode,omitempty"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	ActiveRuns  int            `json:"activeRuns"`
	RunStats    map[string]int `json:"runStats"`
	LastError   string         `json:"lastError,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// PreflightCheck reports one startup check.
type PreflightCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	DatabasePath string           `json:"databasePath"`
	LockFilePath string           `json:"lockFilePath"`
	SocketPath   string           `json:"socketPath"`
	LogPath      string           `json:"logPath"`
	APIAddress   string           `json:"apiAddress,omitempty"`
	Workflow     WorkflowStatus   `json:"workflow"`
	Checks       []PreflightCheck `json:"checks,omitempty"`
}

// Template describes a run template.
type Template struct {
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Options     Options `json:"options"`
}

// RunListResponse wraps a collection of runs.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunResponse wraps a single run.
type RunResponse struct {
	Run RunDetail `json:"run"`
}

// EventListResponse wraps a run's journal.
type EventListResponse struct {
	Events []Event `json:"events"`
}
