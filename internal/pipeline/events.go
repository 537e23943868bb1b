package pipeline

// Event is an inbound message from the driver to a run.
type Event interface {
	EventName() string
}

// Start begins an idle run, or confirms scheduling from READY_TO_SCHEDULE.
type Start struct {
	TranscriptID string  `json:"transcript_id"`
	Template     string  `json:"template,omitempty"`
	Options      Options `json:"options"`
}

// Pause suspends an active run, remembering where it was.
type Pause struct{}

// Resume re-enters the state a paused run was suspended from.
type Resume struct{}

// Cancel terminates a run from any non-terminal state.
type Cancel struct {
	Reason string `json:"reason,omitempty"`
}

// Retry restarts a failed or partially completed run from INITIALIZING.
type Retry struct{}

// StartScheduling releases the READY_TO_SCHEDULE gate.
type StartScheduling struct{}

// StageSucceeded reports that external stage work finished. For the generate
// stage SourceID names the insight the posts in OutputIDs were generated from.
type StageSucceeded struct {
	Stage     Stage    `json:"stage"`
	OutputIDs []string `json:"output_ids,omitempty"`
	SourceID  string   `json:"source_id,omitempty"`
}

// StageFailed reports that external stage work failed. For the generate stage
// a non-empty SourceID scopes the failure to one insight.
type StageFailed struct {
	Stage    Stage  `json:"stage"`
	SourceID string `json:"source_id,omitempty"`
	Error    string `json:"error"`
}

// EntityReviewed carries a reviewer decision for one insight or post.
type EntityReviewed struct {
	ID       string   `json:"id"`
	Decision Decision `json:"decision"`
	Reviewer string   `json:"reviewer,omitempty"`
}

// AllReviewed resolves every entity of a kind still awaiting review.
type AllReviewed struct {
	Kind     Kind     `json:"kind"`
	Decision Decision `json:"decision"`
	Reviewer string   `json:"reviewer,omitempty"`
}

// StepFailed marks a pipeline step failed outside of stage execution.
type StepFailed struct {
	StepID string `json:"step_id"`
	Error  string `json:"error"`
}

// ProgressUpdate reports intra-stage progress from the executor.
type ProgressUpdate struct {
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

func (Start) EventName() string           { return "start" }
func (Pause) EventName() string           { return "pause" }
func (Resume) EventName() string          { return "resume" }
func (Cancel) EventName() string          { return "cancel" }
func (Retry) EventName() string           { return "retry" }
func (StartScheduling) EventName() string { return "start_scheduling" }
func (StageSucceeded) EventName() string  { return "stage_succeeded" }
func (StageFailed) EventName() string     { return "stage_failed" }
func (EntityReviewed) EventName() string  { return "entity_reviewed" }
func (AllReviewed) EventName() string     { return "all_reviewed" }
func (StepFailed) EventName() string      { return "step_failed" }
func (ProgressUpdate) EventName() string  { return "progress_update" }

// Command is an outbound instruction for the driver.
type Command interface {
	CommandName() string
}

// RunStage asks the driver to perform external stage work and report back.
type RunStage struct {
	Stage    Stage    `json:"stage"`
	InputIDs []string `json:"input_ids"`
}

// CancelStage tells the driver to abandon in-flight work for a stage.
type CancelStage struct {
	Stage Stage `json:"stage"`
}

// BlockingItemsChanged reports the open blocking items after a transition.
type BlockingItemsChanged struct {
	Count      int              `json:"count"`
	ByPriority map[Priority]int `json:"by_priority"`
	Items      []BlockingItem   `json:"items"`
}

// ProgressChanged reports a new step-derived progress percentage.
type ProgressChanged struct {
	Percent int `json:"percent"`
}

// StateChanged reports a state entry.
type StateChanged struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// RunTerminal reports that a run settled in a terminal or retryable outcome.
type RunTerminal struct {
	Outcome State   `json:"outcome"`
	Summary Summary `json:"summary"`
}

// ReleaseResources tells the driver the run holds no further work.
type ReleaseResources struct{}

func (RunStage) CommandName() string             { return "run_stage" }
func (CancelStage) CommandName() string          { return "cancel_stage" }
func (BlockingItemsChanged) CommandName() string { return "blocking_items_changed" }
func (ProgressChanged) CommandName() string      { return "progress_changed" }
func (StateChanged) CommandName() string         { return "state_changed" }
func (RunTerminal) CommandName() string          { return "run_terminal" }
func (ReleaseResources) CommandName() string     { return "release_resources" }
