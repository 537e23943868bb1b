package pipeline

import (
	"encoding/json"
	"time"
)

// StepStatus is the status of one ordered pipeline step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// Step names double as stable step identifiers.
const (
	StepInitialize      = "initialize"
	StepCleanTranscript = "clean_transcript"
	StepExtractInsights = "extract_insights"
	StepReviewInsights  = "review_insights"
	StepGeneratePosts   = "generate_posts"
	StepReviewPosts     = "review_posts"
	StepSchedulePosts   = "schedule_posts"
)

var stepNames = []string{
	StepInitialize,
	StepCleanTranscript,
	StepExtractInsights,
	StepReviewInsights,
	StepGeneratePosts,
	StepReviewPosts,
	StepSchedulePosts,
}

// StepNames returns the ordered step names of every run.
func StepNames() []string {
	return append([]string(nil), stepNames...)
}

// Step is one entry of the ordered sequence used to compute progress.
type Step struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func newSteps(previous []Step) []Step {
	retries := make(map[string]int, len(previous))
	for _, s := range previous {
		retries[s.ID] = s.RetryCount
		if s.Status == StepStatusFailed {
			retries[s.ID]++
		}
	}
	steps := make([]Step, 0, len(stepNames))
	for _, name := range stepNames {
		steps = append(steps, Step{ID: name, Name: name, Status: StepStatusPending, RetryCount: retries[name]})
	}
	return steps
}

func reviewStep(kind Kind) string {
	if kind == KindPost {
		return StepReviewPosts
	}
	return StepReviewInsights
}

// RegionStatus tracks a sub-automaton inside a compound state.
type RegionStatus string

const (
	RegionInactive RegionStatus = ""
	RegionActive   RegionStatus = "active"
	// RegionWaiting is the parked substate of auto-approval when the policy
	// declines; the region has decided and does not hold the compound state open.
	RegionWaiting RegionStatus = "waiting"
	RegionDone    RegionStatus = "done"
)

func (r RegionStatus) settled() bool {
	return r == RegionWaiting || r == RegionDone
}

// Regions records the parallel regions of the active compound state.
type Regions struct {
	Review       RegionStatus `json:"review,omitempty"`
	AutoApproval RegionStatus `json:"auto_approval,omitempty"`
	Generation   RegionStatus `json:"generation,omitempty"`
	Monitor      RegionStatus `json:"monitor,omitempty"`
}

// ReviewStats accumulates human review latency for historical estimates.
type ReviewStats struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
}

// Metrics is the snapshot computed when a run settles.
type Metrics struct {
	InsightCount     int                      `json:"insight_count"`
	ApprovedInsights int                      `json:"approved_insights"`
	RejectedInsights int                      `json:"rejected_insights"`
	PostCount        int                      `json:"post_count"`
	ApprovedPosts    int                      `json:"approved_posts"`
	RejectedPosts    int                      `json:"rejected_posts"`
	FailedEntities   int                      `json:"failed_entities"`
	BlockingItems    int                      `json:"blocking_items"`
	CompletedSteps   int                      `json:"completed_steps"`
	TotalSteps       int                      `json:"total_steps"`
	Duration         time.Duration            `json:"duration"`
	StepDurations    map[string]time.Duration `json:"step_durations,omitempty"`
	Reviews          ReviewStats              `json:"reviews"`
}

// Run is the aggregate for one execution of the pipeline for one transcript.
type Run struct {
	ID           string             `json:"id"`
	TranscriptID string             `json:"transcript_id"`
	State        State              `json:"state"`
	PausedFrom   State              `json:"paused_from,omitempty"`
	Template     string             `json:"template"`
	Options      Options            `json:"options"`
	RetryCount   int                `json:"retry_count"`
	Progress     int                `json:"progress"`
	Steps        []Step             `json:"steps"`
	Tracker      Tracker            `json:"entities"`
	Ledger       Ledger             `json:"blocking_items"`
	Regions      Regions            `json:"regions"`
	Outputs      map[Stage][]string `json:"outputs,omitempty"`
	ScheduleIDs  []string           `json:"schedule_ids,omitempty"`
	StageMessage string             `json:"stage_message,omitempty"`
	StagePercent int                `json:"stage_percent,omitempty"`
	Reviews      ReviewStats        `json:"reviews"`
	Reason       string             `json:"reason,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	Metrics      Metrics            `json:"metrics"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	PausedAt     *time.Time         `json:"paused_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	FailedAt     *time.Time         `json:"failed_at,omitempty"`
}

// NewRun creates an idle run awaiting Start.
func NewRun(id, transcriptID, template string, now time.Time) Run {
	return Run{
		ID:           id,
		TranscriptID: transcriptID,
		State:        StateIdle,
		Template:     template,
		Steps:        newSteps(nil),
		Tracker:      NewTracker(id),
		Ledger:       NewLedger(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy that shares no mutable state with r.
func (r Run) Clone() Run {
	cp := r
	cp.Options = r.Options.clone()
	cp.Steps = make([]Step, len(r.Steps))
	for i, s := range r.Steps {
		s.StartedAt = cloneTime(s.StartedAt)
		s.CompletedAt = cloneTime(s.CompletedAt)
		cp.Steps[i] = s
	}
	cp.Tracker = r.Tracker.clone()
	cp.Tracker.runID = r.ID
	cp.Ledger = r.Ledger.clone()
	if r.Outputs != nil {
		cp.Outputs = make(map[Stage][]string, len(r.Outputs))
		for k, v := range r.Outputs {
			cp.Outputs[k] = append([]string(nil), v...)
		}
	}
	cp.ScheduleIDs = append([]string(nil), r.ScheduleIDs...)
	if r.Metrics.StepDurations != nil {
		cp.Metrics.StepDurations = make(map[string]time.Duration, len(r.Metrics.StepDurations))
		for k, v := range r.Metrics.StepDurations {
			cp.Metrics.StepDurations[k] = v
		}
	}
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.PausedAt = cloneTime(r.PausedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.FailedAt = cloneTime(r.FailedAt)
	return cp
}

// Step returns a copy of the named step.
func (r Run) Step(name string) (Step, bool) {
	for _, s := range r.Steps {
		if s.ID == name {
			return s, true
		}
	}
	return Step{}, false
}

// CompletedSteps counts steps in the completed status. Skipped steps do not
// advance progress.
func (r Run) CompletedSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StepStatusCompleted {
			n++
		}
	}
	return n
}

// CanRetry reports whether RETRY would currently be accepted.
func (r Run) CanRetry() bool {
	return r.State.IsRetryable() && CanRetry(r.RetryCount, r.Options.MaxRetries)
}

// MarshalSnapshot encodes the run for persistence.
func (r Run) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalSnapshot decodes a run encoded by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Run, error) {
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return Run{}, err
	}
	r.Tracker.runID = r.ID
	if r.Tracker.records == nil {
		r.Tracker = NewTracker(r.ID)
	}
	if r.Ledger.items == nil {
		r.Ledger = NewLedger()
	}
	if len(r.Steps) == 0 {
		r.Steps = newSteps(nil)
	}
	return r, nil
}

func (r *Run) step(name string) *Step {
	for i := range r.Steps {
		if r.Steps[i].ID == name {
			return &r.Steps[i]
		}
	}
	return nil
}
