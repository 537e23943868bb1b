package pipeline

// Summary is the structured view of a run handed to presentation layers.
// Phrasing is left to the caller.
type Summary struct {
	RunID              string           `json:"run_id"`
	TranscriptID       string           `json:"transcript_id"`
	Template           string           `json:"template"`
	State              State            `json:"state"`
	Label              string           `json:"label"`
	PausedFrom         State            `json:"paused_from,omitempty"`
	Progress           int              `json:"progress"`
	CompletedSteps     int              `json:"completed_steps"`
	TotalSteps         int              `json:"total_steps"`
	Blocked            bool             `json:"blocked"`
	BlockingCount      int              `json:"blocking_count"`
	BlockingByType     map[ItemType]int `json:"blocking_by_type,omitempty"`
	BlockingByPriority map[Priority]int `json:"blocking_by_priority,omitempty"`
	BlockingEntityIDs  []string         `json:"blocking_entity_ids,omitempty"`
	AwaitingSchedule   bool             `json:"awaiting_schedule"`
	Retryable          bool             `json:"retryable"`
	RetryCount         int              `json:"retry_count"`
	RetriesRemaining   int              `json:"retries_remaining"`
	InsightCount       int              `json:"insight_count"`
	ApprovedInsights   int              `json:"approved_insights"`
	PostCount          int              `json:"post_count"`
	ApprovedPosts      int              `json:"approved_posts"`
	Reason             string           `json:"reason,omitempty"`
	LastError          string           `json:"last_error,omitempty"`
}

// Describe summarizes a run without mutating it.
func Describe(r Run) Summary {
	s := Summary{
		RunID:            r.ID,
		TranscriptID:     r.TranscriptID,
		Template:         r.Template,
		State:            r.State,
		Label:            r.State.Label(),
		PausedFrom:       r.PausedFrom,
		Progress:         r.Progress,
		CompletedSteps:   r.CompletedSteps(),
		TotalSteps:       len(r.Steps),
		BlockingCount:    r.Ledger.Count(),
		AwaitingSchedule: r.State == StateReadyToSchedule,
		Retryable:        r.CanRetry(),
		RetryCount:       r.RetryCount,
		InsightCount:     r.Tracker.Count(KindInsight),
		ApprovedInsights: len(r.Tracker.IDsWithStatus(KindInsight, StatusApproved)),
		PostCount:        r.Tracker.Count(KindPost),
		ApprovedPosts:    len(r.Tracker.IDsWithStatus(KindPost, StatusApproved)),
		Reason:           r.Reason,
		LastError:        r.LastError,
	}
	if remaining := r.Options.MaxRetries - r.RetryCount; remaining > 0 {
		s.RetriesRemaining = remaining
	}
	if s.BlockingCount > 0 {
		s.Blocked = true
		s.BlockingByType = make(map[ItemType]int)
		for _, item := range r.Ledger.Items() {
			s.BlockingByType[item.Type]++
			s.BlockingEntityIDs = append(s.BlockingEntityIDs, item.EntityID)
		}
		s.BlockingByPriority = r.Ledger.ByPriority()
	}
	return s
}

// Reenter re-derives the entry commands of the run's current state. Drivers
// call it after loading a persisted run so stage work lost in a restart is
// requested again.
func Reenter(r Run) []Command {
	var cmds []Command
	switch r.State {
	case StateCleaningTranscript:
		cmds = append(cmds, RunStage{Stage: StageClean, InputIDs: cleanInputs(r)})
	case StateExtractingInsights:
		cmds = append(cmds, RunStage{Stage: StageExtract, InputIDs: extractInputs(r)})
	case StateGeneratingPosts:
		cmds = append(cmds, generateCommands(r)...)
	case StateScheduling:
		cmds = append(cmds, RunStage{Stage: StageSchedule, InputIDs: scheduleInputs(r)})
	}
	if r.Ledger.Count() > 0 {
		cmds = append(cmds, BlockingItemsChanged{
			Count:      r.Ledger.Count(),
			ByPriority: r.Ledger.ByPriority(),
			Items:      r.Ledger.Items(),
		})
	}
	return cmds
}
