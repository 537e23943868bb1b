package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// State represents the lifecycle position of a pipeline run.
type State string

const (
	StateIdle               State = "idle"
	StateInitializing       State = "initializing"
	StateCleaningTranscript State = "cleaning_transcript"
	StateExtractingInsights State = "extracting_insights"
	StateReviewingInsights  State = "reviewing_insights"
	StateGeneratingPosts    State = "generating_posts"
	StateReviewingPosts     State = "reviewing_posts"
	StateReadyToSchedule    State = "ready_to_schedule"
	StateScheduling         State = "scheduling"
	StateCompleted          State = "completed"
	StatePartiallyCompleted State = "partially_completed"
	StateFailed             State = "failed"
	StatePaused             State = "paused"
	StateCancelled          State = "cancelled"
)

var allStates = []State{
	StateIdle,
	StateInitializing,
	StateCleaningTranscript,
	StateExtractingInsights,
	StateReviewingInsights,
	StateGeneratingPosts,
	StateReviewingPosts,
	StateReadyToSchedule,
	StateScheduling,
	StateCompleted,
	StatePartiallyCompleted,
	StateFailed,
	StatePaused,
	StateCancelled,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, s := range allStates {
		set[s] = struct{}{}
	}
	return set
}()

// resumableStates lists the states PAUSE is accepted from, in resume priority order.
var resumableStates = []State{
	StateCleaningTranscript,
	StateExtractingInsights,
	StateReviewingInsights,
	StateGeneratingPosts,
	StateReviewingPosts,
	StateScheduling,
}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the state has no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// IsRetryable reports whether the state accepts RETRY.
func (s State) IsRetryable() bool {
	return s == StateFailed || s == StatePartiallyCompleted
}

// IsResumable reports whether PAUSE is accepted from the state.
func (s State) IsResumable() bool {
	for _, candidate := range resumableStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// Label returns a human readable title such as "Reviewing Insights".
func (s State) Label() string {
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// Stage identifies external work the driver performs on behalf of a run.
type Stage string

const (
	StageClean    Stage = "clean"
	StageExtract  Stage = "extract"
	StageGenerate Stage = "generate"
	StageSchedule Stage = "schedule"
)

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageClean, StageExtract, StageGenerate, StageSchedule}
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	switch s := Stage(strings.ToLower(strings.TrimSpace(value))); s {
	case StageClean, StageExtract, StageGenerate, StageSchedule:
		return s, true
	default:
		return "", false
	}
}

// stageForState maps states that own in-flight external work to their stage.
func stageForState(s State) (Stage, bool) {
	switch s {
	case StateCleaningTranscript:
		return StageClean, true
	case StateExtractingInsights:
		return StageExtract, true
	case StateGeneratingPosts:
		return StageGenerate, true
	case StateScheduling:
		return StageSchedule, true
	default:
		return "", false
	}
}

// Kind distinguishes the entities a run produces.
type Kind string

const (
	KindInsight  Kind = "insight"
	KindPost     Kind = "post"
	KindPipeline Kind = "pipeline"
)

// ParseKind converts a string into an entity kind.
func ParseKind(value string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(value))); k {
	case KindInsight, KindPost:
		return k, true
	default:
		return "", false
	}
}

// ItemType classifies blocking items.
type ItemType string

const (
	ItemInsightReview      ItemType = "insight_review"
	ItemPostReview         ItemType = "post_review"
	ItemManualIntervention ItemType = "manual_intervention"
)

func reviewItemType(kind Kind) ItemType {
	if kind == KindPost {
		return ItemPostReview
	}
	return ItemInsightReview
}

// Priority orders blocking items for presentation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

func priorityFor(t ItemType) Priority {
	switch t {
	case ItemManualIntervention:
		return PriorityUrgent
	case ItemPostReview:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// EntityStatus is the processing status of an insight or post.
type EntityStatus string

const (
	StatusPending    EntityStatus = "pending"
	StatusProcessing EntityStatus = "processing"
	StatusReviewing  EntityStatus = "reviewing"
	StatusApproved   EntityStatus = "approved"
	StatusRejected   EntityStatus = "rejected"
	StatusFailed     EntityStatus = "failed"
)

func (s EntityStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusReviewing:
		return 2
	default:
		return 3
	}
}

// IsResolved reports whether the status is a final decision.
func (s EntityStatus) IsResolved() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusFailed
}

// IsAwaiting reports whether the entity still needs a decision.
func (s EntityStatus) IsAwaiting() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusReviewing
}

// Label renders the status the way the review UI names it for the entity kind.
func (s EntityStatus) Label(kind Kind) string {
	if s != StatusProcessing {
		return string(s)
	}
	if kind == KindPost {
		return "generating"
	}
	return "extracting"
}

// Decision is a reviewer verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision converts a string into a Decision.
func ParseDecision(value string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "approve", "approved":
		return DecisionApprove, true
	case "reject", "rejected":
		return DecisionReject, true
	default:
		return "", false
	}
}

func (d Decision) status() (EntityStatus, bool) {
	switch d {
	case DecisionApprove:
		return StatusApproved, true
	case DecisionReject:
		return StatusRejected, true
	default:
		return "", false
	}
}

// Options are the per-run knobs resolved from a template plus overrides.
type Options struct {
	AutoApprove       bool     `json:"auto_approve"`
	SkipInsightReview bool     `json:"skip_insight_review"`
	SkipPostReview    bool     `json:"skip_post_review"`
	Platforms         []string `json:"platforms,omitempty"`
	MaxRetries        int      `json:"max_retries"`
	EntityMaxRetries  int      `json:"entity_max_retries"`
	Parallelism       int      `json:"parallelism"`
}

func (o Options) clone() Options {
	cp := o
	if o.Platforms != nil {
		cp.Platforms = append([]string(nil), o.Platforms...)
	}
	return cp
}

func (o Options) normalized() Options {
	cp := o.clone()
	if cp.MaxRetries < 0 {
		cp.MaxRetries = 0
	}
	if cp.EntityMaxRetries < 0 {
		cp.EntityMaxRetries = 0
	}
	if cp.Parallelism <= 0 {
		cp.Parallelism = 1
	}
	return cp
}

// Template names the configuration bundles a run can be started with.
const (
	TemplateStandard  = "standard"
	TemplateFastTrack = "fast_track"
	TemplatePodcast   = "podcast"
	TemplateInterview = "interview"
	TemplateMeeting   = "meeting"
	TemplateLongForm  = "long_form"
	TemplateShortForm = "short_form"
)
