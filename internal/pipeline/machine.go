package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AutoReviewer is recorded as the reviewer of auto-approved entities.
const AutoReviewer = "auto-approval"

// Transition applies ev to a copy of run and returns the new run with the
// commands the driver must act on. A rejected event returns the input run
// unchanged together with a *TransitionError. A failure while executing the
// transition's actions is not returned; it moves the run to FAILED instead.
func Transition(run Run, ev Event, now time.Time) (Run, []Command, error) {
	if ev == nil {
		return run, nil, &TransitionError{State: run.State, Event: "nil", Err: ErrInvalidEvent}
	}
	m := newMachine(run, now)
	err := m.dispatch(ev)
	if err == nil {
		return m.finish(), m.cmds, nil
	}
	var action *actionError
	if !errors.As(err, &action) {
		return run, nil, err
	}
	recovered := newMachine(run, now)
	recovered.failRun(currentStep(run), action.err.Error(), true)
	return recovered.finish(), recovered.cmds, nil
}

type machine struct {
	run      Run
	now      time.Time
	cmds     []Command
	items    string
	progress int
	outcome  bool
}

func newMachine(run Run, now time.Time) *machine {
	return &machine{
		run:      run.Clone(),
		now:      now,
		items:    ledgerSignature(&run.Ledger),
		progress: run.Progress,
	}
}

func (m *machine) dispatch(ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = actionFailure(fmt.Errorf("panic handling %s: %v", ev.EventName(), p))
		}
	}()
	if m.run.State.IsTerminal() {
		return m.reject(ev, ErrRunTerminal)
	}
	if err := m.handle(ev); err != nil {
		return err
	}
	return m.settle()
}

func (m *machine) handle(ev Event) error {
	switch e := ev.(type) {
	case Cancel:
		return m.onCancel(e)
	case Pause:
		return m.onPause(ev)
	case Resume:
		return m.onResume(ev)
	case Retry:
		return m.onRetry(ev)
	case Start:
		return m.onStart(e)
	case StartScheduling:
		if m.run.State != StateReadyToSchedule {
			return m.reject(ev, ErrInvalidTransition)
		}
		m.enterScheduling()
		return nil
	case StageSucceeded:
		return m.onStageSucceeded(e)
	case StageFailed:
		return m.onStageFailed(e)
	case EntityReviewed:
		return m.onEntityReviewed(e)
	case AllReviewed:
		return m.onAllReviewed(e)
	case StepFailed:
		return m.onStepFailed(e)
	case ProgressUpdate:
		return m.onProgressUpdate(e)
	default:
		return m.reject(ev, ErrInvalidEvent)
	}
}

// settle evaluates the eventless exits of the compound states until the run
// stops moving.
func (m *machine) settle() error {
	for {
		var advanced bool
		var err error
		switch m.run.State {
		case StateReviewingInsights:
			advanced, err = m.completeReview(KindInsight)
		case StateReviewingPosts:
			advanced, err = m.completeReview(KindPost)
		case StateGeneratingPosts:
			advanced, err = m.completeGeneration()
		}
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

func (m *machine) reject(ev Event, err error) error {
	return &TransitionError{State: m.run.State, Event: ev.EventName(), Err: err}
}

func (m *machine) emit(cmds ...Command) {
	m.cmds = append(m.cmds, cmds...)
}

func (m *machine) setState(to State) {
	from := m.run.State
	m.run.State = to
	m.emit(StateChanged{From: from, To: to})
}

func (m *machine) onStart(e Start) error {
	switch m.run.State {
	case StateIdle:
	case StateReadyToSchedule:
		m.enterScheduling()
		return nil
	default:
		return m.reject(e, ErrInvalidTransition)
	}
	if id := strings.TrimSpace(e.TranscriptID); id != "" {
		m.run.TranscriptID = id
	}
	if m.run.TranscriptID == "" {
		return m.reject(e, fmt.Errorf("%w: transcript id is required", ErrInvalidEvent))
	}
	if t := strings.TrimSpace(e.Template); t != "" {
		m.run.Template = t
	}
	m.run.Options = e.Options.normalized()
	m.enterInitializing()
	return nil
}

func (m *machine) onCancel(e Cancel) error {
	if stage, ok := stageForState(m.run.State); ok {
		m.emit(CancelStage{Stage: stage})
	}
	for _, t := range []ItemType{ItemInsightReview, ItemPostReview, ItemManualIntervention} {
		m.run.Ledger.ClearByType(t)
	}
	m.run.Reason = strings.TrimSpace(e.Reason)
	m.run.Regions = Regions{}
	m.run.PausedAt = nil
	m.setState(StateCancelled)
	m.settleOutcome()
	return nil
}

func (m *machine) onPause(ev Event) error {
	if !m.run.State.IsResumable() {
		return m.reject(ev, ErrInvalidTransition)
	}
	if stage, ok := stageForState(m.run.State); ok {
		m.emit(CancelStage{Stage: stage})
	}
	m.run.PausedFrom = m.run.State
	ts := m.now
	m.run.PausedAt = &ts
	m.setState(StatePaused)
	return nil
}

func (m *machine) onResume(ev Event) error {
	if m.run.State != StatePaused {
		return m.reject(ev, ErrInvalidTransition)
	}
	from := m.run.PausedFrom
	if !from.IsResumable() {
		return m.reject(ev, fmt.Errorf("%w: %q", ErrInvalidResumePoint, from))
	}
	m.run.PausedFrom = ""
	m.run.PausedAt = nil
	switch from {
	case StateCleaningTranscript:
		m.enterCleaning()
	case StateExtractingInsights:
		m.enterExtracting()
	case StateReviewingInsights:
		return m.enterReviewing(KindInsight)
	case StateGeneratingPosts:
		m.enterGenerating()
	case StateReviewingPosts:
		return m.enterReviewing(KindPost)
	case StateScheduling:
		m.enterScheduling()
	}
	return nil
}

func (m *machine) onRetry(ev Event) error {
	if !m.run.State.IsRetryable() {
		return m.reject(ev, ErrInvalidTransition)
	}
	if !CanRetry(m.run.RetryCount, m.run.Options.MaxRetries) {
		return m.reject(ev, fmt.Errorf("%w: %d of %d retries used", ErrRetryExhausted, m.run.RetryCount, m.run.Options.MaxRetries))
	}
	m.run.RetryCount++
	m.run.Steps = newSteps(m.run.Steps)
	m.run.Tracker = NewTracker(m.run.ID)
	m.run.Ledger = NewLedger()
	m.run.Regions = Regions{}
	m.run.Outputs = nil
	m.run.ScheduleIDs = nil
	m.run.Reason = ""
	m.run.LastError = ""
	m.run.Metrics = Metrics{}
	m.run.FailedAt = nil
	m.run.CompletedAt = nil
	m.run.Progress = 0
	m.progress = -1
	m.enterInitializing()
	return nil
}

func (m *machine) onStageSucceeded(e StageSucceeded) error {
	stage, ok := stageForState(m.run.State)
	if !ok || stage != e.Stage {
		return m.reject(e, ErrInvalidTransition)
	}
	outputs := cleanIDs(e.OutputIDs)
	switch stage {
	case StageClean:
		m.setOutputs(StageClean, outputs)
		m.completeStep(StepCleanTranscript)
		m.enterExtracting()
	case StageExtract:
		m.run.Tracker.RegisterBatch(KindInsight, outputs, "")
		m.setOutputs(StageExtract, outputs)
		m.completeStep(StepExtractInsights)
		if m.run.Tracker.Count(KindInsight) == 0 {
			m.enterPartial("no insights extracted")
			return nil
		}
		return m.enterReviewing(KindInsight)
	case StageGenerate:
		return m.onPostsGenerated(e, outputs)
	case StageSchedule:
		m.run.ScheduleIDs = outputs
		m.setOutputs(StageSchedule, outputs)
		m.completeStep(StepSchedulePosts)
		m.enterCompleted()
	}
	return nil
}

func (m *machine) onPostsGenerated(e StageSucceeded, outputs []string) error {
	source := strings.TrimSpace(e.SourceID)
	if source == "" {
		return m.reject(e, fmt.Errorf("%w: generated posts must name their source insight", ErrInvalidEvent))
	}
	rec, ok := m.run.Tracker.Get(KindInsight, source)
	if !ok || rec.Status != StatusApproved {
		return m.reject(e, fmt.Errorf("%w: approved insight %s", ErrUnknownEntity, source))
	}
	if len(outputs) == 0 {
		return m.generationFailed(source, "generation returned no posts")
	}
	for _, id := range outputs {
		if post, ok := m.run.Tracker.Get(KindPost, strings.TrimSpace(id)); ok && post.SourceID != source {
			return m.generationFailed(source, fmt.Sprintf("post %s already generated for insight %s", post.ID, post.SourceID))
		}
	}
	added := m.run.Tracker.RegisterBatch(KindPost, outputs, source)
	m.setOutputs(StageGenerate, append(append([]string(nil), m.run.Outputs[StageGenerate]...), added...))
	return nil
}

func (m *machine) onStageFailed(e StageFailed) error {
	stage, ok := stageForState(m.run.State)
	if !ok || stage != e.Stage {
		return m.reject(e, ErrInvalidTransition)
	}
	msg := strings.TrimSpace(e.Error)
	if msg == "" {
		msg = fmt.Sprintf("%s stage failed", stage)
	}
	if stage == StageGenerate {
		if source := strings.TrimSpace(e.SourceID); source != "" {
			if _, ok := m.run.Tracker.Get(KindInsight, source); !ok {
				return m.reject(e, fmt.Errorf("%w: insight %s", ErrUnknownEntity, source))
			}
			return m.generationFailed(source, msg)
		}
		m.failRun(StepGeneratePosts, msg, true)
		return nil
	}
	m.failRun(stepForStage(stage), msg, false)
	return nil
}

// generationFailed retries one insight's post generation until the entity
// retry budget is spent, then fails the run.
func (m *machine) generationFailed(insightID, msg string) error {
	attempts, err := m.run.Tracker.RecordFailure(KindInsight, insightID, msg)
	if err != nil {
		return actionFailure(err)
	}
	if attempts <= m.run.Options.EntityMaxRetries {
		m.emit(RunStage{Stage: StageGenerate, InputIDs: []string{insightID}})
		return nil
	}
	m.failRun(StepGeneratePosts, fmt.Sprintf("post generation for insight %s failed after %d attempts: %s", insightID, attempts, msg), true)
	return nil
}

func (m *machine) onEntityReviewed(e EntityReviewed) error {
	kind, ok := reviewKind(m.run.State)
	if !ok {
		return m.reject(e, ErrInvalidTransition)
	}
	status, ok := e.Decision.status()
	if !ok {
		return m.reject(e, fmt.Errorf("%w: decision %q", ErrInvalidEvent, e.Decision))
	}
	id := strings.TrimSpace(e.ID)
	rec, ok := m.run.Tracker.Get(kind, id)
	if !ok {
		return m.reject(e, fmt.Errorf("%w: %s %s", ErrUnknownEntity, kind, id))
	}
	if rec.Status == status {
		return nil
	}
	if rec.Status.IsResolved() {
		return m.reject(e, fmt.Errorf("%w: %s %s already %s", ErrBackwardTransition, kind, id, rec.Status))
	}
	return m.resolveEntity(kind, id, status, e.Decision, e.Reviewer)
}

func (m *machine) onAllReviewed(e AllReviewed) error {
	kind, ok := reviewKind(m.run.State)
	if !ok || (e.Kind != "" && e.Kind != kind) {
		return m.reject(e, ErrInvalidTransition)
	}
	decision := e.Decision
	if decision == "" {
		decision = DecisionApprove
	}
	status, ok := decision.status()
	if !ok {
		return m.reject(e, fmt.Errorf("%w: decision %q", ErrInvalidEvent, e.Decision))
	}
	for _, rec := range m.run.Tracker.Awaiting(kind) {
		if err := m.resolveEntity(kind, rec.ID, status, decision, e.Reviewer); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) resolveEntity(kind Kind, id string, status EntityStatus, decision Decision, reviewer string) error {
	if err := m.run.Tracker.Transition(kind, id, status, m.now); err != nil {
		return actionFailure(err)
	}
	reviewer = strings.TrimSpace(reviewer)
	m.run.Tracker.SetReviewer(kind, id, reviewer)
	item, ok := m.run.Ledger.Resolve(blockingItemID(reviewItemType(kind), id), reviewer, string(decision), m.now)
	if ok {
		if latency := m.now.Sub(item.CreatedAt); latency > 0 {
			m.run.Reviews.Total += latency
		}
		m.run.Reviews.Count++
	}
	return nil
}

func (m *machine) onStepFailed(e StepFailed) error {
	switch m.run.State {
	case StateIdle, StatePaused, StateFailed, StatePartiallyCompleted:
		return m.reject(e, ErrInvalidTransition)
	}
	id := strings.TrimSpace(e.StepID)
	if m.run.step(id) == nil {
		return m.reject(e, fmt.Errorf("%w: unknown step %q", ErrInvalidEvent, id))
	}
	msg := strings.TrimSpace(e.Error)
	if msg == "" {
		msg = fmt.Sprintf("step %s failed", id)
	}
	m.failRun(id, msg, true)
	return nil
}

func (m *machine) onProgressUpdate(e ProgressUpdate) error {
	if _, ok := stageForState(m.run.State); !ok {
		return m.reject(e, ErrInvalidTransition)
	}
	pct := e.Percent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	m.run.StagePercent = pct
	if msg := strings.TrimSpace(e.Message); msg != "" {
		m.run.StageMessage = msg
	}
	return nil
}

func (m *machine) enterInitializing() {
	m.setState(StateInitializing)
	ts := m.now
	m.run.StartedAt = &ts
	m.run.PausedFrom = ""
	m.run.PausedAt = nil
	m.startStep(StepInitialize)
	m.completeStep(StepInitialize)
	m.enterCleaning()
}

func (m *machine) enterCleaning() {
	m.enterStage(StateCleaningTranscript, StepCleanTranscript)
	m.emit(RunStage{Stage: StageClean, InputIDs: cleanInputs(m.run)})
}

func (m *machine) enterExtracting() {
	m.enterStage(StateExtractingInsights, StepExtractInsights)
	m.emit(RunStage{Stage: StageExtract, InputIDs: extractInputs(m.run)})
}

func (m *machine) enterGenerating() {
	m.enterStage(StateGeneratingPosts, StepGeneratePosts)
	m.run.Regions = Regions{Generation: RegionActive, Monitor: RegionActive}
	m.emit(generateCommands(m.run)...)
}

func (m *machine) enterScheduling() {
	m.enterStage(StateScheduling, StepSchedulePosts)
	m.emit(RunStage{Stage: StageSchedule, InputIDs: scheduleInputs(m.run)})
}

func (m *machine) enterStage(state State, step string) {
	m.setState(state)
	m.run.StageMessage = ""
	m.run.StagePercent = 0
	m.run.Regions = Regions{}
	m.startStep(step)
}

// enterReviewing starts both regions of a review compound state. The review
// region opens one blocking item per undecided entity; the auto-approval
// region either resolves them all through the tracker or parks.
func (m *machine) enterReviewing(kind Kind) error {
	state := StateReviewingInsights
	if kind == KindPost {
		state = StateReviewingPosts
	}
	m.setState(state)
	m.run.StageMessage = ""
	m.run.StagePercent = 0
	m.run.Regions = Regions{Review: RegionActive, AutoApproval: RegionActive}
	m.startStep(reviewStep(kind))

	m.run.Ledger.AddForReview(m.run.Tracker.Awaiting(kind), kind, m.now)

	if !PolicyFor(m.run).ShouldAutoApprove(kind) {
		m.run.Regions.AutoApproval = RegionWaiting
		return nil
	}
	for _, rec := range m.run.Tracker.Awaiting(kind) {
		if err := m.run.Tracker.Transition(kind, rec.ID, StatusApproved, m.now); err != nil {
			return actionFailure(err)
		}
		m.run.Tracker.SetReviewer(kind, rec.ID, AutoReviewer)
	}
	m.run.Ledger.ClearByType(reviewItemType(kind))
	m.run.Regions.AutoApproval = RegionDone
	return nil
}

// completeReview leaves a review state once the review region observed every
// entity resolved and the auto-approval region has decided.
func (m *machine) completeReview(kind Kind) (bool, error) {
	if m.run.Tracker.AllResolved(kind) {
		m.run.Regions.Review = RegionDone
	}
	if m.run.Regions.Review != RegionDone || !m.run.Regions.AutoApproval.settled() {
		return false, nil
	}
	m.completeStep(reviewStep(kind))
	m.run.Regions = Regions{}
	approved := len(m.run.Tracker.IDsWithStatus(kind, StatusApproved))
	if kind == KindInsight {
		if approved == 0 {
			m.enterPartial("no insights approved")
			return true, nil
		}
		m.enterGenerating()
		return true, nil
	}
	if approved == 0 {
		m.enterPartial("no posts approved")
		return true, nil
	}
	m.enterReadyToSchedule()
	return true, nil
}

// completeGeneration is the always-guard of GENERATING_POSTS: every approved
// insight must own at least one post record.
func (m *machine) completeGeneration() (bool, error) {
	if len(m.run.Tracker.ApprovedInsightIDsWithoutPosts()) > 0 {
		return false, nil
	}
	m.completeStep(StepGeneratePosts)
	m.run.Regions = Regions{}
	return true, m.enterReviewing(KindPost)
}

func (m *machine) enterReadyToSchedule() {
	m.setState(StateReadyToSchedule)
	m.run.StagePercent = 0
	m.run.StageMessage = fmt.Sprintf("%d posts ready to schedule", len(scheduleInputs(m.run)))
}

func (m *machine) enterCompleted() {
	m.setState(StateCompleted)
	ts := m.now
	m.run.CompletedAt = &ts
	m.run.Regions = Regions{}
	m.settleOutcome()
}

func (m *machine) enterPartial(reason string) {
	for i := range m.run.Steps {
		if m.run.Steps[i].Status == StepStatusPending {
			m.run.Steps[i].Status = StepStatusSkipped
		}
	}
	m.setState(StatePartiallyCompleted)
	ts := m.now
	m.run.CompletedAt = &ts
	m.run.Reason = reason
	m.run.Regions = Regions{}
	m.settleOutcome()
}

// failRun records the failure on the step and the run, then enters FAILED.
// cancelInflight tells the driver to drop stage work that is still running.
func (m *machine) failRun(stepID, msg string, cancelInflight bool) {
	if cancelInflight {
		if stage, ok := stageForState(m.run.State); ok {
			m.emit(CancelStage{Stage: stage})
		}
	}
	if s := m.run.step(stepID); s != nil {
		ts := m.now
		if s.StartedAt == nil {
			s.StartedAt = &ts
		}
		s.Status = StepStatusFailed
		s.Error = msg
		s.CompletedAt = &ts
	}
	m.run.LastError = msg
	m.run.Reason = msg
	ts := m.now
	m.run.FailedAt = &ts
	m.run.Regions = Regions{}
	m.run.PausedFrom = ""
	m.run.PausedAt = nil
	m.setState(StateFailed)
	m.run.Ledger.AddManualIntervention(m.run.ID, msg, m.now)
	m.settleOutcome()
}

func (m *machine) settleOutcome() {
	m.outcome = true
}

func (m *machine) startStep(name string) {
	s := m.run.step(name)
	if s == nil || s.Status == StepStatusInProgress || s.Status == StepStatusCompleted {
		return
	}
	ts := m.now
	s.Status = StepStatusInProgress
	if s.StartedAt == nil {
		s.StartedAt = &ts
	}
	s.CompletedAt = nil
	s.Error = ""
}

func (m *machine) completeStep(name string) {
	s := m.run.step(name)
	if s == nil {
		return
	}
	ts := m.now
	if s.StartedAt == nil {
		s.StartedAt = &ts
	}
	s.Status = StepStatusCompleted
	s.CompletedAt = &ts
	s.Error = ""
}

func (m *machine) setOutputs(stage Stage, ids []string) {
	if m.run.Outputs == nil {
		m.run.Outputs = make(map[Stage][]string)
	}
	m.run.Outputs[stage] = ids
}

// finish recomputes derived fields and appends the observation commands.
func (m *machine) finish() Run {
	r := &m.run
	r.UpdatedAt = m.now
	r.Progress = Progress(r.CompletedSteps(), len(r.Steps))
	if sig := ledgerSignature(&r.Ledger); sig != m.items {
		m.emit(BlockingItemsChanged{
			Count:      r.Ledger.Count(),
			ByPriority: r.Ledger.ByPriority(),
			Items:      r.Ledger.Items(),
		})
	}
	if r.Progress != m.progress {
		m.emit(ProgressChanged{Percent: r.Progress})
	}
	if m.outcome {
		r.Metrics = ComputeMetrics(*r, m.now)
		m.emit(RunTerminal{Outcome: r.State, Summary: Describe(*r)})
		if r.State.IsTerminal() {
			m.emit(ReleaseResources{})
		}
	}
	return m.run
}

func ledgerSignature(l *Ledger) string {
	ids := make([]string, 0, l.Count())
	for _, item := range l.Items() {
		ids = append(ids, item.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}

func reviewKind(s State) (Kind, bool) {
	switch s {
	case StateReviewingInsights:
		return KindInsight, true
	case StateReviewingPosts:
		return KindPost, true
	default:
		return "", false
	}
}

func stepForStage(stage Stage) string {
	switch stage {
	case StageClean:
		return StepCleanTranscript
	case StageExtract:
		return StepExtractInsights
	case StageGenerate:
		return StepGeneratePosts
	default:
		return StepSchedulePosts
	}
}

// currentStep names the step a failure should be charged to.
func currentStep(r Run) string {
	for _, s := range r.Steps {
		if s.Status == StepStatusInProgress {
			return s.ID
		}
	}
	return StepInitialize
}

func cleanIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func cleanInputs(r Run) []string {
	return []string{r.TranscriptID}
}

func extractInputs(r Run) []string {
	if cleaned := r.Outputs[StageClean]; len(cleaned) > 0 {
		return append([]string(nil), cleaned...)
	}
	return []string{r.TranscriptID}
}

func generateCommands(r Run) []Command {
	ids := r.Tracker.ApprovedInsightIDsWithoutPosts()
	cmds := make([]Command, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, RunStage{Stage: StageGenerate, InputIDs: []string{id}})
	}
	return cmds
}

func scheduleInputs(r Run) []string {
	return r.Tracker.IDsWithStatus(KindPost, StatusApproved)
}
