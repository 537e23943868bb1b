package api

import (
	"sort"
	"time"

	"contentflow/internal/pipeline"
	"contentflow/internal/stage"
	"contentflow/internal/store"
	"contentflow/internal/templates"
	"contentflow/internal/workflow"
)

// FromRun converts a run to its list representation.
func FromRun(r pipeline.Run) Run {
	s := pipeline.Describe(r)
	dto := Run{
		ID:               r.ID,
		TranscriptID:     r.TranscriptID,
		Template:         r.Template,
		State:            string(r.State),
		Label:            s.Label,
		PausedFrom:       string(r.PausedFrom),
		Progress:         r.Progress,
		StagePercent:     r.StagePercent,
		StageMessage:     r.StageMessage,
		BlockingCount:    s.BlockingCount,
		AwaitingSchedule: s.AwaitingSchedule,
		Retryable:        s.Retryable,
		RetryCount:       s.RetryCount,
		RetriesRemaining: s.RetriesRemaining,
		Insights:         s.InsightCount,
		ApprovedInsights: s.ApprovedInsights,
		Posts:            s.PostCount,
		ApprovedPosts:    s.ApprovedPosts,
		Reason:           s.Reason,
		LastError:        s.LastError,
		CreatedAt:        formatTime(r.CreatedAt),
		UpdatedAt:        formatTime(r.UpdatedAt),
		CompletedAt:      formatTimePtr(r.CompletedAt),
	}
	if len(s.BlockingByPriority) > 0 {
		dto.BlockingByPriority = make(map[string]int, len(s.BlockingByPriority))
		for p, n := range s.BlockingByPriority {
			dto.BlockingByPriority[string(p)] = n
		}
	}
	return dto
}

// FromRuns converts runs into list DTOs.
func FromRuns(runs []pipeline.Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		out = append(out, FromRun(r))
	}
	return out
}

// FromRunDetail converts a run to its full representation. A zero estimate is omitted.
func FromRunDetail(r pipeline.Run, estimate time.Time) RunDetail {
	dto := RunDetail{
		Run:         FromRun(r),
		Options:     FromOptions(r.Options),
		ScheduleIDs: append([]string(nil), r.ScheduleIDs...),
	}
	if r.Metrics.Duration > 0 {
		dto.DurationSeconds = r.Metrics.Duration.Seconds()
	}
	if !estimate.IsZero() && r.CompletedAt == nil {
		dto.EstimatedCompletion = formatTime(estimate)
	}
	for _, s := range r.Steps {
		step := Step{
			ID:          s.ID,
			Status:      string(s.Status),
			RetryCount:  s.RetryCount,
			Error:       s.Error,
			StartedAt:   formatTimePtr(s.StartedAt),
			CompletedAt: formatTimePtr(s.CompletedAt),
		}
		if s.StartedAt != nil && s.CompletedAt != nil {
			step.DurationSeconds = s.CompletedAt.Sub(*s.StartedAt).Seconds()
		}
		dto.Steps = append(dto.Steps, step)
	}
	for _, item := range r.Ledger.Items() {
		dto.BlockingItems = append(dto.BlockingItems, BlockingItem{
			ID:          item.ID,
			Type:        string(item.Type),
			Priority:    string(item.Priority),
			EntityID:    item.EntityID,
			EntityKind:  string(item.EntityKind),
			Description: item.Description,
			CreatedAt:   formatTime(item.CreatedAt),
		})
	}
	for _, kind := range []pipeline.Kind{pipeline.KindInsight, pipeline.KindPost} {
		for _, rec := range r.Tracker.Records(kind) {
			dto.Entities = append(dto.Entities, Entity{
				ID:         rec.ID,
				Kind:       string(rec.Kind),
				Status:     string(rec.Status),
				Label:      rec.Status.Label(rec.Kind),
				SourceID:   rec.SourceID,
				Reviewer:   rec.Reviewer,
				RetryCount: rec.RetryCount,
				Error:      rec.Error,
			})
		}
	}
	return dto
}

// FromOptions converts resolved run options.
func FromOptions(o pipeline.Options) Options {
	return Options{
		AutoApprove:       o.AutoApprove,
		SkipInsightReview: o.SkipInsightReview,
		SkipPostReview:    o.SkipPostReview,
		Platforms:         append([]string(nil), o.Platforms...),
		MaxRetries:        o.MaxRetries,
		EntityMaxRetries:  o.EntityMaxRetries,
		Parallelism:       o.Parallelism,
	}
}

// FromEvents converts journal records.
func FromEvents(records []store.EventRecord) []Event {
	out := make([]Event, 0, len(records))
	for _, rec := range records {
		out = append(out, Event{
			ID:         rec.ID,
			Event:      rec.Event,
			Applied:    rec.Applied,
			Error:      rec.Error,
			StateAfter: string(rec.StateAfter),
			Payload:    rec.Payload,
			CreatedAt:  formatTime(rec.CreatedAt),
		})
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(s workflow.StatusSummary) WorkflowStatus {
	stats := make(map[string]int, len(s.RunStats))
	for state, n := range s.RunStats {
		stats[string(state)] = n
	}
	return WorkflowStatus{
		Running:     s.Running,
		ActiveRuns:  s.ActiveRuns,
		RunStats:    stats,
		LastError:   s.LastError,
		StageHealth: StageHealthSlice(s.StageHealth),
	}
}

// StageHealthSlice converts stage health in name order.
func StageHealthSlice(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Mode: string(h.Mode), Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromTemplate converts a template, resolving its settings over base.
func FromTemplate(t templates.Template, base pipeline.Options) Template {
	return Template{
		Name:        t.Name,
		Title:       t.Title(),
		Description: t.Description,
		Options:     FromOptions(t.Settings.Apply(base)),
	}
}
