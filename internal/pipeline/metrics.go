package pipeline

import "time"

// Progress converts completed/total steps into a percentage in [0,100],
// rounding half up.
func Progress(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return (completed*100 + total/2) / total
}

// Sample is one settled run as seen by the historical metrics store.
type Sample struct {
	Duration      time.Duration            `json:"duration"`
	ReviewTime    time.Duration            `json:"review_time"`
	ReviewCount   int                      `json:"review_count"`
	StepDurations map[string]time.Duration `json:"step_durations,omitempty"`
	CompletedAt   time.Time                `json:"completed_at"`
}

// Defaults are returned when history is empty.
type Defaults struct {
	RunDuration  time.Duration
	ReviewTime   time.Duration
	StepDuration time.Duration
	// RecencyDecay weights sample i (newest first) by RecencyDecay^i. Values
	// outside (0,1] fall back to an unweighted mean.
	RecencyDecay float64
}

// DefaultEstimates are used when no defaults are configured.
var DefaultEstimates = Defaults{
	RunDuration:  30 * time.Minute,
	ReviewTime:   5 * time.Minute,
	StepDuration: 3 * time.Minute,
	RecencyDecay: 0.9,
}

// Historical summarizes past runs for estimation.
type Historical struct {
	AverageDuration   time.Duration
	AverageReviewTime time.Duration
	StepDurations     map[string]time.Duration
	SampleSize        int
}

// Summarize folds samples (newest first) into recency-weighted averages.
func Summarize(samples []Sample, d Defaults) Historical {
	h := Historical{
		AverageDuration:   d.RunDuration,
		AverageReviewTime: AverageReviewTime(samples, d),
		StepDurations:     make(map[string]time.Duration, len(stepNames)),
		SampleSize:        len(samples),
	}
	if avg, ok := weightedMean(samples, d.RecencyDecay, func(s Sample) (time.Duration, bool) {
		return s.Duration, s.Duration > 0
	}); ok {
		h.AverageDuration = avg
	}
	for _, name := range stepNames {
		h.StepDurations[name] = StepDuration(samples, name, d)
	}
	return h
}

// AverageReviewTime returns the weighted mean time a human took per review
// decision, or the configured default without data.
func AverageReviewTime(samples []Sample, d Defaults) time.Duration {
	avg, ok := weightedMean(samples, d.RecencyDecay, func(s Sample) (time.Duration, bool) {
		if s.ReviewCount <= 0 {
			return 0, false
		}
		return s.ReviewTime / time.Duration(s.ReviewCount), true
	})
	if !ok {
		return d.ReviewTime
	}
	return avg
}

// StepDuration returns the weighted mean duration of a step, or the configured default.
func StepDuration(samples []Sample, step string, d Defaults) time.Duration {
	avg, ok := weightedMean(samples, d.RecencyDecay, func(s Sample) (time.Duration, bool) {
		v, found := s.StepDurations[step]
		return v, found && v > 0
	})
	if !ok {
		return d.StepDuration
	}
	return avg
}

func weightedMean(samples []Sample, decay float64, value func(Sample) (time.Duration, bool)) (time.Duration, bool) {
	if decay <= 0 || decay > 1 {
		decay = 1
	}
	var sum, weights float64
	w := 1.0
	for _, s := range samples {
		if v, ok := value(s); ok {
			sum += w * float64(v)
			weights += w
		}
		w *= decay
	}
	if weights == 0 {
		return 0, false
	}
	return time.Duration(sum / weights), true
}

// Estimable reports whether the run is still moving toward completion.
// Failed, partially completed and cancelled runs only finish after operator action.
func Estimable(r Run) bool {
	return !r.State.IsRetryable() && r.State != StateCancelled
}

// EstimateCompletion predicts when a run will finish. It extrapolates elapsed
// time linearly over progress and adds the average review time for every open
// blocking item. The result is never before now. Runs that are not Estimable
// report now.
func EstimateCompletion(r Run, h Historical, now time.Time) time.Time {
	if r.CompletedAt != nil {
		return *r.CompletedAt
	}
	if !Estimable(r) {
		return now
	}
	if r.StartedAt == nil || r.Progress <= 0 {
		return now.Add(h.AverageDuration)
	}
	elapsed := now.Sub(*r.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	total := time.Duration(float64(elapsed) * 100 / float64(r.Progress))
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	remaining += time.Duration(r.Ledger.Count()) * h.AverageReviewTime
	return now.Add(remaining)
}

// SampleFromRun converts a settled run into a history sample.
func SampleFromRun(r Run) Sample {
	s := Sample{
		Duration:      r.Metrics.Duration,
		ReviewTime:    r.Reviews.Total,
		ReviewCount:   r.Reviews.Count,
		StepDurations: make(map[string]time.Duration, len(r.Metrics.StepDurations)),
	}
	for k, v := range r.Metrics.StepDurations {
		s.StepDurations[k] = v
	}
	if r.CompletedAt != nil {
		s.CompletedAt = *r.CompletedAt
	} else {
		s.CompletedAt = r.UpdatedAt
	}
	return s
}

// ComputeMetrics derives the metrics snapshot from the run's tracker, ledger, and steps.
func ComputeMetrics(r Run, now time.Time) Metrics {
	insights := r.Tracker.CountByStatus(KindInsight)
	posts := r.Tracker.CountByStatus(KindPost)
	m := Metrics{
		InsightCount:     r.Tracker.Count(KindInsight),
		ApprovedInsights: insights[StatusApproved],
		RejectedInsights: insights[StatusRejected],
		PostCount:        r.Tracker.Count(KindPost),
		ApprovedPosts:    posts[StatusApproved],
		RejectedPosts:    posts[StatusRejected],
		FailedEntities:   insights[StatusFailed] + posts[StatusFailed],
		BlockingItems:    r.Ledger.Count(),
		CompletedSteps:   r.CompletedSteps(),
		TotalSteps:       len(r.Steps),
		StepDurations:    make(map[string]time.Duration),
		Reviews:          r.Reviews,
	}
	if r.StartedAt != nil {
		m.Duration = now.Sub(*r.StartedAt)
		if m.Duration < 0 {
			m.Duration = 0
		}
	}
	for _, s := range r.Steps {
		if s.StartedAt != nil && s.CompletedAt != nil {
			m.StepDurations[s.ID] = s.CompletedAt.Sub(*s.StartedAt)
		}
	}
	return m
}
