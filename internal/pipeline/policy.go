package pipeline

import "strings"

// Policy answers stage decisions from a run's options and template.
type Policy struct {
	Options  Options
	Template string
}

// PolicyFor builds the policy for a run.
func PolicyFor(r Run) Policy {
	return Policy{Options: r.Options, Template: r.Template}
}

// ShouldAutoApprove reports whether the review stage for kind resolves without a human.
func (p Policy) ShouldAutoApprove(kind Kind) bool {
	if p.Options.AutoApprove {
		return true
	}
	switch kind {
	case KindInsight:
		return p.Options.SkipInsightReview
	case KindPost:
		return p.Options.SkipPostReview
	default:
		return false
	}
}

// CanRetry reports whether another retry fits in the run's budget.
func (p Policy) CanRetry(retryCount int) bool {
	return CanRetry(retryCount, p.Options.MaxRetries)
}

// CanRetry reports whether retryCount is still below maxRetries.
func CanRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}

// Urgency is the caller's time pressure when picking a template.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency converts a string into an Urgency. Blank input is normal urgency.
func ParseUrgency(value string) (Urgency, bool) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(value))); u {
	case "":
		return UrgencyNormal, true
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
		return u, true
	default:
		return "", false
	}
}

// Thresholds are the content length cut-offs (in characters) for template selection.
type Thresholds struct {
	ShortContentChars int
	LongContentChars  int
}

// DefaultThresholds are used when no thresholds are configured.
var DefaultThresholds = Thresholds{ShortContentChars: 5000, LongContentChars: 50000}

var sourceTemplates = []struct {
	keywords []string
	template string
}{
	{keywords: []string{"podcast", "episode"}, template: TemplatePodcast},
	{keywords: []string{"interview", "q&a"}, template: TemplateInterview},
	{keywords: []string{"meeting", "webinar", "call", "standup"}, template: TemplateMeeting},
}

// RecommendTemplate picks a template: high urgency wins, then a source type
// keyword match, then content length.
func RecommendTemplate(contentLength int, sourceType string, urgency Urgency, th Thresholds) string {
	if urgency == UrgencyHigh {
		return TemplateFastTrack
	}
	source := strings.ToLower(strings.TrimSpace(sourceType))
	if source != "" {
		for _, entry := range sourceTemplates {
			for _, kw := range entry.keywords {
				if strings.Contains(source, kw) {
					return entry.template
				}
			}
		}
	}
	if th.ShortContentChars <= 0 && th.LongContentChars <= 0 {
		th = DefaultThresholds
	}
	switch {
	case th.LongContentChars > 0 && contentLength >= th.LongContentChars:
		return TemplateLongForm
	case th.ShortContentChars > 0 && contentLength < th.ShortContentChars:
		return TemplateShortForm
	default:
		return TemplateStandard
	}
}
