package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/pipeline"
)

const userAgent = "contentflow/0.1"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyRunBlocked(ctx context.Context, s pipeline.Summary) error
	NotifyRunCompleted(ctx context.Context, s pipeline.Summary) error
	NotifyRunPartial(ctx context.Context, s pipeline.Summary) error
	NotifyRunFailed(ctx context.Context, s pipeline.Summary) error
	NotifyRunCancelled(ctx context.Context, s pipeline.Summary) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		blocked:   cfg.Notifications.Blocked,
		completed: cfg.Notifications.Completed,
		failed:    cfg.Notifications.Failed,
		cancelled: cfg.Notifications.Cancelled,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	blocked   bool
	completed bool
	failed    bool
	cancelled bool
}

func runLabel(s pipeline.Summary) string {
	if s.TranscriptID != "" {
		return fmt.Sprintf("%s (%s)", s.RunID, s.TranscriptID)
	}
	return s.RunID
}

func (n *ntfyService) NotifyRunBlocked(ctx context.Context, s pipeline.Summary) error {
	if !n.blocked || s.BlockingCount == 0 {
		return nil
	}
	noun := "items"
	if s.BlockingCount == 1 {
		noun = "item"
	}
	data := payload{
		title:   "contentflow - Review Needed",
		message: fmt.Sprintf("%s is waiting on %d %s: %s", runLabel(s), s.BlockingCount, noun, s.Label),
		tags:    []string{"contentflow", "review", string(s.State)},
	}
	if s.BlockingByPriority[pipeline.PriorityUrgent] > 0 {
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, s pipeline.Summary) error {
	if !n.completed {
		return nil
	}
	data := payload{
		title:   "contentflow - Complete",
		message: fmt.Sprintf("%s scheduled %d posts from %d approved insights", runLabel(s), s.ApprovedPosts, s.ApprovedInsights),
		tags:    []string{"contentflow", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunPartial(ctx context.Context, s pipeline.Summary) error {
	if !n.completed {
		return nil
	}
	reason := s.Reason
	if reason == "" {
		reason = "nothing left to publish"
	}
	data := payload{
		title:   "contentflow - Partially Complete",
		message: fmt.Sprintf("%s stopped early: %s", runLabel(s), reason),
		tags:    []string{"contentflow", "run", "partial"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, s pipeline.Summary) error {
	if !n.failed {
		return nil
	}
	var b strings.Builder
	b.WriteString(runLabel(s))
	b.WriteString(" failed")
	if msg := strings.TrimSpace(s.LastError); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if s.Retryable {
		fmt.Fprintf(&b, "\n%d retries remaining", s.RetriesRemaining)
	} else {
		b.WriteString("\nNo retries remaining; manual intervention required")
	}
	data := payload{
		title:    "contentflow - Failed",
		message:  b.String(),
		tags:     []string{"contentflow", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCancelled(ctx context.Context, s pipeline.Summary) error {
	if !n.cancelled {
		return nil
	}
	message := fmt.Sprintf("%s cancelled", runLabel(s))
	if s.Reason != "" {
		message += ": " + s.Reason
	}
	data := payload{
		title:   "contentflow - Cancelled",
		message: message,
		tags:    []string{"contentflow", "run", "cancelled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "contentflow - Test",
		message:  "Notification system test",
		tags:     []string{"contentflow", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunBlocked(context.Context, pipeline.Summary) error   { return nil }
func (noopService) NotifyRunCompleted(context.Context, pipeline.Summary) error { return nil }
func (noopService) NotifyRunPartial(context.Context, pipeline.Summary) error   { return nil }
func (noopService) NotifyRunFailed(context.Context, pipeline.Summary) error    { return nil }
func (noopService) NotifyRunCancelled(context.Context, pipeline.Summary) error { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }
