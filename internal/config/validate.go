package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.DefaultTemplate == "" {
		return errors.New("pipeline.default_template must be set")
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	if c.Pipeline.EntityMaxRetries < 0 {
		return errors.New("pipeline.entity_max_retries must be >= 0")
	}
	if c.Pipeline.Parallelism < 1 {
		return errors.New("pipeline.parallelism must be >= 1")
	}
	return nil
}

func (c *Config) validatePolicy() error {
	if c.Policy.ShortContentChars <= 0 {
		return errors.New("policy.short_content_chars must be positive")
	}
	if c.Policy.LongContentChars <= c.Policy.ShortContentChars {
		return errors.New("policy.long_content_chars must be greater than policy.short_content_chars")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if err := ensurePositiveMap(map[string]int{
		"metrics.default_run_minutes":    c.Metrics.DefaultRunMinutes,
		"metrics.default_review_minutes": c.Metrics.DefaultReviewMinutes,
		"metrics.default_step_minutes":   c.Metrics.DefaultStepMinutes,
		"metrics.history_limit":          c.Metrics.HistoryLimit,
	}); err != nil {
		return err
	}
	if c.Metrics.RecencyDecay <= 0 || c.Metrics.RecencyDecay > 1 {
		return errors.New("metrics.recency_decay must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"workflow.stage_timeout":        c.Workflow.StageTimeout,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.mailbox_size":         c.Workflow.MailboxSize,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.StageTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.stage_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q: %w", c.API.Bind, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

// ValidateTemplate reports whether name is usable as the default template
// given the known template names.
func ValidateTemplate(name string, known []string) error {
	for _, candidate := range known {
		if candidate == name {
			return nil
		}
	}
	return fmt.Errorf("pipeline.default_template %q is not a known template", name)
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
