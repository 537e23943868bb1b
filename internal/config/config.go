package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"contentflow/internal/pipeline"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	LogDir        string `toml:"log_dir"`
	TemplatesFile string `toml:"templates_file"`
	SocketPath    string `toml:"socket_path"`
}

// Pipeline contains the defaults every template falls back to.
type Pipeline struct {
	DefaultTemplate   string   `toml:"default_template"`
	MaxRetries        int      `toml:"max_retries"`
	EntityMaxRetries  int      `toml:"entity_max_retries"`
	AutoApprove       bool     `toml:"auto_approve"`
	SkipInsightReview bool     `toml:"skip_insight_review"`
	SkipPostReview    bool     `toml:"skip_post_review"`
	Platforms         []string `toml:"platforms"`
	Parallelism       int      `toml:"parallelism"`
}

// Policy contains template recommendation thresholds.
type Policy struct {
	ShortContentChars int `toml:"short_content_chars"`
	LongContentChars  int `toml:"long_content_chars"`
}

// Metrics contains estimation defaults used until enough history exists.
type Metrics struct {
	DefaultRunMinutes    int     `toml:"default_run_minutes"`
	DefaultReviewMinutes int     `toml:"default_review_minutes"`
	DefaultStepMinutes   int     `toml:"default_step_minutes"`
	HistoryLimit         int     `toml:"history_limit"`
	RecencyDecay         float64 `toml:"recency_decay"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	StageTimeout       int `toml:"stage_timeout"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MailboxSize        int `toml:"mailbox_size"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Blocked        bool   `toml:"blocked"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
	Cancelled      bool   `toml:"cancelled"`
}

// API contains the optional read-only HTTP status API.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Stages maps pipeline stages to external commands. A blank command leaves
// that stage's result to be reported through the CLI.
type Stages struct {
	Clean    string `toml:"clean"`
	Extract  string `toml:"extract"`
	Generate string `toml:"generate"`
	Schedule string `toml:"schedule"`
}

// Command returns the configured command for stage.
func (s Stages) Command(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageClean:
		return s.Clean
	case pipeline.StageExtract:
		return s.Extract
	case pipeline.StageGenerate:
		return s.Generate
	case pipeline.StageSchedule:
		return s.Schedule
	default:
		return ""
	}
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for contentflow.
//
// Configuration sections by subsystem:
//   - Paths: data, log, template, and socket locations
//   - Pipeline: per-run option defaults and the default template
//   - Policy: template recommendation thresholds
//   - Metrics: ETA defaults and history weighting
//   - Workflow: stage timeout, heartbeat, and mailbox sizing
//   - Stages: external commands executing each stage
//   - Notifications: ntfy push notification settings
//   - API: optional read-only HTTP status endpoint
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Policy        Policy        `toml:"policy"`
	Metrics       Metrics       `toml:"metrics"`
	Workflow      Workflow      `toml:"workflow"`
	Stages        Stages        `toml:"stages"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A .env file next to
// the configuration (or in the working directory) is loaded first so env
// fallbacks can come from it. The returned config has all path fields expanded.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if err := loadEnvFiles(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigFile)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadEnvFiles loads .env files without overriding variables already set.
func loadEnvFiles(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env")}
	if cwd, err := filepath.Abs(".env"); err == nil && cwd != candidates[0] {
		candidates = append(candidates, cwd)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load env file %s: %w", candidate, err)
		}
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Paths.SocketPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "contentflow.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "contentflow.lock")
}

// DefaultOptions converts the pipeline section into run options.
func (c *Config) DefaultOptions() pipeline.Options {
	return pipeline.Options{
		AutoApprove:       c.Pipeline.AutoApprove,
		SkipInsightReview: c.Pipeline.SkipInsightReview,
		SkipPostReview:    c.Pipeline.SkipPostReview,
		Platforms:         append([]string(nil), c.Pipeline.Platforms...),
		MaxRetries:        c.Pipeline.MaxRetries,
		EntityMaxRetries:  c.Pipeline.EntityMaxRetries,
		Parallelism:       c.Pipeline.Parallelism,
	}
}

// Thresholds returns the template recommendation thresholds.
func (c *Config) Thresholds() pipeline.Thresholds {
	return pipeline.Thresholds{
		ShortContentChars: c.Policy.ShortContentChars,
		LongContentChars:  c.Policy.LongContentChars,
	}
}

// EstimateDefaults returns the metrics fallbacks used when history is empty.
func (c *Config) EstimateDefaults() pipeline.Defaults {
	return pipeline.Defaults{
		RunDuration:  time.Duration(c.Metrics.DefaultRunMinutes) * time.Minute,
		ReviewTime:   time.Duration(c.Metrics.DefaultReviewMinutes) * time.Minute,
		StepDuration: time.Duration(c.Metrics.DefaultStepMinutes) * time.Minute,
		RecencyDecay: c.Metrics.RecencyDecay,
	}
}

// StageTimeout returns how long a stage may run before it is treated as stalled.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Workflow.StageTimeout) * time.Second
}

// HeartbeatInterval returns how often in-flight stages are stamped in the store.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// ErrorRetryInterval returns the delay before retrying a failed persistence call.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
