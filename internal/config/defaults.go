package config

import "contentflow/internal/pipeline"

const (
	defaultConfigPath           = "~/.config/contentflow/config.toml"
	projectConfigFile           = "contentflow.toml"
	defaultDataDir              = "~/.local/share/contentflow"
	defaultLogDir               = "~/.local/share/contentflow/logs"
	defaultTemplatesFile        = "~/.config/contentflow/templates.yaml"
	defaultSocketName           = "contentflow.sock"
	defaultMaxRetries           = 3
	defaultEntityMaxRetries     = 2
	defaultParallelism          = 2
	defaultShortContentChars    = 5000
	defaultLongContentChars     = 50000
	defaultRunMinutes           = 30
	defaultReviewMinutes        = 5
	defaultStepMinutes          = 3
	defaultHistoryLimit         = 50
	defaultRecencyDecay         = 0.9
	defaultWorkflowStageTimeout = 900
	defaultWorkflowHeartbeat    = 15
	defaultWorkflowErrorRetry   = 5
	defaultWorkflowMailboxSize  = 64
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 14
	envNtfyTopic                = "CONTENTFLOW_NTFY_TOPIC"
	envLogLevel                 = "CONTENTFLOW_LOG_LEVEL"
	envAPIToken                 = "CONTENTFLOW_API_TOKEN"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			LogDir:        defaultLogDir,
			TemplatesFile: defaultTemplatesFile,
		},
		Pipeline: Pipeline{
			DefaultTemplate:  pipeline.TemplateStandard,
			MaxRetries:       defaultMaxRetries,
			EntityMaxRetries: defaultEntityMaxRetries,
			Parallelism:      defaultParallelism,
		},
		Policy: Policy{
			ShortContentChars: defaultShortContentChars,
			LongContentChars:  defaultLongContentChars,
		},
		Metrics: Metrics{
			DefaultRunMinutes:    defaultRunMinutes,
			DefaultReviewMinutes: defaultReviewMinutes,
			DefaultStepMinutes:   defaultStepMinutes,
			HistoryLimit:         defaultHistoryLimit,
			RecencyDecay:         defaultRecencyDecay,
		},
		Workflow: Workflow{
			StageTimeout:       defaultWorkflowStageTimeout,
			HeartbeatInterval:  defaultWorkflowHeartbeat,
			ErrorRetryInterval: defaultWorkflowErrorRetry,
			MailboxSize:        defaultWorkflowMailboxSize,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Blocked:        true,
			Completed:      true,
			Failed:         true,
			Cancelled:      false,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
