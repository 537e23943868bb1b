package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"contentflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The socket lives in a short temp dir so it stays under the unix path limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	socketDir, err := os.MkdirTemp("", "cf")
	if err != nil {
		t.Fatalf("socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(socketDir) })

	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.TemplatesFile = filepath.Join(base, "templates.yaml")
	cfgVal.Paths.SocketPath = filepath.Join(socketDir, "cf.sock")
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithPipeline mutates the pipeline defaults on the test config.
func WithPipeline(fn func(*config.Pipeline)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Pipeline)
	}
}

// WithNtfyTopic points notifications at the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithStageTimeout overrides the stage timeout and heartbeat in seconds.
func WithStageTimeout(timeout, heartbeat int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.StageTimeout = timeout
		b.cfg.Workflow.HeartbeatInterval = heartbeat
	}
}

// WithTemplatesYAML writes a templates file into the test directory.
func WithTemplatesYAML(content string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.WriteFile(b.cfg.Paths.TemplatesFile, []byte(content), 0o644); err != nil {
			b.t.Fatalf("write templates: %v", err)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
