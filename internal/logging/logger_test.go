package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/logging"
	"contentflow/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (*slog.Logger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := logging.New(logging.Options{Format: format, Level: level, OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "warn"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("filtered")
	logger.Warn("kept")

	content := readLog(t, filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if strings.Contains(content, "filtered") || !strings.Contains(content, "kept") {
		t.Fatalf("unexpected log content: %q", content)
	}
}

func TestConsoleLoggerFormatsComponentAndRun(t *testing.T) {
	logger, path := newFileLogger(t, "console", "info")
	logger = logging.NewComponentLogger(logger, "workflow")
	logger.Info("stage started", slog.String(logging.FieldRunID, "run-7"), slog.String("stage", "extract insights"))

	content := readLog(t, path)
	if !strings.Contains(content, "INFO workflow: stage started [run-7]") {
		t.Fatalf("expected component and run prefix, got %q", content)
	}
	if !strings.Contains(content, `stage="extract insights"`) {
		t.Fatalf("expected quoted value, got %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no source location at info level, got %q", content)
	}
}

func TestConsoleLoggerFlattensGroups(t *testing.T) {
	logger, path := newFileLogger(t, "console", "debug")
	logger.WithGroup("ledger").Debug("counts", slog.Int("open", 3))

	content := readLog(t, path)
	if !strings.Contains(content, "ledger.open=3") {
		t.Fatalf("expected grouped key, got %q", content)
	}
	if !strings.Contains(content, ".go:") {
		t.Fatalf("expected source location at debug level, got %q", content)
	}
}

func TestJSONLoggerUsesStableKeys(t *testing.T) {
	logger, path := newFileLogger(t, "json", "info")
	logger.Error("stage failed", logging.Args(logging.ErrorDetails(services.Wrap(services.ErrTimeout, "generate", "execute", "stalled", nil))...)...)

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "error" || entry["msg"] != "stage failed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key: %v", entry)
	}
	if entry[logging.FieldErrorKind] != "timeout" {
		t.Fatalf("expected timeout kind, got %v", entry[logging.FieldErrorKind])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestWithContextAddsRunFields(t *testing.T) {
	logger, path := newFileLogger(t, "json", "info")
	ctx := services.WithRunID(context.Background(), "run-9")
	ctx = services.WithScope(ctx, services.Scope{Stage: "clean", CorrelationID: "corr-7"})
	logging.WithContext(ctx, logger).Info("hello")

	content := readLog(t, path)
	if !strings.Contains(content, `"run_id":"run-9"`) || !strings.Contains(content, `"stage":"clean"`) || !strings.Contains(content, `"correlation_id":"corr-7"`) {
		t.Fatalf("expected context fields, got %q", content)
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	logger, path := newFileLogger(t, "json", "info")
	logging.WarnWithContext(logger, "notify failed", "notify_failed", slog.String(logging.FieldImpact, "no push sent"))

	content := readLog(t, path)
	for _, want := range []string{`"event_type":"notify_failed"`, `"error_hint":"check logs for details"`, `"impact":"no push sent"`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %s in %q", want, content)
		}
	}
}

func TestProgressSampler(t *testing.T) {
	s := logging.NewProgressSampler(25)
	steps := []struct {
		state   string
		percent int
		want    bool
	}{
		{"cleaning", 0, true},
		{"cleaning", 10, false},
		{"cleaning", 30, true},
		{"extracting", 30, true},
		{"extracting", 45, false},
		{"extracting", 100, true},
		{"extracting", 100, false},
	}
	for i, step := range steps {
		if got := s.ShouldLog("run-1", step.state, step.percent); got != step.want {
			t.Fatalf("step %d: got %v want %v", i, got, step.want)
		}
	}
	if !s.ShouldLog("run-2", "cleaning", 0) {
		t.Fatal("expected independent state per run")
	}
	s.Forget("run-1")
	if !s.ShouldLog("run-1", "extracting", 100) {
		t.Fatal("expected forgotten run to log again")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := now.AddDate(0, 0, -30)
	for _, name := range []string{"contentflow-1.log", "contentflow-2.log", logging.LogFileName, "notes.txt"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	fresh := filepath.Join(dir, "contentflow-3.log")
	if err := os.WriteFile(fresh, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), dir, "*.log", 14, now)
	if len(removed) != 2 {
		t.Fatalf("expected 2 pruned files, got %v", removed)
	}
	for _, keep := range []string{logging.LogFileName, "notes.txt", "contentflow-3.log"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Fatalf("expected %s kept: %v", keep, err)
		}
	}
	if got := logging.CleanupOldLogs(nil, dir, "*.log", 0, now); got != nil {
		t.Fatalf("expected disabled retention, got %v", got)
	}
}

func TestErrorAttrNil(t *testing.T) {
	if got := logging.Error(nil).Value.String(); got != "<nil>" {
		t.Fatalf("unexpected nil error attr %q", got)
	}
	if got := fmt.Sprint(logging.Error(errors.New("x")).Value.Any()); got != "x" {
		t.Fatalf("unexpected error attr %q", got)
	}
}
