package stage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/stage"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCommandExecutorParsesOutputsAndProgress(t *testing.T) {
	script := writeScript(t, `echo "progress: 40% halfway there"
while read -r id; do
  [ -n "$id" ] && echo "$CONTENTFLOW_STAGE-$id"
done
echo "$CONTENTFLOW_RUN_ID"
`)
	cmd, err := stage.NewCommand(pipeline.StageGenerate, "sh "+script)
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	var progress []string
	res, err := cmd.Execute(context.Background(), stage.Request{
		RunID:    "run-1",
		Stage:    pipeline.StageGenerate,
		InputIDs: []string{"i1", "i2"},
		Progress: func(percent int, message string) {
			progress = append(progress, strings.TrimSpace(message))
			if percent != 40 {
				t.Errorf("unexpected percent %d", percent)
			}
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"generate-i1", "generate-i2", "run-1"}
	if !reflect.DeepEqual(res.OutputIDs, want) {
		t.Fatalf("outputs = %v, want %v", res.OutputIDs, want)
	}
	if len(progress) != 1 || progress[0] != "halfway there" {
		t.Fatalf("unexpected progress reports %v", progress)
	}
}

func TestCommandExecutorReportsFailures(t *testing.T) {
	script := writeScript(t, "echo 'model quota exceeded' >&2\nexit 3\n")
	cmd, err := stage.NewCommand(pipeline.StageExtract, "sh "+script)
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	_, err = cmd.Execute(context.Background(), stage.Request{RunID: "run-1", Stage: pipeline.StageExtract})
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "model quota exceeded") {
		t.Fatalf("expected external tool error with stderr, got %v", err)
	}
}

func TestNewCommandAndHealth(t *testing.T) {
	if _, err := stage.NewCommand(pipeline.StageClean, "   "); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	missing, err := stage.NewCommand(pipeline.StageClean, "contentflow-no-such-binary --flag")
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if h := missing.HealthCheck(context.Background()); h.Ready || !strings.Contains(h.Detail, "not found") {
		t.Fatalf("expected unhealthy missing binary, got %+v", h)
	}
	present, _ := stage.NewCommand(pipeline.StageClean, "sh -c true")
	if h := present.HealthCheck(context.Background()); !h.Ready || h.Name != "clean" {
		t.Fatalf("expected ready sh, got %+v", h)
	}
}
