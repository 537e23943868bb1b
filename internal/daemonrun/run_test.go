package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"contentflow/internal/pipeline"
	"contentflow/internal/stage"
	"contentflow/internal/testsupport"
)

func TestBuildExecutorsDefersBlankStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Stages.Clean = "/bin/cat --squeeze"

	registry, err := BuildExecutors(cfg)
	if err != nil {
		t.Fatalf("BuildExecutors: %v", err)
	}
	clean, err := registry.Get(pipeline.StageClean)
	if err != nil {
		t.Fatalf("Get clean: %v", err)
	}
	cmd, ok := clean.(stage.Command)
	if !ok {
		t.Fatalf("expected command executor for clean, got %T", clean)
	}
	if cmd.Path != "/bin/cat" || len(cmd.Args) != 1 || cmd.Args[0] != "--squeeze" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	for _, s := range []pipeline.Stage{pipeline.StageExtract, pipeline.StageGenerate, pipeline.StageSchedule} {
		exec, err := registry.Get(s)
		if err != nil {
			t.Fatalf("Get %s: %v", s, err)
		}
		if _, ok := exec.(stage.Deferred); !ok {
			t.Fatalf("expected deferred executor for %s, got %T", s, exec)
		}
	}
	if health := registry.Health(context.Background()); len(health) != 4 {
		t.Fatalf("expected health for four stages, got %d", len(health))
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), PIDFileName)
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Fatal("expected pid contents")
	}
	if err := writePIDFile(""); err != nil {
		t.Fatalf("blank path should be a no-op: %v", err)
	}
}
