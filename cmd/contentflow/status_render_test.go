package main

import (
	"strings"
	"testing"

	"contentflow/internal/api"
)

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("Workflow", statusOK, "Running", false)
	if !strings.Contains(line, "Workflow:") || !strings.Contains(line, "[OK] Running") {
		t.Fatalf("unexpected line %q", line)
	}
	colored := renderStatusLine("Workflow", statusError, "", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red coloring, got %q", colored)
	}
}

func TestRunStatsRowsFollowStateOrder(t *testing.T) {
	rows := runStatsRows(map[string]int{
		"completed":           2,
		"idle":                1,
		"reviewing_insights":  3,
		"legacy_state":        4,
		"partially_completed": 0,
	})
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %v", rows)
	}
	want := []string{"Idle", "Reviewing Insights", "Completed", "legacy_state"}
	for i, label := range want {
		if rows[i][0] != label {
			t.Fatalf("row %d: expected %s, got %v", i, label, rows[i])
		}
	}
	if runStatsRows(nil) != nil {
		t.Fatal("expected nil rows for empty stats")
	}
}

func TestSystemLines(t *testing.T) {
	lines := systemLines(api.DaemonStatus{Running: true, PID: 12, Workflow: api.WorkflowStatus{Running: true, ActiveRuns: 3, LastError: "boom"}}, false)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"Running (pid 12)", "3 active runs", "boom"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %s", want, joined)
		}
	}
}

func TestCheckLinesShowExecutorMode(t *testing.T) {
	lines := checkLines(
		[]api.PreflightCheck{{Name: "Templates", Passed: true, Detail: "7 templates"}},
		[]api.StageHealth{{Name: "clean", Mode: "command", Ready: false, Detail: "cleaner not found in PATH"}},
		false,
	)
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %v", lines)
	}
	if !strings.Contains(lines[1], "Executor clean (command)") || !strings.Contains(lines[1], "not found") {
		t.Fatalf("unexpected executor line: %q", lines[1])
	}
}
