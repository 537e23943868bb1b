package ipc_test

import (
	"context"
	"strings"
	"testing"

	"contentflow/internal/daemon"
	"contentflow/internal/ipc"
	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/stage"
	"contentflow/internal/templates"
	"contentflow/internal/testsupport"
	"contentflow/internal/workflow"
)

func startServer(t *testing.T) *ipc.Client {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	tmpl, err := templates.Load(cfg.Paths.TemplatesFile)
	if err != nil {
		t.Fatalf("templates.Load: %v", err)
	}
	executors := stage.NewRegistry()
	for _, s := range pipeline.Stages() {
		executors.Register(s, stage.Deferred{Name: string(s)})
	}
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, st, tmpl, executors, logger)
	d, err := daemon.New(cfg, st, tmpl, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}
	return client
}

func expectState(t *testing.T, resp *ipc.RunResponse, err error, want pipeline.State) string {
	t.Helper()
	if err != nil {
		t.Fatalf("expected %s, got error: %v", want, err)
	}
	if resp.Run.State != string(want) {
		t.Fatalf("expected %s, got %s (%s)", want, resp.Run.State, resp.Run.LastError)
	}
	return resp.Run.ID
}

func TestIPCDrivesRunToCompletion(t *testing.T) {
	client := startServer(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Status.Running || len(status.Status.Workflow.StageHealth) != 4 {
		t.Fatalf("unexpected status: %+v", status.Status)
	}

	resp, err := client.StartRun(ipc.RunStartRequest{TranscriptID: "ep-42"})
	runID := expectState(t, resp, err, pipeline.StateCleaningTranscript)

	resp, err = client.ReportStage(ipc.StageReportRequest{RunID: runID, Stage: "clean", Succeeded: true, OutputIDs: []string{"clean-42"}})
	expectState(t, resp, err, pipeline.StateExtractingInsights)

	resp, err = client.Progress(ipc.ProgressRequest{RunID: runID, Percent: 40, Message: "reading"})
	expectState(t, resp, err, pipeline.StateExtractingInsights)

	resp, err = client.ReportStage(ipc.StageReportRequest{RunID: runID, Stage: "extract", Succeeded: true, OutputIDs: []string{"i1", "i2"}})
	expectState(t, resp, err, pipeline.StateReviewingInsights)
	if resp.Run.BlockingCount != 2 {
		t.Fatalf("expected two blocking items, got %d", resp.Run.BlockingCount)
	}

	if _, err := client.Review(ipc.ReviewRequest{RunID: runID, EntityID: "i1", Decision: "maybe"}); err == nil {
		t.Fatal("expected unknown decision to be rejected")
	}

	resp, err = client.ReviewAll(ipc.ReviewAllRequest{RunID: runID, Decision: "approve", Reviewer: "editor"})
	expectState(t, resp, err, pipeline.StateGeneratingPosts)

	if _, err := client.ReportStage(ipc.StageReportRequest{RunID: runID, Stage: "generate", Succeeded: true, SourceID: "i1", OutputIDs: []string{"p1"}}); err != nil {
		t.Fatalf("generate i1 failed: %v", err)
	}
	resp, err = client.ReportStage(ipc.StageReportRequest{RunID: runID, Stage: "generate", Succeeded: true, SourceID: "i2", OutputIDs: []string{"p2"}})
	expectState(t, resp, err, pipeline.StateReviewingPosts)

	resp, err = client.Review(ipc.ReviewRequest{RunID: runID, EntityID: "p1", Decision: "approve", Reviewer: "editor"})
	expectState(t, resp, err, pipeline.StateReviewingPosts)
	resp, err = client.ReviewAll(ipc.ReviewAllRequest{RunID: runID, Kind: "post", Decision: "approve"})
	expectState(t, resp, err, pipeline.StateReadyToSchedule)

	resp, err = client.Schedule(runID)
	expectState(t, resp, err, pipeline.StateScheduling)
	resp, err = client.ReportStage(ipc.StageReportRequest{RunID: runID, Stage: "schedule", Succeeded: true, OutputIDs: []string{"s1", "s2"}})
	expectState(t, resp, err, pipeline.StateCompleted)
	if len(resp.Run.ScheduleIDs) != 2 || resp.Run.Progress != 100 {
		t.Fatalf("unexpected completed run: %+v", resp.Run)
	}

	show, err := client.ShowRun(runID)
	if err != nil {
		t.Fatalf("ShowRun failed: %v", err)
	}
	if show.Run.ApprovedPosts != 2 || len(show.Run.Entities) != 4 {
		t.Fatalf("unexpected detail: %+v", show.Run)
	}

	events, err := client.Events(runID, 0)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	var rejected int
	for _, ev := range events.Events {
		if !ev.Applied {
			rejected++
		}
	}
	if len(events.Events) == 0 || events.Events[0].Event != "start" || rejected != 0 {
		t.Fatalf("unexpected journal: %+v", events.Events)
	}

	list, err := client.ListRuns(ipc.RunListRequest{States: []string{"completed"}})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != runID {
		t.Fatalf("unexpected list: %+v", list.Runs)
	}

	pruned, err := client.Prune()
	if err != nil || pruned.Removed != 1 {
		t.Fatalf("expected one pruned run, got %+v (%v)", pruned, err)
	}
}

func TestIPCLifecycleControls(t *testing.T) {
	client := startServer(t)

	resp, err := client.StartRun(ipc.RunStartRequest{TranscriptID: "ep-7", Template: pipeline.TemplateFastTrack})
	runID := expectState(t, resp, err, pipeline.StateCleaningTranscript)

	resp, err = client.Pause(runID)
	expectState(t, resp, err, pipeline.StatePaused)
	resp, err = client.Resume(runID)
	expectState(t, resp, err, pipeline.StateCleaningTranscript)

	resp, err = client.ReportStage(ipc.StageReportRequest{RunID: runID, Stage: "clean", Error: "cleaner crashed"})
	expectState(t, resp, err, pipeline.StateFailed)
	if !resp.Run.Retryable {
		t.Fatalf("expected failed run to be retryable: %+v", resp.Run)
	}
	resp, err = client.Retry(runID)
	expectState(t, resp, err, pipeline.StateCleaningTranscript)

	resp, err = client.Cancel(runID, "no longer needed")
	expectState(t, resp, err, pipeline.StateCancelled)

	if _, err := client.Resume(runID); err == nil {
		t.Fatal("expected resume of cancelled run to fail")
	}
	if _, err := client.ReviewAll(ipc.ReviewAllRequest{RunID: runID, Decision: "approve"}); err == nil {
		t.Fatal("expected review all without a review state to fail")
	}
	if _, err := client.ShowRun("missing"); err == nil {
		t.Fatal("expected unknown run to fail")
	}
}

func TestIPCTemplatesAndRecommend(t *testing.T) {
	client := startServer(t)

	tmpl, err := client.Templates()
	if err != nil {
		t.Fatalf("Templates failed: %v", err)
	}
	var sawFastTrack bool
	for _, tpl := range tmpl.Templates {
		if tpl.Name == pipeline.TemplateFastTrack {
			sawFastTrack = true
			if tpl.Title != "Fast Track" {
				t.Fatalf("unexpected title %q", tpl.Title)
			}
		}
	}
	if !sawFastTrack {
		t.Fatalf("expected fast_track template, got %+v", tmpl.Templates)
	}

	rec, err := client.Recommend(ipc.RecommendRequest{ContentLength: 800, SourceType: "Weekly podcast"})
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if rec.Template != pipeline.TemplatePodcast {
		t.Fatalf("expected podcast, got %s", rec.Template)
	}
	if _, err := client.Recommend(ipc.RecommendRequest{Urgency: "asap"}); err == nil {
		t.Fatal("expected unknown urgency to fail")
	}

	note, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if note.Sent {
		t.Fatal("expected no notification without a topic")
	}
}
