package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"contentflow/internal/api"
	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/store"
	"contentflow/internal/workflow"
)

type runReaderStub struct {
	runs       []pipeline.Run
	lastFilter store.Filter
	events     []store.EventRecord
}

func (s *runReaderStub) Status(context.Context) Status {
	return Status{Running: true, PID: 42, Workflow: workflow.StatusSummary{Running: true, RunStats: map[pipeline.State]int{pipeline.StateIdle: len(s.runs)}}}
}

func (s *runReaderStub) ListRuns(_ context.Context, filter store.Filter) ([]pipeline.Run, error) {
	s.lastFilter = filter
	return s.runs, nil
}

func (s *runReaderStub) ShowRun(_ context.Context, id string) (RunDetail, error) {
	for _, r := range s.runs {
		if r.ID == id {
			return RunDetail{Run: r}, nil
		}
	}
	return RunDetail{}, services.Wrap(services.ErrNotFound, "workflow", "load run", id, nil)
}

func (s *runReaderStub) Events(context.Context, string, int) ([]store.EventRecord, error) {
	return s.events, nil
}

func newTestAPIServer(stub *runReaderStub, token string) http.Handler {
	srv := &apiServer{token: token, logger: logging.NewNop(), runs: stub}
	return srv.handler()
}

func sampleRuns() []pipeline.Run {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return []pipeline.Run{pipeline.NewRun("run-1", "transcript-1", pipeline.TemplateStandard, created)}
}

func TestAPIServerListsRuns(t *testing.T) {
	stub := &runReaderStub{runs: sampleRuns()}
	handler := newTestAPIServer(stub, "")

	req := httptest.NewRequest(http.MethodGet, "/api/runs?state=idle&blocked=true&limit=5", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.RunListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Runs) != 1 || resp.Runs[0].TranscriptID != "transcript-1" {
		t.Fatalf("unexpected runs: %+v", resp.Runs)
	}
	if len(stub.lastFilter.States) != 1 || !stub.lastFilter.Blocked || stub.lastFilter.Limit != 5 {
		t.Fatalf("filter not parsed: %+v", stub.lastFilter)
	}
}

func TestAPIServerRejectsUnknownState(t *testing.T) {
	handler := newTestAPIServer(&runReaderStub{}, "")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?state=bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAPIServerRunDetailAndNotFound(t *testing.T) {
	handler := newTestAPIServer(&runReaderStub{runs: sampleRuns()}, "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.RunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Run.ID != "run-1" || len(resp.Run.Steps) != len(pipeline.StepNames()) {
		t.Fatalf("unexpected run detail: %+v", resp.Run)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPIServerEvents(t *testing.T) {
	stub := &runReaderStub{events: []store.EventRecord{{ID: 7, Event: "pause", Applied: true, StateAfter: pipeline.StatePaused}}}
	handler := newTestAPIServer(stub, "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.EventListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].StateAfter != "paused" {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
}

func TestAPIServerStatus(t *testing.T) {
	handler := newTestAPIServer(&runReaderStub{runs: sampleRuns()}, "")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var resp api.DaemonStatus
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Running || resp.PID != 42 || resp.Workflow.RunStats["idle"] != 1 {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestAPIServerRequiresToken(t *testing.T) {
	handler := newTestAPIServer(&runReaderStub{}, "secret")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestAPIServerRejectsWrites(t *testing.T) {
	handler := newTestAPIServer(&runReaderStub{}, "")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
