package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"contentflow/internal/api"
	"contentflow/internal/config"
	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/store"
)

// runReader is the read-only slice of the daemon the HTTP API serves.
type runReader interface {
	Status(ctx context.Context) Status
	ListRuns(ctx context.Context, filter store.Filter) ([]pipeline.Run, error)
	ShowRun(ctx context.Context, runID string) (RunDetail, error)
	Events(ctx context.Context, runID string, limit int) ([]store.EventRecord, error)
}

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	runs   runReader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// newAPIServer returns nil when no bind address is configured.
func newAPIServer(cfg *config.Config, runs runReader, logger *slog.Logger) *apiServer {
	if cfg == nil || runs == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	return &apiServer{
		bind:   bind,
		token:  cfg.API.Token,
		logger: logging.NewComponentLogger(logger, "api-server"),
		runs:   runs,
	}
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleEvents)
	return authMiddleware(s.token, mux)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown failed", logging.Error(err))
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, DaemonStatusDTO(s.runs.Status(r.Context())))
}

func (s *apiServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: api.FromRuns(runs)})
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.runs.ShowRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromRunDetail(detail.Run, detail.Estimate.Completion)})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.runs.Events(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventListResponse{Events: api.FromEvents(records)})
}

func parseFilter(r *http.Request) (store.Filter, error) {
	query := r.URL.Query()
	var filter store.Filter
	for _, value := range query["state"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		state, ok := pipeline.ParseState(value)
		if !ok {
			return store.Filter{}, fmt.Errorf("unknown state %q", value)
		}
		filter.States = append(filter.States, state)
	}
	filter.TranscriptID = strings.TrimSpace(query.Get("transcript"))
	filter.Template = strings.TrimSpace(query.Get("template"))
	filter.Blocked = query.Get("blocked") == "1" || strings.EqualFold(query.Get("blocked"), "true")
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return store.Filter{}, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// DaemonStatusDTO converts daemon status into its wire form.
func DaemonStatusDTO(status Status) api.DaemonStatus {
	checks := make([]api.PreflightCheck, 0, len(status.Checks))
	for _, c := range status.Checks {
		checks = append(checks, api.PreflightCheck{Name: c.Name, Passed: c.Passed, Detail: c.Detail})
	}
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		SocketPath:   status.SocketPath,
		LogPath:      status.LogPath,
		APIAddress:   status.APIAddress,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Checks:       checks,
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Warn("api request failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
