package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"contentflow/internal/api"
	"contentflow/internal/daemon"
	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/services"
	"contentflow/internal/store"
	"contentflow/internal/workflow"
)

// ServiceName is the RPC service name the daemon registers.
const ServiceName = "Contentflow"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", slog.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					slog.String(logging.FieldImpact, "IPC clients may fail to connect"),
					slog.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			slog.String("socket", s.path),
			logging.Error(err),
			slog.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			slog.String(logging.FieldErrorHint, "remove the socket file manually or rerun contentflow stop"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", slog.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", slog.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = daemon.DaemonStatusDTO(s.daemon.Status(s.ctx))
	return nil
}

func (s *service) StartRun(req RunStartRequest, resp *RunResponse) error {
	run, err := s.daemon.StartRun(s.ctx, workflow.StartRequest{
		TranscriptID: req.TranscriptID,
		Template:     req.Template,
		Overrides:    req.Overrides,
	})
	if err != nil {
		return err
	}
	resp.Run = api.FromRunDetail(run, time.Time{})
	return nil
}

func (s *service) Pause(req RunRequest, resp *RunResponse) error {
	return s.submit(req.RunID, pipeline.Pause{}, resp)
}

func (s *service) Resume(req RunRequest, resp *RunResponse) error {
	return s.submit(req.RunID, pipeline.Resume{}, resp)
}

func (s *service) Cancel(req RunRequest, resp *RunResponse) error {
	return s.submit(req.RunID, pipeline.Cancel{Reason: strings.TrimSpace(req.Reason)}, resp)
}

func (s *service) Retry(req RunRequest, resp *RunResponse) error {
	return s.submit(req.RunID, pipeline.Retry{}, resp)
}

func (s *service) Schedule(req RunRequest, resp *RunResponse) error {
	return s.submit(req.RunID, pipeline.StartScheduling{}, resp)
}

func (s *service) Review(req ReviewRequest, resp *RunResponse) error {
	decision, ok := pipeline.ParseDecision(req.Decision)
	if !ok {
		return invalid("review", fmt.Sprintf("unknown decision %q", req.Decision))
	}
	id := strings.TrimSpace(req.EntityID)
	if id == "" {
		return invalid("review", "entity id is required")
	}
	return s.submit(req.RunID, pipeline.EntityReviewed{ID: id, Decision: decision, Reviewer: strings.TrimSpace(req.Reviewer)}, resp)
}

func (s *service) ReviewAll(req ReviewAllRequest, resp *RunResponse) error {
	decision, ok := pipeline.ParseDecision(req.Decision)
	if !ok {
		return invalid("review all", fmt.Sprintf("unknown decision %q", req.Decision))
	}
	kind, err := s.reviewKind(req.RunID, req.Kind)
	if err != nil {
		return err
	}
	return s.submit(req.RunID, pipeline.AllReviewed{Kind: kind, Decision: decision, Reviewer: strings.TrimSpace(req.Reviewer)}, resp)
}

// reviewKind parses kind, or infers it from the review state the run is in.
func (s *service) reviewKind(runID, kind string) (pipeline.Kind, error) {
	if strings.TrimSpace(kind) != "" {
		parsed, ok := pipeline.ParseKind(kind)
		if !ok {
			return "", invalid("review all", fmt.Sprintf("unknown kind %q", kind))
		}
		return parsed, nil
	}
	run, err := s.daemon.Snapshot(s.ctx, runID)
	if err != nil {
		return "", err
	}
	switch run.State {
	case pipeline.StateReviewingInsights:
		return pipeline.KindInsight, nil
	case pipeline.StateReviewingPosts:
		return pipeline.KindPost, nil
	default:
		return "", invalid("review all", fmt.Sprintf("run %s is %s; pass a kind explicitly", run.ID, run.State))
	}
}

func (s *service) ReportStage(req StageReportRequest, resp *RunResponse) error {
	st, ok := pipeline.ParseStage(req.Stage)
	if !ok {
		return invalid("report stage", fmt.Sprintf("unknown stage %q", req.Stage))
	}
	var ev pipeline.Event
	if req.Succeeded {
		ev = pipeline.StageSucceeded{Stage: st, OutputIDs: req.OutputIDs, SourceID: strings.TrimSpace(req.SourceID)}
	} else {
		message := strings.TrimSpace(req.Error)
		if message == "" {
			message = "reported failed"
		}
		ev = pipeline.StageFailed{Stage: st, SourceID: strings.TrimSpace(req.SourceID), Error: message}
	}
	return s.submit(req.RunID, ev, resp)
}

func (s *service) Progress(req ProgressRequest, resp *RunResponse) error {
	return s.submit(req.RunID, pipeline.ProgressUpdate{Percent: req.Percent, Message: strings.TrimSpace(req.Message)}, resp)
}

func (s *service) submit(runID string, ev pipeline.Event, resp *RunResponse) error {
	run, err := s.daemon.Submit(s.ctx, runID, ev)
	if err != nil {
		return err
	}
	resp.Run = api.FromRunDetail(run, time.Time{})
	return nil
}

func (s *service) ListRuns(req RunListRequest, resp *RunListResponse) error {
	filter := store.Filter{
		TranscriptID: strings.TrimSpace(req.TranscriptID),
		Template:     strings.TrimSpace(req.Template),
		Blocked:      req.Blocked,
		Limit:        req.Limit,
	}
	for _, value := range req.States {
		state, ok := pipeline.ParseState(value)
		if !ok {
			return invalid("list runs", fmt.Sprintf("unknown state %q", value))
		}
		filter.States = append(filter.States, state)
	}
	runs, err := s.daemon.ListRuns(s.ctx, filter)
	if err != nil {
		return err
	}
	resp.Runs = api.FromRuns(runs)
	return nil
}

func (s *service) ShowRun(req RunRequest, resp *RunResponse) error {
	detail, err := s.daemon.ShowRun(s.ctx, req.RunID)
	if err != nil {
		return err
	}
	resp.Run = api.FromRunDetail(detail.Run, detail.Estimate.Completion)
	return nil
}

func (s *service) Events(req RunEventsRequest, resp *RunEventsResponse) error {
	records, err := s.daemon.Events(s.ctx, req.RunID, req.Limit)
	if err != nil {
		return err
	}
	resp.Events = api.FromEvents(records)
	return nil
}

func (s *service) Estimate(req RunRequest, resp *EstimateResponse) error {
	est, err := s.daemon.Estimate(s.ctx, req.RunID)
	if err != nil {
		return err
	}
	resp.RunID = est.RunID
	if !est.Completion.IsZero() {
		resp.Completion = est.Completion.UTC().Format(time.RFC3339)
	}
	resp.RemainingSeconds = est.Remaining.Seconds()
	resp.Estimable = est.Estimable
	resp.SampleSize = est.History.SampleSize
	resp.AverageSeconds = est.History.AverageDuration.Seconds()
	return nil
}

func (s *service) Prune(_ PruneRequest, resp *PruneResponse) error {
	removed, err := s.daemon.Prune(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) Templates(_ TemplateListRequest, resp *TemplateListResponse) error {
	base := s.daemon.DefaultOptions()
	for _, t := range s.daemon.Templates() {
		resp.Templates = append(resp.Templates, api.FromTemplate(t, base))
	}
	return nil
}

func (s *service) Recommend(req RecommendRequest, resp *RecommendResponse) error {
	urgency, ok := pipeline.ParseUrgency(req.Urgency)
	if !ok {
		return invalid("recommend", fmt.Sprintf("unknown urgency %q", req.Urgency))
	}
	if req.ContentLength < 0 {
		return invalid("recommend", "content length must be >= 0")
	}
	resp.Template = s.daemon.RecommendTemplate(req.ContentLength, req.SourceType, urgency)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	if err != nil {
		s.logger.Warn("test notification failed", logging.Error(err))
		resp.Message = fmt.Sprintf("%s: %v", message, err)
	}
	return nil
}

func invalid(operation, message string) error {
	return services.Wrap(services.ErrValidation, "ipc", operation, message, nil)
}
