package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/daemon"
	"contentflow/internal/ipc"
	"contentflow/internal/logging"
	"contentflow/internal/pipeline"
	"contentflow/internal/stage"
	"contentflow/internal/store"
	"contentflow/internal/templates"
	"contentflow/internal/workflow"
)

// PIDFileName is written inside paths.log_dir while the daemon runs.
const PIDFileName = "contentflow.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the contentflow daemon runtime loop and blocks until a signal
// or the command context ends it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, logging.LogFileName)},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "*.log*", cfg.Logging.RetentionDays, time.Now())
	logStageSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return err
	}

	tmpl, err := templates.Load(cfg.Paths.TemplatesFile)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("load templates: %w", err)
	}

	executors, err := BuildExecutors(cfg)
	if err != nil {
		_ = st.Close()
		return err
	}

	mgr := workflow.NewManager(cfg, st, tmpl, executors, logger)
	d, err := daemon.New(cfg, st, tmpl, logger, mgr)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			slog.String(logging.FieldErrorHint, "check configuration and run database access"),
			slog.String(logging.FieldImpact, "runs will not advance until `contentflow start` succeeds"),
		)
	}

	<-signalCtx.Done()
	logger.Info("contentflow daemon shutting down", slog.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// BuildExecutors registers an executor for every stage. Stages with a
// configured command run it; the rest wait for results reported over IPC.
func BuildExecutors(cfg *config.Config) (*stage.Registry, error) {
	registry := stage.NewRegistry()
	for _, s := range pipeline.Stages() {
		line := ""
		if cfg != nil {
			line = strings.TrimSpace(cfg.Stages.Command(s))
		}
		if line == "" {
			registry.Register(s, stage.Deferred{Name: string(s)})
			continue
		}
		cmd, err := stage.NewCommand(s, line)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", s, err)
		}
		registry.Register(s, cmd)
	}
	return registry, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStageSnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []slog.Attr{slog.String(logging.FieldEventType, "stage_snapshot")}
	for _, s := range pipeline.Stages() {
		mode := "deferred"
		if strings.TrimSpace(cfg.Stages.Command(s)) != "" {
			mode = "command"
		}
		attrs = append(attrs, slog.String(string(s), mode))
	}
	attrs = append(attrs,
		slog.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		slog.String("api_bind", cfg.API.Bind),
	)
	logger.Info("stage snapshot", logging.Args(attrs...)...)
}
