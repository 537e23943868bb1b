package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"contentflow/internal/config"
	"contentflow/internal/pipeline"
	"contentflow/internal/stage"
	"contentflow/internal/templates"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckTemplates verifies the template file parses and defines the default template.
func CheckTemplates(path, defaultTemplate string) Result {
	const name = "Templates"

	registry, err := templates.Load(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if defaultTemplate != "" {
		if err := config.ValidateTemplate(defaultTemplate, registry.Names()); err != nil {
			return Result{Name: name, Detail: err.Error()}
		}
	}
	source := "built-in"
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			source = path
		}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d templates (%s)", len(registry.Names()), source)}
}

// CheckStageCommand verifies a configured stage command resolves on PATH. A
// blank command passes because the stage result is reported externally.
func CheckStageCommand(ctx context.Context, st pipeline.Stage, commandLine string) Result {
	name := "Stage " + string(st)
	if strings.TrimSpace(commandLine) == "" {
		return Result{Name: name, Passed: true, Detail: "deferred (reported via CLI)"}
	}
	cmd, err := stage.NewCommand(st, commandLine)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	health := cmd.HealthCheck(ctx)
	return Result{Name: name, Passed: health.Ready, Detail: health.Detail}
}

// CheckNtfy verifies the ntfy server behind topicURL answers its health endpoint.
func CheckNtfy(ctx context.Context, topicURL string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topicURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url %q", topicURL)}
	}
	healthURL := (&url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/v1/health"}).String()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (server unreachable)"
	}
	return fmt.Sprintf("health check failed (%v)", err)
}
