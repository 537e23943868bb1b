package stage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"contentflow/internal/pipeline"
	"contentflow/internal/services"
)

// Environment variables passed to stage commands.
const (
	EnvRunID   = "CONTENTFLOW_RUN_ID"
	EnvStage   = "CONTENTFLOW_STAGE"
	EnvOptions = "CONTENTFLOW_OPTIONS"
)

// progressPrefix marks a stdout line as a progress report: "progress: 40 cleaning".
const progressPrefix = "progress:"

// Command executes a stage by running an external program. Input ids are
// written to stdin one per line; every other non-blank stdout line is an
// output id.
type Command struct {
	Stage pipeline.Stage
	Path  string
	Args  []string
}

// NewCommand splits a configured command line into a Command.
func NewCommand(stage pipeline.Stage, commandLine string) (Command, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return Command{}, services.Wrap(services.ErrConfiguration, string(stage), "configure command", "command is empty", nil)
	}
	return Command{Stage: stage, Path: fields[0], Args: fields[1:]}, nil
}

// Execute runs the command and parses its output.
func (c Command) Execute(ctx context.Context, req Request) (Result, error) {
	opts, err := json.Marshal(req.Options)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, string(c.Stage), "encode options", "", err)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(),
		EnvRunID+"="+req.RunID,
		EnvStage+"="+string(req.Stage),
		EnvOptions+"="+string(opts),
	)
	cmd.Stdin = strings.NewReader(strings.Join(req.InputIDs, "\n") + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, string(c.Stage), "open stdout", c.Path, err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, string(c.Stage), "start command", c.Path, err)
	}

	var outputs []string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if percent, message, ok := parseProgress(line); ok {
			req.ReportProgress(percent, message)
			continue
		}
		outputs = append(outputs, line)
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = c.Path
		}
		return Result{}, services.Wrap(services.ErrExternalTool, string(c.Stage), "run command", detail, err)
	}
	if scanErr != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, string(c.Stage), "read output", c.Path, scanErr)
	}
	return Result{OutputIDs: NormalizeOutputs(outputs)}, nil
}

// HealthCheck reports whether the command can be found.
func (c Command) HealthCheck(context.Context) Health {
	if _, err := exec.LookPath(c.Path); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Unhealthy(string(c.Stage), ModeCommand, fmt.Sprintf("%s not found in PATH", c.Path))
		}
		return Unhealthy(string(c.Stage), ModeCommand, err.Error())
	}
	return Healthy(string(c.Stage), ModeCommand, c.Path)
}

func parseProgress(line string) (int, string, bool) {
	rest, ok := strings.CutPrefix(line, progressPrefix)
	if !ok {
		return 0, "", false
	}
	fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	percent, err := strconv.Atoi(strings.TrimSuffix(fields[0], "%"))
	if err != nil {
		return 0, "", false
	}
	message := ""
	if len(fields) == 2 {
		message = strings.TrimSpace(fields[1])
	}
	return percent, message, true
}
