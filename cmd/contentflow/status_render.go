package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"contentflow/internal/api"
	"contentflow/internal/pipeline"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusKindLabel(kind), message)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// systemLines summarizes the daemon process and workflow state.
func systemLines(status api.DaemonStatus, colorize bool) []string {
	var lines []string
	if status.Running {
		detail := "Running"
		if status.PID > 0 {
			detail = fmt.Sprintf("Running (pid %d)", status.PID)
		}
		lines = append(lines, renderStatusLine("Contentflow", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Contentflow", statusWarn, "Not running (run `contentflow start`)", colorize))
	}
	if status.Workflow.Running {
		lines = append(lines, renderStatusLine("Workflow", statusOK, fmt.Sprintf("%d active runs", status.Workflow.ActiveRuns), colorize))
	} else {
		lines = append(lines, renderStatusLine("Workflow", statusInfo, "Idle", colorize))
	}
	if status.APIAddress != "" {
		lines = append(lines, renderStatusLine("HTTP API", statusOK, status.APIAddress, colorize))
	}
	if status.Workflow.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
	}
	return lines
}

func checkLines(checks []api.PreflightCheck, stages []api.StageHealth, colorize bool) []string {
	lines := make([]string, 0, len(checks)+len(stages))
	for _, c := range checks {
		kind := statusOK
		if !c.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(c.Name, kind, c.Detail, colorize))
	}
	for _, h := range stages {
		kind := statusOK
		detail := h.Detail
		if !h.Ready {
			kind = statusWarn
		}
		if detail == "" {
			detail = "Ready"
		}
		label := "Executor " + h.Name
		if h.Mode != "" {
			label += " (" + h.Mode + ")"
		}
		lines = append(lines, renderStatusLine(label, kind, detail, colorize))
	}
	return lines
}

// runStatsRows orders counts by pipeline state order, then any unknown keys.
func runStatsRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(stats))
	var rows [][]string
	for _, state := range pipeline.AllStates() {
		key := string(state)
		if count, ok := stats[key]; ok && count > 0 {
			rows = append(rows, []string{state.Label(), strconv.Itoa(count)})
		}
		seen[key] = true
	}
	var extra []string
	for key, count := range stats {
		if !seen[key] && count > 0 {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		rows = append(rows, []string{key, strconv.Itoa(stats[key])})
	}
	return rows
}
