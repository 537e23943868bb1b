package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Details returns the marker kind of err and an operator hint.
func Details(err error) (kind string, hint string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, ErrValidation):
		return "validation", "check the event payload or entity ids"
	case errors.Is(err, ErrConfiguration):
		return "configuration", "check config.toml and the template definitions"
	case errors.Is(err, ErrNotFound):
		return "not_found", "the run or entity no longer exists"
	case errors.Is(err, ErrTimeout):
		return "timeout", "stage executor stalled; retry or raise workflow.stage_timeout"
	case errors.Is(err, ErrExternalTool):
		return "external", "stage executor failed; inspect its logs"
	default:
		return "transient", "retry the run"
	}
}

// IsRetryable reports whether a failure is worth retrying without operator changes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
