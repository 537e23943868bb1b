package services_test

import (
	"errors"
	"strings"
	"testing"

	"contentflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "generate", "draft", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generate", "draft", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestDetailsAndRetryable(t *testing.T) {
	cases := []struct {
		err       error
		kind      string
		retryable bool
	}{
		{services.Wrap(services.ErrValidation, "review", "decode", "invalid", nil), "validation", false},
		{services.Wrap(services.ErrTimeout, "extract", "execute", "stalled", nil), "timeout", true},
		{services.Wrap(services.ErrTransient, "clean", "copy", "copy failed", errors.New("io")), "transient", true},
		{errors.New("plain"), "transient", true},
	}
	for _, tc := range cases {
		kind, hint := services.Details(tc.err)
		if kind != tc.kind || hint == "" {
			t.Fatalf("Details(%v) = %q, %q; want kind %q", tc.err, kind, hint, tc.kind)
		}
		if got := services.IsRetryable(tc.err); got != tc.retryable {
			t.Fatalf("IsRetryable(%v) = %v", tc.err, got)
		}
	}
	if kind, _ := services.Details(nil); kind != "" || services.IsRetryable(nil) {
		t.Fatal("expected nil error to classify as nothing")
	}
}
