package services_test

import (
	"context"
	"testing"

	"contentflow/internal/services"
)

func TestScopeMergesFields(t *testing.T) {
	ctx := services.WithRunID(context.Background(), "run-42")
	ctx = services.WithScope(ctx, services.Scope{Stage: "extract", CorrelationID: "corr-1"})

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-42" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "extract" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if id, ok := services.CorrelationIDFromContext(ctx); !ok || id != "corr-1" {
		t.Fatalf("unexpected correlation id: %v %v", id, ok)
	}

	ctx = services.WithScope(ctx, services.Scope{Stage: "generate"})
	if got := services.ScopeFromContext(ctx); got.RunID != "run-42" || got.Stage != "generate" {
		t.Fatalf("expected stage override to keep run id: %+v", got)
	}
}

func TestBlankScopeLeavesContextAlone(t *testing.T) {
	base := context.Background()
	if ctx := services.WithScope(base, services.Scope{}); ctx != base {
		t.Fatal("expected blank scope to return the original context")
	}
	if _, ok := services.RunIDFromContext(services.WithRunID(base, "")); ok {
		t.Fatal("expected no run id value")
	}
	if got := services.ScopeFromContext(nil); got != (services.Scope{}) {
		t.Fatalf("expected zero scope from nil context, got %+v", got)
	}
}
