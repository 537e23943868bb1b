package testsupport

import (
	"context"
	"testing"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/pipeline"
	"contentflow/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustCreateRun stores a fresh idle run and returns it.
func MustCreateRun(t testing.TB, st *store.Store, id, transcriptID string, now time.Time) pipeline.Run {
	t.Helper()

	run := pipeline.NewRun(id, transcriptID, pipeline.TemplateStandard, now)
	if err := st.Create(context.Background(), run); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return run
}
