package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"contentflow/internal/pipeline"
	"contentflow/internal/services"
)

// Registry maps pipeline stages to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[pipeline.Stage]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[pipeline.Stage]Executor)}
}

// Register binds exec to stage, replacing any previous executor.
func (r *Registry) Register(stage pipeline.Stage, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[stage] = exec
}

// Get returns the executor for stage.
func (r *Registry) Get(stage pipeline.Stage) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[stage]
	if !ok || exec == nil {
		return nil, services.Wrap(services.ErrConfiguration, string(stage), "lookup executor", "no executor registered", nil)
	}
	return exec, nil
}

// Health checks every registered executor, ordered by stage name.
func (r *Registry) Health(ctx context.Context) []Health {
	r.mu.RLock()
	stages := make([]pipeline.Stage, 0, len(r.executors))
	for s := range r.executors {
		stages = append(stages, s)
	}
	r.mu.RUnlock()
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	out := make([]Health, 0, len(stages))
	for _, s := range stages {
		exec, err := r.Get(s)
		if err != nil {
			continue
		}
		h := exec.HealthCheck(ctx)
		h.Name = string(s)
		out = append(out, h)
	}
	return out
}

// NormalizeOutputs trims ids and drops blanks and duplicates, keeping order.
func NormalizeOutputs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// FailureMessage renders err for a StageFailed event, prefixed with its kind.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	kind, _ := services.Details(err)
	return fmt.Sprintf("%s: %v", kind, err)
}
