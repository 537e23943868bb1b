package logging

import "sync"

// ProgressSampler suppresses repetitive progress logs. It emits when a run
// changes state or its percentage crosses a bucket boundary.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize int
	runs       map[string]sample
}

type sample struct {
	state  string
	bucket int
}

// NewProgressSampler constructs a sampler with the given bucket width (default 10%).
func NewProgressSampler(bucketSize int) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, runs: make(map[string]sample)}
}

// ShouldLog reports whether a progress update for runID should be logged.
func (s *ProgressSampler) ShouldLog(runID, state string, percent int) bool {
	if s == nil {
		return true
	}
	if percent > 100 {
		percent = 100
	}
	bucket := percent / s.bucketSize
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.runs[runID]
	if ok && prev.state == state && bucket <= prev.bucket {
		return false
	}
	s.runs[runID] = sample{state: state, bucket: bucket}
	return true
}

// Forget drops sampler state for a finished run.
func (s *ProgressSampler) Forget(runID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}
