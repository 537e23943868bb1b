package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityRecord tracks the processing state of one insight or post.
type EntityRecord struct {
	ID          string       `json:"id"`
	RunID       string       `json:"run_id"`
	Kind        Kind         `json:"kind"`
	Status      EntityStatus `json:"status"`
	SourceID    string       `json:"source_id,omitempty"`
	RetryCount  int          `json:"retry_count"`
	Error       string       `json:"error,omitempty"`
	Reviewer    string       `json:"reviewer,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

type entityKey struct {
	kind Kind
	id   string
}

// Tracker owns the entity records of a single run. All status changes go
// through Transition so the monotonic order is enforced in one place.
type Tracker struct {
	runID   string
	records map[entityKey]*EntityRecord
	order   []entityKey
}

// NewTracker returns an empty tracker bound to a run.
func NewTracker(runID string) Tracker {
	return Tracker{runID: runID, records: make(map[entityKey]*EntityRecord)}
}

// RegisterBatch creates pending records for ids not yet tracked and returns the
// ids that were added. Posts carry the insight they were generated from as sourceID.
func (t *Tracker) RegisterBatch(kind Kind, ids []string, sourceID string) []string {
	if t.records == nil {
		t.records = make(map[entityKey]*EntityRecord)
	}
	added := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		key := entityKey{kind: kind, id: id}
		if _, ok := t.records[key]; ok {
			continue
		}
		t.records[key] = &EntityRecord{
			ID:       id,
			RunID:    t.runID,
			Kind:     kind,
			Status:   StatusPending,
			SourceID: strings.TrimSpace(sourceID),
		}
		t.order = append(t.order, key)
		added = append(added, id)
	}
	return added
}

// Transition moves an entity to status, rejecting moves against the order
// pending → processing → reviewing → {approved|rejected|failed}. FAILED is
// reachable from any unresolved status. Repeating the current status is a no-op.
func (t *Tracker) Transition(kind Kind, id string, status EntityStatus, now time.Time) error {
	rec, ok := t.records[entityKey{kind: kind, id: id}]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownEntity, kind, id)
	}
	if rec.Status == status {
		return nil
	}
	if rec.Status.IsResolved() {
		return fmt.Errorf("%w: %s %s is %s, cannot become %s", ErrBackwardTransition, kind, id, rec.Status, status)
	}
	if status != StatusFailed && status.rank() <= rec.Status.rank() {
		return fmt.Errorf("%w: %s %s is %s, cannot become %s", ErrBackwardTransition, kind, id, rec.Status, status)
	}
	ts := now
	if rec.StartedAt == nil && status != StatusPending {
		rec.StartedAt = &ts
	}
	if status.IsResolved() {
		rec.CompletedAt = &ts
	}
	rec.Status = status
	return nil
}

// SetReviewer records who resolved an entity.
func (t *Tracker) SetReviewer(kind Kind, id, reviewer string) {
	if rec, ok := t.records[entityKey{kind: kind, id: id}]; ok {
		rec.Reviewer = reviewer
	}
}

// RecordFailure increments the retry counter of an entity and stores the error.
// It returns the new retry count.
func (t *Tracker) RecordFailure(kind Kind, id, message string) (int, error) {
	rec, ok := t.records[entityKey{kind: kind, id: id}]
	if !ok {
		return 0, fmt.Errorf("%w: %s %s", ErrUnknownEntity, kind, id)
	}
	rec.RetryCount++
	rec.Error = message
	return rec.RetryCount, nil
}

// Get returns a copy of the record for kind/id.
func (t *Tracker) Get(kind Kind, id string) (EntityRecord, bool) {
	rec, ok := t.records[entityKey{kind: kind, id: id}]
	if !ok {
		return EntityRecord{}, false
	}
	return *rec, true
}

// Records returns copies of the records of a kind in registration order.
func (t *Tracker) Records(kind Kind) []EntityRecord {
	out := make([]EntityRecord, 0, len(t.order))
	for _, key := range t.order {
		if key.kind == kind {
			out = append(out, *t.records[key])
		}
	}
	return out
}

// Awaiting returns records of a kind that still need a decision.
func (t *Tracker) Awaiting(kind Kind) []EntityRecord {
	return t.filter(kind, func(r *EntityRecord) bool { return r.Status.IsAwaiting() })
}

// IDsWithStatus returns the ids of records of a kind in the given status.
func (t *Tracker) IDsWithStatus(kind Kind, status EntityStatus) []string {
	recs := t.filter(kind, func(r *EntityRecord) bool { return r.Status == status })
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids
}

// Count returns the number of tracked records of a kind.
func (t *Tracker) Count(kind Kind) int {
	n := 0
	for _, key := range t.order {
		if key.kind == kind {
			n++
		}
	}
	return n
}

// CountByStatus tallies records of a kind per status.
func (t *Tracker) CountByStatus(kind Kind) map[EntityStatus]int {
	counts := make(map[EntityStatus]int)
	for _, key := range t.order {
		if key.kind == kind {
			counts[t.records[key].Status]++
		}
	}
	return counts
}

// AllResolved reports whether no record of the kind is pending, processing, or reviewing.
func (t *Tracker) AllResolved(kind Kind) bool {
	for _, key := range t.order {
		if key.kind == kind && t.records[key].Status.IsAwaiting() {
			return false
		}
	}
	return true
}

// ApprovedInsightIDsWithoutPosts lists approved insights that have no post record yet.
func (t *Tracker) ApprovedInsightIDsWithoutPosts() []string {
	covered := make(map[string]struct{})
	for _, key := range t.order {
		if key.kind == KindPost {
			if src := t.records[key].SourceID; src != "" {
				covered[src] = struct{}{}
			}
		}
	}
	var missing []string
	for _, key := range t.order {
		if key.kind != KindInsight {
			continue
		}
		rec := t.records[key]
		if rec.Status != StatusApproved {
			continue
		}
		if _, ok := covered[rec.ID]; !ok {
			missing = append(missing, rec.ID)
		}
	}
	return missing
}

// Len returns the number of tracked records across kinds.
func (t *Tracker) Len() int { return len(t.order) }

func (t *Tracker) filter(kind Kind, keep func(*EntityRecord) bool) []EntityRecord {
	var out []EntityRecord
	for _, key := range t.order {
		if key.kind != kind {
			continue
		}
		if rec := t.records[key]; keep(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

func (t Tracker) clone() Tracker {
	cp := Tracker{
		runID:   t.runID,
		records: make(map[entityKey]*EntityRecord, len(t.records)),
		order:   append([]entityKey(nil), t.order...),
	}
	for key, rec := range t.records {
		dup := *rec
		dup.StartedAt = cloneTime(rec.StartedAt)
		dup.CompletedAt = cloneTime(rec.CompletedAt)
		cp.records[key] = &dup
	}
	return cp
}

// MarshalJSON encodes the records in registration order.
func (t Tracker) MarshalJSON() ([]byte, error) {
	out := make([]EntityRecord, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, *t.records[key])
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores records encoded by MarshalJSON.
func (t *Tracker) UnmarshalJSON(data []byte) error {
	var recs []EntityRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("decode entity records: %w", err)
	}
	t.records = make(map[entityKey]*EntityRecord, len(recs))
	t.order = t.order[:0]
	for i := range recs {
		rec := recs[i]
		key := entityKey{kind: rec.Kind, id: rec.ID}
		if _, dup := t.records[key]; dup {
			continue
		}
		if t.runID == "" {
			t.runID = rec.RunID
		}
		t.records[key] = &rec
		t.order = append(t.order, key)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
