package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// BlockingItem is a unit of required human attention gating a run.
type BlockingItem struct {
	ID          string     `json:"id"`
	Type        ItemType   `json:"type"`
	EntityID    string     `json:"entity_id"`
	EntityKind  Kind       `json:"entity_kind"`
	Priority    Priority   `json:"priority"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
}

// Ledger holds the open blocking items of a run. An item is removed exactly
// once, by explicit resolution or by a bulk clear of its type.
type Ledger struct {
	items map[string]*BlockingItem
	order []string
}

// NewLedger returns an empty ledger.
func NewLedger() Ledger {
	return Ledger{items: make(map[string]*BlockingItem)}
}

func blockingItemID(t ItemType, entityID string) string {
	return string(t) + ":" + entityID
}

// AddForReview opens one review item per record that still awaits a decision.
// Records already covered by an open item are skipped, so re-entry is idempotent.
func (l *Ledger) AddForReview(records []EntityRecord, kind Kind, now time.Time) []BlockingItem {
	itemType := reviewItemType(kind)
	var created []BlockingItem
	for _, rec := range records {
		if rec.Kind != kind || !rec.Status.IsAwaiting() {
			continue
		}
		item, ok := l.add(itemType, kind, rec.ID, fmt.Sprintf("Review %s %s", kind, rec.ID), now)
		if ok {
			created = append(created, item)
		}
	}
	return created
}

// AddManualIntervention opens an item asking an operator to act on the run itself.
func (l *Ledger) AddManualIntervention(runID, reason string, now time.Time) (BlockingItem, bool) {
	desc := "Pipeline requires manual intervention"
	if reason = strings.TrimSpace(reason); reason != "" {
		desc = desc + ": " + reason
	}
	return l.add(ItemManualIntervention, KindPipeline, runID, desc, now)
}

func (l *Ledger) add(t ItemType, kind Kind, entityID, description string, now time.Time) (BlockingItem, bool) {
	if l.items == nil {
		l.items = make(map[string]*BlockingItem)
	}
	id := blockingItemID(t, entityID)
	if _, exists := l.items[id]; exists {
		return BlockingItem{}, false
	}
	item := &BlockingItem{
		ID:          id,
		Type:        t,
		EntityID:    entityID,
		EntityKind:  kind,
		Priority:    priorityFor(t),
		Description: description,
		CreatedAt:   now,
	}
	l.items[id] = item
	l.order = append(l.order, id)
	return *item, true
}

// Resolve removes the item matching ref, which may be an item id or an entity
// id. It returns false without error when nothing matches, so a human decision
// racing an auto-approval sweep is harmless.
func (l *Ledger) Resolve(ref, actor, action string, now time.Time) (BlockingItem, bool) {
	id, ok := l.lookup(ref)
	if !ok {
		return BlockingItem{}, false
	}
	item := l.remove(id)
	ts := now
	item.CompletedAt = &ts
	item.ResolvedBy = actor
	item.Resolution = action
	return item, true
}

// ClearByType removes every item of a type and returns how many were removed.
func (l *Ledger) ClearByType(t ItemType) int {
	removed := 0
	for _, id := range append([]string(nil), l.order...) {
		if l.items[id].Type == t {
			l.remove(id)
			removed++
		}
	}
	return removed
}

// Count returns the number of open items.
func (l *Ledger) Count() int { return len(l.order) }

// CountByType returns the number of open items of a type.
func (l *Ledger) CountByType(t ItemType) int {
	n := 0
	for _, id := range l.order {
		if l.items[id].Type == t {
			n++
		}
	}
	return n
}

// ByPriority tallies open items per priority.
func (l *Ledger) ByPriority() map[Priority]int {
	counts := make(map[Priority]int)
	for _, id := range l.order {
		counts[l.items[id].Priority]++
	}
	return counts
}

// Items returns open items ordered by priority (highest first) then creation order.
func (l *Ledger) Items() []BlockingItem {
	out := make([]BlockingItem, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.items[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.rank() > out[j].Priority.rank()
	})
	return out
}

// Has reports whether an item references the given id or entity id.
func (l *Ledger) Has(ref string) bool {
	_, ok := l.lookup(ref)
	return ok
}

func (l *Ledger) lookup(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if _, ok := l.items[ref]; ok {
		return ref, true
	}
	for _, id := range l.order {
		if l.items[id].EntityID == ref {
			return id, true
		}
	}
	return "", false
}

func (l *Ledger) remove(id string) BlockingItem {
	item := *l.items[id]
	delete(l.items, id)
	for i, candidate := range l.order {
		if candidate == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return item
}

func (l Ledger) clone() Ledger {
	cp := Ledger{
		items: make(map[string]*BlockingItem, len(l.items)),
		order: append([]string(nil), l.order...),
	}
	for id, item := range l.items {
		dup := *item
		dup.StartedAt = cloneTime(item.StartedAt)
		dup.CompletedAt = cloneTime(item.CompletedAt)
		cp.items[id] = &dup
	}
	return cp
}

// MarshalJSON encodes open items in creation order.
func (l Ledger) MarshalJSON() ([]byte, error) {
	out := make([]BlockingItem, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.items[id])
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores items encoded by MarshalJSON.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var items []BlockingItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode blocking items: %w", err)
	}
	l.items = make(map[string]*BlockingItem, len(items))
	l.order = nil
	for i := range items {
		item := items[i]
		if _, dup := l.items[item.ID]; dup {
			continue
		}
		l.items[item.ID] = &item
		l.order = append(l.order, item.ID)
	}
	return nil
}
