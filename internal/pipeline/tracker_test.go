package pipeline_test

import (
	"errors"
	"reflect"
	"testing"

	"contentflow/internal/pipeline"
)

func TestTrackerRegisterBatchSkipsKnownIDs(t *testing.T) {
	tr := pipeline.NewTracker("run-1")
	added := tr.RegisterBatch(pipeline.KindInsight, []string{"i1", " i2 ", "", "i1"}, "")
	if !reflect.DeepEqual(added, []string{"i1", "i2"}) {
		t.Fatalf("unexpected added ids: %v", added)
	}
	if again := tr.RegisterBatch(pipeline.KindInsight, []string{"i2", "i3"}, ""); !reflect.DeepEqual(again, []string{"i3"}) {
		t.Fatalf("expected only i3 added, got %v", again)
	}
	if tr.Count(pipeline.KindInsight) != 3 {
		t.Fatalf("expected 3 insights, got %d", tr.Count(pipeline.KindInsight))
	}
	// The same id under another kind is a distinct entity.
	tr.RegisterBatch(pipeline.KindPost, []string{"i1"}, "i1")
	if tr.Count(pipeline.KindPost) != 1 || tr.Len() != 4 {
		t.Fatalf("expected kind-scoped ids, got posts=%d total=%d", tr.Count(pipeline.KindPost), tr.Len())
	}
}

func TestTrackerTransitionIsMonotonic(t *testing.T) {
	tr := pipeline.NewTracker("run-1")
	tr.RegisterBatch(pipeline.KindInsight, []string{"i1", "i2"}, "")

	steps := []pipeline.EntityStatus{pipeline.StatusProcessing, pipeline.StatusReviewing, pipeline.StatusApproved}
	for i, status := range steps {
		if err := tr.Transition(pipeline.KindInsight, "i1", status, at(i)); err != nil {
			t.Fatalf("transition to %s failed: %v", status, err)
		}
	}
	rec, _ := tr.Get(pipeline.KindInsight, "i1")
	if rec.StartedAt == nil || !rec.StartedAt.Equal(at(0)) || rec.CompletedAt == nil || !rec.CompletedAt.Equal(at(2)) {
		t.Fatalf("unexpected timestamps: %#v", rec)
	}

	cases := []struct {
		name string
		id   string
		to   pipeline.EntityStatus
		want error
	}{
		{"approved back to pending", "i1", pipeline.StatusPending, pipeline.ErrBackwardTransition},
		{"approved to rejected", "i1", pipeline.StatusRejected, pipeline.ErrBackwardTransition},
		{"approved to failed", "i1", pipeline.StatusFailed, pipeline.ErrBackwardTransition},
		{"unknown entity", "nope", pipeline.StatusApproved, pipeline.ErrUnknownEntity},
		{"same status", "i1", pipeline.StatusApproved, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tr.Transition(pipeline.KindInsight, tc.id, tc.to, at(9))
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if rec, _ := tr.Get(pipeline.KindInsight, "i1"); rec.Status != pipeline.StatusApproved {
		t.Fatalf("rejected transitions mutated record: %s", rec.Status)
	}

	if err := tr.Transition(pipeline.KindInsight, "i2", pipeline.StatusReviewing, at(3)); err != nil {
		t.Fatalf("forward skip failed: %v", err)
	}
	if err := tr.Transition(pipeline.KindInsight, "i2", pipeline.StatusProcessing, at(4)); !errors.Is(err, pipeline.ErrBackwardTransition) {
		t.Fatalf("expected backward transition rejected, got %v", err)
	}
	if err := tr.Transition(pipeline.KindInsight, "i2", pipeline.StatusFailed, at(5)); err != nil {
		t.Fatalf("failed must be reachable from reviewing: %v", err)
	}
}

func TestTrackerAllResolvedAndMissingPosts(t *testing.T) {
	tr := pipeline.NewTracker("run-1")
	tr.RegisterBatch(pipeline.KindInsight, []string{"i1", "i2", "i3"}, "")
	if tr.AllResolved(pipeline.KindInsight) {
		t.Fatal("expected pending insights to be unresolved")
	}
	mustTransition(t, &tr, pipeline.KindInsight, "i1", pipeline.StatusApproved)
	mustTransition(t, &tr, pipeline.KindInsight, "i2", pipeline.StatusApproved)
	mustTransition(t, &tr, pipeline.KindInsight, "i3", pipeline.StatusRejected)
	if !tr.AllResolved(pipeline.KindInsight) {
		t.Fatal("expected insights resolved")
	}
	if !tr.AllResolved(pipeline.KindPost) {
		t.Fatal("expected vacuous resolution with no posts")
	}

	if got := tr.ApprovedInsightIDsWithoutPosts(); !reflect.DeepEqual(got, []string{"i1", "i2"}) {
		t.Fatalf("expected i1,i2 missing posts, got %v", got)
	}
	tr.RegisterBatch(pipeline.KindPost, []string{"p1"}, "i2")
	if got := tr.ApprovedInsightIDsWithoutPosts(); !reflect.DeepEqual(got, []string{"i1"}) {
		t.Fatalf("expected i1 missing posts, got %v", got)
	}
	counts := tr.CountByStatus(pipeline.KindInsight)
	if counts[pipeline.StatusApproved] != 2 || counts[pipeline.StatusRejected] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestTrackerRecordFailure(t *testing.T) {
	tr := pipeline.NewTracker("run-1")
	tr.RegisterBatch(pipeline.KindInsight, []string{"i1"}, "")
	for want := 1; want <= 2; want++ {
		got, err := tr.RecordFailure(pipeline.KindInsight, "i1", "boom")
		if err != nil || got != want {
			t.Fatalf("RecordFailure = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := tr.RecordFailure(pipeline.KindPost, "i1", "boom"); !errors.Is(err, pipeline.ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestEntityStatusLabel(t *testing.T) {
	if got := pipeline.StatusProcessing.Label(pipeline.KindInsight); got != "extracting" {
		t.Fatalf("unexpected insight label %q", got)
	}
	if got := pipeline.StatusProcessing.Label(pipeline.KindPost); got != "generating" {
		t.Fatalf("unexpected post label %q", got)
	}
	if got := pipeline.StatusApproved.Label(pipeline.KindPost); got != "approved" {
		t.Fatalf("unexpected approved label %q", got)
	}
}

func mustTransition(t *testing.T, tr *pipeline.Tracker, kind pipeline.Kind, id string, status pipeline.EntityStatus) {
	t.Helper()
	if err := tr.Transition(kind, id, status, t0); err != nil {
		t.Fatalf("transition %s %s -> %s: %v", kind, id, status, err)
	}
}
