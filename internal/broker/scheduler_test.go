package broker

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestSchedulerReadyQueueUniqueness(t *testing.T) {
	s := NewScheduler()
	id := s.Add(newTracker("dev-1"))

	s.Reschedule(id, EventInit)
	s.Reschedule(id, EventFreshData) // already ready; must not double-enqueue
	s.Reschedule(id, EventFreshData)

	if got := s.ReadyLen(); got != 1 {
		t.Fatalf("ReadyLen() = %d, want 1", got)
	}
	if !s.CheckReadyQueueDuplicates() {
		t.Fatal("CheckReadyQueueDuplicates() = false")
	}
}

func TestSchedulerPollPauseResume(t *testing.T) {
	s := NewScheduler()
	id := s.Add(newTracker("dev-1"))
	s.Reschedule(id, EventInit)

	gotID, requests, ok := s.Poll()
	if !ok || gotID != id {
		t.Fatalf("Poll() = (%v, %v, %v), want (%v, _, true)", gotID, requests, ok, id)
	}
	if len(requests) != 0 {
		t.Fatalf("Poll() requests = %v, want empty", requests)
	}

	// Poll speculatively re-enqueued id; pause should pop that entry.
	if got := s.ReadyLen(); got != 1 {
		t.Fatalf("ReadyLen() after Poll = %d, want 1", got)
	}
	s.Pause(id, ReasonCaughtup)
	if got := s.ReadyLen(); got != 0 {
		t.Fatalf("ReadyLen() after Pause = %d, want 0", got)
	}

	tr, _ := s.Trackers.Get(id)
	if tr.Status() != StatusPausedCaughtup {
		t.Fatalf("Status() = %v, want %v\ntracker state:\n%s", tr.Status(), StatusPausedCaughtup, spew.Sdump(tr))
	}

	s.Reschedule(id, EventNewFilter)
	if tr.Status() != StatusReady {
		t.Fatalf("Status() after NewFilter = %v, want Ready", tr.Status())
	}
}

func TestTrackerFilterUniqueness(t *testing.T) {
	s := NewScheduler()
	id := s.Add(newTracker("dev-1"))

	s.Track(id, DataRequest{Filter: "a/b", FilterIdx: 1})
	if !s.CheckTrackerDuplicates(id) {
		t.Fatal("CheckTrackerDuplicates() = false after one request")
	}

	s.Track(id, DataRequest{Filter: "a/b", FilterIdx: 1})
	if s.CheckTrackerDuplicates(id) {
		tr, _ := s.Trackers.Get(id)
		t.Fatalf("CheckTrackerDuplicates() = true, want false after duplicate filter tracked\ntracker state:\n%s", spew.Sdump(tr))
	}

	s.Untrack(id, 1)
	tr, _ := s.Trackers.Get(id)
	if tr.Len() != 0 {
		t.Fatalf("tracker Len() after Untrack = %d, want 0", tr.Len())
	}
}

func TestSchedulerRemoveReturnsTracker(t *testing.T) {
	s := NewScheduler()
	id := s.Add(newTracker("dev-1"))
	s.Track(id, DataRequest{Filter: "a/b", FilterIdx: 0})

	tr := s.Remove(id)
	if tr.Len() != 1 {
		t.Fatalf("removed tracker Len() = %d, want 1", tr.Len())
	}
	if s.Trackers.Has(id) {
		t.Fatal("Trackers.Has(id) = true after Remove")
	}
}
