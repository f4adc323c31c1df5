package gatekeeper

import (
	"testing"
	"time"
)

func TestStartTrackerObserve(t *testing.T) {
	tr := NewStartTracker()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// First observation: now - progress, rounded to the second.
	got := tr.Observe("track-a", 42300*time.Millisecond, base)
	want := base.Add(-42300 * time.Millisecond).Round(time.Second)
	if !got.Equal(want) {
		t.Errorf("first estimate = %v, want %v", got, want)
	}

	// Later polls of the same track keep the first-seen estimate even though
	// progress drifted, so normalized keys stay stable.
	again := tr.Observe("track-a", 57900*time.Millisecond, base.Add(15*time.Second))
	if !again.Equal(got) {
		t.Errorf("estimate drifted on re-poll: %v, first was %v", again, got)
	}

	// A new track replaces the state.
	next := tr.Observe("track-b", 2*time.Second, base.Add(4*time.Minute))
	wantNext := base.Add(4*time.Minute - 2*time.Second)
	if !next.Equal(wantNext) {
		t.Errorf("new track estimate = %v, want %v", next, wantNext)
	}

	// And the old track gets a fresh estimate if it comes back.
	back := tr.Observe("track-a", 0, base.Add(10*time.Minute))
	if back.Equal(got) {
		t.Error("returning track should not reuse the stale estimate")
	}
}

func TestStartTrackerReset(t *testing.T) {
	tr := NewStartTracker()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := tr.Observe("track-a", time.Minute, base)
	tr.Reset()

	fresh := tr.Observe("track-a", time.Minute, base.Add(30*time.Second))
	if fresh.Equal(first) {
		t.Error("Reset() should discard the stored estimate")
	}
}
