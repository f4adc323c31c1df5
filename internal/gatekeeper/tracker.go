package gatekeeper

import (
	"sync"
	"time"
)

// StartTracker estimates when the currently playing track started and keeps
// that estimate stable across consecutive polls of the same track, so that
// normalized keys do not drift tick to tick.
//
// It is a two-state machine: idle (no track observed) and tracking a single
// track id with its first-seen start estimate. Observing a different track
// replaces the state; the first estimate for a track always wins.
type StartTracker struct {
	mu        sync.Mutex
	trackID   string
	startedAt time.Time
}

// NewStartTracker returns a tracker in the idle state.
func NewStartTracker() *StartTracker {
	return &StartTracker{}
}

// Observe returns the start estimate for trackID given the reported playback
// progress. For a newly seen track the estimate is now - progress, rounded
// to the second; for the track already being tracked the stored estimate is
// returned unchanged.
func (t *StartTracker) Observe(trackID string, progress time.Duration, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.trackID == trackID && !t.startedAt.IsZero() {
		return t.startedAt
	}

	est := now.Add(-progress).Round(time.Second)
	t.trackID = trackID
	t.startedAt = est
	return est
}

// Reset returns the tracker to the idle state.
func (t *StartTracker) Reset() {
	t.mu.Lock()
	t.trackID = ""
	t.startedAt = time.Time{}
	t.mu.Unlock()
}
