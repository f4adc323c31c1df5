// Package gatekeeper decides whether a candidate listen event should be
// saved. Five suppression layers run before any I/O; only a candidate that
// clears all of them triggers a geolocation lookup and a network save. The
// layers are advisory optimizations; the server-side duplicate check is the
// final arbiter.
package gatekeeper

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/musicwalk/music-walk-map/internal/listenkey"
	"github.com/musicwalk/music-walk-map/internal/locate"
	"github.com/musicwalk/music-walk-map/internal/savelock"
)

const (
	// cooldownSlack is added to the track duration when computing how long
	// a track could still plausibly be the same listen.
	cooldownSlack = 30 * time.Second

	// minLockWindow is the floor for the shared-lock suppression window.
	minLockWindow = 120 * time.Second

	defaultLocateTimeout = 10 * time.Second
)

// CandidateEvent is an observation that a track may have started playing.
// Constructed fresh on every poll tick; never persisted directly.
type CandidateEvent struct {
	TrackID       string
	Title         string
	Artist        string
	AlbumImageURL *string
	StartedAt     time.Time
	DurationMs    int
	ProgressMs    int
	IsPlaying     bool
}

// SaveRequest is the body posted to the reconciliation endpoint.
type SaveRequest struct {
	SpotifyTrackID  string  `json:"spotify_track_id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	AlbumImageURL   *string `json:"album_image_url,omitempty"`
	PlayedAt        string  `json:"played_at"`
	SpotifyPlayedAt string  `json:"spotify_played_at"`
	DurationMs      int     `json:"duration_ms"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Mood            *string `json:"mood,omitempty"`
	MoodNote        *string `json:"mood_note,omitempty"`
}

// SaveResult is the server's answer to a save request.
type SaveResult struct {
	ID         string
	Duplicated bool
}

// Saver performs the network save against the reconciliation endpoint.
type Saver interface {
	SaveListen(ctx context.Context, req SaveRequest) (SaveResult, error)
}

// Reason identifies which suppression layer stopped a candidate.
type Reason string

const (
	ReasonCooldown        Reason = "cooldown"
	ReasonSharedLock      Reason = "shared-lock"
	ReasonInFlight        Reason = "in-flight"
	ReasonAlreadyRecorded Reason = "already-recorded"
	ReasonNearbyDuplicate Reason = "nearby-duplicate"
	ReasonNoLocation      Reason = "no-location"
)

// Outcome reports what TrySave did with a candidate. Exactly one of Saved
// or a non-empty Reason is set on a nil-error return.
type Outcome struct {
	Saved      bool
	ID         string
	Duplicated bool
	Reason     Reason
}

type lastSave struct {
	at       time.Time
	duration time.Duration
}

// Gatekeeper holds all reconciliation state for one agent process. It is
// safe for concurrent use.
type Gatekeeper struct {
	index   *listenkey.Index
	locks   *savelock.Store
	locator locate.Provider
	saver   Saver

	onSaved         func()
	locateTimeout   time.Duration
	nearbyTolerance time.Duration
	now             func() time.Time

	mu        sync.Mutex
	lastSaved map[string]lastSave // by trimmed track id
	inFlight  map[string]struct{} // by normalized key
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithLocateTimeout bounds the geolocation lookup.
func WithLocateTimeout(d time.Duration) Option {
	return func(g *Gatekeeper) { g.locateTimeout = d }
}

// WithNearbyTolerance sets the window for the nearby-duplicate check.
func WithNearbyTolerance(d time.Duration) Option {
	return func(g *Gatekeeper) { g.nearbyTolerance = d }
}

// WithOnSaved registers a callback invoked after every successful save,
// typically to trigger an index refresh.
func WithOnSaved(fn func()) Option {
	return func(g *Gatekeeper) { g.onSaved = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gatekeeper) { g.now = now }
}

// New creates a Gatekeeper.
func New(index *listenkey.Index, locks *savelock.Store, locator locate.Provider, saver Saver, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		index:           index,
		locks:           locks,
		locator:         locator,
		saver:           saver,
		locateTimeout:   defaultLocateTimeout,
		nearbyTolerance: listenkey.DefaultNearbyTolerance,
		now:             time.Now,
		lastSaved:       make(map[string]lastSave),
		inFlight:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TrySave runs a candidate through the suppression layers and, if all pass,
// resolves a position and posts the save. A suppressed candidate returns an
// Outcome with a Reason and a nil error; a failed network save returns an
// error and mutates no state, so the next poll tick may retry.
func (g *Gatekeeper) TrySave(ctx context.Context, ev CandidateEvent) (Outcome, error) {
	trackID := strings.TrimSpace(ev.TrackID)
	startedISO := listenkey.FormatTimestamp(ev.StartedAt)
	key := listenkey.Normalize(trackID, startedISO)
	duration := time.Duration(ev.DurationMs) * time.Millisecond

	// 1. Per-track cooldown: the same track cannot plausibly produce a new
	// listen before the longer of the two durations (plus slack) has passed.
	g.mu.Lock()
	if prev, ok := g.lastSaved[trackID]; ok {
		window := maxDuration(duration, prev.duration) + cooldownSlack
		if absDuration(ev.StartedAt.Sub(prev.at)) < window {
			g.mu.Unlock()
			return Outcome{Reason: ReasonCooldown}, nil
		}
	}
	g.mu.Unlock()

	// 2. Shared lock written by any process on this machine.
	if lock, err := g.locks.Load(); err != nil {
		log.Printf("[gatekeeper] reading save lock: %v", err)
	} else if lock != nil && (lock.Key == key || lock.TrackID == trackID) {
		window := maxDuration(duration+cooldownSlack, minLockWindow)
		if g.now().Sub(lock.SavedAt) < window {
			return Outcome{Reason: ReasonSharedLock}, nil
		}
	}

	// 3. In-flight save for this exact key in this process.
	g.mu.Lock()
	if _, busy := g.inFlight[key]; busy {
		g.mu.Unlock()
		return Outcome{Reason: ReasonInFlight}, nil
	}
	g.inFlight[key] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.inFlight, key)
		g.mu.Unlock()
	}()

	// 4. Exact key already persisted. Adopt the server's state as local
	// memory so the cheaper cooldown check catches the next tick.
	if g.index.HasKey(key) {
		g.rememberSave(trackID, ev.StartedAt, duration)
		return Outcome{Reason: ReasonAlreadyRecorded}, nil
	}

	// 5. Same track persisted within the tolerance window.
	if g.index.FindNearby(trackID, startedISO, g.nearbyTolerance) {
		return Outcome{Reason: ReasonNearbyDuplicate}, nil
	}

	// All layers passed; position is required before the save.
	locateCtx, cancel := context.WithTimeout(ctx, g.locateTimeout)
	pos, err := g.locator.Locate(locateCtx)
	cancel()
	if err != nil {
		log.Printf("[gatekeeper] location unavailable, suppressing save for %s: %v", trackID, err)
		return Outcome{Reason: ReasonNoLocation}, nil
	}

	result, err := g.saver.SaveListen(ctx, SaveRequest{
		SpotifyTrackID:  trackID,
		Title:           ev.Title,
		Artist:          ev.Artist,
		AlbumImageURL:   ev.AlbumImageURL,
		PlayedAt:        startedISO,
		SpotifyPlayedAt: startedISO,
		DurationMs:      ev.DurationMs,
		Lat:             pos.Lat,
		Lng:             pos.Lng,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("saving listen: %w", err)
	}

	g.rememberSave(trackID, ev.StartedAt, duration)
	if err := g.locks.Save(savelock.Lock{Key: key, TrackID: trackID, SavedAt: g.now()}); err != nil {
		// Advisory only; the server already has the row.
		log.Printf("[gatekeeper] writing save lock: %v", err)
	}
	if g.onSaved != nil {
		g.onSaved()
	}

	return Outcome{Saved: true, ID: result.ID, Duplicated: result.Duplicated}, nil
}

func (g *Gatekeeper) rememberSave(trackID string, at time.Time, duration time.Duration) {
	g.mu.Lock()
	g.lastSaved[trackID] = lastSave{at: at, duration: duration}
	g.mu.Unlock()
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
