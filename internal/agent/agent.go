package agent

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/musicwalk/music-walk-map/internal/gatekeeper"
	"github.com/musicwalk/music-walk-map/internal/listenkey"
	"github.com/musicwalk/music-walk-map/internal/locate"
	"github.com/musicwalk/music-walk-map/internal/savelock"
)

const (
	// DefaultPollInterval is how often the agent asks what is playing.
	DefaultPollInterval = 15 * time.Second

	reconnectBackoff = 10 * time.Second
)

// Agent drives the poll-observe-save loop for one machine.
type Agent struct {
	client  *Client
	index   *listenkey.Index
	tracker *gatekeeper.StartTracker
	gate    *gatekeeper.Gatekeeper

	pollInterval time.Duration
	refreshCh    chan struct{}
	ticking      atomic.Bool
}

// Config holds agent construction parameters.
type Config struct {
	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration

	// Locks overrides the shared save-lock store. Nil means the default
	// per-user location.
	Locks *savelock.Store
}

// New creates an Agent polling through client and locating through locator.
func New(client *Client, locator locate.Provider, cfg Config) (*Agent, error) {
	locks := cfg.Locks
	if locks == nil {
		var err error
		locks, err = savelock.DefaultStore()
		if err != nil {
			return nil, err
		}
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	a := &Agent{
		client:       client,
		index:        listenkey.NewIndex(),
		tracker:      gatekeeper.NewStartTracker(),
		pollInterval: interval,
		refreshCh:    make(chan struct{}, 1),
	}
	a.gate = gatekeeper.New(a.index, locks, locator, client,
		gatekeeper.WithOnSaved(a.requestRefresh))
	return a, nil
}

// Run polls until ctx is cancelled. The first tick fires immediately.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.refreshIndex(ctx); err != nil {
		// The server may simply not be up yet; the loop keeps retrying.
		log.Printf("[agent] initial index refresh failed: %v", err)
	}

	go a.watchUpdates(ctx)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	lastTick := time.Now()
	a.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.refreshCh:
			if err := a.refreshIndex(ctx); err != nil {
				log.Printf("[agent] index refresh failed: %v", err)
			}
		case now := <-ticker.C:
			// A tick gap far beyond the interval means the machine slept.
			// Local state is stale relative to what other devices saved.
			if now.Sub(lastTick) > 2*a.pollInterval {
				log.Printf("[agent] wake detected after %s, refreshing index", now.Sub(lastTick).Round(time.Second))
				a.tracker.Reset()
				a.requestRefresh()
			}
			lastTick = now
			a.tick(ctx)
		}
	}
}

// tick fetches the currently playing track and runs it through the
// gatekeeper. Overlapping ticks are skipped rather than queued.
func (a *Agent) tick(ctx context.Context) {
	if !a.ticking.CompareAndSwap(false, true) {
		return
	}
	defer a.ticking.Store(false)

	item, err := a.client.CurrentlyPlaying(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			log.Printf("[agent] not logged in; visit %s/auth/login", a.client.baseURL)
		} else {
			log.Printf("[agent] polling currently playing: %v", err)
		}
		return
	}
	if item == nil || !item.IsPlaying {
		a.tracker.Reset()
		return
	}

	startedAt := a.tracker.Observe(item.TrackID, time.Duration(item.ProgressMs)*time.Millisecond, time.Now())

	outcome, err := a.gate.TrySave(ctx, gatekeeper.CandidateEvent{
		TrackID:       item.TrackID,
		Title:         item.Title,
		Artist:        item.Artist,
		AlbumImageURL: item.AlbumImageURL,
		StartedAt:     startedAt,
		DurationMs:    item.DurationMs,
		ProgressMs:    item.ProgressMs,
		IsPlaying:     item.IsPlaying,
	})
	if err != nil {
		log.Printf("[agent] save failed, will retry next tick: %v", err)
		return
	}

	switch {
	case outcome.Saved && outcome.Duplicated:
		log.Printf("[agent] %s - %s already saved elsewhere (id %s)", item.Artist, item.Title, outcome.ID)
	case outcome.Saved:
		log.Printf("[agent] saved listen %s - %s (id %s)", item.Artist, item.Title, outcome.ID)
	case outcome.Reason != "":
		log.Printf("[agent] skipped %s - %s: %s", item.Artist, item.Title, outcome.Reason)
	}
}

// refreshIndex rebuilds the local listen index from the server.
func (a *Agent) refreshIndex(ctx context.Context) error {
	records, err := a.client.Listens(ctx)
	if err != nil {
		return err
	}
	a.index.Rebuild(records)
	return nil
}

// requestRefresh schedules an index refresh without blocking.
func (a *Agent) requestRefresh() {
	select {
	case a.refreshCh <- struct{}{}:
	default:
	}
}

// watchUpdates keeps a websocket subscription to the server's listens-updated
// channel, refreshing the index whenever another client saves. Reconnects
// with a flat backoff until ctx is cancelled.
func (a *Agent) watchUpdates(ctx context.Context) {
	wsURL, err := a.client.UpdatesURL()
	if err != nil {
		log.Printf("[agent] updates channel disabled: %v", err)
		return
	}

	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBackoff):
			}
			continue
		}

		a.readUpdates(ctx, conn)
		conn.Close()
	}
}

func (a *Agent) readUpdates(ctx context.Context, conn *websocket.Conn) {
	// Unblock the read when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "listens-updated" {
			a.requestRefresh()
		}
	}
}
