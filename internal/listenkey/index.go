package listenkey

import (
	"strings"
	"sync"
	"time"
)

// DefaultNearbyTolerance is the window used by FindNearby when callers pass
// a zero tolerance.
const DefaultNearbyTolerance = 60 * time.Second

// Record is a persisted listen as returned by GET /listens.
type Record struct {
	ID                 string   `json:"id"`
	SpotifyTrackID     string   `json:"spotify_track_id"`
	Title              string   `json:"title"`
	Artist             string   `json:"artist"`
	AlbumImageURL      *string  `json:"album_image_url"`
	PlayedAt           string   `json:"played_at"`
	SpotifyPlayedAt    *string  `json:"spotify_played_at"`
	DurationMs         int      `json:"duration_ms"`
	Lat                float64  `json:"lat"`
	Lng                float64  `json:"lng"`
	Mood               *string  `json:"mood"`
	MoodNote           *string  `json:"mood_note"`
	WeatherMain        *string  `json:"weather_main"`
	WeatherDescription *string  `json:"weather_description"`
	WeatherTempC       *float64 `json:"weather_temp_c"`
	CreatedAt          string   `json:"created_at,omitempty"`
}

// ReconciliationTimestamp returns the timestamp used to identify the listen:
// the source-reported time when present, the display time otherwise.
func (r *Record) ReconciliationTimestamp() string {
	if r.SpotifyPlayedAt != nil && strings.TrimSpace(*r.SpotifyPlayedAt) != "" {
		return *r.SpotifyPlayedAt
	}
	return r.PlayedAt
}

// indexEntry pairs a record with its parsed reconciliation instant so
// FindNearby does not re-parse on every scan.
type indexEntry struct {
	trackID string
	at      time.Time
	record  Record
}

// Index is the client-side cache of persisted listens keyed by normalized
// identity key. It is rebuilt wholesale from the server's listen list and is
// eventually consistent; it is never a cross-process concurrency guarantee.
type Index struct {
	mu      sync.RWMutex
	byKey   map[string]Record
	entries []indexEntry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byKey: make(map[string]Record)}
}

// Rebuild replaces the entire index from records. Records without a usable
// track id or timestamp are skipped. The swap is atomic with respect to
// concurrent reads.
func (ix *Index) Rebuild(records []Record) {
	byKey := make(map[string]Record, len(records))
	entries := make([]indexEntry, 0, len(records))

	for _, r := range records {
		trackID := strings.TrimSpace(r.SpotifyTrackID)
		ts := r.ReconciliationTimestamp()
		if trackID == "" || strings.TrimSpace(ts) == "" {
			continue
		}

		byKey[Normalize(trackID, ts)] = r

		at, err := ParseTimestamp(ts)
		if err != nil {
			// Indexed by literal key above, but unusable for window scans.
			continue
		}
		entries = append(entries, indexEntry{trackID: trackID, at: at, record: r})
	}

	ix.mu.Lock()
	ix.byKey = byKey
	ix.entries = entries
	ix.mu.Unlock()
}

// HasKey reports whether an exact normalized key is already persisted.
func (ix *Index) HasKey(key string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byKey[key]
	return ok
}

// Get returns the record for an exact normalized key, or nil.
func (ix *Index) Get(key string) *Record {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if r, ok := ix.byKey[key]; ok {
		return &r
	}
	return nil
}

// Len returns the number of window-scannable records in the index.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// FindNearby reports whether any persisted listen of the same track has a
// reconciliation timestamp within tolerance of timestampISO (symmetric
// window). A zero tolerance means DefaultNearbyTolerance. Unparseable input
// timestamps never match.
func (ix *Index) FindNearby(trackID, timestampISO string, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultNearbyTolerance
	}

	at, err := ParseTimestamp(timestampISO)
	if err != nil {
		return false
	}
	trackID = strings.TrimSpace(trackID)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, e := range ix.entries {
		if e.trackID != trackID {
			continue
		}
		d := e.at.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return true
		}
	}
	return false
}
