package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/musicwalk/music-walk-map/internal/auth"
	"github.com/musicwalk/music-walk-map/internal/db"
	"github.com/musicwalk/music-walk-map/internal/spotify"
)

// fakeStore is an in-memory ListenStore and TrackStore. InsertDeduped mirrors
// the serialized select-then-insert of the real repository.
type fakeStore struct {
	mu      sync.Mutex
	tracks  map[string]db.Track // keyed by spotify track id
	listens []db.Listen
	inserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tracks: make(map[string]db.Track)}
}

func (s *fakeStore) Upsert(_ context.Context, track *db.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tracks[track.SpotifyTrackID]; ok {
		track.ID = existing.ID
		track.CreatedAt = existing.CreatedAt
	} else {
		track.ID = uuid.New()
		track.CreatedAt = time.Now()
	}
	s.tracks[track.SpotifyTrackID] = *track
	return nil
}

func (s *fakeStore) InsertDeduped(_ context.Context, listen *db.Listen) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recon := func(l *db.Listen) time.Time {
		if l.SpotifyPlayedAt != nil {
			return *l.SpotifyPlayedAt
		}
		return l.PlayedAt
	}
	at := recon(listen)
	for _, e := range s.listens {
		if e.TrackID == listen.TrackID && recon(&e).Equal(at) &&
			math.Abs(e.Lat-listen.Lat) < 1e-4 && math.Abs(e.Lng-listen.Lng) < 1e-4 {
			return e.ID, true, nil
		}
	}

	listen.ID = uuid.New()
	listen.CreatedAt = time.Now()
	s.listens = append(s.listens, *listen)
	s.inserts++
	return listen.ID, false, nil
}

func (s *fakeStore) List(_ context.Context, limit int) ([]db.ListenItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trackByID := make(map[uuid.UUID]db.Track, len(s.tracks))
	for _, t := range s.tracks {
		trackByID[t.ID] = t
	}

	var items []db.ListenItem
	for i := len(s.listens) - 1; i >= 0 && len(items) < limit; i-- {
		l := s.listens[i]
		t := trackByID[l.TrackID]
		items = append(items, db.ListenItem{
			ID:                 l.ID,
			SpotifyTrackID:     t.SpotifyTrackID,
			Title:              t.Title,
			Artist:             t.Artist,
			AlbumImageURL:      t.AlbumImageURL,
			PlayedAt:           l.PlayedAt,
			SpotifyPlayedAt:    l.SpotifyPlayedAt,
			DurationMs:         l.DurationMs,
			Lat:                l.Lat,
			Lng:                l.Lng,
			Mood:               l.Mood,
			MoodNote:           l.MoodNote,
			WeatherMain:        l.WeatherMain,
			WeatherDescription: l.WeatherDescription,
			WeatherTempC:       l.WeatherTempC,
			CreatedAt:          l.CreatedAt,
		})
	}
	return items, nil
}

func (s *fakeStore) UpdateMood(_ context.Context, id uuid.UUID, mood string, moodNote *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.listens {
		if s.listens[i].ID == id {
			s.listens[i].Mood = &mood
			s.listens[i].MoodNote = moodNote
			return nil
		}
	}
	return db.ErrNotFound
}

func (s *fakeStore) StatsRows(_ context.Context) ([]db.StatsRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]db.StatsRow, 0, len(s.listens))
	for _, l := range s.listens {
		rows = append(rows, db.StatsRow{
			Mood:        l.Mood,
			WeatherMain: l.WeatherMain,
			PlayedAt:    l.PlayedAt,
			Lat:         l.Lat,
			Lng:         l.Lng,
		})
	}
	return rows, nil
}

type fakePlayer struct {
	current *spotify.CurrentlyPlayingItem
	recent  []spotify.RecentItem
	err     error
}

func (p *fakePlayer) CurrentlyPlaying(context.Context) (*spotify.CurrentlyPlayingItem, error) {
	return p.current, p.err
}

func (p *fakePlayer) RecentlyPlayed(context.Context, int) ([]spotify.RecentItem, error) {
	return p.recent, p.err
}

func newTestHandlers(store *fakeStore, player PlayerService) *Handlers {
	return NewHandlers(store, store, nil, player, nil, NewHub(), time.UTC, 0)
}

func saveBody(overrides map[string]any) []byte {
	body := map[string]any{
		"spotify_track_id":  "track-1",
		"title":             "Song A",
		"artist":            "Artist A",
		"played_at":         "2024-03-01T12:00:00.123Z",
		"spotify_played_at": "2024-03-01T12:00:00.123Z",
		"duration_ms":       210000,
		"lat":               35.6595,
		"lng":               139.7005,
	}
	for k, v := range overrides {
		if v == nil {
			delete(body, k)
		} else {
			body[k] = v
		}
	}
	data, _ := json.Marshal(body)
	return data
}

func postListen(t *testing.T, h *Handlers, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/listens", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.SaveListen(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestSaveListen(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, nil)

	w, resp := postListen(t, h, saveBody(nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if resp["ok"] != true {
		t.Errorf("ok = %v, want true", resp["ok"])
	}
	if resp["id"] == nil || resp["id"] == "" {
		t.Error("response has no id")
	}
	if _, dup := resp["duplicated"]; dup {
		t.Error("first save reported duplicated")
	}
	if store.inserts != 1 {
		t.Errorf("inserts = %d, want 1", store.inserts)
	}
}

func TestSaveListenIdempotent(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, nil)

	_, first := postListen(t, h, saveBody(nil))
	w, second := postListen(t, h, saveBody(nil))

	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", w.Code)
	}
	if second["duplicated"] != true {
		t.Errorf("retry duplicated = %v, want true", second["duplicated"])
	}
	if second["id"] != first["id"] {
		t.Errorf("retry id = %v, want %v", second["id"], first["id"])
	}
	if store.inserts != 1 {
		t.Errorf("inserts = %d, want 1", store.inserts)
	}
}

func TestSaveListenGeoDuplicate(t *testing.T) {
	tests := []struct {
		name       string
		latOffset  float64
		duplicated bool
	}{
		{"within epsilon", 5e-5, true},
		{"outside epsilon", 2e-4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			h := newTestHandlers(store, nil)

			postListen(t, h, saveBody(nil))
			_, resp := postListen(t, h, saveBody(map[string]any{"lat": 35.6595 + tt.latOffset}))

			got := resp["duplicated"] == true
			if got != tt.duplicated {
				t.Errorf("duplicated = %v, want %v", got, tt.duplicated)
			}
		})
	}
}

func TestSaveListenMissingFields(t *testing.T) {
	required := []string{
		"spotify_track_id", "title", "artist",
		"played_at", "spotify_played_at", "duration_ms", "lat", "lng",
	}

	for _, field := range required {
		t.Run(field, func(t *testing.T) {
			h := newTestHandlers(newFakeStore(), nil)
			w, resp := postListen(t, h, saveBody(map[string]any{field: nil}))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			want := "Missing field: " + field
			if resp["error"] != want {
				t.Errorf("error = %q, want %q", resp["error"], want)
			}
		})
	}
}

func TestSaveListenRejectsBadValues(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"negative duration", map[string]any{"duration_ms": -1}},
		{"bad played_at", map[string]any{"played_at": "not-a-time"}},
		{"bad spotify_played_at", map[string]any{"spotify_played_at": "yesterday"}},
		{"invalid mood", map[string]any{"mood": "ecstatic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(newFakeStore(), nil)
			w, _ := postListen(t, h, saveBody(tt.overrides))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSaveListenConcurrentRetries(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, nil)
	body := saveBody(nil)

	const n = 8
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/listens", bytes.NewReader(body))
			w := httptest.NewRecorder()
			h.SaveListen(w, req)

			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Errorf("invalid response: %v", err)
				return
			}
			results <- resp["duplicated"] == true
		}()
	}
	wg.Wait()
	close(results)

	duplicated := 0
	for dup := range results {
		if dup {
			duplicated++
		}
	}
	if store.inserts != 1 {
		t.Errorf("inserts = %d, want exactly 1", store.inserts)
	}
	if duplicated != n-1 {
		t.Errorf("duplicated responses = %d, want %d", duplicated, n-1)
	}
}

func TestSaveListenSanitizes(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, nil)

	postListen(t, h, saveBody(map[string]any{
		"title":           "  Song\u200b  Title  ",
		"album_image_url": "javascript:alert(1)",
	}))

	track, ok := store.tracks["track-1"]
	if !ok {
		t.Fatal("track was not stored")
	}
	if track.Title != "Song Title" {
		t.Errorf("Title = %q, want %q", track.Title, "Song Title")
	}
	if track.AlbumImageURL != nil {
		t.Errorf("AlbumImageURL = %v, want nil for non-http URL", *track.AlbumImageURL)
	}
}

func TestListListens(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, nil)

	postListen(t, h, saveBody(nil))
	postListen(t, h, saveBody(map[string]any{
		"spotify_track_id":  "track-2",
		"title":             "Song B",
		"played_at":         "2024-03-01T13:00:00.000Z",
		"spotify_played_at": "2024-03-01T13:00:00.000Z",
	}))

	req := httptest.NewRequest(http.MethodGet, "/listens", nil)
	w := httptest.NewRecorder()
	h.ListListens(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Items []struct {
			ID              string  `json:"id"`
			SpotifyTrackID  string  `json:"spotify_track_id"`
			Title           string  `json:"title"`
			SpotifyPlayedAt *string `json:"spotify_played_at"`
		} `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(resp.Items))
	}
	// Newest first.
	if resp.Items[0].SpotifyTrackID != "track-2" {
		t.Errorf("items[0] track = %q, want track-2", resp.Items[0].SpotifyTrackID)
	}
	if resp.Items[1].SpotifyPlayedAt == nil || *resp.Items[1].SpotifyPlayedAt != "2024-03-01T12:00:00.123Z" {
		t.Errorf("spotify_played_at = %v, want 2024-03-01T12:00:00.123Z", resp.Items[1].SpotifyPlayedAt)
	}
}

func TestUpdateMood(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, nil)

	_, saved := postListen(t, h, saveBody(map[string]any{"mood": "happy"}))
	id := saved["id"].(string)

	body, _ := json.Marshal(map[string]any{"id": id, "mood": "other", "mood_note": "rainy walk"})
	req := httptest.NewRequest(http.MethodPatch, "/listens", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.UpdateMood(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	l := store.listens[0]
	if l.Mood == nil || *l.Mood != "other" {
		t.Errorf("Mood = %v, want other", l.Mood)
	}
	if l.MoodNote == nil || *l.MoodNote != "rainy walk" {
		t.Errorf("MoodNote = %v, want rainy walk", l.MoodNote)
	}
	// Everything else must be untouched.
	if l.Lat != 35.6595 || l.DurationMs != 210000 {
		t.Errorf("mood update modified other fields: %+v", l)
	}
}

func TestUpdateMoodErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantError  string
	}{
		{"missing id", map[string]any{"mood": "happy"}, http.StatusBadRequest, "Missing field: id"},
		{"missing mood", map[string]any{"id": uuid.NewString()}, http.StatusBadRequest, "Missing field: mood"},
		{"bad id", map[string]any{"id": "nope", "mood": "happy"}, http.StatusBadRequest, "Invalid id"},
		{"bad mood", map[string]any{"id": uuid.NewString(), "mood": "meh"}, http.StatusBadRequest, "Invalid mood"},
		{"unknown id", map[string]any{"id": uuid.NewString(), "mood": "happy"}, http.StatusNotFound, "Listen not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(newFakeStore(), nil)
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPatch, "/listens", bytes.NewReader(body))
			w := httptest.NewRecorder()
			h.UpdateMood(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp map[string]string
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", resp["error"], tt.wantError)
			}
		})
	}
}

func TestStats(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, nil)

	postListen(t, h, saveBody(map[string]any{"mood": "happy"}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	h.Stats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Hotspots []struct {
			Count int `json:"count"`
		} `json:"hotspots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(resp.Hotspots) != 1 || resp.Hotspots[0].Count != 1 {
		t.Errorf("hotspots = %+v, want one cluster of one listen", resp.Hotspots)
	}
}

func TestCurrentlyPlaying(t *testing.T) {
	item := &spotify.CurrentlyPlayingItem{
		TrackID:    "track-9",
		Title:      "Now Playing",
		Artist:     "Someone",
		IsPlaying:  true,
		ProgressMs: 1000,
		DurationMs: 180000,
	}

	tests := []struct {
		name       string
		player     PlayerService
		wantStatus int
		wantBody   string
	}{
		{"playing", &fakePlayer{current: item}, http.StatusOK, `"trackId":"track-9"`},
		{"idle", &fakePlayer{}, http.StatusOK, "null"},
		{"not authenticated", &fakePlayer{err: auth.ErrNotAuthenticated}, http.StatusUnauthorized, "Not authenticated"},
		{"relogin required", &fakePlayer{err: fmt.Errorf("wrapped: %w", spotify.ErrReloginRequired)}, http.StatusUnauthorized, "log in again"},
		{"not configured", nil, http.StatusServiceUnavailable, "not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(newFakeStore(), tt.player)
			req := httptest.NewRequest(http.MethodGet, "/currently-playing", nil)
			w := httptest.NewRecorder()
			h.CurrentlyPlaying(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRecent(t *testing.T) {
	player := &fakePlayer{recent: []spotify.RecentItem{
		{SpotifyTrackID: "track-1", Title: "Song A", Artist: "Artist A", PlayedAt: "2024-03-01T12:00:00.000Z", DurationMs: 210000},
	}}
	h := newTestHandlers(newFakeStore(), player)

	req := httptest.NewRequest(http.MethodGet, "/recent", nil)
	w := httptest.NewRecorder()
	h.Recent(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Items []spotify.RecentItem `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].SpotifyTrackID != "track-1" {
		t.Errorf("items = %+v", resp.Items)
	}
}
