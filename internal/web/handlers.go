package web

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/musicwalk/music-walk-map/internal/auth"
	"github.com/musicwalk/music-walk-map/internal/db"
	"github.com/musicwalk/music-walk-map/internal/listenkey"
	"github.com/musicwalk/music-walk-map/internal/sanitize"
	"github.com/musicwalk/music-walk-map/internal/spotify"
	"github.com/musicwalk/music-walk-map/internal/stats"
	"github.com/musicwalk/music-walk-map/internal/weather"
)

const (
	isoMillis = "2006-01-02T15:04:05.000Z"

	defaultListLimit   = 200
	defaultRecentLimit = 50

	stateCookieName = "oauth_state"
)

// ListenStore is the listen persistence surface the handlers need.
type ListenStore interface {
	InsertDeduped(ctx context.Context, listen *db.Listen) (uuid.UUID, bool, error)
	List(ctx context.Context, limit int) ([]db.ListenItem, error)
	UpdateMood(ctx context.Context, id uuid.UUID, mood string, moodNote *string) error
	StatsRows(ctx context.Context) ([]db.StatsRow, error)
}

// TrackStore is the track persistence surface the handlers need.
type TrackStore interface {
	Upsert(ctx context.Context, track *db.Track) error
}

// WeatherService looks up the current weather at a coordinate.
type WeatherService interface {
	Current(ctx context.Context, lat, lng float64) (*weather.Snapshot, error)
}

// PlayerService proxies the Spotify player endpoints.
type PlayerService interface {
	CurrentlyPlaying(ctx context.Context) (*spotify.CurrentlyPlayingItem, error)
	RecentlyPlayed(ctx context.Context, limit int) ([]spotify.RecentItem, error)
}

// Handlers contains HTTP handlers for the listens API.
type Handlers struct {
	listens ListenStore
	tracks  TrackStore
	weather WeatherService
	player  PlayerService
	authn   *auth.Authenticator
	hub     *Hub

	statsLoc    *time.Location
	maxHotspots int
}

// NewHandlers creates the handler set. weatherSvc and player may be nil when
// the corresponding integration is not configured; the routes then degrade
// (weather fields stay null, player routes answer 503).
func NewHandlers(listens ListenStore, tracks TrackStore, weatherSvc WeatherService, player PlayerService, authn *auth.Authenticator, hub *Hub, statsLoc *time.Location, maxHotspots int) *Handlers {
	if statsLoc == nil {
		statsLoc = time.Local
	}
	if maxHotspots <= 0 {
		maxHotspots = stats.DefaultMaxHotspots
	}
	return &Handlers{
		listens:     listens,
		tracks:      tracks,
		weather:     weatherSvc,
		player:      player,
		authn:       authn,
		hub:         hub,
		statsLoc:    statsLoc,
		maxHotspots: maxHotspots,
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// saveListenRequest is the POST /listens body. Numeric fields are pointers so
// absent and zero can be told apart for the required-field check.
type saveListenRequest struct {
	SpotifyTrackID  string   `json:"spotify_track_id"`
	Title           string   `json:"title"`
	Artist          string   `json:"artist"`
	AlbumImageURL   *string  `json:"album_image_url"`
	PlayedAt        string   `json:"played_at"`
	SpotifyPlayedAt string   `json:"spotify_played_at"`
	DurationMs      *int     `json:"duration_ms"`
	Lat             *float64 `json:"lat"`
	Lng             *float64 `json:"lng"`
	Mood            *string  `json:"mood"`
	MoodNote        *string  `json:"mood_note"`
}

func validMood(mood string) bool {
	switch mood {
	case "happy", "soso", "sad", "other":
		return true
	}
	return false
}

// SaveListen handles POST /listens. It validates and sanitizes the payload,
// upserts the track, attaches a best-effort weather snapshot, and persists
// the listen through the deduplicating insert. A suppressed duplicate returns
// the existing row's id with duplicated=true and does not broadcast.
func (h *Handlers) SaveListen(w http.ResponseWriter, r *http.Request) {
	var req saveListenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	for _, f := range []struct {
		name string
		ok   bool
	}{
		{"spotify_track_id", req.SpotifyTrackID != ""},
		{"title", req.Title != ""},
		{"artist", req.Artist != ""},
		{"played_at", req.PlayedAt != ""},
		{"spotify_played_at", req.SpotifyPlayedAt != ""},
		{"duration_ms", req.DurationMs != nil},
		{"lat", req.Lat != nil},
		{"lng", req.Lng != nil},
	} {
		if !f.ok {
			respondError(w, http.StatusBadRequest, "Missing field: "+f.name)
			return
		}
	}

	if *req.DurationMs < 0 {
		respondError(w, http.StatusBadRequest, "duration_ms must be non-negative")
		return
	}
	if !isFinite(*req.Lat) || !isFinite(*req.Lng) {
		respondError(w, http.StatusBadRequest, "lat and lng must be finite numbers")
		return
	}

	playedAt, err := listenkey.ParseTimestamp(req.PlayedAt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid timestamp: played_at")
		return
	}
	spotifyPlayedAt, err := listenkey.ParseTimestamp(req.SpotifyPlayedAt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid timestamp: spotify_played_at")
		return
	}

	mood := sanitizeOptionalText(req.Mood)
	if mood != nil && !validMood(*mood) {
		respondError(w, http.StatusBadRequest, "Invalid mood")
		return
	}

	track := &db.Track{
		SpotifyTrackID: sanitize.Text(req.SpotifyTrackID),
		Title:          sanitize.Text(req.Title),
		Artist:         sanitize.Text(req.Artist),
		AlbumImageURL:  sanitizeOptionalURL(req.AlbumImageURL),
	}
	if err := h.tracks.Upsert(r.Context(), track); err != nil {
		log.Printf("error upserting track: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save listen")
		return
	}

	listen := &db.Listen{
		TrackID:         track.ID,
		PlayedAt:        playedAt,
		SpotifyPlayedAt: &spotifyPlayedAt,
		DurationMs:      *req.DurationMs,
		Lat:             *req.Lat,
		Lng:             *req.Lng,
		Mood:            mood,
		MoodNote:        sanitizeOptionalText(req.MoodNote),
	}

	// Weather is decoration, never a reason to reject a listen.
	if h.weather != nil {
		snap, err := h.weather.Current(r.Context(), listen.Lat, listen.Lng)
		if err != nil {
			log.Printf("weather lookup failed: %v", err)
		} else if snap != nil {
			listen.WeatherMain = snap.Main
			listen.WeatherDescription = snap.Description
			listen.WeatherTempC = snap.TempC
		}
	}

	id, duplicated, err := h.listens.InsertDeduped(r.Context(), listen)
	if err != nil {
		log.Printf("error inserting listen: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save listen")
		return
	}

	if duplicated {
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":         true,
			"id":         id.String(),
			"duplicated": true,
		})
		return
	}

	if h.hub != nil {
		h.hub.Broadcast("listens-updated")
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"id": id.String(),
	})
}

// ListListens handles GET /listens: newest listens first, capped.
func (h *Handlers) ListListens(w http.ResponseWriter, r *http.Request) {
	items, err := h.listens.List(r.Context(), defaultListLimit)
	if err != nil {
		log.Printf("error listing listens: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to load listens")
		return
	}

	records := make([]listenkey.Record, 0, len(items))
	for _, it := range items {
		records = append(records, toRecord(it))
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": records})
}

// updateMoodRequest is the PATCH /listens body.
type updateMoodRequest struct {
	ID       string  `json:"id"`
	Mood     string  `json:"mood"`
	MoodNote *string `json:"mood_note"`
}

// UpdateMood handles PATCH /listens: it changes the mood annotation of one
// listen and nothing else.
func (h *Handlers) UpdateMood(w http.ResponseWriter, r *http.Request) {
	var req updateMoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "Missing field: id")
		return
	}
	if req.Mood == "" {
		respondError(w, http.StatusBadRequest, "Missing field: mood")
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	mood := sanitize.Text(req.Mood)
	if !validMood(mood) {
		respondError(w, http.StatusBadRequest, "Invalid mood")
		return
	}

	err = h.listens.UpdateMood(r.Context(), id, mood, sanitizeOptionalText(req.MoodNote))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Listen not found")
		return
	}
	if err != nil {
		log.Printf("error updating mood: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to update mood")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id.String()})
}

// Stats handles GET /stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	rows, err := h.listens.StatsRows(r.Context())
	if err != nil {
		log.Printf("error loading stats rows: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	respondJSON(w, http.StatusOK, stats.Summarize(rows, h.statsLoc, h.maxHotspots))
}

// CurrentlyPlaying handles GET /currently-playing. Serves JSON null when
// nothing is playing so pollers can tell "idle" from "error".
func (h *Handlers) CurrentlyPlaying(w http.ResponseWriter, r *http.Request) {
	if h.player == nil {
		respondError(w, http.StatusServiceUnavailable, "Spotify is not configured")
		return
	}

	item, err := h.player.CurrentlyPlaying(r.Context())
	if err != nil {
		h.respondPlayerError(w, err, "currently playing")
		return
	}
	if item == nil {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Recent handles GET /recent.
func (h *Handlers) Recent(w http.ResponseWriter, r *http.Request) {
	if h.player == nil {
		respondError(w, http.StatusServiceUnavailable, "Spotify is not configured")
		return
	}

	items, err := h.player.RecentlyPlayed(r.Context(), defaultRecentLimit)
	if err != nil {
		h.respondPlayerError(w, err, "recently played")
		return
	}
	if items == nil {
		items = []spotify.RecentItem{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handlers) respondPlayerError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		respondError(w, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, spotify.ErrReloginRequired):
		respondError(w, http.StatusUnauthorized, "Spotify login expired, please log in again")
	default:
		log.Printf("error fetching %s: %v", what, err)
		respondError(w, http.StatusInternalServerError, "Spotify request failed")
	}
}

// Login handles GET /auth/login: redirect to Spotify's consent page.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.authn == nil {
		respondError(w, http.StatusServiceUnavailable, "Spotify is not configured")
		return
	}

	state, err := generateOAuthState()
	if err != nil {
		log.Printf("error generating state: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to start login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.authn.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth redirect from Spotify.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	if h.authn == nil {
		respondError(w, http.StatusServiceUnavailable, "Spotify is not configured")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing state cookie")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if err := h.authn.Exchange(r.Context(), cookie.Value, r); err != nil {
		log.Printf("error completing login: %v", err)
		respondError(w, http.StatusBadRequest, "Login failed")
		return
	}

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Logout handles POST /auth/logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if h.authn == nil {
		respondError(w, http.StatusServiceUnavailable, "Spotify is not configured")
		return
	}
	if err := h.authn.Logout(); err != nil {
		log.Printf("error logging out: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to log out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// toRecord converts a stored listen into the wire shape.
func toRecord(it db.ListenItem) listenkey.Record {
	rec := listenkey.Record{
		ID:                 it.ID.String(),
		SpotifyTrackID:     it.SpotifyTrackID,
		Title:              it.Title,
		Artist:             it.Artist,
		AlbumImageURL:      it.AlbumImageURL,
		PlayedAt:           it.PlayedAt.UTC().Format(isoMillis),
		DurationMs:         it.DurationMs,
		Lat:                it.Lat,
		Lng:                it.Lng,
		Mood:               it.Mood,
		MoodNote:           it.MoodNote,
		WeatherMain:        it.WeatherMain,
		WeatherDescription: it.WeatherDescription,
		WeatherTempC:       it.WeatherTempC,
		CreatedAt:          it.CreatedAt.UTC().Format(isoMillis),
	}
	if it.SpotifyPlayedAt != nil {
		s := it.SpotifyPlayedAt.UTC().Format(isoMillis)
		rec.SpotifyPlayedAt = &s
	}
	return rec
}

func sanitizeOptionalText(s *string) *string {
	if s == nil {
		return nil
	}
	clean := sanitize.Text(*s)
	if clean == "" {
		return nil
	}
	return &clean
}

func sanitizeOptionalURL(s *string) *string {
	if s == nil {
		return nil
	}
	clean := sanitize.URL(*s)
	if clean == "" {
		return nil
	}
	return &clean
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// generateOAuthState returns a random URL-safe state string.
func generateOAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
