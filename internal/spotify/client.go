// Package spotify wraps the Spotify Web API player endpoints used by the
// listen logger.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// ErrReloginRequired is returned when the stored credential can no longer be
// refreshed and the user must authenticate again.
var ErrReloginRequired = errors.New("relogin required")

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// CurrentlyPlayingItem describes the track playing right now.
type CurrentlyPlayingItem struct {
	TrackID       string  `json:"trackId"`
	Title         string  `json:"title"`
	Artist        string  `json:"artist"`
	AlbumImageURL *string `json:"albumImageUrl"`
	IsPlaying     bool    `json:"isPlaying"`
	ProgressMs    int     `json:"progressMs"`
	DurationMs    int     `json:"durationMs"`
}

// RecentItem is one recently-played entry in the wire shape served to
// clients.
type RecentItem struct {
	SpotifyTrackID string  `json:"spotify_track_id"`
	Title          string  `json:"title"`
	Artist         string  `json:"artist"`
	AlbumImageURL  *string `json:"album_image_url"`
	PlayedAt       string  `json:"played_at"`
	DurationMs     int     `json:"duration_ms"`
}

// CurrentlyPlaying returns the currently playing track, or nil when nothing
// is playing (paused playback and empty responses both count as nothing).
func (c *Client) CurrentlyPlaying(ctx context.Context) (*CurrentlyPlayingItem, error) {
	cp, err := c.api.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting currently playing: %w", classifyAuthError(err))
	}
	if cp == nil || !cp.Playing || cp.Item == nil {
		return nil, nil
	}

	return &CurrentlyPlayingItem{
		TrackID:       cp.Item.ID.String(),
		Title:         cp.Item.Name,
		Artist:        joinArtists(cp.Item.Artists),
		AlbumImageURL: firstImageURL(cp.Item.Album.Images),
		IsPlaying:     cp.Playing,
		ProgressMs:    int(cp.Progress),
		DurationMs:    int(cp.Item.Duration),
	}, nil
}

// RecentlyPlayed returns up to limit recently played tracks, newest first.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]RecentItem, error) {
	items, err := c.api.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(limit)})
	if err != nil {
		return nil, fmt.Errorf("getting recently played: %w", classifyAuthError(err))
	}

	out := make([]RecentItem, 0, len(items))
	for _, it := range items {
		out = append(out, RecentItem{
			SpotifyTrackID: it.Track.ID.String(),
			Title:          it.Track.Name,
			Artist:         joinArtists(it.Track.Artists),
			AlbumImageURL:  firstImageURL(it.Track.Album.Images),
			PlayedAt:       it.PlayedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			DurationMs:     int(it.Track.Duration),
		})
	}
	return out, nil
}

// classifyAuthError maps upstream 401/403 responses to ErrReloginRequired.
// The oauth2 transport already performed its one transparent refresh-and-
// retry before the error reached us, so a 401 here means the credential is
// gone for good.
func classifyAuthError(err error) error {
	var spErr spotify.Error
	if errors.As(err, &spErr) {
		if spErr.Status == http.StatusUnauthorized || spErr.Status == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrReloginRequired, spErr.Message)
		}
	}
	// Token refresh failures surface as oauth2 RetrieveErrors wrapped in a
	// url.Error; a revoked refresh token also requires relogin.
	if strings.Contains(err.Error(), "invalid_grant") {
		return fmt.Errorf("%w: %v", ErrReloginRequired, err)
	}
	return err
}

func joinArtists(artists []spotify.SimpleArtist) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func firstImageURL(images []spotify.Image) *string {
	if len(images) == 0 || images[0].URL == "" {
		return nil
	}
	url := images[0].URL
	return &url
}
