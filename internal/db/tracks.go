package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles track database operations.
type TrackRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or updates a track, unique on the service-assigned
// spotify_track_id. Idempotent; track.ID is populated with the stored id.
func (r *TrackRepository) Upsert(ctx context.Context, track *Track) error {
	if track.ID == uuid.Nil {
		track.ID = uuid.New()
	}
	query := `
		INSERT INTO tracks (id, spotify_track_id, title, artist, album_image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (spotify_track_id) DO UPDATE SET
			title = EXCLUDED.title,
			artist = EXCLUDED.artist,
			album_image_url = EXCLUDED.album_image_url
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		track.ID,
		track.SpotifyTrackID,
		track.Title,
		track.Artist,
		track.AlbumImageURL,
	).Scan(&track.ID, &track.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting track: %w", err)
	}
	return nil
}

// GetBySpotifyID retrieves a track by its Spotify track id.
func (r *TrackRepository) GetBySpotifyID(ctx context.Context, spotifyTrackID string) (*Track, error) {
	query := `
		SELECT id, spotify_track_id, title, artist, album_image_url, created_at
		FROM tracks
		WHERE spotify_track_id = $1
	`
	var track Track
	err := r.pool.QueryRow(ctx, query, spotifyTrackID).Scan(
		&track.ID,
		&track.SpotifyTrackID,
		&track.Title,
		&track.Artist,
		&track.AlbumImageURL,
		&track.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &track, nil
}
