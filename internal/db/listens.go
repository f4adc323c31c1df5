package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// geoEpsilonDeg is the per-axis coordinate tolerance for the near-duplicate
// check (~11 m at the equator). Compared independently on lat and lng, not
// as a geodesic distance; the approximation is intentional and preserved.
const geoEpsilonDeg = 1e-4

// ListenRepository handles listen database operations.
type ListenRepository struct {
	pool *pgxpool.Pool
}

// InsertDeduped persists a listen unless an existing row for the same track
// has the same reconciliation timestamp and coordinates within epsilon, in
// which case the existing row's id is returned with duplicated=true.
//
// The select and insert run in one transaction serialized on an advisory
// lock keyed by (track, reconciliation timestamp), so two concurrent
// identical requests cannot both insert: the client-side locks are only
// advisory and this is the authoritative gate.
func (r *ListenRepository) InsertDeduped(ctx context.Context, listen *Listen) (uuid.UUID, bool, error) {
	if listen.ID == uuid.Nil {
		listen.ID = uuid.New()
	}
	reconAt := listen.PlayedAt
	if listen.SpotifyPlayedAt != nil {
		reconAt = *listen.SpotifyPlayedAt
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := listen.TrackID.String() + "|" + reconAt.UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return uuid.Nil, false, fmt.Errorf("acquiring dedup lock: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, lat, lng
		FROM listens
		WHERE track_id = $1 AND COALESCE(spotify_played_at, played_at) = $2
	`, listen.TrackID, reconAt)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("querying duplicates: %w", err)
	}

	var existingID uuid.UUID
	var found bool
	for rows.Next() {
		var id uuid.UUID
		var lat, lng float64
		if err := rows.Scan(&id, &lat, &lng); err != nil {
			rows.Close()
			return uuid.Nil, false, fmt.Errorf("scanning duplicate candidate: %w", err)
		}
		if isNearDuplicate(lat, lng, listen.Lat, listen.Lng) {
			existingID = id
			found = true
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return uuid.Nil, false, fmt.Errorf("iterating duplicate candidates: %w", err)
	}

	if found {
		if err := tx.Commit(ctx); err != nil {
			return uuid.Nil, false, fmt.Errorf("committing transaction: %w", err)
		}
		return existingID, true, nil
	}

	query := `
		INSERT INTO listens (
			id, track_id, played_at, spotify_played_at, duration_ms, lat, lng,
			mood, mood_note, weather_main, weather_description, weather_temp_c, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		listen.ID,
		listen.TrackID,
		listen.PlayedAt,
		listen.SpotifyPlayedAt,
		listen.DurationMs,
		listen.Lat,
		listen.Lng,
		listen.Mood,
		listen.MoodNote,
		listen.WeatherMain,
		listen.WeatherDescription,
		listen.WeatherTempC,
	).Scan(&listen.CreatedAt)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("inserting listen: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("committing transaction: %w", err)
	}
	return listen.ID, false, nil
}

// List retrieves the newest listens joined with track metadata, capped at
// limit.
func (r *ListenRepository) List(ctx context.Context, limit int) ([]ListenItem, error) {
	query := `
		SELECT l.id, t.spotify_track_id, t.title, t.artist, t.album_image_url,
			l.played_at, l.spotify_played_at, l.duration_ms, l.lat, l.lng,
			l.mood, l.mood_note, l.weather_main, l.weather_description, l.weather_temp_c,
			l.created_at
		FROM listens l
		JOIN tracks t ON t.id = l.track_id
		ORDER BY l.created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying listens: %w", err)
	}
	defer rows.Close()

	var items []ListenItem
	for rows.Next() {
		var it ListenItem
		if err := rows.Scan(
			&it.ID,
			&it.SpotifyTrackID,
			&it.Title,
			&it.Artist,
			&it.AlbumImageURL,
			&it.PlayedAt,
			&it.SpotifyPlayedAt,
			&it.DurationMs,
			&it.Lat,
			&it.Lng,
			&it.Mood,
			&it.MoodNote,
			&it.WeatherMain,
			&it.WeatherDescription,
			&it.WeatherTempC,
			&it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning listen: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateMood sets the mood and mood note of an existing listen. No other
// field is touched. Returns ErrNotFound if the id does not exist.
func (r *ListenRepository) UpdateMood(ctx context.Context, id uuid.UUID, mood string, moodNote *string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE listens SET mood = $2, mood_note = $3 WHERE id = $1`, id, mood, moodNote)
	if err != nil {
		return fmt.Errorf("updating mood: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StatsRows retrieves the projection used by the stats aggregation.
func (r *ListenRepository) StatsRows(ctx context.Context) ([]StatsRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT mood, weather_main, played_at, lat, lng FROM listens`)
	if err != nil {
		return nil, fmt.Errorf("querying stats rows: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var sr StatsRow
		if err := rows.Scan(&sr.Mood, &sr.WeatherMain, &sr.PlayedAt, &sr.Lat, &sr.Lng); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// isNearDuplicate applies the flat per-axis epsilon to two coordinate pairs.
func isNearDuplicate(lat1, lng1, lat2, lng2 float64) bool {
	return math.Abs(lat1-lat2) < geoEpsilonDeg && math.Abs(lng1-lng2) < geoEpsilonDeg
}
