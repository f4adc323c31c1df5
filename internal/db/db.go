// Package db provides PostgreSQL database access for Music Walk Map.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Tracks returns a TrackRepository.
func (db *DB) Tracks() *TrackRepository {
	return &TrackRepository{pool: db.pool}
}

// Listens returns a ListenRepository.
func (db *DB) Listens() *ListenRepository {
	return &ListenRepository{pool: db.pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tracks (
			id uuid PRIMARY KEY,
			spotify_track_id text NOT NULL UNIQUE,
			title text NOT NULL,
			artist text NOT NULL,
			album_image_url text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS listens (
			id uuid PRIMARY KEY,
			track_id uuid NOT NULL REFERENCES tracks(id),
			played_at timestamptz NOT NULL,
			spotify_played_at timestamptz,
			duration_ms integer NOT NULL,
			lat double precision NOT NULL,
			lng double precision NOT NULL,
			mood text,
			mood_note text,
			weather_main text,
			weather_description text,
			weather_temp_c double precision,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS listens_track_spotify_played_at_idx
			ON listens (track_id, spotify_played_at)`,
		`CREATE INDEX IF NOT EXISTS listens_created_at_idx
			ON listens (created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}
