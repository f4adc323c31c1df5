package db

import (
	"time"

	"github.com/google/uuid"
)

// Track represents a Spotify track known to the system.
type Track struct {
	ID             uuid.UUID
	SpotifyTrackID string
	Title          string
	Artist         string
	AlbumImageURL  *string // nullable
	CreatedAt      time.Time
}

// Listen represents one persisted listen event.
type Listen struct {
	ID                 uuid.UUID
	TrackID            uuid.UUID
	PlayedAt           time.Time
	SpotifyPlayedAt    *time.Time // nullable; reconciliation timestamp
	DurationMs         int
	Lat                float64
	Lng                float64
	Mood               *string // nullable: happy|soso|sad|other
	MoodNote           *string // nullable, meaningful when mood=other
	WeatherMain        *string
	WeatherDescription *string
	WeatherTempC       *float64
	CreatedAt          time.Time
}

// ListenItem is a listen joined with its track metadata, as served by
// GET /listens.
type ListenItem struct {
	ID                 uuid.UUID
	SpotifyTrackID     string
	Title              string
	Artist             string
	AlbumImageURL      *string
	PlayedAt           time.Time
	SpotifyPlayedAt    *time.Time
	DurationMs         int
	Lat                float64
	Lng                float64
	Mood               *string
	MoodNote           *string
	WeatherMain        *string
	WeatherDescription *string
	WeatherTempC       *float64
	CreatedAt          time.Time
}

// StatsRow is the projection used by the stats aggregation.
type StatsRow struct {
	Mood        *string
	WeatherMain *string
	PlayedAt    time.Time
	Lat         float64
	Lng         float64
}
