package listenkey

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestIndexRebuild(t *testing.T) {
	ix := NewIndex()
	ix.Rebuild([]Record{
		{ID: "1", SpotifyTrackID: "track-a", PlayedAt: "2024-03-01T10:00:00Z"},
		{
			ID:              "2",
			SpotifyTrackID:  "track-b",
			PlayedAt:        "2024-03-01T11:00:05Z",
			SpotifyPlayedAt: strPtr("2024-03-01T11:00:00Z"),
		},
		{ID: "3", SpotifyTrackID: "", PlayedAt: "2024-03-01T12:00:00Z"},
		{ID: "4", SpotifyTrackID: "track-d", PlayedAt: ""},
	})

	if !ix.HasKey("track-a-2024-03-01T10:00:00.000Z") {
		t.Error("expected key for track-a")
	}

	// spotify_played_at wins over played_at for the reconciliation key.
	if !ix.HasKey("track-b-2024-03-01T11:00:00.000Z") {
		t.Error("expected key from spotify_played_at for track-b")
	}
	if ix.HasKey("track-b-2024-03-01T11:00:05.000Z") {
		t.Error("played_at must not be keyed when spotify_played_at is present")
	}

	// Records without a track id or timestamp are skipped, not errors.
	if got := ix.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}

	got := ix.Get("track-a-2024-03-01T10:00:00.000Z")
	if got == nil || got.ID != "1" {
		t.Errorf("Get() = %+v, want record 1", got)
	}

	// Rebuild replaces, never merges.
	ix.Rebuild(nil)
	if ix.HasKey("track-a-2024-03-01T10:00:00.000Z") {
		t.Error("rebuild with no records should clear the index")
	}
}

func TestIndexFindNearby(t *testing.T) {
	ix := NewIndex()
	ix.Rebuild([]Record{
		{ID: "1", SpotifyTrackID: "track-a", PlayedAt: "2024-03-01T10:00:00Z"},
	})

	tests := []struct {
		name      string
		trackID   string
		timestamp string
		tolerance time.Duration
		want      bool
	}{
		{"exact", "track-a", "2024-03-01T10:00:00Z", time.Minute, true},
		{"within window after", "track-a", "2024-03-01T10:00:59Z", time.Minute, true},
		{"within window before", "track-a", "2024-03-01T09:59:10Z", time.Minute, true},
		{"outside window", "track-a", "2024-03-01T10:01:01Z", time.Minute, false},
		{"different track", "track-b", "2024-03-01T10:00:00Z", time.Minute, false},
		{"trims track id", " track-a ", "2024-03-01T10:00:30Z", time.Minute, true},
		{"default tolerance", "track-a", "2024-03-01T10:00:59Z", 0, true},
		{"unparseable timestamp", "track-a", "garbage", time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ix.FindNearby(tt.trackID, tt.timestamp, tt.tolerance); got != tt.want {
				t.Errorf("FindNearby(%q, %q) = %v, want %v", tt.trackID, tt.timestamp, got, tt.want)
			}
		})
	}
}
