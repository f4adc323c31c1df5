package savelock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "savelock.json"))

	// Missing file is not an error.
	lock, err := store.Load()
	if err != nil {
		t.Fatalf("Load() on missing file: %v", err)
	}
	if lock != nil {
		t.Fatalf("Load() on missing file = %+v, want nil", lock)
	}

	savedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	want := Lock{Key: "track-a-2024-03-01T10:00:00.000Z", TrackID: "track-a", SavedAt: savedAt}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	lock, err = store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if lock == nil {
		t.Fatal("Load() = nil after Save()")
	}
	if lock.Key != want.Key || lock.TrackID != want.TrackID || !lock.SavedAt.Equal(want.SavedAt) {
		t.Errorf("Load() = %+v, want %+v", lock, want)
	}

	// Last writer wins.
	second := Lock{Key: "track-b-key", TrackID: "track-b", SavedAt: savedAt.Add(time.Minute)}
	if err := store.Save(second); err != nil {
		t.Fatalf("Save() second lock: %v", err)
	}
	lock, err = store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if lock.TrackID != "track-b" {
		t.Errorf("lock.TrackID = %q, want track-b", lock.TrackID)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() on missing file: %v", err)
	}
}
