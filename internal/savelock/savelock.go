// Package savelock persists the shared last-save record used to coordinate
// concurrent agent processes on the same machine. It is advisory: readers
// racing a writer can both miss the lock, which is why the server-side
// duplicate check remains the final arbiter.
package savelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	configDirName = "music-walk-map"
	lockFileName  = "savelock.json"
)

// Lock is the single shared record, overwritten on every successful save.
type Lock struct {
	Key     string    `json:"key"`
	TrackID string    `json:"trackId"`
	SavedAt time.Time `json:"ts"`
}

// Store reads and writes the lock record.
type Store struct {
	path string
}

// DefaultStore returns a Store at the default location:
// ~/.config/music-walk-map/savelock.json
func DefaultStore() (*Store, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting user config dir: %w", err)
	}
	return &Store{path: filepath.Join(configDir, configDirName, lockFileName)}, nil
}

// NewStore creates a Store with a custom path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path where the lock is stored.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current lock record.
// Returns (nil, nil) if no lock has ever been written.
func (s *Store) Load() (*Lock, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	return &lock, nil
}

// Save overwrites the lock record, creating the parent directory if needed.
// Last writer wins.
func (s *Store) Save(lock Lock) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("encoding lock: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

// Delete removes the lock record. Returns nil if it does not exist.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}
