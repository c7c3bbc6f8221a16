package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// UserPreferences is the routing and UI preference record persisted at
// Config.PreferencesPath (spec §6 "Preferences file"). Load reads it from
// disk on every call and Save writes it back on every update; writes are serialized by
// a file lock and are last-write-wins (spec §5 "Shared resources &
// locking discipline").
type UserPreferences struct {
	Mode           string  `json:"mode"`
	Priority       string  `json:"priority"`
	MinSuccessRate float64 `json:"min_success_rate"`
	PreferCPU      bool    `json:"prefer_cpu"`
	ShowThinking   bool    `json:"show_thinking"`
	PrettyOutput   bool    `json:"pretty_output"`
}

// DefaultUserPreferences returns the built-in defaults used when no
// preferences file exists yet.
func DefaultUserPreferences() UserPreferences {
	return UserPreferences{
		Mode:           "balanced",
		Priority:       "quality",
		MinSuccessRate: 0.8,
		PreferCPU:      false,
		ShowThinking:   false,
		PrettyOutput:   true,
	}
}

// PreferencesStore loads and saves a UserPreferences record at path,
// guarding every write with a file lock so concurrent Hydra processes
// sharing the same home directory don't interleave partial writes.
type PreferencesStore struct {
	path string
	lock *flock.Flock
}

// NewPreferencesStore builds a store over path. It does not touch the
// filesystem; Save creates the parent directory when it writes.
func NewPreferencesStore(path string) *PreferencesStore {
	return &PreferencesStore{path: path, lock: flock.New(path + ".lock")}
}

// Load reads the preferences file, returning DefaultUserPreferences if it
// doesn't exist yet.
func (s *PreferencesStore) Load() (UserPreferences, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultUserPreferences(), nil
	}
	if err != nil {
		return UserPreferences{}, fmt.Errorf("%w: reading preferences file: %v", ErrInvalidConfiguration, err)
	}

	var prefs UserPreferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return UserPreferences{}, fmt.Errorf("%w: parsing preferences file: %v", ErrInvalidConfiguration, err)
	}
	return prefs, nil
}

// Save writes prefs to the preferences file under an exclusive file
// lock (spec §5: "writes are serialized by a file lock and are
// last-write-wins"); a concurrent writer's losing update is simply
// overwritten by whichever Save call acquires the lock second.
func (s *PreferencesStore) Save(prefs UserPreferences) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: creating preferences directory: %v", ErrInvalidConfiguration, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring preferences file lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquiring preferences file lock: timed out")
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}
