package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesStore_LoadMissingFileReturnsDefaults(t *testing.T) {
	store := NewPreferencesStore(filepath.Join(t.TempDir(), "user_preferences.json"))
	prefs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultUserPreferences(), prefs)
}

func TestPreferencesStore_SaveThenLoadRoundTrips(t *testing.T) {
	store := NewPreferencesStore(filepath.Join(t.TempDir(), "nested", "user_preferences.json"))
	want := UserPreferences{
		Mode:           "reliable",
		Priority:       "speed",
		MinSuccessRate: 0.95,
		PreferCPU:      true,
		ShowThinking:   true,
		PrettyOutput:   false,
	}

	require.NoError(t, store.Save(want))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPreferencesStore_SaveOverwritesPreviousValue(t *testing.T) {
	store := NewPreferencesStore(filepath.Join(t.TempDir(), "user_preferences.json"))
	require.NoError(t, store.Save(UserPreferences{Mode: "fast"}))
	require.NoError(t, store.Save(UserPreferences{Mode: "balanced"}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "balanced", got.Mode)
}

func TestPreferencesStore_LoadMalformedFileReturnsInvalidConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_preferences.json")
	store := NewPreferencesStore(path)
	require.NoError(t, store.Save(DefaultUserPreferences()))

	// Corrupt the file directly.
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
