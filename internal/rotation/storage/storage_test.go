package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	state := &RotationState{
		Template:  "postgres",
		Identity:  "a1b2c3d4e5f6",
		Operation: "set",
		Outputs: map[string]any{
			"db_username": "app_user_1",
			"db_password": "newsecret",
		},
		Internal: map[string]any{
			"username":         "app_user_1",
			"rotated_password": "newsecret",
		},
	}
	require.NoError(t, fs.SaveState(state))
	assert.Equal(t, 1, state.Version)

	got, err := fs.GetState("postgres", "a1b2c3d4e5f6")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "app_user_1", got.Outputs["db_username"])
	assert.Equal(t, "newsecret", got.Internal["rotated_password"])
	assert.Equal(t, 1, got.Version)

	// A second save bumps the version.
	require.NoError(t, fs.SaveState(got))
	reread, err := fs.GetState("postgres", "a1b2c3d4e5f6")
	require.NoError(t, err)
	assert.Equal(t, 2, reread.Version)
}

func TestGetStateUnknownTarget(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	got, err := fs.GetState("postgres", "never-rotated")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteState(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	state := &RotationState{Template: "sendgrid", Identity: "abc", Operation: "set"}
	require.NoError(t, fs.SaveState(state))

	require.NoError(t, fs.DeleteState("sendgrid", "abc"))
	got, err := fs.GetState("sendgrid", "abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is not an error.
	require.NoError(t, fs.DeleteState("sendgrid", "abc"))
}

func TestStateFilePermissions(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStorage(dir)

	state := &RotationState{Template: "postgres", Identity: "abc", Operation: "set"}
	require.NoError(t, fs.SaveState(state))

	info, err := os.Stat(filepath.Join(dir, "state", "postgres-abc.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestStatusRoundTrip(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	status := &RotationStatus{
		Template:      "mysql",
		Identity:      "abc",
		LastRotation:  time.Now(),
		LastResult:    "committed",
		RotationCount: 3,
		SuccessCount:  2,
		FailureCount:  1,
	}
	require.NoError(t, fs.SaveStatus(status))

	got, err := fs.GetStatus("mysql", "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.RotationCount)
	assert.Equal(t, "committed", got.LastResult)

	missing, err := fs.GetStatus("mysql", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHistoryNewestFirst(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := &HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Template:  "sendgrid",
			Identity:  "abc",
			Operation: "set",
			Status:    "committed",
		}
		require.NoError(t, fs.SaveHistory(entry))
	}

	entries, err := fs.GetHistory("sendgrid", "abc", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, base.Add(4*time.Minute), entries[0].Timestamp.UTC())
	assert.Equal(t, base.Add(2*time.Minute), entries[2].Timestamp.UTC())

	all, err := fs.GetHistory("sendgrid", "abc", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestHistoryUnknownTarget(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	entries, err := fs.GetHistory("postgres", "none", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupOldEntries(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	old := &HistoryEntry{
		Timestamp: time.Now().Add(-48 * time.Hour),
		Template:  "postgres",
		Identity:  "abc",
		Status:    "committed",
	}
	recent := &HistoryEntry{
		Timestamp: time.Now(),
		Template:  "postgres",
		Identity:  "abc",
		Status:    "committed",
	}
	require.NoError(t, fs.SaveHistory(old))
	require.NoError(t, fs.SaveHistory(recent))

	require.NoError(t, fs.CleanupOldEntries(24*time.Hour))

	entries, err := fs.GetHistory("postgres", "abc", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.WithinDuration(t, recent.Timestamp, entries[0].Timestamp, time.Second)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres", "postgres"},
		{"my service/prod", "my_service_prod"},
		{"../escape", ".._escape"},
		{"", "_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in))
	}
}

func TestDefaultStorageDirEnvOverride(t *testing.T) {
	t.Setenv("ROTOR_STATE_DIR", "/tmp/rotor-test-state")
	assert.Equal(t, "/tmp/rotor-test-state", DefaultStorageDir())

	t.Setenv("ROTOR_STATE_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "rotor", "rotation"), DefaultStorageDir())
}
