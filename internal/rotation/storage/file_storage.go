package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileStorage keeps rotation data as JSON files under a base directory:
//
//	<base>/state/<template>-<identity>.json
//	<base>/status/<template>-<identity>.json
//	<base>/history/<template>-<identity>/<timestamp>.json
//
// Directories are 0700 and files 0600; state files contain credentials.
type FileStorage struct {
	baseDir string
}

// NewFileStorage creates file-backed storage rooted at baseDir.
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{baseDir: baseDir}
}

// DefaultStorageDir resolves the storage directory: ROTOR_STATE_DIR wins,
// then XDG_DATA_HOME, then ~/.local/share.
func DefaultStorageDir() string {
	if dir := os.Getenv("ROTOR_STATE_DIR"); dir != "" {
		return dir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "rotor", "rotation")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".rotor", "rotation")
	}
	return filepath.Join(home, ".local", "share", "rotor", "rotation")
}

const timestampFormat = "20060102-150405.000000000"

// SaveState persists the committed values of a cycle.
func (fs *FileStorage) SaveState(state *RotationState) error {
	stateDir := filepath.Join(fs.baseDir, "state")
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	state.UpdatedAt = time.Now()
	state.Version++

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	filename := filepath.Join(stateDir, targetFilename(state.Template, state.Identity)+".json")
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// GetState retrieves the last committed state, nil when absent.
func (fs *FileStorage) GetState(templateName, identity string) (*RotationState, error) {
	filename := filepath.Join(fs.baseDir, "state", targetFilename(templateName, identity)+".json")

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state RotationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", filename, err)
	}
	return &state, nil
}

// DeleteState removes a target's state file.
func (fs *FileStorage) DeleteState(templateName, identity string) error {
	filename := filepath.Join(fs.baseDir, "state", targetFilename(templateName, identity)+".json")
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// SaveStatus persists per-target counters.
func (fs *FileStorage) SaveStatus(status *RotationStatus) error {
	statusDir := filepath.Join(fs.baseDir, "status")
	if err := os.MkdirAll(statusDir, 0700); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	filename := filepath.Join(statusDir, targetFilename(status.Template, status.Identity)+".json")
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}

// GetStatus retrieves per-target counters, nil when the target is unknown.
func (fs *FileStorage) GetStatus(templateName, identity string) (*RotationStatus, error) {
	filename := filepath.Join(fs.baseDir, "status", targetFilename(templateName, identity)+".json")

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var status RotationStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status file %s: %w", filename, err)
	}
	return &status, nil
}

// SaveHistory appends one history entry.
func (fs *FileStorage) SaveHistory(entry *HistoryEntry) error {
	historyDir := filepath.Join(fs.baseDir, "history", targetFilename(entry.Template, entry.Identity))
	if err := os.MkdirAll(historyDir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	if entry.ID == "" {
		entry.ID = entry.Timestamp.Format(timestampFormat)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	filename := filepath.Join(historyDir, entry.Timestamp.Format(timestampFormat)+".json")
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write history entry: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a target, newest first.
func (fs *FileStorage) GetHistory(templateName, identity string, limit int) ([]HistoryEntry, error) {
	historyDir := filepath.Join(fs.baseDir, "history", targetFilename(templateName, identity))

	files, err := os.ReadDir(historyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	// Timestamped filenames sort chronologically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var entries []HistoryEntry
	for _, name := range names {
		if limit > 0 && len(entries) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(historyDir, name))
		if err != nil {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CleanupOldEntries removes history entries older than the given age.
func (fs *FileStorage) CleanupOldEntries(olderThan time.Duration) error {
	historyRoot := filepath.Join(fs.baseDir, "history")
	targets, err := os.ReadDir(historyRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history root: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	for _, target := range targets {
		if !target.IsDir() {
			continue
		}
		dir := filepath.Join(historyRoot, target.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := strings.TrimSuffix(f.Name(), ".json")
			ts, err := time.Parse(timestampFormat, name)
			if err != nil {
				continue
			}
			if ts.Before(cutoff) {
				_ = os.Remove(filepath.Join(dir, f.Name()))
			}
		}
	}
	return nil
}

// targetFilename builds a filesystem-safe key for a rotation target.
func targetFilename(templateName, identity string) string {
	return sanitizeFilename(templateName) + "-" + sanitizeFilename(identity)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

var _ Storage = (*FileStorage)(nil)
