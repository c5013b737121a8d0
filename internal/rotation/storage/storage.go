// Package storage persists rotation state between CLI invocations: the
// committed internal values a later remove or test needs, per-target
// status counters, and a rotation history.
package storage

import (
	"time"
)

// Storage is the persistence boundary of the rotation engine. The engine
// itself never touches it; commands load prior state before a cycle and
// save the committed result after.
type Storage interface {
	// SaveState persists the committed values of a cycle.
	SaveState(state *RotationState) error

	// GetState retrieves the last committed state for a target, or nil
	// when the target has never rotated.
	GetState(templateName, identity string) (*RotationState, error)

	// DeleteState removes a target's state, used after a remove cycle.
	DeleteState(templateName, identity string) error

	// SaveStatus persists per-target rotation counters.
	SaveStatus(status *RotationStatus) error

	// GetStatus retrieves per-target rotation counters.
	GetStatus(templateName, identity string) (*RotationStatus, error)

	// SaveHistory appends a history entry for a target.
	SaveHistory(entry *HistoryEntry) error

	// GetHistory retrieves recent history for a target, newest first.
	GetHistory(templateName, identity string, limit int) ([]HistoryEntry, error)

	// CleanupOldEntries removes history entries older than the given age.
	CleanupOldEntries(olderThan time.Duration) error
}

// RotationState is the committed outcome of the latest successful cycle
// for one target. Outputs hold the consumer-facing credential values,
// Internal the operational values the next cycle needs (active username,
// remote key id). Previous holds the internal values of the credential
// the latest cycle replaced; it stays valid for one more cycle and is
// then revoked. The file is secret material and stored 0600.
type RotationState struct {
	Template  string         `json:"template"`
	Identity  string         `json:"identity"`
	Operation string         `json:"operation"`
	Outputs   map[string]any `json:"outputs"`
	Internal  map[string]any `json:"internal"`
	Previous  map[string]any `json:"previous,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
	Version   int            `json:"version"`
}

// RotationStatus aggregates outcomes for one target.
type RotationStatus struct {
	Template      string    `json:"template"`
	Identity      string    `json:"identity"`
	LastRotation  time.Time `json:"last_rotation"`
	LastResult    string    `json:"last_result"` // committed or failed
	LastError     string    `json:"last_error,omitempty"`
	RotationCount int       `json:"rotation_count"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`
}

// HistoryEntry records one finished cycle. Error text arrives already
// redacted; history files must stay free of credential values.
type HistoryEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Template  string        `json:"template"`
	Identity  string        `json:"identity"`
	Operation string        `json:"operation"`
	Status    string        `json:"status"` // committed or failed
	FailedAt  string        `json:"failed_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts,omitempty"`
	Error     string        `json:"error,omitempty"`
}
