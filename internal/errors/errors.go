package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which stage of a rotation cycle produced an error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindResolution Kind = "resolution"
	KindExecutor   Kind = "executor"
	KindExtraction Kind = "extraction"
	KindTestFailed Kind = "test_failed"
	KindRollback   Kind = "rollback"
	KindConflict   Kind = "conflict"
	KindUnknown    Kind = "unknown"
)

// ValidationError reports bad or missing rotation inputs.
type ValidationError struct {
	Template string
	Field    string
	Message  string
}

func (e ValidationError) Error() string {
	msg := "invalid inputs"
	if e.Template != "" {
		msg += " for template '" + e.Template + "'"
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field '%s')", e.Field)
	}
	return msg + ": " + e.Message
}

// ResolutionError reports a template token that could not be resolved.
type ResolutionError struct {
	Token   string
	Message string
}

func (e ResolutionError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("cannot resolve '${%s}': %s", e.Token, e.Message)
	}
	return "resolution failed: " + e.Message
}

// ExecutorError reports a failed remote operation (HTTP non-2xx, database
// connection or query failure, timeout). Message must already be safe to
// surface; callers redact secret values before wrapping remote diagnostics.
type ExecutorError struct {
	Executor   string // "http" or "db"
	StatusCode int    // HTTP only, 0 otherwise
	Message    string
	Err        error
}

func (e ExecutorError) Error() string {
	msg := e.Executor + " operation failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && e.Message == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ExecutorError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a setter path that matched nothing, or matched
// more than one node where a single value was expected.
type ExtractionError struct {
	Path    string
	Message string
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("extraction '%s' failed: %s", e.Path, e.Message)
}

// TestFailedError reports that post-rotation verification failed even though
// the set operation itself succeeded on the remote system.
type TestFailedError struct {
	Template string
	Err      error
}

func (e TestFailedError) Error() string {
	msg := "credential verification failed"
	if e.Template != "" {
		msg = fmt.Sprintf("credential verification failed for template '%s'", e.Template)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e TestFailedError) Unwrap() error {
	return e.Err
}

// RollbackError carries a secondary failure hit during the best-effort
// remove call. The primary failure stays the surfaced error; the rollback
// failure is attached so it is not silently lost.
type RollbackError struct {
	Primary error
	Err     error
}

func (e RollbackError) Error() string {
	return fmt.Sprintf("%v (rollback also failed: %v)", e.Primary, e.Err)
}

func (e RollbackError) Unwrap() error {
	return e.Primary
}

// UserError is a CLI-surface error with actionable guidance. Rotation
// failures use RotationError; UserError covers bad flags, unreadable files
// and similar operator mistakes.
type UserError struct {
	Message    string
	Details    string
	Suggestion string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError reports a problem with the rotor.yaml configuration file.
// Unlike the rotation errors it is a user-facing CLI error and may carry a
// suggestion for fixing the file.
type ConfigError struct {
	Field      string
	Value      any
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ConflictError reports a rotation request for an identity that already has
// a cycle in flight.
type ConflictError struct {
	Template string
	Identity string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("rotation already in progress for %s/%s", e.Template, e.Identity)
}

// RotationError is the single typed error surfaced to callers. It carries
// the originating kind plus the template and operation for context; the
// wrapped error never contains raw secret values.
type RotationError struct {
	Kind      Kind
	Template  string
	Operation string
	Err       error
}

func (e *RotationError) Error() string {
	msg := fmt.Sprintf("rotation failed [%s]", e.Kind)
	if e.Template != "" {
		msg += fmt.Sprintf(" template=%s", e.Template)
	}
	if e.Operation != "" {
		msg += fmt.Sprintf(" operation=%s", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// Wrap classifies err and wraps it into a RotationError. An err that is
// already a RotationError is returned unchanged.
func Wrap(template, operation string, err error) *RotationError {
	var re *RotationError
	if errors.As(err, &re) {
		return re
	}
	return &RotationError{
		Kind:      Classify(err),
		Template:  template,
		Operation: operation,
		Err:       err,
	}
}

// Classify maps an error to its rotation kind via errors.As.
func Classify(err error) Kind {
	var (
		validation ValidationError
		resolution ResolutionError
		executor   ExecutorError
		extraction ExtractionError
		testFailed TestFailedError
		rollback   RollbackError
		conflict   ConflictError
	)
	switch {
	case errors.As(err, &rollback):
		return KindRollback
	case errors.As(err, &testFailed):
		return KindTestFailed
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &resolution):
		return KindResolution
	case errors.As(err, &extraction):
		return KindExtraction
	case errors.As(err, &executor):
		return KindExecutor
	case errors.As(err, &conflict):
		return KindConflict
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether an error is worth retrying. Only transient
// executor failures qualify; validation, resolution, extraction and test
// failures are deterministic and retrying them just repeats the failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var execErr ExecutorError
	if !errors.As(err, &execErr) {
		return false
	}

	// 4xx means the request itself is wrong; retrying won't help.
	if execErr.StatusCode >= 400 && execErr.StatusCode < 500 {
		return false
	}
	if execErr.StatusCode >= 500 {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"too many requests",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
