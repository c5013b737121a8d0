package rotation

import (
	"context"
	"time"

	"github.com/systmms/rotor/internal/logging"
)

// EventType enumerates audit event types.
type EventType string

const (
	EventStarted    EventType = "rotation_started"
	EventCompleted  EventType = "rotation_completed"
	EventFailed     EventType = "rotation_failed"
	EventRolledBack EventType = "rotation_rolled_back"
)

// Event is one audit record. It names the credential and the outcome but
// never carries credential values: Error is pre-redacted text.
type Event struct {
	Type      EventType         `json:"event"`
	Template  string            `json:"template"`
	Operation string            `json:"operation"`
	Identity  string            `json:"identity"`
	State     State             `json:"state"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events. Emit failures are logged and swallowed;
// auditing never blocks or fails a rotation.
type Sink interface {
	Name() string
	Emit(ctx context.Context, event Event) error
}

// LoggerSink writes audit events through the CLI logger.
type LoggerSink struct {
	logger *logging.Logger
}

// NewLoggerSink creates a sink backed by logger.
func NewLoggerSink(logger *logging.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Name() string { return "logger" }

func (s *LoggerSink) Emit(_ context.Context, event Event) error {
	switch event.Type {
	case EventFailed, EventRolledBack:
		s.logger.Error("%s %s/%s state=%s error=%s",
			event.Type, event.Template, event.Identity, event.State, event.Error)
	case EventStarted:
		s.logger.Debug("%s %s/%s operation=%s",
			event.Type, event.Template, event.Identity, event.Operation)
	default:
		s.logger.Info("%s %s/%s duration=%s",
			event.Type, event.Template, event.Identity, event.Duration.Round(time.Millisecond))
	}
	return nil
}
