package rotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WebhookSinkConfig configures an HTTP audit sink.
type WebhookSinkConfig struct {
	URL         string
	Headers     map[string]string
	Timeout     time.Duration
	MaxAttempts int
	InitialWait time.Duration
}

// WebhookSink delivers audit events to an HTTP endpoint as JSON. Delivery
// retries with exponential backoff; a sink that stays down only costs log
// noise, never a rotation.
type WebhookSink struct {
	config WebhookSinkConfig
	client *http.Client
}

// NewWebhookSink validates the config and creates the sink.
func NewWebhookSink(config WebhookSinkConfig) (*WebhookSink, error) {
	parsed, err := url.Parse(config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid audit webhook URL: %s", config.URL)
	}

	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.InitialWait == 0 {
		config.InitialWait = 1 * time.Second
	}

	return &WebhookSink{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

// Emit posts the event, retrying transient failures.
func (s *WebhookSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		err := s.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < s.config.MaxAttempts {
			wait := s.config.InitialWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("audit webhook failed after %d attempts: %w", s.config.MaxAttempts, lastErr)
}

func (s *WebhookSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audit webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Sink = (*WebhookSink)(nil)
