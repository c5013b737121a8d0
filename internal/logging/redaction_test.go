package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/rotor/internal/logging"
)

// TestSecretRedactionInLogs verifies Secret values never reach the log writer
func TestSecretRedactionInLogs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(true, true, &buf)

	password := "super-secret-password-12345"
	apiKey := "SG.generated-api-key-67890"

	logger.Info("rotated credential: %s", logging.Secret(password))
	logger.Debug("received key: %s", logging.Secret(apiKey))
	logger.Error("verification failed for: %s", logging.Secret(password))

	out := buf.String()

	assert.Equal(t, 3, strings.Count(out, "[REDACTED]"))
	assert.NotContains(t, out, password)
	assert.NotContains(t, out, apiKey)
	assert.Contains(t, out, "rotated credential")
	assert.Contains(t, out, "verification failed")
}

// TestNonSecretDataUntouched verifies only Secret-typed values are redacted
func TestNonSecretDataUntouched(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(false, true, &buf)

	logger.Info("template: %s, user: %s, password: %s",
		"postgres", "app_user_1", logging.Secret("private-secret-123"))

	out := buf.String()
	assert.Contains(t, out, "postgres")
	assert.Contains(t, out, "app_user_1")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "private-secret-123")
}

// TestRedactorScrubsAccumulatedValues verifies a redactor scrubs every value
// registered over the life of a cycle
func TestRedactorScrubsAccumulatedValues(t *testing.T) {
	t.Parallel()

	r := logging.NewRedactor("initial-admin-secret")
	r.Add("rotated-password-abc", "SG.fresh-key")
	r.Add("") // ignored

	msg := "pq: password authentication failed for rotated-password-abc using SG.fresh-key (admin initial-admin-secret)"
	scrubbed := r.Redact(msg)

	assert.NotContains(t, scrubbed, "rotated-password-abc")
	assert.NotContains(t, scrubbed, "SG.fresh-key")
	assert.NotContains(t, scrubbed, "initial-admin-secret")
	assert.Equal(t, 3, strings.Count(scrubbed, "[REDACTED]"))
	assert.Contains(t, scrubbed, "password authentication failed")
}

// TestRedactorConcurrentUse verifies Add and Redact are safe to interleave
func TestRedactorConcurrentUse(t *testing.T) {
	t.Parallel()

	r := logging.NewRedactor()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			r.Add("secret-value-xyz")
		}
	}()
	for i := 0; i < 100; i++ {
		_ = r.Redact("text with secret-value-xyz inside")
	}
	<-done

	assert.NotContains(t, r.Redact("secret-value-xyz"), "secret-value-xyz")
}
