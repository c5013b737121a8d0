package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	rerrors "github.com/systmms/rotor/internal/errors"
	"github.com/systmms/rotor/internal/expr"
	"github.com/systmms/rotor/internal/template"
)

const maxResponseBytes = 4 << 20

// HTTP executes http-type operations. One executor is shared across
// cycles; per-request state lives on the context.
type HTTP struct {
	client   *http.Client
	resolver *expr.Resolver
}

// NewHTTP creates an HTTP executor with the given per-request timeout.
func NewHTTP(resolver *expr.Resolver, timeout time.Duration) *HTTP {
	return &HTTP{
		client:   &http.Client{Timeout: timeout},
		resolver: resolver,
	}
}

// Execute resolves the operation's method, URL, headers and body, performs
// the request and returns the response document. Non-2xx responses are
// executor errors carrying the status code.
func (h *HTTP) Execute(ctx context.Context, op *template.Operation, src expr.Source) (*Result, error) {
	method, err := h.resolver.ResolveString(op.Method, src)
	if err != nil {
		return nil, err
	}
	url, err := h.resolver.ResolveString(op.URL, src)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if op.Body != nil {
		resolved, err := h.resolver.ResolveValue(op.Body, src)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(resolved)
		if err != nil {
			return nil, rerrors.ExecutorError{Executor: "http", Message: "cannot encode request body", Err: err}
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return nil, rerrors.ExecutorError{Executor: "http", Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, tmpl := range op.Header {
		value, err := h.resolver.ResolveString(tmpl, src)
		if err != nil {
			return nil, err
		}
		req.Header.Set(name, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, rerrors.ExecutorError{Executor: "http", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, rerrors.ExecutorError{Executor: "http", Message: "cannot read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rerrors.ExecutorError{
			Executor:   "http",
			StatusCode: resp.StatusCode,
			Message:    excerpt(raw),
		}
	}

	var body any
	if len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &body); jsonErr != nil {
			body = string(raw)
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	return &Result{Doc: map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    body,
	}}, nil
}

func excerpt(raw []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
