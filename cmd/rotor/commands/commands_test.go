package commands

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotor/internal/logging"
	"github.com/systmms/rotor/internal/rotation"
	"github.com/systmms/rotor/internal/rotation/storage"
	"github.com/systmms/rotor/internal/template"
)

func testOptions(t *testing.T) *Options {
	t.Helper()
	t.Setenv("ROTOR_STATE_DIR", t.TempDir())
	return &Options{
		ConfigPath: filepath.Join(t.TempDir(), "rotor.yaml"),
		Logger:     logging.New(false, true),
	}
}

func fakeSendgrid(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"api_key": "SG.abc", "api_key_id": "123"}`)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// cyclingSendgrid issues a fresh key id per create and records deletions,
// for tests that drive several rotation cycles.
type cyclingSendgrid struct {
	*httptest.Server

	mu      sync.Mutex
	creates int
	deleted []string
}

func newCyclingSendgrid(t *testing.T) *cyclingSendgrid {
	t.Helper()
	s := &cyclingSendgrid{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case r.Method == http.MethodPost:
			s.creates++
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"api_key": "SG.key-%d", "api_key_id": "id-%d"}`, s.creates, s.creates)
		case r.Method == http.MethodDelete:
			s.deleted = append(s.deleted, strings.TrimPrefix(r.URL.Path, "/api_keys/"))
			w.WriteHeader(http.StatusNoContent)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *cyclingSendgrid) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func writeInputsFile(t *testing.T, apiBase string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inputs.yaml")
	content := fmt.Sprintf("admin_api_key: SG.admin\nscopes: [mail.send]\napi_base: %s\n", apiBase)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin_api_key: SG.admin\nscopes: [a, b]\n"), 0o600))

	inputs, err := readInputs(path, []string{"api_base=https://api.example.com"})
	require.NoError(t, err)

	assert.Equal(t, "SG.admin", inputs["admin_api_key"])
	assert.Equal(t, []any{"a", "b"}, inputs["scopes"])
	assert.Equal(t, "https://api.example.com", inputs["api_base"])
}

func TestReadInputsBadSet(t *testing.T) {
	_, err := readInputs("", []string{"missing-separator"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--set")

	_, err = readInputs("", []string{"=value"})
	require.Error(t, err)
}

func TestReadInputsMissingFile(t *testing.T) {
	_, err := readInputs(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read inputs file")
}

func TestRotateCommandEndToEnd(t *testing.T) {
	server := fakeSendgrid(t)
	opts := testOptions(t)
	inputsPath := writeInputsFile(t, server.URL)

	cmd := NewRotateCommand(opts)
	cmd.SetArgs([]string{"--template", "sendgrid", "--inputs", inputsPath, "--identity", "ci"})
	require.NoError(t, cmd.Execute())

	// Committed state is on disk for the next cycle.
	store := storage.NewFileStorage(os.Getenv("ROTOR_STATE_DIR"))
	state, err := store.GetState("sendgrid", "ci")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "SG.abc", state.Outputs["api_key"])
	assert.Equal(t, "123", state.Internal["api_key_id"])
	assert.Equal(t, 1, state.Version)

	status, err := store.GetStatus("sendgrid", "ci")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "committed", status.LastResult)
	assert.Equal(t, 1, status.SuccessCount)

	history, err := store.GetHistory("sendgrid", "ci", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "set", history[0].Operation)
}

func TestRotateThenRemoveCommand(t *testing.T) {
	server := fakeSendgrid(t)
	opts := testOptions(t)
	inputsPath := writeInputsFile(t, server.URL)

	rotate := NewRotateCommand(opts)
	rotate.SetArgs([]string{"--template", "sendgrid", "--inputs", inputsPath, "--identity", "ci"})
	require.NoError(t, rotate.Execute())

	remove := NewRemoveCommand(opts)
	remove.SetArgs([]string{"--template", "sendgrid", "--inputs", inputsPath, "--identity", "ci"})
	require.NoError(t, remove.Execute())

	// Remove deletes the state file once the remote side confirmed.
	store := storage.NewFileStorage(os.Getenv("ROTOR_STATE_DIR"))
	state, err := store.GetState("sendgrid", "ci")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestRotateThenRemoveDerivedIdentity(t *testing.T) {
	server := newCyclingSendgrid(t)
	opts := testOptions(t)
	inputsPath := writeInputsFile(t, server.URL)

	rotate := NewRotateCommand(opts)
	rotate.SetArgs([]string{"--template", "sendgrid", "--inputs", inputsPath})
	require.NoError(t, rotate.Execute())

	// With no --identity the state lands under the derived identity, not
	// under an empty key.
	catalog, err := template.LoadCatalog()
	require.NoError(t, err)
	tmpl, err := catalog.Get("sendgrid")
	require.NoError(t, err)
	inputs, err := readInputs(inputsPath, nil)
	require.NoError(t, err)
	validated, err := tmpl.ValidateInputs(inputs)
	require.NoError(t, err)
	derived := rotation.DeriveIdentity(tmpl, validated)

	store := storage.NewFileStorage(os.Getenv("ROTOR_STATE_DIR"))
	state, err := store.GetState("sendgrid", derived)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "id-1", state.Internal["api_key_id"])

	empty, err := store.GetState("sendgrid", "")
	require.NoError(t, err)
	assert.Nil(t, empty)

	// Remove without --identity finds the same state and deletes the key
	// the rotation created.
	remove := NewRemoveCommand(opts)
	remove.SetArgs([]string{"--template", "sendgrid", "--inputs", inputsPath})
	require.NoError(t, remove.Execute())

	assert.Equal(t, []string{"id-1"}, server.deletedIDs())

	state, err = store.GetState("sendgrid", derived)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestRotateCommandCyclesOutPreviousKey(t *testing.T) {
	server := newCyclingSendgrid(t)
	opts := testOptions(t)
	inputsPath := writeInputsFile(t, server.URL)

	runRotateCmd := func() {
		cmd := NewRotateCommand(opts)
		cmd.SetArgs([]string{"--template", "sendgrid", "--inputs", inputsPath, "--identity", "ci"})
		require.NoError(t, cmd.Execute())
	}

	runRotateCmd()
	runRotateCmd()

	// After two rotations the first key is kept aside, still valid for
	// consumers draining toward the second.
	store := storage.NewFileStorage(os.Getenv("ROTOR_STATE_DIR"))
	state, err := store.GetState("sendgrid", "ci")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "id-2", state.Internal["api_key_id"])
	assert.Equal(t, map[string]any{"api_key_id": "id-1"}, state.Previous)
	assert.Empty(t, server.deletedIDs())

	// The third rotation revokes the key from two cycles ago.
	runRotateCmd()

	assert.Equal(t, []string{"id-1"}, server.deletedIDs())

	state, err = store.GetState("sendgrid", "ci")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "id-3", state.Internal["api_key_id"])
	assert.Equal(t, map[string]any{"api_key_id": "id-2"}, state.Previous)
}

func TestRotateCommandFailureRecordsHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	opts := testOptions(t)
	inputsPath := writeInputsFile(t, server.URL)

	cmd := NewRotateCommand(opts)
	cmd.SetArgs([]string{"--template", "sendgrid", "--inputs", inputsPath, "--identity", "ci"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	require.Error(t, cmd.Execute())

	store := storage.NewFileStorage(os.Getenv("ROTOR_STATE_DIR"))
	status, err := store.GetStatus("sendgrid", "ci")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "failed", status.LastResult)
	assert.Equal(t, 1, status.FailureCount)
	assert.NotEmpty(t, status.LastError)

	// No state file appears for a failed rotation.
	state, err := store.GetState("sendgrid", "ci")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestTemplatesCommand(t *testing.T) {
	opts := testOptions(t)

	cmd := NewTemplatesCommand(opts)
	require.NoError(t, cmd.Execute())

	detail := NewTemplatesCommand(opts)
	detail.SetArgs([]string{"postgres"})
	require.NoError(t, detail.Execute())
}

func TestStatusCommandWithoutHistory(t *testing.T) {
	opts := testOptions(t)

	cmd := NewStatusCommand(opts)
	cmd.SetArgs([]string{"postgres"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No rotation status")
}

func TestHistoryCommandEmpty(t *testing.T) {
	opts := testOptions(t)

	cmd := NewHistoryCommand(opts)
	cmd.SetArgs([]string{"sendgrid", "--identity", "ci"})
	require.NoError(t, cmd.Execute())
}

func TestTargetLabel(t *testing.T) {
	assert.Equal(t, "sendgrid/ci", targetLabel("sendgrid", "ci"))
	assert.Equal(t, "sendgrid", targetLabel("sendgrid", ""))
}
