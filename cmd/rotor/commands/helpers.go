package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/rotor/internal/config"
	rerrors "github.com/systmms/rotor/internal/errors"
	"github.com/systmms/rotor/internal/executor"
	"github.com/systmms/rotor/internal/logging"
	"github.com/systmms/rotor/internal/rotation"
	"github.com/systmms/rotor/internal/rotation/storage"
	"github.com/systmms/rotor/internal/secure"
	"github.com/systmms/rotor/internal/template"
)

// Options carries the global CLI state into commands. Logger is set by the
// root command's PersistentPreRun before any RunE fires.
type Options struct {
	ConfigPath string
	Logger     *logging.Logger
}

// runtime bundles everything a rotation command needs.
type runtime struct {
	cfg          *config.Config
	catalog      *template.Catalog
	orchestrator *rotation.Orchestrator
	store        storage.Storage
}

func newRuntime(opts *Options) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	catalog, err := template.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load template catalog: %w", err)
	}

	rotation.InitMetrics()

	o := rotation.NewOrchestrator(catalog, opts.Logger)
	o.AddSink(rotation.NewLoggerSink(opts.Logger))

	timeout := cfg.OperationTimeout(rotation.DefaultOperationTimeout)
	if timeout != rotation.DefaultOperationTimeout {
		o.SetExecutors(
			executor.NewHTTP(o.Resolver(), timeout),
			executor.NewDB(o.Resolver(), timeout),
		)
	}

	defaults := rotation.DefaultRetryPolicy()
	o.SetRetryPolicy(rotation.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		InitialWait: cfg.Retry.RetryWait(defaults.InitialWait),
	})

	if wh := cfg.Audit.Webhook; wh != nil {
		sink, err := rotation.NewWebhookSink(rotation.WebhookSinkConfig{
			URL:         wh.URL,
			Headers:     wh.Headers,
			Timeout:     time.Duration(wh.TimeoutSeconds) * time.Second,
			MaxAttempts: wh.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		o.AddSink(sink)
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = storage.DefaultStorageDir()
	}

	return &runtime{
		cfg:          cfg,
		catalog:      catalog,
		orchestrator: o,
		store:        storage.NewFileStorage(stateDir),
	}, nil
}

// effectiveIdentity resolves the identity a command keys its state by. An
// explicit --identity wins; otherwise the identity is derived the same way
// Rotate derives it, so the state loaded before a cycle and the state
// saved after live under the same key. Lookup errors are swallowed here
// and surface from the rotation itself.
func effectiveIdentity(catalog *template.Catalog, templateName, identity string, inputs map[string]any) string {
	if identity != "" {
		return identity
	}
	tmpl, err := catalog.Get(templateName)
	if err != nil {
		return ""
	}
	validated, err := tmpl.ValidateInputs(inputs)
	if err != nil {
		return ""
	}
	return rotation.DeriveIdentity(tmpl, validated)
}

// readInputs assembles the rotation inputs: an optional YAML file plus
// --set key=value overrides. The raw file bytes go through an enclave so
// admin credentials don't linger on the heap after parsing.
func readInputs(inputsFile string, sets []string) (map[string]any, error) {
	inputs := make(map[string]any)

	if inputsFile != "" {
		raw, err := os.ReadFile(inputsFile)
		if err != nil {
			return nil, rerrors.UserError{
				Message:    "Failed to read inputs file",
				Details:    err.Error(),
				Suggestion: "Check the path given to --inputs",
				Err:        err,
			}
		}
		buf, err := secure.NewSecureBuffer(raw)
		if err != nil {
			return nil, err
		}
		defer buf.Destroy()

		locked, err := buf.Open()
		if err != nil {
			return nil, err
		}
		defer locked.Destroy()

		if err := yaml.Unmarshal(locked.Bytes(), &inputs); err != nil {
			return nil, rerrors.UserError{
				Message:    "Inputs file is not a valid YAML mapping",
				Details:    err.Error(),
				Suggestion: "The file must map input names to values, one per line",
			}
		}
	}

	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, rerrors.UserError{
				Message:    fmt.Sprintf("Invalid --set value: %s", kv),
				Suggestion: "Use --set name=value",
			}
		}
		inputs[key] = value
	}

	return inputs, nil
}

// recordOutcome updates the per-target status counters and appends a
// history entry. Both are best effort; a full state dir never fails the
// rotation that already happened.
func recordOutcome(opts *Options, store storage.Storage, result *rotation.Result, rotateErr error) {
	if result == nil {
		return
	}

	status, err := store.GetStatus(result.Template, result.Identity)
	if err != nil || status == nil {
		status = &storage.RotationStatus{
			Template: result.Template,
			Identity: result.Identity,
		}
	}

	status.LastRotation = result.FinishedAt
	status.RotationCount++
	if rotateErr == nil {
		status.LastResult = "committed"
		status.LastError = ""
		status.SuccessCount++
	} else {
		status.LastResult = "failed"
		status.LastError = rotateErr.Error()
		status.FailureCount++
	}
	if err := store.SaveStatus(status); err != nil {
		opts.Logger.Warn("failed to save rotation status: %v", err)
	}

	entry := &storage.HistoryEntry{
		ID:        fmt.Sprintf("%s-%s-%d", result.Template, result.Identity, result.FinishedAt.UnixNano()),
		Timestamp: result.FinishedAt,
		Template:  result.Template,
		Identity:  result.Identity,
		Operation: result.Operation,
		Status:    status.LastResult,
		Duration:  result.FinishedAt.Sub(result.StartedAt),
		Attempts:  result.Attempts,
	}
	if rotateErr != nil {
		entry.Error = rotateErr.Error()
		entry.FailedAt = failedStage(result)
	}
	if err := store.SaveHistory(entry); err != nil {
		opts.Logger.Warn("failed to save rotation history: %v", err)
	}
}

// failedStage returns the last state before the failed transition.
func failedStage(result *rotation.Result) string {
	for i := len(result.Trail) - 1; i >= 0; i-- {
		if result.Trail[i].State == rotation.StateFailed {
			return result.Trail[i].Detail
		}
	}
	return ""
}
