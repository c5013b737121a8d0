// Package rotation drives credential rotation cycles: it prepares a cycle
// context from a template and inputs, executes the remote operation,
// extracts new credential values, verifies them, and commits the staged
// values atomically.
package rotation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	rerrors "github.com/systmms/rotor/internal/errors"
	"github.com/systmms/rotor/internal/executor"
	"github.com/systmms/rotor/internal/expr"
	"github.com/systmms/rotor/internal/extract"
	"github.com/systmms/rotor/internal/logging"
	"github.com/systmms/rotor/internal/secure"
	"github.com/systmms/rotor/internal/template"
)

// State names a phase of the rotation cycle.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateExecuting   State = "executing"
	StateExtracting  State = "extracting"
	StateTesting     State = "testing"
	StateCommitted   State = "committed"
	StateFailed      State = "failed"
	StateRollingBack State = "rolling_back"
)

// RetryPolicy bounds the retry loop around the execute stage. Only that
// stage retries; validation, extraction and verification failures are
// deterministic.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
}

// DefaultRetryPolicy retries transient executor failures twice with
// doubling waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialWait: 500 * time.Millisecond}
}

// Request describes one rotation invocation.
type Request struct {
	Template  string
	Operation string // set, remove or test
	// Identity distinguishes rotation targets sharing a template. Left
	// empty it is derived from the template's stable inputs.
	Identity string
	Inputs   map[string]any
	// PriorInternal carries internal values committed by the previous
	// cycle, e.g. the currently active username of a dual-credential
	// template or the id of the API key to remove.
	PriorInternal map[string]any
	// RetireInternal carries the internal values of the credential cycled
	// out two rotations ago. After a successful set it is revoked with the
	// template's remove operation; until then it stayed valid for one full
	// cycle so consumers could drain.
	RetireInternal map[string]any
}

// TrailEntry records one state transition of a cycle.
type TrailEntry struct {
	State  State     `json:"state"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Result is the committed outcome of a cycle. Outputs and Internal are
// only populated when State is StateCommitted.
type Result struct {
	Template   string
	Operation  string
	Identity   string
	State      State
	Outputs    map[string]any
	Internal   map[string]any
	Attempts   int
	// Retired reports whether the credential named by RetireInternal was
	// revoked after the commit. False when none was due or the best-effort
	// revocation failed.
	Retired    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Trail      []TrailEntry
}

// Orchestrator runs rotation cycles. Safe for concurrent use; concurrent
// cycles for the same template and identity are rejected.
type Orchestrator struct {
	catalog   *template.Catalog
	resolver  *expr.Resolver
	extractor *extract.Extractor
	http      *executor.HTTP
	db        *executor.DB
	logger    *logging.Logger
	metrics   *Metrics
	retry     RetryPolicy
	sinks     []Sink

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// DefaultOperationTimeout bounds a single remote call.
const DefaultOperationTimeout = 30 * time.Second

// NewOrchestrator creates an orchestrator over the given catalog.
func NewOrchestrator(catalog *template.Catalog, logger *logging.Logger) *Orchestrator {
	resolver := expr.New(secure.NewGenerator())
	return &Orchestrator{
		catalog:   catalog,
		resolver:  resolver,
		extractor: extract.New(),
		http:      executor.NewHTTP(resolver, DefaultOperationTimeout),
		db:        executor.NewDB(resolver, DefaultOperationTimeout),
		logger:    logger,
		metrics:   NewMetrics(),
		retry:     DefaultRetryPolicy(),
		inFlight:  make(map[string]struct{}),
	}
}

// SetRetryPolicy overrides the execute-stage retry policy.
func (o *Orchestrator) SetRetryPolicy(p RetryPolicy) {
	if p.MaxAttempts > 0 {
		o.retry = p
	}
}

// SetExecutors substitutes the HTTP and DB executors, used by tests and by
// configurations with non-default timeouts.
func (o *Orchestrator) SetExecutors(h *executor.HTTP, d *executor.DB) {
	if h != nil {
		o.http = h
	}
	if d != nil {
		o.db = d
	}
}

// Resolver exposes the orchestrator's resolver so executors built by
// callers share its random source.
func (o *Orchestrator) Resolver() *expr.Resolver {
	return o.resolver
}

// AddSink registers an audit sink.
func (o *Orchestrator) AddSink(s Sink) {
	o.sinks = append(o.sinks, s)
}

// Rotate runs one full cycle for the requested operation.
//
// For set: Preparing (validate inputs, dual-credential alternation, pre
// assignments), Executing (with retries), Extracting (stage setter values,
// all or nothing), Testing (when the template defines test), then Commit.
// After a commit the credential from two cycles ago, if the request names
// one, is revoked with the template's remove operation.
// For remove and test the same pipeline runs without the set-only stages.
//
// On a verification or extraction failure of a set, a template with a
// remove operation gets one best-effort rollback call before the cycle is
// reported failed.
func (o *Orchestrator) Rotate(ctx context.Context, req Request) (*Result, error) {
	tmpl, err := o.catalog.Get(req.Template)
	if err != nil {
		return nil, rerrors.Wrap(req.Template, req.Operation, rerrors.ValidationError{
			Template: req.Template, Message: err.Error(),
		})
	}
	op, err := tmpl.Operation(req.Operation)
	if err != nil {
		return nil, rerrors.Wrap(tmpl.Name, req.Operation, rerrors.ValidationError{
			Template: tmpl.Name, Message: err.Error(),
		})
	}

	inputs, err := tmpl.ValidateInputs(req.Inputs)
	if err != nil {
		return nil, rerrors.Wrap(tmpl.Name, req.Operation, err)
	}

	identity := req.Identity
	if identity == "" {
		identity = DeriveIdentity(tmpl, inputs)
	}

	if !o.acquire(tmpl.Name, identity) {
		return nil, rerrors.Wrap(tmpl.Name, req.Operation, rerrors.ConflictError{
			Template: tmpl.Name, Identity: identity,
		})
	}
	defer o.release(tmpl.Name, identity)

	result := &Result{
		Template:  tmpl.Name,
		Operation: req.Operation,
		Identity:  identity,
		State:     StateIdle,
		StartedAt: time.Now(),
	}

	o.metrics.RecordStarted(tmpl.Name, req.Operation)
	o.emit(ctx, Event{
		Type: EventStarted, Template: tmpl.Name, Operation: req.Operation,
		Identity: identity, State: StateIdle, Timestamp: time.Now(),
	})

	rctx := newCycleContext(tmpl, inputs, req.PriorInternal)
	red := logging.NewRedactor(rctx.SecretValues()...)

	// Preparing
	o.transition(result, StatePreparing, "")
	if req.Operation == template.OpNameSet && tmpl.Dual != nil {
		if err := o.alternateDualCredential(tmpl, rctx); err != nil {
			return o.fail(ctx, result, err, red)
		}
	}
	if err := o.runPreSteps(op, rctx, red); err != nil {
		return o.fail(ctx, result, err, red)
	}

	// Executing
	o.transition(result, StateExecuting, "")
	res, attempts, err := o.executeWithRetry(ctx, tmpl.Name, op, rctx)
	result.Attempts = attempts
	if err != nil {
		return o.fail(ctx, result, sanitizeError(err, red), red)
	}

	// Extracting: evaluate every setter before touching the context so a
	// failing rule can never leave a partial overwrite behind.
	o.transition(result, StateExtracting, "")
	staged, err := o.stageSetters(ctx, op, res, rctx)
	if err != nil {
		err = o.maybeRollback(ctx, result, tmpl, req.Operation, rctx, staged, sanitizeError(err, red), red)
		return o.fail(ctx, result, err, red)
	}
	for _, sv := range staged {
		if err := rctx.Set(sv.path, sv.value); err != nil {
			return o.fail(ctx, result, rerrors.ExtractionError{Path: sv.path, Message: err.Error()}, red)
		}
		if s, ok := sv.value.(string); ok {
			red.Add(s)
		}
	}

	// Testing: only a set cycle verifies, and only when the template
	// defines a test operation.
	if req.Operation == template.OpNameSet && tmpl.HasOperation(template.OpNameTest) {
		o.transition(result, StateTesting, "")
		if err := o.runTest(ctx, tmpl, rctx); err != nil {
			testErr := rerrors.TestFailedError{Template: tmpl.Name, Err: sanitizeError(err, red)}
			finalErr := o.maybeRollback(ctx, result, tmpl, req.Operation, rctx, nil, testErr, red)
			return o.fail(ctx, result, finalErr, red)
		}
	}

	// Commit
	o.transition(result, StateCommitted, "")
	result.State = StateCommitted
	result.Outputs = rctx.Outputs()
	result.Internal = rctx.Internal()
	result.FinishedAt = time.Now()

	duration := result.FinishedAt.Sub(result.StartedAt)
	o.metrics.RecordCompleted(tmpl.Name, req.Operation, "success", duration.Seconds())
	o.emit(ctx, Event{
		Type: EventCompleted, Template: tmpl.Name, Operation: req.Operation,
		Identity: identity, State: StateCommitted, Duration: duration,
		Timestamp: time.Now(),
	})
	o.logger.Info("rotation committed: %s/%s (%s)", tmpl.Name, identity, req.Operation)

	if req.Operation == template.OpNameSet && len(req.RetireInternal) > 0 {
		o.retirePrevious(ctx, tmpl, inputs, req.RetireInternal, result)
	}

	return result, nil
}

// retirePrevious revokes the credential that was cycled out two rotations
// ago. The revocation is best effort; a failure is logged but never fails
// the rotation that already committed.
func (o *Orchestrator) retirePrevious(ctx context.Context, tmpl *template.Template, inputs, retire map[string]any, result *Result) {
	removeOp, err := tmpl.Operation(template.OpNameRemove)
	if err != nil {
		return
	}

	rctx := newCycleContext(tmpl, inputs, retire)
	red := logging.NewRedactor(rctx.SecretValues()...)
	if err := o.runPreSteps(removeOp, rctx, red); err != nil {
		o.logger.Warn("could not retire previous credential of %s/%s: %s",
			tmpl.Name, result.Identity, red.Redact(err.Error()))
		return
	}
	if _, err := o.execute(ctx, removeOp, rctx); err != nil {
		o.logger.Warn("could not retire previous credential of %s/%s: %s",
			tmpl.Name, result.Identity, red.Redact(err.Error()))
		return
	}

	result.Retired = true
	o.logger.Debug("retired previous credential of %s/%s", tmpl.Name, result.Identity)
}

// alternateDualCredential picks the next account of a dual-credential
// template: the one the previous cycle did not use, starting with the
// first on the initial rotation.
func (o *Orchestrator) alternateDualCredential(tmpl *template.Template, rctx *cycleContext) error {
	first, _ := rctx.Lookup("inputs." + tmpl.Dual.Inputs[0])
	second, _ := rctx.Lookup("inputs." + tmpl.Dual.Inputs[1])

	next := first
	if prior, ok := rctx.Lookup("internal." + tmpl.Dual.InternalField); ok && prior == first {
		next = second
	}
	return rctx.Set("internal."+tmpl.Dual.InternalField, next)
}

func (o *Orchestrator) runPreSteps(op *template.Operation, rctx *cycleContext, red *logging.Redactor) error {
	for _, step := range op.Pre {
		v, err := o.resolver.Resolve(step.Assign, rctx)
		if err != nil {
			return err
		}
		if err := rctx.Set(step.Field, v); err != nil {
			return rerrors.ValidationError{Template: rctx.tmpl.Name, Field: step.Field, Message: err.Error()}
		}
		if s, ok := v.(string); ok {
			red.Add(s)
		}
	}
	return nil
}

func (o *Orchestrator) executeWithRetry(ctx context.Context, tmplName string, op *template.Operation, src expr.Source) (*executor.Result, int, error) {
	wait := o.retry.InitialWait

	for attempt := 1; ; attempt++ {
		res, err := o.execute(ctx, op, src)
		if err == nil {
			return res, attempt, nil
		}

		if !rerrors.IsRetryable(err) || attempt >= o.retry.MaxAttempts {
			return nil, attempt, err
		}

		o.metrics.RecordRetry(tmplName)
		o.logger.Warn("execute attempt %d/%d failed for %s, retrying in %s",
			attempt, o.retry.MaxAttempts, tmplName, wait)

		select {
		case <-ctx.Done():
			return nil, attempt, rerrors.ExecutorError{Executor: string(op.Type), Message: "cancelled", Err: ctx.Err()}
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// execute dispatches over the closed operation sum.
func (o *Orchestrator) execute(ctx context.Context, op *template.Operation, src expr.Source) (*executor.Result, error) {
	switch op.Type {
	case template.OpHTTP:
		return o.http.Execute(ctx, op, src)
	case template.OpDB:
		return o.db.Execute(ctx, op, src)
	default:
		return nil, rerrors.ValidationError{Message: fmt.Sprintf("unknown operation type '%s'", op.Type)}
	}
}

type stagedValue struct {
	path  string
	value any
}

func (o *Orchestrator) stageSetters(ctx context.Context, op *template.Operation, res *executor.Result, rctx *cycleContext) ([]stagedValue, error) {
	staged := make([]stagedValue, 0, len(op.Setter))
	for _, entry := range op.Setter {
		var v any
		var err error
		if entry.Rule.Query != "" {
			v, err = o.extractor.Extract(ctx, res.Doc, entry.Rule.Query)
		} else {
			v, err = o.resolver.Resolve(entry.Rule.Assign, rctx)
		}
		if err != nil {
			return staged, err
		}
		staged = append(staged, stagedValue{path: entry.Field, value: v})
	}
	return staged, nil
}

// runTest executes the template's test operation once. Verification is
// never retried: a credential that does not work immediately after set is
// a failed rotation.
func (o *Orchestrator) runTest(ctx context.Context, tmpl *template.Template, rctx *cycleContext) error {
	testOp, err := tmpl.Operation(template.OpNameTest)
	if err != nil {
		return err
	}
	_, err = o.execute(ctx, testOp, rctx)
	return err
}

// maybeRollback attempts one best-effort remove after a failed set. Staged
// values are merged into the context first so remove can reference, say, an
// extracted api_key_id. The primary error always survives; a rollback
// failure is attached, never substituted.
func (o *Orchestrator) maybeRollback(ctx context.Context, result *Result, tmpl *template.Template, operation string, rctx *cycleContext, staged []stagedValue, primary error, red *logging.Redactor) error {
	if operation != template.OpNameSet || !tmpl.HasOperation(template.OpNameRemove) {
		return primary
	}

	o.transition(result, StateRollingBack, "")
	for _, sv := range staged {
		_ = rctx.Set(sv.path, sv.value)
	}

	removeOp, err := tmpl.Operation(template.OpNameRemove)
	if err != nil {
		return primary
	}
	if err := o.runPreSteps(removeOp, rctx, red); err != nil {
		o.metrics.RecordRollback(tmpl.Name, "failed")
		return rerrors.RollbackError{Primary: primary, Err: err}
	}
	if _, err := o.execute(ctx, removeOp, rctx); err != nil {
		o.metrics.RecordRollback(tmpl.Name, "failed")
		return rerrors.RollbackError{Primary: primary, Err: sanitizeError(err, red)}
	}

	o.metrics.RecordRollback(tmpl.Name, "success")
	o.emit(ctx, Event{
		Type: EventRolledBack, Template: tmpl.Name, Operation: operation,
		Identity: result.Identity, State: StateRollingBack,
		Error: red.Redact(primary.Error()), Timestamp: time.Now(),
	})
	o.logger.Warn("rolled back failed rotation of %s/%s", tmpl.Name, result.Identity)
	return primary
}

func (o *Orchestrator) fail(ctx context.Context, result *Result, err error, red *logging.Redactor) (*Result, error) {
	failedAt := result.State
	o.transition(result, StateFailed, string(failedAt))
	result.State = StateFailed
	result.FinishedAt = time.Now()

	wrapped := rerrors.Wrap(result.Template, result.Operation, err)
	duration := result.FinishedAt.Sub(result.StartedAt)
	o.metrics.RecordCompleted(result.Template, result.Operation, "failed", duration.Seconds())
	o.emit(ctx, Event{
		Type: EventFailed, Template: result.Template, Operation: result.Operation,
		Identity: result.Identity, State: StateFailed,
		Error: red.Redact(wrapped.Error()), Duration: duration,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"failed_at": string(failedAt)},
	})
	o.logger.Error("rotation failed: %s/%s at %s: %s",
		result.Template, result.Identity, failedAt, red.Redact(wrapped.Error()))

	return result, wrapped
}

func (o *Orchestrator) transition(result *Result, s State, detail string) {
	result.State = s
	result.Trail = append(result.Trail, TrailEntry{State: s, At: time.Now(), Detail: detail})
}

func (o *Orchestrator) emit(ctx context.Context, event Event) {
	for _, sink := range o.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			o.logger.Warn("audit sink %s failed: %v", sink.Name(), err)
		}
	}
}

func (o *Orchestrator) acquire(tmplName, identity string) bool {
	key := tmplName + "/" + identity
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[key]; busy {
		return false
	}
	o.inFlight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(tmplName, identity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, tmplName+"/"+identity)
}

// sanitizeError scrubs secret values out of executor diagnostics. Other
// error kinds only mention template tokens and paths, never values.
func sanitizeError(err error, red *logging.Redactor) error {
	if err == nil {
		return nil
	}
	var execErr rerrors.ExecutorError
	if errors.As(err, &execErr) {
		msg := execErr.Message
		if msg == "" && execErr.Err != nil {
			msg = execErr.Err.Error()
		} else if execErr.Err != nil {
			msg = msg + ": " + execErr.Err.Error()
		}
		return rerrors.ExecutorError{
			Executor:   execErr.Executor,
			StatusCode: execErr.StatusCode,
			Message:    red.Redact(msg),
		}
	}
	return err
}

// DeriveIdentity hashes the template name and its non-sensitive inputs
// into a short stable identity for locking and state storage. Commands
// key their state files with it so lookups before a cycle and saves
// after agree with what Rotate derives when no identity is given.
func DeriveIdentity(tmpl *template.Template, inputs map[string]any) string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		if spec, ok := tmpl.FieldSpec("inputs", name); ok && spec.Sensitive {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	io.WriteString(h, tmpl.Name)
	for _, name := range names {
		fmt.Fprintf(h, "|%s=%v", name, inputs[name])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
