package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"adminreports/internal/infrastructure"
	"adminreports/pkg/contracts/events"
)

// Manager orchestrates report runs. At most one run is in flight at a time.
type Manager struct {
	registry    *Registry
	config      *Config
	broadcaster *StatusBroadcaster
	store       RunStore
	tracer      *RunTracer
	reporter    ProgressReporter
	logger      *slog.Logger

	mu      sync.RWMutex
	current *activeRun
}

type activeRun struct {
	state  *OperationState
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithRunStore sets the run history store
func WithRunStore(store RunStore) ManagerOption {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithTracer sets the run tracer
func WithTracer(tracer *RunTracer) ManagerOption {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithReporter adds a progress reporter that receives every run's progress
func WithReporter(reporter ProgressReporter) ManagerOption {
	return func(m *Manager) {
		m.reporter = reporter
	}
}

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a run manager. A nil hub keeps snapshots without broadcasting them.
func NewManager(hub WebSocketHub, registry *Registry, config *Config, opts ...ManagerOption) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}

	m := &Manager{
		registry: registry,
		config:   config,
		store:    NewMemoryRunStore(),
		tracer:   NewRunTracer(nil, nil),
		logger:   infrastructure.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "run_manager"))
	m.broadcaster = NewStatusBroadcaster(hub, m.logger)
	return m
}

// Start validates the request and launches the run in the background. The
// run outlives ctx; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, req RunRequest) (*RunRecord, error) {
	run, runCtx, err := m.launch(context.WithoutCancel(ctx), req)
	if err != nil {
		return nil, err
	}
	rec := run.state.Record()
	go m.execute(runCtx, run)
	return rec, nil
}

// Run executes a run synchronously. Cancelling ctx cancels the run. The
// returned error is the run's terminal error, nil when it completed.
func (m *Manager) Run(ctx context.Context, req RunRequest) (*RunRecord, error) {
	run, runCtx, err := m.launch(ctx, req)
	if err != nil {
		return nil, err
	}
	m.execute(runCtx, run)
	return run.state.Record(), run.err
}

// launch checks the request, claims the single run slot and records the run
func (m *Manager) launch(parent context.Context, req RunRequest) (*activeRun, context.Context, error) {
	if err := ValidateReportConfig(req.Config); err != nil {
		m.logger.WarnContext(parent, "run_rejected", slog.String("reason", err.Error()))
		return nil, nil, err
	}
	if req.Token == "" {
		return nil, nil, NewUnauthenticatedError("", "bearer credential is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	m.mu.Lock()
	if m.current != nil {
		runningID := m.current.state.ID
		m.mu.Unlock()
		m.tracer.RecordRejected(parent)
		m.logger.WarnContext(parent, "run_rejected",
			slog.String("reason", "run in progress"),
			slog.String("running_id", runningID))
		return nil, nil, ErrRunInProgress
	}

	steps := m.registry.List()
	reporter := MultiReporter{&broadcastReporter{broadcaster: m.broadcaster, runID: req.ID}, m.reporter}
	state := NewOperationState(req, reporter)
	for _, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
	}

	if err := m.store.Create(parent, state.Record()); err != nil {
		m.mu.Unlock()
		return nil, nil, NewFatalError("failed to record run", err)
	}

	runCtx, cancel := context.WithCancel(parent)
	if m.config.RunTimeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, m.config.RunTimeout)
		base := cancel
		cancel = func() { timeoutCancel(); base() }
	}
	// runs started outside an HTTP request still get a trace id for their logs
	runCtx = infrastructure.EnsureTraceID(infrastructure.WithRunID(runCtx, req.ID))

	run := &activeRun{state: state, cancel: cancel, done: make(chan struct{})}
	m.current = run
	m.mu.Unlock()

	m.broadcaster.CreateOperation(req.ID, string(req.Config.Kind), steps)
	return run, runCtx, nil
}

// execute runs every registered step and records the outcome
func (m *Manager) execute(ctx context.Context, run *activeRun) {
	defer close(run.done)
	defer run.cancel()

	state := run.state
	ctx, span := m.tracer.StartRun(ctx, state.ID, state.request)
	state.reporter = MultiReporter{state.reporter, ReporterFunc(func(stage string, percent int, message string) {
		m.tracer.RecordProgress(ctx, stage, percent, message)
	})}
	m.logRunStart(ctx, state)

	state.Start()
	m.broadcaster.StartOperation(state.ID)

	err := m.executeSequential(ctx, state, m.registry.List())
	run.err = err

	switch {
	case err == nil:
		state.Complete()
	case IsType(err, ErrorTypeNoData):
		state.Abort(err)
	default:
		state.Fail(err)
	}

	rec := state.Record()
	switch rec.Status {
	case OperationStatusCompleted:
		m.broadcaster.CompleteOperation(state.ID, fmt.Sprintf("Generated %d files", len(rec.Artifacts)), rec.ArtifactNames())
	case OperationStatusAborted:
		m.broadcaster.AbortOperation(state.ID, err.Error())
	default:
		m.broadcaster.FailOperation(state.ID, err, rec.ArtifactNames())
	}

	// The run context may already be cancelled; the outcome is still persisted
	storeCtx := context.WithoutCancel(ctx)
	if serr := m.store.Update(storeCtx, rec); serr != nil {
		m.logger.ErrorContext(storeCtx, "run_store_update_failed",
			slog.String("operation_id", state.ID),
			slog.String("error", serr.Error()))
	}

	m.tracer.EndRun(storeCtx, span, rec, state.Duration(), err)
	m.logRunComplete(storeCtx, rec, state.Duration())

	m.mu.Lock()
	if m.current == run {
		m.current = nil
	}
	m.mu.Unlock()
}

// executeSequential executes steps one by one, stopping at the first error
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			skipSteps(state, steps[i:], "run cancelled")
			return m.contextError(step.ID(), err)
		}

		state.SetPhase(step.Phase())
		m.broadcaster.SetPhase(state.ID, step.Phase())

		m.logger.InfoContext(ctx, "executing_stage",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("stage_number", i+1),
			slog.Int("total_stages", len(steps)))

		if err := m.executeStage(ctx, state, step); err != nil {
			m.logStageError(ctx, state.ID, step.ID(), err)
			skipSteps(state, steps[i+1:], "run ended at "+step.ID())
			return err
		}
	}
	return nil
}

func skipSteps(state *OperationState, steps []Step, reason string) {
	for _, step := range steps {
		if s := state.GetStage(step.ID()); s != nil {
			s.Skip(reason)
		}
	}
}

// executeStage executes a single step within its timeout. Steps are never retried.
func (m *Manager) executeStage(ctx context.Context, state *OperationState, step Step) error {
	stepState := state.GetStage(step.ID())
	if stepState == nil {
		return NewFatalError(fmt.Sprintf("state of step %s not found", step.ID()), nil)
	}

	if err := step.Validate(state); err != nil {
		stepState.Fail(err)
		m.broadcaster.FailStep(state.ID, step.ID(), err)
		return NewFatalError(fmt.Sprintf("step %s cannot run", step.ID()), err)
	}

	timeout := m.config.GetStepTimeout(step.ID())
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stepCtx, span := m.tracer.StartStep(stepCtx, state.ID, step)

	stepState.Start()
	m.broadcaster.UpdateStepProgress(state.ID, step.ID(), 0, step.Name())

	start := time.Now()
	err := step.Execute(stepCtx, state)
	duration := time.Since(start)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = m.contextError(step.ID(), ctx.Err())
		case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
			err = NewTimeoutError(step.ID(), timeout.String())
		default:
			var opErr *OperationError
			if errors.As(err, &opErr) {
				err = WrapError(err, step.ID(), "")
			} else {
				err = NewExecutionError(step.ID(), err)
			}
		}
	}
	m.tracer.EndStep(stepCtx, span, step.ID(), duration, err)

	if err != nil {
		stepState.Fail(err)
		m.broadcaster.FailStep(state.ID, step.ID(), err)
		return err
	}

	stepState.Complete()
	m.broadcaster.CompleteStep(state.ID, step.ID(), "Step completed successfully")
	m.logStageComplete(ctx, state.ID, step.ID(), duration)
	return nil
}

func (m *Manager) contextError(stepID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(stepID, m.config.RunTimeout.String()).WithCause(err)
	}
	return NewCancellationError(stepID).WithCause(err)
}

// Cancel stops the in-flight run with the given id
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run == nil || run.state.ID != id {
		if _, err := m.store.Get(ctx, id); err != nil {
			return err
		}
		return ErrOperationNotRunning
	}

	m.logger.InfoContext(ctx, "run_cancel_requested", slog.String("operation_id", id))
	run.cancel()
	return nil
}

// Wait blocks until the run with the given id is no longer in flight and returns its record
func (m *Manager) Wait(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run != nil && run.state.ID == id {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.Get(ctx, id)
}

// Current returns the record of the in-flight run
func (m *Manager) Current() (*RunRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, false
	}
	return m.current.state.Record(), true
}

// CurrentID returns the id of the in-flight run or ""
func (m *Manager) CurrentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return ""
	}
	return m.current.state.ID
}

// Get returns a run; the in-flight run is read from memory
func (m *Manager) Get(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run != nil && run.state.ID == id {
		return run.state.Record(), nil
	}
	return m.store.Get(ctx, id)
}

// List returns the run history, newest first
func (m *Manager) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	return m.store.List(ctx, limit)
}

// Snapshot returns the latest progress snapshot of a run
func (m *Manager) Snapshot(id string) (*events.OperationSnapshot, bool) {
	return m.broadcaster.GetSnapshot(id)
}

// LatestSnapshot returns the snapshot of the in-flight run, or of the most
// recently updated run while its snapshot is retained
func (m *Manager) LatestSnapshot() (*events.OperationSnapshot, bool) {
	return m.broadcaster.Latest()
}

// Cleanup drops finished snapshots older than the configured retention
func (m *Manager) Cleanup(ctx context.Context) int {
	return m.broadcaster.CleanupOldOperations(ctx, m.config.SnapshotRetention)
}

// Shutdown cancels the in-flight run and waits for it to finish or for ctx
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run != nil {
		run.cancel()
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.broadcaster.Stop()
	return nil
}
