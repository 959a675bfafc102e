package operations

import (
	"sync"
	"time"

	"adminreports/pkg/contracts/domain"
)

// OperationStatusValue represents the overall run status
type OperationStatusValue string

const (
	OperationStatusPending   OperationStatusValue = "pending"
	OperationStatusRunning   OperationStatusValue = "running"
	OperationStatusCompleted OperationStatusValue = "completed"
	OperationStatusAborted   OperationStatusValue = "aborted"
	OperationStatusFailed    OperationStatusValue = "failed"
)

// IsTerminal reports whether the status is final
func (s OperationStatusValue) IsTerminal() bool {
	return s == OperationStatusCompleted || s == OperationStatusAborted || s == OperationStatusFailed
}

// OperationState represents the complete state of a report run
type OperationState struct {
	mu sync.RWMutex

	// Basic run information
	ID        string               `json:"id"`
	Status    OperationStatusValue `json:"status"`
	Phase     RunPhase             `json:"phase"`
	StartTime time.Time            `json:"start_time"`
	EndTime   *time.Time           `json:"end_time,omitempty"`

	// Step states
	Steps map[string]*StepState `json:"steps"`

	// Run context for passing data between steps
	Context map[string]interface{} `json:"-"`

	// Error if the run failed or was aborted
	Error error `json:"-"`

	request  RunRequest
	reporter ProgressReporter
}

// NewOperationState creates the state of a run. A nil reporter discards progress.
func NewOperationState(req RunRequest, reporter ProgressReporter) *OperationState {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &OperationState{
		ID:        req.ID,
		Status:    OperationStatusPending,
		Phase:     PhaseIdle,
		StartTime: time.Now(),
		Steps:     make(map[string]*StepState),
		Context:   make(map[string]interface{}),
		request:   req,
		reporter:  reporter,
	}
}

// Config returns the report configuration of the run
func (p *OperationState) Config() domain.ReportConfig {
	return p.request.Config
}

// Token returns the bearer credential of the run
func (p *OperationState) Token() string {
	return p.request.Token
}

// Report forwards stage progress to the run's reporter
func (p *OperationState) Report(stage string, percent int, message string) {
	if p == nil || p.reporter == nil {
		return
	}
	p.reporter.Report(stage, clampPercent(percent), message)
	if s := p.GetStage(stage); s != nil {
		s.UpdateProgress(percent, message)
	}
}

// Start marks the run as running
func (p *OperationState) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Status = OperationStatusRunning
	p.StartTime = time.Now()
}

// SetPhase moves the run to a new phase
func (p *OperationState) SetPhase(phase RunPhase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Phase = phase
}

// GetStatus returns the current status
func (p *OperationState) GetStatus() OperationStatusValue {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status
}

// Complete marks the run as done
func (p *OperationState) Complete() {
	p.finish(OperationStatusCompleted, PhaseDone, nil)
}

// Abort ends the run without artifacts
func (p *OperationState) Abort(err error) {
	p.finish(OperationStatusAborted, PhaseAborted, err)
}

// Fail marks the run as failed
func (p *OperationState) Fail(err error) {
	p.finish(OperationStatusFailed, PhaseFailed, err)
}

func (p *OperationState) finish(status OperationStatusValue, phase RunPhase, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.EndTime = &now
	p.Status = status
	p.Phase = phase
	p.Error = err
}

// GetStage returns the state of a specific Step
func (p *OperationState) GetStage(stageID string) *StepState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Steps[stageID]
}

// SetStage updates the state of a specific Step
func (p *OperationState) SetStage(stageID string, state *StepState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Steps[stageID] = state
}

// GetContext retrieves a value from the run context
func (p *OperationState) GetContext(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	val, ok := p.Context[key]
	return val, ok
}

// SetContext sets a value in the run context
func (p *OperationState) SetContext(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Context[key] = value
}

// ContextValue returns a typed value from the run context
func ContextValue[T any](p *OperationState, key string) (T, bool) {
	var zero T
	v, ok := p.GetContext(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Duration returns the duration of the run
func (p *OperationState) Duration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.EndTime != nil {
		return p.EndTime.Sub(p.StartTime)
	}
	return time.Since(p.StartTime)
}

// Record builds the persisted view of the run
func (p *OperationState) Record() *RunRecord {
	artifacts, _ := ContextValue[[]domain.Artifact](p, ContextKeyArtifacts)
	records, _ := ContextValue[int](p, ContextKeyRecords)

	p.mu.RLock()
	defer p.mu.RUnlock()

	rec := &RunRecord{
		ID:        p.ID,
		Kind:      p.request.Config.Kind,
		Config:    p.request.Config,
		Status:    p.Status,
		Phase:     p.Phase,
		StartedAt: p.StartTime,
		Records:   records,
		Artifacts: append([]domain.Artifact(nil), artifacts...),
	}
	if p.EndTime != nil {
		end := *p.EndTime
		rec.FinishedAt = &end
	}
	if p.Error != nil {
		rec.Error = p.Error.Error()
		rec.ErrorType = GetErrorType(p.Error)
	}
	return rec
}
