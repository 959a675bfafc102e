package operations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"adminreports/pkg/contracts/events"
)

// StatusBroadcaster is the single authority for run status updates.
// It keeps the latest snapshot of every run and broadcasts each change.
type StatusBroadcaster struct {
	mu         sync.RWMutex
	operations map[string]*events.OperationSnapshot
	latest     string
	hub        WebSocketHub
	logger     *slog.Logger
	updates    chan updateRequest
	stop       chan struct{}
	stopOnce   sync.Once
}

type updateRequest struct {
	operationID string
	updateFunc  func(*events.OperationSnapshot)
	done        chan struct{}
}

// NewStatusBroadcaster creates a new status broadcaster. A nil hub only keeps snapshots.
func NewStatusBroadcaster(hub WebSocketHub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}

	sb := &StatusBroadcaster{
		operations: make(map[string]*events.OperationSnapshot),
		hub:        hub,
		logger:     logger.With(slog.String("component", "status_broadcaster")),
		updates:    make(chan updateRequest, 100),
		stop:       make(chan struct{}),
	}

	go sb.processUpdates()

	return sb
}

// processUpdates handles all updates sequentially
func (sb *StatusBroadcaster) processUpdates() {
	for {
		select {
		case <-sb.stop:
			return
		case req := <-sb.updates:
			sb.handleUpdate(req)
		}
	}
}

func (sb *StatusBroadcaster) handleUpdate(req updateRequest) {
	defer close(req.done)

	sb.mu.Lock()
	now := time.Now()
	snapshot, exists := sb.operations[req.operationID]
	if !exists {
		snapshot = &events.OperationSnapshot{
			OperationID: req.operationID,
			Status:      string(OperationStatusPending),
			Phase:       string(PhaseIdle),
			StartedAt:   now,
			Steps:       []events.StepSnapshot{},
		}
		sb.operations[req.operationID] = snapshot
		sb.latest = req.operationID
	}

	req.updateFunc(snapshot)
	snapshot.UpdatedAt = now

	if !isTerminalStatus(snapshot.Status) {
		snapshot.Progress = weightedProgress(snapshot.Steps)
	} else if snapshot.CompletedAt == nil {
		snapshot.CompletedAt = &now
	}

	out := cloneSnapshot(snapshot)
	sb.mu.Unlock()

	sb.broadcast(out)
}

// weightedProgress folds step progress into the overall percentage using step weights
func weightedProgress(steps []events.StepSnapshot) int {
	total, weights := 0, 0
	for _, s := range steps {
		w := s.Weight
		if w <= 0 {
			w = 1
		}
		total += s.Progress * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return total / weights
}

func isTerminalStatus(status string) bool {
	return OperationStatusValue(status).IsTerminal()
}

func cloneSnapshot(s *events.OperationSnapshot) *events.OperationSnapshot {
	c := *s
	c.Steps = append([]events.StepSnapshot(nil), s.Steps...)
	c.Artifacts = append([]string(nil), s.Artifacts...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// broadcast sends the complete snapshot to all connected clients
func (sb *StatusBroadcaster) broadcast(snapshot *events.OperationSnapshot) {
	if sb.hub == nil {
		return
	}

	sb.logger.Debug("broadcasting_snapshot",
		slog.String("operation_id", snapshot.OperationID),
		slog.String("status", snapshot.Status),
		slog.String("phase", snapshot.Phase),
		slog.Int("progress", snapshot.Progress),
		slog.String("current_step", snapshot.CurrentStep),
	)

	sb.hub.BroadcastUpdate(string(events.MessageTypeOperationSnapshot), snapshot.OperationID, snapshot.Status, snapshot)
}

// UpdateStatus applies updateFunc to the snapshot of operationID and waits for the broadcast.
// Updates after Stop are dropped.
func (sb *StatusBroadcaster) UpdateStatus(operationID string, updateFunc func(*events.OperationSnapshot)) {
	req := updateRequest{
		operationID: operationID,
		updateFunc:  updateFunc,
		done:        make(chan struct{}),
	}

	select {
	case sb.updates <- req:
	case <-sb.stop:
		return
	}

	select {
	case <-req.done:
	case <-sb.stop:
	}
}

// CreateOperation initializes a run with its steps. Step IDs must be stable.
func (sb *StatusBroadcaster) CreateOperation(operationID, kind string, steps []Step) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		snapshot.Kind = kind
		snapshot.Status = string(OperationStatusPending)
		snapshot.Phase = string(PhaseIdle)
		snapshot.Progress = 0
		snapshot.Steps = make([]events.StepSnapshot, len(steps))
		for i, step := range steps {
			weight := 0
			if b, ok := BudgetFor(step.ID()); ok {
				weight = b.Width()
			}
			snapshot.Steps[i] = events.StepSnapshot{
				ID:     step.ID(),
				Name:   step.Name(),
				Status: string(StepStatusPending),
				Weight: weight,
			}
		}
		snapshot.Message = "Run created"
	})
}

// StartOperation marks a run as running
func (sb *StatusBroadcaster) StartOperation(operationID string) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		snapshot.Status = string(OperationStatusRunning)
		snapshot.Message = "Run started"
	})
}

// SetPhase records a state machine transition
func (sb *StatusBroadcaster) SetPhase(operationID string, phase RunPhase) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		snapshot.Phase = string(phase)
	})
}

// UpdateStepProgress updates a step's stage-local progress
func (sb *StatusBroadcaster) UpdateStepProgress(operationID, stepID string, progress int, message string) {
	progress = clampPercent(progress)
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		step := findStep(snapshot, stepID)
		if step == nil {
			snapshot.Steps = append(snapshot.Steps, events.StepSnapshot{ID: stepID, Name: stepID})
			step = &snapshot.Steps[len(snapshot.Steps)-1]
		}
		if step.Status == string(StepStatusCompleted) {
			return
		}
		// Progress within a running step never goes backwards
		if !(step.Status == string(StepStatusActive) && progress < step.Progress) {
			step.Progress = progress
		}
		step.Message = message
		step.Status = string(StepStatusActive)
		snapshot.CurrentStep = step.Name
		snapshot.Message = message
	})
}

func findStep(snapshot *events.OperationSnapshot, stepID string) *events.StepSnapshot {
	for i := range snapshot.Steps {
		if snapshot.Steps[i].ID == stepID {
			return &snapshot.Steps[i]
		}
	}
	return nil
}

// CompleteStep marks a step as completed
func (sb *StatusBroadcaster) CompleteStep(operationID, stepID string, message string) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		if step := findStep(snapshot, stepID); step != nil {
			step.Status = string(StepStatusCompleted)
			step.Progress = 100
			step.Message = message
		}
	})
}

// FailStep marks a step as failed
func (sb *StatusBroadcaster) FailStep(operationID, stepID string, err error) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		if step := findStep(snapshot, stepID); step != nil {
			step.Status = string(StepStatusFailed)
			if err != nil {
				step.Error = err.Error()
			}
		}
	})
}

// CompleteOperation marks a run as done
func (sb *StatusBroadcaster) CompleteOperation(operationID string, message string, artifacts []string) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		snapshot.Status = string(OperationStatusCompleted)
		snapshot.Phase = string(PhaseDone)
		snapshot.Progress = 100
		snapshot.CurrentStep = ""
		snapshot.Message = message
		snapshot.Artifacts = artifacts
		for i := range snapshot.Steps {
			snapshot.Steps[i].Status = string(StepStatusCompleted)
			snapshot.Steps[i].Progress = 100
		}
	})
}

// AbortOperation ends a run that produced nothing to render
func (sb *StatusBroadcaster) AbortOperation(operationID string, message string) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		snapshot.Status = string(OperationStatusAborted)
		snapshot.Phase = string(PhaseAborted)
		snapshot.CurrentStep = ""
		snapshot.Message = message
		skipPending(snapshot)
	})
}

// FailOperation marks a run as failed, keeping the artifacts that were emitted
func (sb *StatusBroadcaster) FailOperation(operationID string, err error, artifacts []string) {
	sb.UpdateStatus(operationID, func(snapshot *events.OperationSnapshot) {
		snapshot.Status = string(OperationStatusFailed)
		snapshot.Phase = string(PhaseFailed)
		if err != nil {
			snapshot.Error = err.Error()
		}
		snapshot.CurrentStep = ""
		snapshot.Artifacts = artifacts
		skipPending(snapshot)
	})
}

func skipPending(snapshot *events.OperationSnapshot) {
	for i := range snapshot.Steps {
		if snapshot.Steps[i].Status == string(StepStatusPending) {
			snapshot.Steps[i].Status = string(StepStatusSkipped)
		}
	}
}

// GetSnapshot returns a copy of the current snapshot of a run
func (sb *StatusBroadcaster) GetSnapshot(operationID string) (*events.OperationSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshot, exists := sb.operations[operationID]
	if !exists {
		return nil, false
	}
	return cloneSnapshot(snapshot), true
}

// Latest returns the snapshot of the most recently created run
func (sb *StatusBroadcaster) Latest() (*events.OperationSnapshot, bool) {
	sb.mu.RLock()
	id := sb.latest
	sb.mu.RUnlock()

	if id == "" {
		return nil, false
	}
	return sb.GetSnapshot(id)
}

// CleanupOldOperations removes finished runs older than maxAge
func (sb *StatusBroadcaster) CleanupOldOperations(ctx context.Context, maxAge time.Duration) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, snapshot := range sb.operations {
		if !isTerminalStatus(snapshot.Status) || snapshot.CompletedAt == nil {
			continue
		}
		if age := now.Sub(*snapshot.CompletedAt); age > maxAge {
			delete(sb.operations, id)
			if sb.latest == id {
				sb.latest = ""
			}
			removed++
			sb.logger.DebugContext(ctx, "snapshot_removed",
				slog.String("operation_id", id),
				slog.String("status", snapshot.Status),
				slog.Duration("age", age),
			)
		}
	}
	return removed
}

// Stop shuts down the update processor
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() { close(sb.stop) })
}
