package operations

import (
	"log/slog"
	"sync"
)

// ProgressReporter receives stage progress. Implementations must not block
// for long and must never fail the run.
type ProgressReporter interface {
	Report(stage string, percent int, message string)
}

// ReporterFunc adapts a function to ProgressReporter
type ReporterFunc func(stage string, percent int, message string)

// Report implements ProgressReporter
func (f ReporterFunc) Report(stage string, percent int, message string) {
	if f != nil {
		f(stage, percent, message)
	}
}

// NopReporter discards progress
type NopReporter struct{}

// Report implements ProgressReporter
func (NopReporter) Report(string, int, string) {}

// LogReporter writes progress to slog with the overall percentage
type LogReporter struct {
	logger *slog.Logger
	runID  string
}

// NewLogReporter creates a reporter logging under runID
func NewLogReporter(logger *slog.Logger, runID string) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger, runID: runID}
}

// Report implements ProgressReporter
func (r *LogReporter) Report(stage string, percent int, message string) {
	r.logger.Info("run_progress",
		slog.String("operation_id", r.runID),
		slog.String("stage", stage),
		slog.Int("stage_progress", percent),
		slog.Int("progress", OverallPercent(stage, percent)),
		slog.String("message", message))
}

// MultiReporter fans progress out to several reporters, skipping nil entries
type MultiReporter []ProgressReporter

// Report implements ProgressReporter
func (m MultiReporter) Report(stage string, percent int, message string) {
	for _, r := range m {
		if r != nil {
			r.Report(stage, percent, message)
		}
	}
}

// broadcastReporter turns progress into run snapshots
type broadcastReporter struct {
	broadcaster *StatusBroadcaster
	runID       string
}

func (r *broadcastReporter) Report(stage string, percent int, message string) {
	r.broadcaster.UpdateStepProgress(r.runID, stage, percent, message)
}

// ProgressTracker counts the finished units of a stage
type ProgressTracker struct {
	mu      sync.Mutex
	total   int
	current int
}

// NewProgressTracker creates a tracker for total units
func NewProgressTracker(total int) *ProgressTracker {
	return &ProgressTracker{total: total}
}

// Increment marks one more unit finished and returns the stage percentage
func (p *ProgressTracker) Increment() int {
	p.mu.Lock()
	p.current++
	p.mu.Unlock()
	return p.Percent()
}

// Percent returns the completed share as a whole percentage
func (p *ProgressTracker) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total <= 0 {
		return 100
	}
	return clampPercent(p.current * 100 / p.total)
}
