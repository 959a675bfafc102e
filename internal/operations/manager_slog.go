package operations

import (
	"context"
	"log/slog"
	"time"
)

// logRunStart logs the start of a run
func (m *Manager) logRunStart(ctx context.Context, state *OperationState) {
	cfg := state.Config()
	m.logger.InfoContext(ctx, "operation_start",
		slog.String("operation_id", state.ID),
		slog.String("kind", string(cfg.Kind)),
		slog.String("date_start", cfg.DateStart),
		slog.String("date_end", cfg.DateEnd),
		slog.String("status_filter", cfg.StatusFilter),
		slog.String("tariff_filter", string(cfg.TariffFilter)),
		slog.String("chunk_size", cfg.ChunkSize.String()))
}

// logRunComplete logs the outcome of a run
func (m *Manager) logRunComplete(ctx context.Context, rec *RunRecord, duration time.Duration) {
	attrs := []any{
		slog.String("operation_id", rec.ID),
		slog.String("status", string(rec.Status)),
		slog.String("phase", string(rec.Phase)),
		slog.Int("records", rec.Records),
		slog.Int("artifacts", len(rec.Artifacts)),
		slog.Duration("duration", duration),
	}
	switch rec.Status {
	case OperationStatusFailed:
		attrs = append(attrs, slog.String("error", rec.Error), slog.String("error_type", string(rec.ErrorType)))
		m.logger.ErrorContext(ctx, "operation_complete", attrs...)
	case OperationStatusAborted:
		attrs = append(attrs, slog.String("reason", rec.Error))
		m.logger.WarnContext(ctx, "operation_complete", attrs...)
	default:
		m.logger.InfoContext(ctx, "operation_complete", attrs...)
	}
}

// logStageComplete logs the completion of a step
func (m *Manager) logStageComplete(ctx context.Context, operationID, stepID string, duration time.Duration) {
	m.logger.InfoContext(ctx, "stage_complete",
		slog.String("operation_id", operationID),
		slog.String("step", stepID),
		slog.Duration("duration", duration))
}

// logStageError logs a step error. A run without data is not an error.
func (m *Manager) logStageError(ctx context.Context, operationID, stepID string, err error) {
	level := slog.LevelError
	if IsType(err, ErrorTypeNoData) {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "stage_error",
		slog.String("operation_id", operationID),
		slog.String("step", stepID),
		slog.String("error_type", string(GetErrorType(err))),
		slog.String("error", err.Error()))
}
