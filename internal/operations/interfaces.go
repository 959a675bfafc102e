package operations

import (
	"context"
	"time"

	"adminreports/internal/source"
	"adminreports/pkg/contracts/domain"
)

// WebSocketHub defines the interface for broadcasting run updates
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// Source reads the upstream collections
type Source interface {
	FetchPayments(ctx context.Context, token string, onPage source.PageFunc) ([]domain.RawRecord, error)
	FetchUsers(ctx context.Context, token string, onPage source.PageFunc) ([]domain.RawRecord, error)
	// FetchUserDetails never fails; ids whose lookup failed are missing from the result
	FetchUserDetails(ctx context.Context, token string, ids []string) map[string]domain.RawRecord
}

// Renderer turns chunks into workbook artifacts. Now is read once per run and
// every part of that run is rendered with the same generated time.
type Renderer interface {
	Now() time.Time
	RenderPayments(cfg domain.ReportConfig, generated time.Time, chunk domain.Chunk[domain.PaymentRow]) (domain.Artifact, error)
	RenderUsers(cfg domain.ReportConfig, generated time.Time, chunk domain.Chunk[domain.UserRow]) (domain.Artifact, error)
	RenderCombined(cfg domain.ReportConfig, generated time.Time, payments []domain.PaymentRow, users []domain.UserRow) (domain.Artifact, error)
}

// Sink receives every rendered artifact. It may set artifact.Location.
type Sink interface {
	Emit(ctx context.Context, runID string, artifact *domain.Artifact) error
}

// RunStore persists run records. Get returns ErrOperationNotFound for unknown ids.
type RunStore interface {
	Create(ctx context.Context, run *RunRecord) error
	Update(ctx context.Context, run *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]*RunRecord, error)
}
