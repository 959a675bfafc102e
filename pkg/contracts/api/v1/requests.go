// Package api contains the HTTP contracts of the report service.
// Version v1 represents the current stable API version.
package api

import (
	"net/http"
	"strings"
	"time"

	"adminreports/pkg/contracts/domain"
	"adminreports/pkg/contracts/events"
)

// CreateRunRequest starts a report run
type CreateRunRequest struct {
	Kind         domain.ReportKind   `json:"kind" validate:"required,oneof=payments users combined"`
	DateStart    string              `json:"date_start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DateEnd      string              `json:"date_end,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StatusFilter string              `json:"status_filter,omitempty" validate:"omitempty,oneof=all completed pending failed cancelled refunded created unknown"`
	TariffFilter domain.TariffFilter `json:"tariff_filter,omitempty" validate:"omitempty,oneof=all with_tariff without_tariff"`
	Search       string              `json:"search,omitempty" validate:"max=200"`
	ChunkSize    *domain.ChunkSize   `json:"chunk_size,omitempty" validate:"omitempty,min=0,max=100000"`
}

// Bind implements render.Binder
func (r *CreateRunRequest) Bind(*http.Request) error {
	r.Search = strings.TrimSpace(r.Search)
	r.StatusFilter = strings.ToLower(strings.TrimSpace(r.StatusFilter))
	return nil
}

// ReportConfig converts the request, falling back to the configured chunk size
func (r CreateRunRequest) ReportConfig(defaultChunk domain.ChunkSize) domain.ReportConfig {
	chunk := defaultChunk
	if r.ChunkSize != nil {
		chunk = *r.ChunkSize
	}
	return domain.ReportConfig{
		Kind:         r.Kind,
		DateStart:    r.DateStart,
		DateEnd:      r.DateEnd,
		StatusFilter: r.StatusFilter,
		TariffFilter: r.TariffFilter,
		Search:       r.Search,
		ChunkSize:    chunk,
	}
}

// RunResponse describes a stored or in-flight run
type RunResponse struct {
	ID         string              `json:"id"`
	Kind       domain.ReportKind   `json:"kind"`
	Status     string              `json:"status"`
	Phase      string              `json:"phase"`
	Config     domain.ReportConfig `json:"config"`
	Records    int                 `json:"records"`
	Artifacts  []domain.Artifact   `json:"artifacts"`
	Error      string              `json:"error,omitempty"`
	ErrorType  string              `json:"error_type,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// RunListResponse is the run history page
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

// StartRunResponse is returned when a run was accepted
type StartRunResponse struct {
	Run      RunResponse               `json:"run"`
	Snapshot *events.OperationSnapshot `json:"snapshot,omitempty"`
}
