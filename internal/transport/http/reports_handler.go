package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "adminreports/internal/errors"
	"adminreports/internal/exporter"
	"adminreports/internal/infrastructure"
	"adminreports/internal/middleware"
	"adminreports/internal/operations"
	api "adminreports/pkg/contracts/api/v1"
	"adminreports/pkg/contracts/domain"
	"adminreports/pkg/contracts/events"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// RunService is the part of operations.Manager the handlers use
type RunService interface {
	Start(ctx context.Context, req operations.RunRequest) (*operations.RunRecord, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*operations.RunRecord, error)
	List(ctx context.Context, limit int) ([]*operations.RunRecord, error)
	Current() (*operations.RunRecord, bool)
	Snapshot(id string) (*events.OperationSnapshot, bool)
}

// ArtifactReader opens stored artifact files
type ArtifactReader interface {
	Open(runID, fileName string) (io.ReadCloser, error)
}

// ReportsHandlerConfig holds the optional settings of ReportsHandler
type ReportsHandlerConfig struct {
	// DefaultChunkSize applies when a request has no chunk_size
	DefaultChunkSize domain.ChunkSize
	// FallbackToken is used when a request carries no Authorization header
	FallbackToken string
}

// ReportsHandler serves the report run endpoints
type ReportsHandler struct {
	runs      RunService
	artifacts ArtifactReader
	validator *middleware.ValidationMiddleware
	query     *middleware.QueryParamValidator
	problems  *apierrors.ErrorHandler
	cfg       ReportsHandlerConfig
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewReportsHandler creates a new reports handler. artifacts may be nil when
// no sink keeps files.
func NewReportsHandler(runs RunService, artifacts ArtifactReader, problems *apierrors.ErrorHandler, cfg ReportsHandlerConfig, logger *slog.Logger) *ReportsHandler {
	if runs == nil {
		panic("runs cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if problems == nil {
		problems = apierrors.NewErrorHandler(logger, false)
	}

	return &ReportsHandler{
		runs:      runs,
		artifacts: artifacts,
		validator: middleware.NewValidationMiddleware(logger, problems),
		query:     middleware.NewQueryParamValidator(problems),
		problems:  problems,
		cfg:       cfg,
		logger:    logger.With(slog.String("handler", "reports")),
		tracer:    otel.Tracer(infrastructure.MeterName),
	}
}

// Routes returns a chi router for the run endpoints
func (h *ReportsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.validator.ValidateRequest)
	r.Use(middleware.ContentTypeValidator(h.problems, "application/json"))

	r.Post("/", h.StartRun)
	r.Get("/", h.ListRuns)
	r.Get("/current", h.CurrentRun)
	r.Get("/{id}", h.GetRun)
	r.Post("/{id}/cancel", h.CancelRun)
	r.Get("/{id}/artifacts/{name}", h.DownloadArtifact)
	return r
}

// StartRun handles POST /api/reports/runs
func (h *ReportsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "reports_handler.start_run")
	defer span.End()

	data := &api.CreateRunRequest{}
	if err := render.Bind(r, data); err != nil {
		span.SetStatus(codes.Error, "bind failed")
		h.problems.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(data); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		h.problems.HandleError(w, r, err)
		return
	}

	req := operations.RunRequest{
		Config: data.ReportConfig(h.cfg.DefaultChunkSize),
		Token:  h.token(r),
	}
	span.SetAttributes(attribute.String("report.kind", string(req.Config.Kind)))

	rec, err := h.runs.Start(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.problems.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("operation.id", rec.ID))

	h.logger.InfoContext(ctx, "run_accepted",
		slog.String("operation_id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.String("request_id", middleware.GetRequestID(ctx)))

	resp := api.StartRunResponse{Run: runResponse(rec)}
	if snapshot, ok := h.runs.Snapshot(rec.ID); ok {
		resp.Snapshot = snapshot
	}

	w.Header().Set("Location", "/api/reports/runs/"+rec.ID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, resp)
}

// token returns the bearer credential of the request or the configured fallback
func (h *ReportsHandler) token(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return h.cfg.FallbackToken
}

// ListRuns handles GET /api/reports/runs
func (h *ReportsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, maxListLimit, defaultListLimit)
	if !ok {
		return
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.problems.HandleError(w, r, err)
		return
	}

	resp := api.RunListResponse{Runs: make([]api.RunResponse, 0, len(runs)), Count: len(runs)}
	for _, rec := range runs {
		resp.Runs = append(resp.Runs, runResponse(rec))
	}
	render.JSON(w, r, resp)
}

// CurrentRun handles GET /api/reports/runs/current
func (h *ReportsHandler) CurrentRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.runs.Current()
	if !ok {
		h.problems.HandleError(w, r, apierrors.New(http.StatusNotFound, "RUN_NOT_FOUND", "No run in progress"))
		return
	}
	if snapshot, ok := h.runs.Snapshot(rec.ID); ok {
		render.JSON(w, r, snapshot)
		return
	}
	render.JSON(w, r, runResponse(rec))
}

// GetRun handles GET /api/reports/runs/{id}
func (h *ReportsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, runResponse(rec))
}

// CancelRun handles POST /api/reports/runs/{id}/cancel
func (h *ReportsHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runs.Cancel(r.Context(), id); err != nil {
		h.problems.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "run_cancel_accepted", slog.String("operation_id", id))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"id": id, "status": "cancelling"})
}

// DownloadArtifact handles GET /api/reports/runs/{id}/artifacts/{name}
func (h *ReportsHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")

	rec, err := h.runs.Get(r.Context(), id)
	if err != nil {
		h.problems.HandleError(w, r, err)
		return
	}
	if h.artifacts == nil || !hasArtifact(rec, name) {
		h.problems.HandleError(w, r, apierrors.NotFoundError("artifact "+name))
		return
	}

	f, err := h.artifacts.Open(id, name)
	if errors.Is(err, exporter.ErrArtifactNotFound) {
		h.problems.HandleError(w, r, apierrors.NotFoundError("artifact "+name))
		return
	}
	if err != nil {
		h.problems.HandleError(w, r, fmt.Errorf("failed to open artifact: %w", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, f); err != nil {
		h.logger.WarnContext(r.Context(), "artifact_download_interrupted",
			slog.String("operation_id", id),
			slog.String("file_name", name),
			slog.String("error", err.Error()))
	}
}

func hasArtifact(rec *operations.RunRecord, name string) bool {
	for _, a := range rec.Artifacts {
		if a.FileName == name {
			return true
		}
	}
	return false
}

func runResponse(rec *operations.RunRecord) api.RunResponse {
	artifacts := rec.Artifacts
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	return api.RunResponse{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Status:     string(rec.Status),
		Phase:      string(rec.Phase),
		Config:     rec.Config,
		Records:    rec.Records,
		Artifacts:  artifacts,
		Error:      rec.Error,
		ErrorType:  string(rec.ErrorType),
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
}
