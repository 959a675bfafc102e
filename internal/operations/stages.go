package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"adminreports/internal/infrastructure"
	"adminreports/internal/reports"
	"adminreports/internal/source"
	"adminreports/pkg/contracts/domain"
)

// StepDeps are the collaborators injected into the report steps
type StepDeps struct {
	Source   Source
	Renderer Renderer
	Sink     Sink
	Location *time.Location
	Metrics  *infrastructure.ReportMetrics
	Logger   *slog.Logger
}

func (d StepDeps) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

func (d StepDeps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// NewReportSteps builds the pipeline fetch, join, filter, chunk, render
func NewReportSteps(deps StepDeps) []Step {
	return []Step{
		NewFetchStep(deps),
		NewJoinStep(deps),
		NewFilterStep(deps),
		NewChunkStep(),
		NewRenderStep(deps),
	}
}

// RegisterReportSteps registers the report pipeline in order
func RegisterReportSteps(registry *Registry, deps StepDeps) error {
	for _, step := range NewReportSteps(deps) {
		if err := registry.Register(step); err != nil {
			return fmt.Errorf("failed to register step %s: %w", step.ID(), err)
		}
	}
	return nil
}

// FetchStep pages through the upstream collections and enriches users
type FetchStep struct {
	BaseStage
	deps StepDeps
}

// NewFetchStep creates the fetch step
func NewFetchStep(deps StepDeps) *FetchStep {
	return &FetchStep{
		BaseStage: NewBaseStage(StepIDFetch, StepNameFetch, PhaseFetching),
		deps:      deps,
	}
}

// Validate checks that a source is configured
func (s *FetchStep) Validate(state *OperationState) error {
	if s.deps.Source == nil {
		return fmt.Errorf("no source configured")
	}
	return s.BaseStage.Validate(state)
}

// Execute fetches every collection the report kind needs
func (s *FetchStep) Execute(ctx context.Context, state *OperationState) error {
	token := state.Token()
	if token == "" {
		return NewUnauthenticatedError(s.ID(), "")
	}

	kind := state.Config().Kind
	var payments, users []domain.RawRecord
	var err error

	// Page progress stays within 0-50; reading both collections splits it 0-25 and 25-50
	scale := 1
	if kind.NeedsPayments() && kind.NeedsUsers() {
		scale = 2
	}
	if kind.NeedsPayments() {
		payments, err = s.deps.Source.FetchPayments(ctx, token, func(page, loaded int) {
			state.Report(s.ID(), source.PageProgress(page)/scale, fmt.Sprintf("loaded %d records", loaded))
		})
		if err != nil {
			return s.fetchError(ctx, err)
		}
	}

	usersBase := 0
	if scale == 2 {
		usersBase = 25
	}
	if kind.NeedsUsers() {
		users, err = s.deps.Source.FetchUsers(ctx, token, func(page, loaded int) {
			state.Report(s.ID(), usersBase+source.PageProgress(page)/scale, fmt.Sprintf("loaded %d records", loaded))
		})
		if err != nil {
			return s.fetchError(ctx, err)
		}
	}

	details := map[string]domain.RawRecord{}
	if ids := reports.EnrichmentIDs(payments, users); len(ids) > 0 {
		state.Report(s.ID(), 90, fmt.Sprintf("loading details of %d users", len(ids)))
		details = s.deps.Source.FetchUserDetails(ctx, token, ids)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	state.SetContext(ContextKeyPayments, payments)
	state.SetContext(ContextKeyUsers, users)
	state.SetContext(ContextKeyDetails, details)

	s.deps.logger().InfoContext(ctx, "records_fetched",
		slog.String("operation_id", state.ID),
		slog.Int("payments", len(payments)),
		slog.Int("users", len(users)),
		slog.Int("details", len(details)))
	state.Report(s.ID(), 100, fmt.Sprintf("loaded %d records", len(payments)+len(users)))
	return nil
}

func (s *FetchStep) fetchError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, source.ErrUnauthenticated):
		return NewUnauthenticatedError(s.ID(), "upstream rejected the credential").WithCause(err)
	default:
		return NewSourceUnavailableError(s.ID(), err)
	}
}

// JoinStep normalizes records and attaches user fields to payments
type JoinStep struct {
	BaseStage
	deps StepDeps
}

// NewJoinStep creates the join step
func NewJoinStep(deps StepDeps) *JoinStep {
	return &JoinStep{
		BaseStage: NewBaseStage(StepIDJoin, StepNameJoin, PhaseJoining,
			ContextKeyPayments, ContextKeyUsers, ContextKeyDetails),
		deps: deps,
	}
}

// Execute builds the user lookup and the joined payment rows
func (s *JoinStep) Execute(ctx context.Context, state *OperationState) error {
	payments, _ := ContextValue[[]domain.RawRecord](state, ContextKeyPayments)
	users, _ := ContextValue[[]domain.RawRecord](state, ContextKeyUsers)
	details, _ := ContextValue[map[string]domain.RawRecord](state, ContextKeyDetails)

	joiner := reports.NewJoiner(users, details, s.deps.location())
	userRows := joiner.Users()
	state.Report(s.ID(), 50, fmt.Sprintf("indexed %d users", len(userRows)))

	var paymentRows []domain.PaymentRow
	if state.Config().Kind.NeedsPayments() {
		paymentRows = joiner.Payments(payments)
	}

	state.SetContext(ContextKeyUserRows, userRows)
	state.SetContext(ContextKeyPaymentRows, paymentRows)
	state.Report(s.ID(), 100, fmt.Sprintf("joined %d payments", len(paymentRows)))
	return nil
}

// FilterStep applies date, status, tariff and search filters
type FilterStep struct {
	BaseStage
	deps StepDeps
}

// NewFilterStep creates the filter step
func NewFilterStep(deps StepDeps) *FilterStep {
	return &FilterStep{
		BaseStage: NewBaseStage(StepIDFilter, StepNameFilter, PhaseFiltering,
			ContextKeyPaymentRows, ContextKeyUserRows),
		deps: deps,
	}
}

// Execute filters the rows the report renders. An empty result aborts the run.
func (s *FilterStep) Execute(ctx context.Context, state *OperationState) error {
	cfg := state.Config()
	filter, err := reports.NewFilter(cfg, s.deps.location())
	if err != nil {
		return NewInvalidConfigError(err.Error(), nil).WithCause(err)
	}

	paymentRows, _ := ContextValue[[]domain.PaymentRow](state, ContextKeyPaymentRows)
	userRows, _ := ContextValue[[]domain.UserRow](state, ContextKeyUserRows)

	records := 0
	switch cfg.Kind {
	case domain.ReportKindPayments:
		paymentRows = filter.Payments(paymentRows)
		records = len(paymentRows)
	case domain.ReportKindUsers:
		userRows = filter.Users(userRows)
		records = len(userRows)
	case domain.ReportKindCombined:
		paymentRows = filter.Payments(paymentRows)
		userRows = filter.Users(userRows)
		records = len(paymentRows) + len(userRows)
	}

	state.SetContext(ContextKeyPaymentRows, paymentRows)
	state.SetContext(ContextKeyUserRows, userRows)
	state.SetContext(ContextKeyRecords, records)

	if records == 0 {
		return NewNoDataError(s.ID())
	}
	state.Report(s.ID(), 100, fmt.Sprintf("%d records match", records))
	return nil
}

// ChunkStep splits the filtered rows into bounded parts
type ChunkStep struct {
	BaseStage
}

// NewChunkStep creates the chunk step
func NewChunkStep() *ChunkStep {
	return &ChunkStep{
		BaseStage: NewBaseStage(StepIDChunk, StepNameChunk, PhaseChunking, ContextKeyRecords),
	}
}

// Execute splits rows by the configured chunk size. Combined reports stay whole.
func (s *ChunkStep) Execute(ctx context.Context, state *OperationState) error {
	cfg := state.Config()
	parts := 1

	switch cfg.Kind {
	case domain.ReportKindPayments:
		rows, _ := ContextValue[[]domain.PaymentRow](state, ContextKeyPaymentRows)
		chunks := reports.Split(rows, int(cfg.ChunkSize))
		state.SetContext(ContextKeyPaymentChunks, chunks)
		parts = len(chunks)
	case domain.ReportKindUsers:
		rows, _ := ContextValue[[]domain.UserRow](state, ContextKeyUserRows)
		chunks := reports.Split(rows, int(cfg.ChunkSize))
		state.SetContext(ContextKeyUserChunks, chunks)
		parts = len(chunks)
	}

	state.Report(s.ID(), 100, fmt.Sprintf("%d parts", parts))
	return nil
}

// RenderStep renders every part and hands it to the sink. A failing part is
// skipped and the remaining parts are still attempted.
type RenderStep struct {
	BaseStage
	deps StepDeps
}

// NewRenderStep creates the render step
func NewRenderStep(deps StepDeps) *RenderStep {
	return &RenderStep{
		BaseStage: NewBaseStage(StepIDRender, StepNameRender, PhaseRendering, ContextKeyRecords),
		deps:      deps,
	}
}

// Validate checks that a renderer and a sink are configured
func (s *RenderStep) Validate(state *OperationState) error {
	if s.deps.Renderer == nil || s.deps.Sink == nil {
		return fmt.Errorf("renderer and sink are required")
	}
	return s.BaseStage.Validate(state)
}

type renderJob struct {
	part   int
	render func() (domain.Artifact, error)
}

// Execute renders and emits each part in order
func (s *RenderStep) Execute(ctx context.Context, state *OperationState) error {
	cfg := state.Config()
	// every part of a run carries the same report date
	jobs := s.jobs(state, cfg, s.deps.Renderer.Now())

	tracker := NewProgressTracker(len(jobs))
	artifacts := make([]domain.Artifact, 0, len(jobs))
	var failed []int
	var firstErr error

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			state.SetContext(ContextKeyArtifacts, artifacts)
			return err
		}

		artifact, err := s.emit(ctx, state, job)
		if err != nil {
			if ctx.Err() != nil {
				state.SetContext(ContextKeyArtifacts, artifacts)
				return ctx.Err()
			}
			s.deps.logger().ErrorContext(ctx, "part_render_failed",
				slog.String("operation_id", state.ID),
				slog.Int("part", job.part),
				slog.String("error", err.Error()))
			failed = append(failed, job.part)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			artifacts = append(artifacts, artifact.Metadata())
		}

		state.Report(s.ID(), tracker.Increment(), fmt.Sprintf("rendered part %d of %d", job.part, len(jobs)))
	}

	state.SetContext(ContextKeyArtifacts, artifacts)
	if len(failed) > 0 {
		return NewRenderFailureError(s.ID(), failed, firstErr)
	}
	return nil
}

func (s *RenderStep) jobs(state *OperationState, cfg domain.ReportConfig, generated time.Time) []renderJob {
	var jobs []renderJob
	switch cfg.Kind {
	case domain.ReportKindPayments:
		chunks, _ := ContextValue[[]domain.Chunk[domain.PaymentRow]](state, ContextKeyPaymentChunks)
		for _, c := range chunks {
			jobs = append(jobs, renderJob{part: c.Index, render: func() (domain.Artifact, error) {
				return s.deps.Renderer.RenderPayments(cfg, generated, c)
			}})
		}
	case domain.ReportKindUsers:
		chunks, _ := ContextValue[[]domain.Chunk[domain.UserRow]](state, ContextKeyUserChunks)
		for _, c := range chunks {
			jobs = append(jobs, renderJob{part: c.Index, render: func() (domain.Artifact, error) {
				return s.deps.Renderer.RenderUsers(cfg, generated, c)
			}})
		}
	case domain.ReportKindCombined:
		payments, _ := ContextValue[[]domain.PaymentRow](state, ContextKeyPaymentRows)
		users, _ := ContextValue[[]domain.UserRow](state, ContextKeyUserRows)
		jobs = append(jobs, renderJob{part: 1, render: func() (domain.Artifact, error) {
			return s.deps.Renderer.RenderCombined(cfg, generated, payments, users)
		}})
	}
	return jobs
}

func (s *RenderStep) emit(ctx context.Context, state *OperationState, job renderJob) (domain.Artifact, error) {
	artifact, err := job.render()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to render part %d: %w", job.part, err)
	}
	if err := s.deps.Sink.Emit(ctx, state.ID, &artifact); err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to emit %s: %w", artifact.FileName, err)
	}

	s.deps.Metrics.ArtifactEmitted(ctx, string(artifact.Kind), artifact.Size)
	s.deps.logger().InfoContext(ctx, "artifact_emitted",
		slog.String("operation_id", state.ID),
		slog.String("file", artifact.FileName),
		slog.Int("part", artifact.Part),
		slog.Int("parts", artifact.Parts),
		slog.Int("records", artifact.Records),
		slog.Int64("size", artifact.Size),
		slog.String("location", artifact.Location))
	return artifact, nil
}
