package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adminreports/internal/infrastructure"
)

const (
	TracerName = "adminreports.operations"
)

// RunTracer wraps runs and steps in spans and records the report metrics
type RunTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.ReportMetrics
}

// NewRunTracer creates a run tracer. Nil providers fall back to the global
// tracer provider; nil metrics record nothing.
func NewRunTracer(providers *infrastructure.OTelProviders, metrics *infrastructure.ReportMetrics) *RunTracer {
	tracer := otel.Tracer(TracerName)
	if providers != nil && providers.TracerProvider != nil {
		tracer = providers.TracerProvider.Tracer(TracerName)
	}
	return &RunTracer{tracer: tracer, metrics: metrics}
}

// StartRun opens the span of a whole run
func (rt *RunTracer) StartRun(ctx context.Context, runID string, cfg RunRequest) (context.Context, trace.Span) {
	ctx, span := rt.tracer.Start(ctx, fmt.Sprintf("report.run.%s", cfg.Config.Kind),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("report.kind", string(cfg.Config.Kind)),
			attribute.String("report.date_start", cfg.Config.DateStart),
			attribute.String("report.date_end", cfg.Config.DateEnd),
			attribute.String("report.chunk_size", cfg.Config.ChunkSize.String()),
		),
	)
	rt.metrics.RunStarted(ctx, string(cfg.Config.Kind))
	return ctx, span
}

// EndRun closes the run span and records the outcome
func (rt *RunTracer) EndRun(ctx context.Context, span trace.Span, rec *RunRecord, duration time.Duration, err error) {
	span.SetAttributes(
		attribute.String("run.status", string(rec.Status)),
		attribute.String("run.phase", string(rec.Phase)),
		attribute.Int("run.records", rec.Records),
		attribute.Int("run.artifacts", len(rec.Artifacts)),
		attribute.Float64("run.duration_seconds", duration.Seconds()),
	)

	switch rec.Status {
	case OperationStatusCompleted:
		span.SetStatus(codes.Ok, "run completed")
	case OperationStatusAborted:
		span.AddEvent("run.aborted", trace.WithAttributes(attribute.String("reason", rec.Error)))
		span.SetStatus(codes.Ok, "run aborted")
	default:
		if err != nil {
			span.RecordError(err, trace.WithAttributes(attribute.String("error.type", string(rec.ErrorType))))
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()

	rt.metrics.RunFinished(ctx, string(rec.Kind), string(rec.Status), duration)
}

// StartStep opens the span of one step
func (rt *RunTracer) StartStep(ctx context.Context, runID string, step Step) (context.Context, trace.Span) {
	return rt.tracer.Start(ctx, fmt.Sprintf("report.step.%s", step.ID()),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.id", step.ID()),
			attribute.String("step.phase", string(step.Phase())),
		),
	)
}

// EndStep closes a step span
func (rt *RunTracer) EndStep(ctx context.Context, span trace.Span, stepID string, duration time.Duration, err error) {
	span.SetAttributes(attribute.Float64("step.duration_seconds", duration.Seconds()))
	if err != nil {
		infrastructure.RecordError(ctx, err,
			trace.WithAttributes(
				attribute.String("step.id", stepID),
				attribute.String("error.type", string(GetErrorType(err))),
			),
		)
	} else {
		span.SetStatus(codes.Ok, "step completed")
	}
	span.End()

	rt.metrics.StepFinished(ctx, stepID, err == nil, duration)
}

// RecordProgress adds a progress event to the current span
func (rt *RunTracer) RecordProgress(ctx context.Context, stepID string, percent int, message string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("step.progress", trace.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.Int("step.progress", percent),
		attribute.String("step.message", message),
	))
}

// RecordRejected counts a start refused because a run was in flight
func (rt *RunTracer) RecordRejected(ctx context.Context) {
	rt.metrics.RunRejected(ctx)
}
