package infrastructure

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ReportMetrics holds the report service business metrics.
// A nil *ReportMetrics is valid and records nothing.
type ReportMetrics struct {
	RunsTotal        metric.Int64Counter
	RunDuration      metric.Float64Histogram
	RunsActive       metric.Int64UpDownCounter
	RejectedStarts   metric.Int64Counter
	StepDuration     metric.Float64Histogram
	RecordsFetched   metric.Int64Counter
	ArtifactsTotal   metric.Int64Counter
	ArtifactBytes    metric.Int64Counter
	UpstreamRequests metric.Int64Counter

	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter
}

// NewReportMetrics creates the report instruments on meter
func NewReportMetrics(meter metric.Meter) (*ReportMetrics, error) {
	m := &ReportMetrics{}
	var err error

	if m.RunsTotal, err = meter.Int64Counter("report_runs_total",
		metric.WithDescription("Total number of finished report runs")); err != nil {
		return nil, err
	}
	if m.RunDuration, err = meter.Float64Histogram("report_run_duration_seconds",
		metric.WithDescription("Report run duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.RunsActive, err = meter.Int64UpDownCounter("report_runs_active",
		metric.WithDescription("Number of report runs in flight")); err != nil {
		return nil, err
	}
	if m.RejectedStarts, err = meter.Int64Counter("report_runs_rejected_total",
		metric.WithDescription("Run requests rejected because a run was in flight")); err != nil {
		return nil, err
	}
	if m.StepDuration, err = meter.Float64Histogram("report_step_duration_seconds",
		metric.WithDescription("Report pipeline step duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.RecordsFetched, err = meter.Int64Counter("report_records_fetched_total",
		metric.WithDescription("Records loaded from the upstream API")); err != nil {
		return nil, err
	}
	if m.ArtifactsTotal, err = meter.Int64Counter("report_artifacts_total",
		metric.WithDescription("Workbooks emitted to the sink")); err != nil {
		return nil, err
	}
	if m.ArtifactBytes, err = meter.Int64Counter("report_artifact_bytes_total",
		metric.WithDescription("Bytes of workbooks emitted to the sink"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.UpstreamRequests, err = meter.Int64Counter("report_upstream_requests_total",
		metric.WithDescription("Requests sent to the upstream API")); err != nil {
		return nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter("http_active_requests",
		metric.WithDescription("Number of active HTTP requests")); err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted increments the active run gauge
func (m *ReportMetrics) RunStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.RunsActive.Add(ctx, 1, metric.WithAttributes(attribute.String("report.kind", kind)))
}

// RunFinished records a terminal run
func (m *ReportMetrics) RunFinished(ctx context.Context, kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	kindAttr := attribute.String("report.kind", kind)
	m.RunsActive.Add(ctx, -1, metric.WithAttributes(kindAttr))

	attrs := metric.WithAttributes(kindAttr, attribute.String("status", status))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
}

// RunRejected counts a start refused by the single-flight guard
func (m *ReportMetrics) RunRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.RejectedStarts.Add(ctx, 1)
}

// StepFinished records one pipeline step
func (m *ReportMetrics) StepFinished(ctx context.Context, stepID string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.String("status", statusLabel(success)),
	))
}

// RecordsLoaded counts records fetched for a collection
func (m *ReportMetrics) RecordsLoaded(ctx context.Context, collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsFetched.Add(ctx, int64(n), metric.WithAttributes(attribute.String("collection", collection)))
}

// ArtifactEmitted counts a workbook handed to the sink
func (m *ReportMetrics) ArtifactEmitted(ctx context.Context, kind string, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("report.kind", kind))
	m.ArtifactsTotal.Add(ctx, 1, attrs)
	m.ArtifactBytes.Add(ctx, size, attrs)
}

// UpstreamRequest counts one upstream call by endpoint and status code (0 on transport failure)
func (m *ReportMetrics) UpstreamRequest(ctx context.Context, endpoint string, statusCode int) {
	if m == nil {
		return
	}
	m.UpstreamRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	))
}

// HTTPRequestStarted increments the in-flight request gauge
func (m *ReportMetrics) HTTPRequestStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.HTTPActiveRequests.Add(ctx, 1)
}

// HTTPRequestFinished records one served request
func (m *ReportMetrics) HTTPRequestFinished(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPActiveRequests.Add(ctx, -1)
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
