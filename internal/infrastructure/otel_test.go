package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"adminreports/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestOTelInitialization tests OpenTelemetry initialization
func TestOTelInitialization(t *testing.T) {
	cfg := DefaultOTelConfig()
	cfg.TraceExporter = "none"

	providers, err := InitializeOTel(cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestOTelConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*OTelConfig)
		wantErr bool
	}{
		{"everything disabled", func(c *OTelConfig) { c.EnableMetrics = false; c.EnableTracing = false }, false},
		{"stdout tracing", func(c *OTelConfig) { c.EnableMetrics = false }, false},
		{"unknown trace exporter", func(c *OTelConfig) { c.TraceExporter = "zipkin" }, true},
		{"unknown metric exporter", func(c *OTelConfig) { c.EnableTracing = false; c.MetricExporter = "statsd" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultOTelConfig()
			tt.modify(cfg)

			providers, err := InitializeOTel(cfg, discardLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
			assert.NoError(t, providers.Shutdown(context.Background()))
		})
	}
}

func TestOTelConfigFromTelemetry(t *testing.T) {
	cfg := OTelConfigFromTelemetry(config.TelemetryConfig{
		ServiceName:    "reports-test",
		TracingEnabled: false,
		MetricsEnabled: true,
		Environment:    "staging",
	})

	assert.Equal(t, "reports-test", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.False(t, cfg.EnableTracing)
	assert.True(t, cfg.EnableMetrics)
}

// TestPrometheusEndpoint tests that report metrics are exposed
func TestPrometheusEndpoint(t *testing.T) {
	cfg := DefaultOTelConfig()
	cfg.EnableTracing = false

	providers, err := InitializeOTel(cfg, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := NewReportMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RunRejected(context.Background())

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "report_runs_rejected_total")
}

func TestReportMetricsRecording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	metrics, err := NewReportMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RunStarted(ctx, "payments")
	metrics.RecordsLoaded(ctx, "payments", 250)
	metrics.ArtifactEmitted(ctx, "payments", 4096)
	metrics.ArtifactEmitted(ctx, "payments", 1024)
	metrics.RunFinished(ctx, "payments", "completed", time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}

	assert.Equal(t, int64(250), sums["report_records_fetched_total"])
	assert.Equal(t, int64(2), sums["report_artifacts_total"])
	assert.Equal(t, int64(5120), sums["report_artifact_bytes_total"])
	assert.Equal(t, int64(1), sums["report_runs_total"])
	assert.Equal(t, int64(0), sums["report_runs_active"])
}

func TestNilReportMetrics(t *testing.T) {
	var metrics *ReportMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RunStarted(ctx, "users")
		metrics.RunFinished(ctx, "users", "failed", time.Second)
		metrics.StepFinished(ctx, "fetch", false, time.Millisecond)
		metrics.UpstreamRequest(ctx, "payments", 503)
		metrics.HTTPRequestStarted(ctx)
		metrics.HTTPRequestFinished(ctx, "GET", "/api/health", 200, time.Millisecond)
	})
}
