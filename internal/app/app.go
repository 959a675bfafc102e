package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"adminreports/internal/config"
	apierrors "adminreports/internal/errors"
	"adminreports/internal/exporter"
	"adminreports/internal/infrastructure"
	customMiddleware "adminreports/internal/middleware"
	"adminreports/internal/operations"
	"adminreports/internal/source"
	"adminreports/internal/store"
	handlers "adminreports/internal/transport/http"
	ws "adminreports/internal/websocket"
	"adminreports/pkg/contracts"
	"adminreports/pkg/contracts/domain"
	"adminreports/pkg/contracts/events"
)

// AppName is logged at startup
const AppName = "admin-reports"

const snapshotPruneInterval = 10 * time.Minute

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.ReportMetrics
	WebSocketHub  *ws.Hub
	Manager       *operations.Manager
	Runs          operations.RunStore
	Artifacts     *exporter.DirectorySink

	problems   *apierrors.ErrorHandler
	closeStore func() error
}

// NewApplication loads the configuration and builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(context.Background(), cfg, logger)
}

// New builds the application from an already loaded configuration
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.InfoContext(ctx, "application_starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("store", cfg.Store.Driver))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFromTelemetry(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.NewReportMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create report metrics: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
		problems:      apierrors.NewErrorHandler(logger, cfg.Logging.Development),
	}

	if err := a.initializeServices(ctx); err != nil {
		a.release(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices builds the run store, sinks, hub and run manager
func (a *Application) initializeServices(ctx context.Context) error {
	runs, closeStore, err := store.OpenRunStore(ctx, a.Config.Store, a.Logger)
	if err != nil {
		return err
	}
	a.Runs = runs
	a.closeStore = closeStore

	a.Artifacts = exporter.NewDirectorySink(a.Config.Report.OutputDir)
	sink, err := a.buildSink(ctx)
	if err != nil {
		return err
	}

	hubMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger,
		ws.WithMetrics(hubMetrics),
		ws.WithInitialSnapshot(a.latestSnapshot))

	svc, err := source.NewService(a.Config.Source,
		source.WithLogger(a.Logger),
		source.WithMetrics(a.Metrics))
	if err != nil {
		return fmt.Errorf("failed to create source service: %w", err)
	}

	loc := a.Config.Location()
	registry := operations.NewRegistry()
	if err := operations.RegisterReportSteps(registry, operations.StepDeps{
		Source:   svc,
		Renderer: exporter.NewWorkbookRenderer(loc, time.Now),
		Sink:     sink,
		Location: loc,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	}); err != nil {
		return err
	}

	opsConfig := operations.NewConfig()
	opsConfig.RunTimeout = a.Config.Server.RunTimeout
	if err := opsConfig.Validate(); err != nil {
		return fmt.Errorf("invalid run configuration: %w", err)
	}

	a.Manager = operations.NewManager(a.WebSocketHub, registry, opsConfig,
		operations.WithRunStore(runs),
		operations.WithTracer(operations.NewRunTracer(a.OTelProviders, a.Metrics)),
		operations.WithLogger(a.Logger))

	return nil
}

// buildSink writes artifacts to the output directory and, when enabled, logs
// them to Google Sheets
func (a *Application) buildSink(ctx context.Context) (operations.Sink, error) {
	if !a.Config.Sheets.Enabled {
		return a.Artifacts, nil
	}

	sheetsSink, err := exporter.NewSheetsSink(ctx, a.Config.Sheets)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets sink: %w", err)
	}
	a.Logger.InfoContext(ctx, "sheets_run_log_enabled",
		slog.String("spreadsheet_id", a.Config.Sheets.SpreadsheetID),
		slog.String("sheet", a.Config.Sheets.SheetName))
	return exporter.MultiSink{a.Artifacts, exporter.BestEffortSink{Sink: sheetsSink, Logger: a.Logger}}, nil
}

func (a *Application) latestSnapshot() (*events.OperationSnapshot, bool) {
	if a.Manager == nil {
		return nil, false
	}
	return a.Manager.LatestSnapshot()
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.NotFound(a.problems.NotFound)
	r.MethodNotAllowed(a.problems.MethodNotAllowed)

	// These don't wrap the ResponseWriter, so the WebSocket upgrade keeps working
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.WebSocket, a.Config.Security.AllowedOrigins))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer → SecurityHeaders → CORS → RateLimit
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics, a.Logger).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.problems))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.corsConfig()))
		}

		if rl := a.Config.Security.RateLimit; rl.Enabled {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger, a.problems).Handler)
		}

		a.setupAPIRoutes(r)
	})

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.WriteTimeout))

		health := handlers.NewHealthHandler(contracts.Version, a.healthChecks(), a.healthDetails, a.Logger)
		r.Get("/health", health.HealthCheck)
		r.Get("/health/ready", health.ReadinessCheck)
		r.Get("/health/live", health.LivenessCheck)

		reportsHandler := handlers.NewReportsHandler(a.Manager, a.Artifacts, a.problems, handlers.ReportsHandlerConfig{
			DefaultChunkSize: domain.ChunkSize(a.Config.Report.DefaultChunkSize),
			FallbackToken:    a.Config.Source.Token,
		}, a.Logger)
		r.With(customMiddleware.Compress(5, "application/json")).Mount("/reports/runs", reportsHandler.Routes())
	})
}

func (a *Application) healthChecks() map[string]handlers.HealthCheck {
	return map[string]handlers.HealthCheck{
		"run_store": func(ctx context.Context) error {
			_, err := a.Runs.List(ctx, 1)
			return err
		},
		"output_dir": func(context.Context) error {
			if err := os.MkdirAll(a.Artifacts.Root(), 0o755); err != nil {
				return fmt.Errorf("output directory not writable: %w", err)
			}
			return nil
		},
	}
}

func (a *Application) healthDetails() map[string]interface{} {
	details := map[string]interface{}{
		"websocket": a.WebSocketHub.Stats(),
		"build":     contracts.GetVersionInfo(),
	}
	if id := a.Manager.CurrentID(); id != "" {
		details["current_run"] = id
	}
	return details
}

// corsConfig allows the configured origins to call the API from a browser
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders:   []string{"X-Request-ID", "Location", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the hub and the HTTP server. A listen failure calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.WebSocketHub.Start()
	go a.pruneSnapshots(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "server_error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application_started",
		slog.String("address", a.Server.Addr),
		slog.String("output_dir", a.Artifacts.Root()),
		slog.String("source", a.Config.Source.BaseURL))
	return nil
}

// pruneSnapshots drops finished run snapshots from the broadcaster until ctx ends
func (a *Application) pruneSnapshots(ctx context.Context) {
	ticker := time.NewTicker(snapshotPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Manager.Cleanup(ctx); n > 0 {
				a.Logger.DebugContext(ctx, "snapshots_pruned", slog.Int("count", n))
			}
		}
	}
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "application_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	// Cancels the in-flight run and waits for it to be recorded
	if err := a.Manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("run manager shutdown error: %w", err))
	}
	a.WebSocketHub.Stop()

	a.release(shutdownCtx)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	a.Logger.InfoContext(ctx, "application_stopped")
	return nil
}

// release closes the store and flushes telemetry
func (a *Application) release(ctx context.Context) {
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.Logger.ErrorContext(ctx, "store_close_failed", slog.String("error", err.Error()))
		}
		a.closeStore = nil
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "otel_shutdown_failed", slog.String("error", err.Error()))
		}
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "signal_received", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return a.Stop(ctx)
}
