package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"adminreports/internal/config"
	"adminreports/internal/exporter"
	"adminreports/internal/operations"
	"adminreports/internal/source"
	"adminreports/internal/store"
	"adminreports/pkg/contracts/domain"
)

type generateCommand struct {
	Kind      string
	From      string
	To        string
	Status    string
	Tariff    string
	Search    string
	ChunkSize string
	Out       string
	BaseURL   string
	Token     string
	StoreDSN  string
	NoHistory bool
}

var generateCommandName = "generate"

func newGenerateCommand() *cli.Command {
	command := &generateCommand{}
	return &cli.Command{
		Name:   generateCommandName,
		Usage:  "Run one report synchronously and write its workbooks to a directory",
		Action: command.execute,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "payments, users or combined", Destination: &command.Kind, Required: true},
			&cli.StringFlag{Name: "from", Usage: "First day included, YYYY-MM-DD", Destination: &command.From},
			&cli.StringFlag{Name: "to", Usage: "Last day included, YYYY-MM-DD", Destination: &command.To},
			&cli.StringFlag{Name: "status", Usage: "Payment status filter", Destination: &command.Status, Value: "all"},
			&cli.StringFlag{Name: "tariff", Usage: "all, with_tariff or without_tariff", Destination: &command.Tariff, Value: "all"},
			&cli.StringFlag{Name: "search", Usage: "Case-insensitive text filter", Destination: &command.Search},
			&cli.StringFlag{Name: "chunk-size", Usage: "Records per workbook, or all", Destination: &command.ChunkSize, Value: "all"},
			&cli.StringFlag{Name: "out", Usage: "Output directory", EnvVars: envVars("REPORT_OUTPUT_DIR"), Destination: &command.Out, Value: "data/reports"},
			&cli.StringFlag{Name: "base-url", Usage: "Upstream admin API base URL", EnvVars: envVars("SOURCE_BASE_URL"), Destination: &command.BaseURL},
			&cli.StringFlag{Name: "token", Usage: "Bearer token for the admin API", EnvVars: envVars("SOURCE_TOKEN"), Destination: &command.Token},
			newStoreDSNFlag(&command.StoreDSN),
			&cli.BoolFlag{Name: "no-history", Usage: "Do not record the run in the history store", Destination: &command.NoHistory},
		},
	}
}

func (cmd *generateCommand) reportConfig() (domain.ReportConfig, error) {
	chunk, err := domain.ParseChunkSize(cmd.ChunkSize)
	if err != nil {
		return domain.ReportConfig{}, err
	}
	return domain.ReportConfig{
		Kind:         domain.ReportKind(strings.ToLower(cmd.Kind)),
		DateStart:    cmd.From,
		DateEnd:      cmd.To,
		StatusFilter: strings.ToLower(cmd.Status),
		TariffFilter: domain.TariffFilter(strings.ToLower(cmd.Tariff)),
		Search:       strings.TrimSpace(cmd.Search),
		ChunkSize:    chunk,
	}, nil
}

func (cmd *generateCommand) execute(c *cli.Context) error {
	log := appLogger(c).With(slog.String("command", generateCommandName))

	reportCfg, err := cmd.reportConfig()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	cfg := config.Default()
	if loaded, err := config.Load(); err == nil {
		cfg = loaded
	} else {
		log.Debug("config_defaults_used", slog.String("reason", err.Error()))
	}
	if cmd.BaseURL != "" {
		cfg.Source.BaseURL = cmd.BaseURL
	}
	if cmd.Token == "" {
		cmd.Token = cfg.Source.Token
	}
	cfg.Report.OutputDir = cmd.Out

	runID := uuid.NewString()
	manager, closeStore, err := cmd.buildManager(c.Context, cfg, runID, log)
	if err != nil {
		return err
	}
	defer closeStore()
	defer manager.Shutdown(context.WithoutCancel(c.Context))

	rec, err := manager.Run(c.Context, operations.RunRequest{ID: runID, Config: reportCfg, Token: cmd.Token})
	switch {
	case operations.IsType(err, operations.ErrorTypeNoData):
		fmt.Fprintln(c.App.Writer, "no data: the filters matched no records, nothing was written")
		return nil
	case err != nil && rec == nil:
		return cli.Exit(err.Error(), 1)
	}

	for _, a := range rec.Artifacts {
		fmt.Fprintf(c.App.Writer, "%s\t%d records\n", filepath.Join(cfg.Report.OutputDir, rec.ID, a.FileName), a.Records)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("run %s %s: %v", rec.ID, rec.Status, err), 1)
	}
	return nil
}

func (cmd *generateCommand) buildManager(ctx context.Context, cfg *config.Config, runID string, log *slog.Logger) (*operations.Manager, func() error, error) {
	svc, err := source.NewService(cfg.Source, source.WithLogger(log))
	if err != nil {
		return nil, nil, cli.Exit(err.Error(), 2)
	}

	storeCfg := config.StoreConfig{Driver: "sqlite", DSN: cmd.StoreDSN}
	if cmd.NoHistory || cmd.StoreDSN == "" {
		storeCfg.Driver = "memory"
	}
	runs, closeStore, err := store.OpenRunStore(ctx, storeCfg, log)
	if err != nil {
		return nil, nil, err
	}

	loc := cfg.Location()
	registry := operations.NewRegistry()
	if err := operations.RegisterReportSteps(registry, operations.StepDeps{
		Source:   svc,
		Renderer: exporter.NewWorkbookRenderer(loc, time.Now),
		Sink:     exporter.NewDirectorySink(cfg.Report.OutputDir),
		Location: loc,
		Logger:   log,
	}); err != nil {
		closeStore()
		return nil, nil, err
	}

	m := operations.NewManager(nil, registry, operations.NewConfig(),
		operations.WithRunStore(runs),
		operations.WithReporter(operations.NewLogReporter(log, runID)),
		operations.WithLogger(log))
	return m, closeStore, nil
}
