package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"adminreports/internal/config"
	"adminreports/internal/infrastructure"
	"adminreports/pkg/contracts/domain"
)

// SheetsSink appends one run log row per artifact to a Google Sheets spreadsheet.
// It does not store the workbook itself.
type SheetsSink struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

// NewSheetsSink connects to the Sheets API. Extra options are applied after the
// ones derived from cfg.
func NewSheetsSink(ctx context.Context, cfg config.SheetsConfig, opts ...option.ClientOption) (*SheetsSink, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheets spreadsheet id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "Runs"
	}

	return &SheetsSink{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		logger:        infrastructure.GetLogger().With(slog.String("component", "sheets_sink")),
	}, nil
}

// Emit appends the run log row for artifact
func (s *SheetsSink) Emit(ctx context.Context, runID string, artifact *domain.Artifact) error {
	row := RunLogRow(runID, artifact)
	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A1",
		&sheets.ValueRange{Values: [][]interface{}{row}},
	).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append run log row: %w", err)
	}

	s.logger.InfoContext(ctx, "run_log_appended",
		slog.String("run_id", runID),
		slog.String("file", artifact.FileName),
	)
	return nil
}

// RunLogRow builds the spreadsheet row describing one artifact:
// run id, file name, kind, part, records, total, generated at
func RunLogRow(runID string, artifact *domain.Artifact) []interface{} {
	total := "0.00"
	if artifact.Summary != nil {
		total = artifact.Summary.Total.StringFixed(2)
	}
	return []interface{}{
		runID,
		artifact.FileName,
		string(artifact.Kind),
		fmt.Sprintf("%d/%d", artifact.Part, artifact.Parts),
		artifact.Records,
		total,
		artifact.GeneratedAt.Format(time.RFC3339),
	}
}
