package source

import (
	"context"
	"log/slog"

	"adminreports/internal/config"
	"adminreports/internal/infrastructure"
	"adminreports/pkg/contracts/domain"
)

// Service exposes the collections a report run reads
type Service struct {
	fetcher  *PagedFetcher
	enricher *Enricher
	payments Collection
	users    Collection
	enrich   bool
	metrics  *infrastructure.ReportMetrics
	logger   *slog.Logger
}

// NewService builds the client, fetcher and enricher from configuration
func NewService(cfg config.SourceConfig, opts ...ClientOption) (*Service, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		fetcher:  NewPagedFetcher(client, cfg.PageSize),
		enricher: NewEnricher(client, cfg.UserDetailPath, cfg.EnrichConcurrency),
		payments: PaymentsCollection(cfg.PaymentsPath),
		users:    UsersCollection(cfg.UsersPath),
		enrich:   cfg.EnrichDetails,
		metrics:  client.metrics,
		logger:   client.logger.With(slog.String("component", "source_service")),
	}, nil
}

// FetchPayments loads the whole payments collection
func (s *Service) FetchPayments(ctx context.Context, token string, onPage PageFunc) ([]domain.RawRecord, error) {
	return s.fetch(ctx, token, s.payments, onPage)
}

// FetchUsers loads the whole users collection
func (s *Service) FetchUsers(ctx context.Context, token string, onPage PageFunc) ([]domain.RawRecord, error) {
	return s.fetch(ctx, token, s.users, onPage)
}

// FetchUserDetails looks up individual users. It returns an empty map when
// enrichment is disabled.
func (s *Service) FetchUserDetails(ctx context.Context, token string, ids []string) map[string]domain.RawRecord {
	if !s.enrich || len(ids) == 0 {
		return map[string]domain.RawRecord{}
	}
	return s.enricher.Fetch(ctx, token, ids)
}

func (s *Service) fetch(ctx context.Context, token string, c Collection, onPage PageFunc) ([]domain.RawRecord, error) {
	records, err := s.fetcher.FetchAll(ctx, token, c, onPage)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordsLoaded(ctx, c.Name, len(records))
	return records, nil
}
