package source

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"adminreports/pkg/contracts/domain"
)

// DefaultEnrichConcurrency bounds parallel detail lookups when none is configured
const DefaultEnrichConcurrency = 8

// Enricher looks up individual user records concurrently
type Enricher struct {
	client      *Client
	path        string
	concurrency int
	logger      *slog.Logger
}

// NewEnricher creates an enricher reading {path}/{id}
func NewEnricher(client *Client, path string, concurrency int) *Enricher {
	if concurrency < 1 {
		concurrency = DefaultEnrichConcurrency
	}
	return &Enricher{
		client:      client,
		path:        strings.TrimRight(path, "/"),
		concurrency: concurrency,
		logger:      client.logger.With(slog.String("component", "enricher")),
	}
}

// Fetch returns the detail record of every id that could be loaded.
// Failed lookups are logged and left out of the result.
func (e *Enricher) Fetch(ctx context.Context, token string, ids []string) map[string]domain.RawRecord {
	result := make(map[string]domain.RawRecord, len(ids))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		g.Go(func() error {
			record, err := e.fetchOne(ctx, token, id)
			if err != nil {
				e.logger.WarnContext(ctx, "user_detail_failed",
					slog.String("user_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if record == nil {
				return nil
			}
			mu.Lock()
			result[id] = record
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.logger.InfoContext(ctx, "users_enriched",
		slog.Int("requested", len(seen)),
		slog.Int("loaded", len(result)),
	)
	return result
}

func (e *Enricher) fetchOne(ctx context.Context, token, id string) (domain.RawRecord, error) {
	body, err := e.client.GetJSON(ctx, token, "user_detail", e.path+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return detailRecord(body), nil
}

// detailRecord unwraps {"data":{"user":{...}}}, {"user":{...}} or a bare object
func detailRecord(body interface{}) domain.RawRecord {
	m, ok := body.(map[string]interface{})
	if !ok {
		return nil
	}
	record := domain.RawRecord(m)
	if data, ok := record.Record("data"); ok {
		record = data
	}
	if user, ok := record.Record("user"); ok {
		return user
	}
	if len(record) == 0 {
		return nil
	}
	return record
}
