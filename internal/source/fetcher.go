package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"adminreports/pkg/contracts/domain"
)

// DefaultPageSize is used when the configured page size is not positive
const DefaultPageSize = 100

// maxPages stops a fetch against an upstream that never returns an empty page
const maxPages = 100000

// PageFunc is called after every non-empty page with the page number and the
// number of records loaded so far
type PageFunc func(page, loaded int)

// PageProgress is the stage-local percentage reported after page n
func PageProgress(page int) int {
	return min(page*5, 50)
}

// PagedFetcher loads a complete collection by walking its pages
type PagedFetcher struct {
	client   *Client
	pageSize int
	logger   *slog.Logger
}

// NewPagedFetcher creates a fetcher requesting pageSize records per page
func NewPagedFetcher(client *Client, pageSize int) *PagedFetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagedFetcher{
		client:   client,
		pageSize: pageSize,
		logger:   client.logger.With(slog.String("component", "paged_fetcher")),
	}
}

// FetchAll requests page 1, 2, ... until a page has no items and returns the
// concatenation. Any failed page discards everything loaded so far.
func (f *PagedFetcher) FetchAll(ctx context.Context, token string, c Collection, onPage PageFunc) ([]domain.RawRecord, error) {
	var records []domain.RawRecord

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("%s: no empty page after %d pages: %w", c.Name, maxPages, ErrUnavailable)
		}

		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("limit", strconv.Itoa(f.pageSize))

		body, err := f.client.GetJSON(ctx, token, c.Name, c.Path, query)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s page %d: %w", c.Name, page, err)
		}

		items, err := extractItems(body, c.Keys)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s page %d: %w", c.Name, page, err)
		}
		if len(items) == 0 {
			f.logger.InfoContext(ctx, "collection_fetched",
				slog.String("collection", c.Name),
				slog.Int("pages", page-1),
				slog.Int("records", len(records)),
			)
			return records, nil
		}

		records = append(records, items...)
		f.logger.DebugContext(ctx, "page_fetched",
			slog.String("collection", c.Name),
			slog.Int("page", page),
			slog.Int("items", len(items)),
			slog.Int("loaded", len(records)),
		)
		if onPage != nil {
			onPage(page, len(records))
		}
	}
}
