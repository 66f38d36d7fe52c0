package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	// ErrFetch wraps any page request failure. The run must abort on it.
	ErrFetch = errors.New("page fetch failed")

	// ErrUnstableOrder is returned when a query has no sort key.
	ErrUnstableOrder = errors.New("query has no stable sort key")
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_pages_fetched_total",
		Help: "Total number of candidate pages fetched",
	})

	rowsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_rows_fetched_total",
		Help: "Total number of candidate rows fetched",
	})
)

// Config holds fetcher configuration
type Config struct {
	// PageSize is the number of rows requested per page (typically 500-1000)
	PageSize int
	// Timeout per page fetch
	Timeout time.Duration
	// MaxRows caps the collection size (0 = unlimited)
	MaxRows int
}

// DefaultConfig returns the page size the outreach scripts use against the hosted backend
func DefaultConfig() Config {
	return Config{
		PageSize: 1000,
		Timeout:  30 * time.Second,
	}
}

// Query selects and orders candidates in the store.
type Query struct {
	Offset  int
	Limit   int
	Where   []candidate.Predicate
	OrderBy []candidate.Order
}

// PageSource is implemented by every candidate store
type PageSource interface {
	// FetchPage returns at most q.Limit rows starting at q.Offset, ordered by q.OrderBy
	FetchPage(ctx context.Context, q Query) ([]candidate.Candidate, error)
}

// PageSourceFunc adapts a function to PageSource.
type PageSourceFunc func(ctx context.Context, q Query) ([]candidate.Candidate, error)

// FetchPage calls f.
func (f PageSourceFunc) FetchPage(ctx context.Context, q Query) ([]candidate.Candidate, error) {
	return f(ctx, q)
}

// Fetcher reads every page of a query in order
type Fetcher struct {
	source PageSource
	config Config
}

// NewFetcher creates a new fetcher
func NewFetcher(source PageSource, config Config) *Fetcher {
	if config.PageSize <= 0 {
		config.PageSize = 1000
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRows < 0 {
		config.MaxRows = 0
	}

	return &Fetcher{
		source: source,
		config: config,
	}
}

// FetchAll requests pages at offsets 0, P, 2P, ... until a page returns fewer than P rows.
// q.Offset and q.Limit are ignored; the fetcher owns paging.
func (f *Fetcher) FetchAll(ctx context.Context, q Query) ([]candidate.Candidate, error) {
	if len(q.OrderBy) == 0 {
		return nil, ErrUnstableOrder
	}

	start := time.Now()
	pageSize := f.config.PageSize

	var (
		all  []candidate.Candidate
		seen = make(map[candidate.Key]struct{})
	)

	for page := 1; ; page++ {
		offset := (page - 1) * pageSize

		limit := pageSize
		if f.config.MaxRows > 0 && f.config.MaxRows-len(all) < limit {
			limit = f.config.MaxRows - len(all)
		}

		pq := q
		pq.Offset = offset
		pq.Limit = limit

		log.Debug().
			Int("page", page).
			Int("offset", offset).
			Int("limit", limit).
			Msg("Fetching page")

		pageCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		rows, err := f.source.FetchPage(pageCtx, pq)
		cancel()
		if err != nil {
			log.Error().
				Err(err).
				Int("page", page).
				Int("offset", offset).
				Int("discarded_rows", len(all)).
				Msg("Page fetch failed - aborting")
			return nil, fmt.Errorf("%w: page %d (offset %d): %w", ErrFetch, page, offset, err)
		}

		pagesFetchedTotal.Inc()
		rowsFetchedTotal.Add(float64(len(rows)))

		for _, c := range rows {
			if c.Key == "" {
				// Keyless rows are left for the eligibility filter to report.
				all = append(all, c)
				continue
			}
			if _, dup := seen[c.Key]; dup {
				log.Warn().
					Str("key", c.Key.String()).
					Int("page", page).
					Msg("Duplicate key across pages - dropping later row")
				continue
			}
			seen[c.Key] = struct{}{}
			all = append(all, c)
		}

		if len(rows) < limit || len(rows) == 0 {
			break
		}
		if f.config.MaxRows > 0 && len(all) >= f.config.MaxRows {
			log.Info().
				Int("max_rows", f.config.MaxRows).
				Msg("Row cap reached")
			break
		}

		// Progress logging every 10 pages
		if page%10 == 0 {
			log.Info().
				Int("pages", page).
				Int("rows", len(all)).
				Msg("Fetch progress")
		}
	}

	log.Info().
		Int("rows", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return all, nil
}
