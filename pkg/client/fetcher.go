package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// Prometheus metrics for search requests.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_search_requests_total",
		Help: "Total search requests by outcome",
	}, []string{"outcome"})

	searchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_search_request_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	malformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_malformed_entities_total",
		Help: "Search hits dropped for missing required fields",
	})
)

// GitHub search exposes at most this many results per query.
const (
	DefaultWindowLimit = 1000
	DefaultPerPage     = 100
)

// Gate is the rate limiter as seen by the fetcher.
type Gate interface {
	Acquire(ctx context.Context) error
	Update(ctx context.Context, q model.Quota)
	Exhaust(ctx context.Context, resetAt time.Time)
	SignalSecondary(retryAfter time.Duration) time.Duration
	ClearSecondary()
}

// FetcherConfig holds the page fetcher configuration.
type FetcherConfig struct {
	// Key is the ordering key chunks are expressed in.
	Key model.OrderingKey

	// Qualifiers are prepended to every range predicate, e.g. "is:public".
	Qualifiers string

	PerPage     int
	WindowLimit int
	Retry       RetryConfig
}

// Fetcher issues rate-limited, retried search requests for chunks.
type Fetcher struct {
	searcher Searcher
	gate     Gate
	config   FetcherConfig
	logger   zerolog.Logger
}

// NewFetcher creates a page fetcher.
func NewFetcher(searcher Searcher, gate Gate, cfg FetcherConfig, logger zerolog.Logger) *Fetcher {
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = DefaultWindowLimit
	}
	if cfg.Key.Field == "" {
		cfg.Key = model.OrderingKey{Field: "stars", Kind: model.KeyNumeric}
	}
	cfg.Retry = cfg.Retry.withDefaults()

	return &Fetcher{
		searcher: searcher,
		gate:     gate,
		config:   cfg,
		logger:   logger,
	}
}

// QueryText renders the search string for a range.
func (f *Fetcher) QueryText(r model.Range) string {
	return strings.TrimSpace(f.config.Qualifiers + " " + f.config.Key.Qualifier(r))
}

// WindowLimit returns the per-query result cap the fetcher honours.
func (f *Fetcher) WindowLimit() int {
	return f.config.WindowLimit
}

// CountRange returns the total result count for a range.
func (f *Fetcher) CountRange(ctx context.Context, r model.Range) (int, error) {
	res, err := f.search(ctx, Query{Text: f.QueryText(r), Page: 1, PerPage: 1})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r, err)
	}
	return res.Total, nil
}

// FetchPage fetches the page of chunk addressed by cursor. Malformed hits
// are dropped and counted in Page.Skipped; the page still succeeds.
func (f *Fetcher) FetchPage(ctx context.Context, chunk model.Chunk, cursor model.Cursor) (model.Page, error) {
	page, err := decodeCursor(cursor)
	if err != nil {
		return model.Page{}, err
	}

	res, err := f.search(ctx, Query{Text: f.QueryText(chunk.Range), Page: page, PerPage: f.config.PerPage})
	if err != nil {
		return model.Page{}, fmt.Errorf("fetch chunk %d %s page %d: %w", chunk.ID, chunk.Range, page, err)
	}

	now := time.Now().UTC()
	out := model.Page{
		Total: res.Total,
		Items: make([]model.Repository, 0, len(res.Items)),
	}
	for i, raw := range res.Items {
		if raw.NodeID == "" || raw.FullName == "" || raw.Stars == nil {
			out.Skipped++
			malformedTotal.Inc()
			f.logger.Warn().
				Int("chunk", chunk.ID).
				Int("page", page).
				Int("index", i).
				Str("id", raw.NodeID).
				Str("name", raw.FullName).
				Msg("Skipping malformed search result")
			continue
		}
		out.Items = append(out.Items, model.Repository{
			ID:     raw.NodeID,
			Name:   raw.FullName,
			Stars:  *raw.Stars,
			SeenAt: now,
		})
	}

	// Pages past the window limit are rejected by the API.
	if res.NextPage > 0 && (res.NextPage-1)*f.config.PerPage < f.config.WindowLimit {
		out.Next = model.Cursor(strconv.Itoa(res.NextPage))
	}

	f.logger.Debug().
		Int("chunk", chunk.ID).
		Int("page", page).
		Int("items", len(out.Items)).
		Int("skipped", out.Skipped).
		Int("total", out.Total).
		Msg("Fetched page")

	return out, nil
}

// search runs one query through the gate with retries.
func (f *Fetcher) search(ctx context.Context, q Query) (*SearchResult, error) {
	var result *SearchResult

	classify := func(err error) ErrorClass {
		if ctx.Err() != nil {
			return ""
		}
		return ClassOf(err)
	}

	err := retryWithBackoff(ctx, f.config.Retry, f.logger, func() error {
		if err := f.gate.Acquire(ctx); err != nil {
			return err
		}

		start := time.Now()
		res, err := f.searcher.SearchRepositories(ctx, q)
		searchRequestDuration.Observe(time.Since(start).Seconds())

		if res != nil && res.Quota != nil {
			f.gate.Update(ctx, *res.Quota)
		}

		if err != nil {
			class := classify(err)
			var searchErr *SearchError
			if errors.As(err, &searchErr) {
				switch searchErr.ErrorClass {
				case ErrorClassRateLimit:
					f.gate.Exhaust(ctx, searchErr.ResetAt)
				case ErrorClassSecondaryRateLimit:
					f.gate.SignalSecondary(searchErr.RetryAfter)
				}
			}
			if class == "" {
				class = "cancelled"
			}
			searchRequestsTotal.WithLabelValues(string(class)).Inc()
			f.logger.Debug().
				Err(err).
				Str("query", q.Text).
				Int("page", q.Page).
				Msg("Search request failed")
			return err
		}

		f.gate.ClearSecondary()
		searchRequestsTotal.WithLabelValues("ok").Inc()
		result = res
		return nil
	}, classify)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func decodeCursor(c model.Cursor) (int, error) {
	if c == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(string(c))
	if err != nil || page < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, string(c))
	}
	return page, nil
}
