package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// DefaultTTL is how long a range count stays cached.
const DefaultTTL = time.Hour

// Counter reports the result count of a range.
type Counter interface {
	CountRange(ctx context.Context, r model.Range) (int, error)
}

// CachedCounter serves range counts from a Store and falls through to
// the wrapped Counter on a miss. Store failures are logged and bypassed.
type CachedCounter struct {
	next   Counter
	query  func(model.Range) string
	store  Store
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedCounter wraps next. query renders the search string a range
// is counted under; it makes up the cache key.
func NewCachedCounter(next Counter, query func(model.Range) string, store Store, ttl time.Duration, logger zerolog.Logger) *CachedCounter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedCounter{
		next:   next,
		query:  query,
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// CountRange implements Counter.
func (c *CachedCounter) CountRange(ctx context.Context, r model.Range) (int, error) {
	key := CountKey{Query: c.query(r)}

	entry, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.Debug().
			Str("query", entry.Query).
			Int("total", entry.Total).
			Msg("Count cache hit")
		return entry.Total, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Count cache read failed")
	}

	total, err := c.next.CountRange(ctx, r)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	entry = &CountEntry{
		Query:    key.Query,
		Total:    total,
		CachedAt: now,
		Expires:  now.Add(c.ttl),
	}
	if err := c.store.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Count cache write failed")
	}
	return total, nil
}
