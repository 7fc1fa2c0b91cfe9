package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// Prometheus metrics for rate limit tracking.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_quota_remaining",
		Help: "Search requests remaining in the current rate limit window",
	})

	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_rate_limit_waits_total",
		Help: "Total number of times a request was suspended by the rate limiter",
	}, []string{"reason"})

	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_rate_limit_wait_seconds",
		Help:    "Time spent suspended by the rate limiter",
		Buckets: []float64{0.1, 1, 5, 15, 30, 60, 300, 600},
	}, []string{"reason"})

	secondaryLimitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_secondary_rate_limits_total",
		Help: "Total number of secondary rate limit signals received",
	})

	quotaResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_quota_resets_total",
		Help: "Number of quota windows the limiter rolled over",
	})
)

const (
	waitQuota     = "quota"
	waitSecondary = "secondary"
)

// Config holds the limiter configuration.
type Config struct {
	// Limit is the quota assumed until the first response reports one.
	Limit int

	// RequestsPerSecond is the proactive steady rate. Zero disables it.
	RequestsPerSecond float64

	// SecondaryInitial is the first backoff after a secondary rate limit.
	SecondaryInitial time.Duration

	// SecondaryMax caps the secondary backoff.
	SecondaryMax time.Duration
}

// DefaultConfig returns limits matching the GitHub search API.
func DefaultConfig() Config {
	return Config{
		Limit:             DefaultLimit,
		RequestsPerSecond: DefaultRequestsPerSecond,
		SecondaryInitial:  DefaultSecondaryInitial,
		SecondaryMax:      DefaultSecondaryMax,
	}
}

// Limiter gates requests against the remote quota. It is safe for
// concurrent use; all workers of a crawl share one Limiter.
type Limiter struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetAt   time.Time

	backoffUntil    time.Time
	secondaryStreak int

	bucket *rate.Limiter
	config Config
	store  Store
	logger zerolog.Logger
}

// NewLimiter creates a limiter. store may be nil.
func NewLimiter(cfg Config, store Store, logger zerolog.Logger) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.SecondaryInitial <= 0 {
		cfg.SecondaryInitial = DefaultSecondaryInitial
	}
	if cfg.SecondaryMax < cfg.SecondaryInitial {
		cfg.SecondaryMax = cfg.SecondaryInitial
	}

	l := &Limiter{
		remaining: cfg.Limit,
		limit:     cfg.Limit,
		config:    cfg,
		store:     store,
		logger:    logger,
	}
	if cfg.RequestsPerSecond > 0 {
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	quotaRemaining.Set(float64(l.remaining))
	return l
}

// Restore loads the last persisted snapshot, if any. A snapshot whose
// window already reset, or that is older than one window, is ignored.
func (l *Limiter) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	snap, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load rate limit snapshot: %w", err)
	}
	if snap == nil || snap.TimeUntilReset() == 0 {
		return nil
	}
	if snap.IsStale(DefaultWindow) {
		l.logger.Debug().
			Time("last_update", snap.LastUpdate).
			Msg("Ignoring stale rate limit snapshot")
		return nil
	}

	l.mu.Lock()
	if snap.Limit > 0 {
		l.limit = snap.Limit
	}
	l.remaining = snap.Remaining
	l.resetAt = snap.ResetAt
	l.mu.Unlock()

	quotaRemaining.Set(float64(snap.Remaining))
	event := l.logger.Info().
		Int("remaining", snap.Remaining).
		Time("reset_at", snap.ResetAt)
	if snap.Blocked(time.Now()) {
		event = event.Dur("blocked_for", snap.TimeUntilReset())
	}
	event.Msg("Restored rate limit snapshot")
	return nil
}

// Acquire blocks until one more request may be issued and reserves one
// unit of quota for it. It returns the context error if ctx ends first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("throttle: %w", err)
		}
	}

	for {
		wait, reason := l.reserve(time.Now())
		if wait <= 0 {
			return nil
		}

		rateLimitWaitsTotal.WithLabelValues(reason).Inc()
		rateLimitWaitSeconds.WithLabelValues(reason).Observe(wait.Seconds())
		l.logger.Warn().
			Str("reason", reason).
			Dur("wait_duration", wait).
			Msg("Rate limit reached - suspending request")

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve takes one unit of quota or reports how long to wait.
func (l *Limiter) reserve(now time.Time) (time.Duration, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Before(l.backoffUntil) {
		return l.backoffUntil.Sub(now), waitSecondary
	}

	if l.remaining <= 0 {
		if now.Before(l.resetAt) {
			return l.resetAt.Sub(now), waitQuota
		}
		l.remaining = l.limit
		quotaResetsTotal.Inc()
	}

	l.remaining--
	quotaRemaining.Set(float64(l.remaining))
	return 0, ""
}

// Update records the quota reported by a response. Within one window the
// lower remaining count wins, so responses arriving out of order never
// hand back quota that concurrent workers already reserved. Rejected
// responses carry quota too, so Update leaves the secondary streak alone.
func (l *Limiter) Update(ctx context.Context, q model.Quota) {
	l.mu.Lock()
	if q.Limit > 0 {
		l.limit = q.Limit
	}
	if q.ResetAt.After(l.resetAt) {
		l.resetAt = q.ResetAt
		l.remaining = q.Remaining
	} else if q.ResetAt.Equal(l.resetAt) && q.Remaining < l.remaining {
		l.remaining = q.Remaining
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	quotaRemaining.Set(float64(snap.Remaining))
	l.logger.Debug().
		Int("remaining", snap.Remaining).
		Int("limit", snap.Limit).
		Time("reset_at", snap.ResetAt).
		Msg("Rate limit state updated")

	l.persist(ctx, snap)
}

// Exhaust marks the quota as spent until resetAt. A zero resetAt means
// the response carried none; the default window is assumed.
func (l *Limiter) Exhaust(ctx context.Context, resetAt time.Time) {
	if resetAt.IsZero() {
		resetAt = time.Now().Add(DefaultWindow)
	}

	l.mu.Lock()
	l.remaining = 0
	if resetAt.After(l.resetAt) {
		l.resetAt = resetAt
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	quotaRemaining.Set(0)
	l.logger.Warn().
		Time("reset_at", snap.ResetAt).
		Msg("Search quota exhausted - requests suspended until reset")

	l.persist(ctx, snap)
}

// SignalSecondary registers a secondary rate limit. Subsequent Acquire
// calls wait an exponentially growing, jittered delay capped at
// SecondaryMax; a server Retry-After longer than that delay wins. The
// quota counter is left untouched. The streak grows until ClearSecondary.
// Returns the applied delay.
func (l *Limiter) SignalSecondary(retryAfter time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.secondaryStreak++
	delay := l.config.SecondaryInitial
	for i := 1; i < l.secondaryStreak && delay < l.config.SecondaryMax; i++ {
		delay *= 2
	}

	// Add jitter (±20% randomness)
	delay = time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
	if retryAfter > delay {
		delay = retryAfter
	}
	if delay > l.config.SecondaryMax {
		delay = l.config.SecondaryMax
	}

	until := time.Now().Add(delay)
	if until.After(l.backoffUntil) {
		l.backoffUntil = until
	}

	secondaryLimitsTotal.Inc()
	l.logger.Warn().
		Int("streak", l.secondaryStreak).
		Dur("backoff", delay).
		Msg("Secondary rate limit - backing off")

	return delay
}

// ClearSecondary ends the secondary rate limit streak. Call it after a
// successful response; a backoff already in effect still runs out.
func (l *Limiter) ClearSecondary() {
	l.mu.Lock()
	l.secondaryStreak = 0
	l.mu.Unlock()
}

// Snapshot returns the current quota view.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Limiter) snapshotLocked() Snapshot {
	return Snapshot{
		Quota: model.Quota{
			Limit:     l.limit,
			Remaining: l.remaining,
			ResetAt:   l.resetAt,
		},
		LastUpdate: time.Now(),
	}
}

func (l *Limiter) persist(ctx context.Context, snap Snapshot) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, snap); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to persist rate limit snapshot")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
