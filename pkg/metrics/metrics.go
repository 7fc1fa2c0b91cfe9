// Package metrics serves the harvester's Prometheus metrics.
// All metrics are defined in their respective packages (client, ratelimit,
// planner, crawl, dedup, sink, cache) to maintain modularity and avoid
// circular dependencies.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
// The /metrics handler registers its own request metrics here as well.
var Registry = prometheus.DefaultRegisterer

const shutdownTimeout = 5 * time.Second

// Handler returns the mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		Registry, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
	))
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve exposes Handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvester_quota_remaining (Gauge): Search requests left in the current window
//   - harvester_rate_limit_waits_total{reason} (Counter): Suspensions by reason (quota, secondary)
//   - harvester_rate_limit_wait_seconds{reason} (Histogram): Time spent suspended
//   - harvester_secondary_rate_limits_total (Counter): Secondary rate limit signals
//   - harvester_quota_resets_total (Counter): Quota windows rolled over
//
// Search Metrics (pkg/client):
//   - harvester_search_requests_total{outcome} (Counter): Requests by outcome (ok or error class)
//   - harvester_search_request_duration_seconds (Histogram): Request duration
//   - harvester_malformed_entities_total (Counter): Search hits dropped as malformed
//   - harvester_search_retries_total{error_class} (Counter): Retry attempts by error class
//   - harvester_search_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - harvester_search_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Planning Metrics (pkg/planner, pkg/cache):
//   - harvester_chunks_planned_total{kind} (Counter): Chunks planned (fetch, empty, oversized, failed)
//   - harvester_count_cache_hits_total (Counter): Range counts served from Redis
//   - harvester_count_cache_misses_total (Counter): Range counts not cached
//   - harvester_count_cache_errors_total{operation} (Counter): Cache operation errors
//
// Crawl Metrics (pkg/crawl, pkg/dedup, pkg/sink):
//   - harvester_accepted_total (Counter): Unique repositories accepted and written
//   - harvester_duplicates_total (Counter): Repositories rejected as already accepted
//   - harvester_chunks_total{status} (Counter): Chunks finished by status
//   - harvester_pages_total (Counter): Result pages processed
//   - harvester_workers_active (Gauge): Workers driving a chunk
//   - harvester_sink_upserts_total{result} (Counter): Upserts by result (ok, stale, error)
//   - harvester_sink_upsert_duration_seconds (Histogram): Postgres upsert duration
//
// Example Prometheus Queries:
//
//   # Acceptance rate
//   rate(harvester_accepted_total[5m])
//
//   # Share of hits that were duplicates
//   rate(harvester_duplicates_total[5m]) /
//   (rate(harvester_duplicates_total[5m]) + rate(harvester_accepted_total[5m]))
//
//   # Quota nearly spent
//   harvester_quota_remaining < 5
//
//   # P95 search latency
//   histogram_quantile(0.95, rate(harvester_search_request_duration_seconds_bucket[5m]))
