package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/repo-harvester/pkg/cache"
	"github.com/Sternrassler/repo-harvester/pkg/client"
	"github.com/Sternrassler/repo-harvester/pkg/config"
	"github.com/Sternrassler/repo-harvester/pkg/crawl"
	"github.com/Sternrassler/repo-harvester/pkg/dedup"
	"github.com/Sternrassler/repo-harvester/pkg/logging"
	"github.com/Sternrassler/repo-harvester/pkg/metrics"
	"github.com/Sternrassler/repo-harvester/pkg/model"
	"github.com/Sternrassler/repo-harvester/pkg/planner"
	"github.com/Sternrassler/repo-harvester/pkg/ratelimit"
	"github.com/Sternrassler/repo-harvester/pkg/sink"
)

// dryRunKeySuffix is appended to DEDUP_KEY for dry runs.
const dryRunKeySuffix = ":dry-run"

type crawlOptions struct {
	target  int
	workers int
	dryRun  bool
}

func newCrawlCmd() *cobra.Command {
	var opts crawlOptions

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl repositories until the target count is stored",
		Long: `Plans the ordering-key range, fetches every chunk with a pool of workers
and upserts unique repositories. With --dry-run nothing is written to
Postgres; results are kept in memory and only the summary is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.target, "target", "n", 0, "number of unique repositories to collect (overrides TARGET_COUNT)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "concurrent chunk workers (overrides WORKERS)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "keep results in memory instead of writing to Postgres")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if opts.target > 0 {
		cfg.TargetCount = opts.target
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}

	ctx := cmd.Context()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	key, full, err := cfg.KeyRange()
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	fetcher, err := newFetcher(ctx, cfg, key, rdb)
	if err != nil {
		return err
	}

	var counter planner.Counter = fetcher
	if rdb != nil {
		counter = cache.NewCachedCounter(fetcher, fetcher.QueryText, cache.NewManager(rdb), cfg.CountCacheTTL, logging.NewLogger("cache"))
	}
	plan := planner.New(counter, planner.Config{
		WindowLimit: cfg.WindowLimit,
		MinWidth:    cfg.MinChunkWidth,
	}, logging.NewLogger("planner"))

	var seen dedup.Set = dedup.NewMemory()
	if rdb != nil {
		key := cfg.DedupKey
		if opts.dryRun {
			// Leave the id set of real crawls untouched
			key += dryRunKeySuffix
		}
		shared := dedup.NewRedis(rdb, key)
		if err := shared.Reset(ctx); err != nil {
			return fmt.Errorf("reset dedup set: %w", err)
		}
		seen = shared
	}

	var out sink.Sink
	if opts.dryRun {
		out = sink.NewMemory()
		logger.Info().Msg("Dry run - results are not written to Postgres")
	} else {
		db, err := sink.Connect(ctx, cfg.DatabaseURL())
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := sink.Migrate(db, logging.NewLogger("migrate")); err != nil {
				return err
			}
		}
		out = sink.NewPostgres(db)
	}

	engine := crawl.New(fetcher, plan, seen, out, crawl.Config{
		Target:        cfg.TargetCount,
		Workers:       cfg.Workers,
		ProgressEvery: cfg.ProgressEvery,
	}, logging.NewLogger("crawl"))

	logger.Info().
		Str("key", key.Field).
		Str("from", key.FormatValue(full.Low)).
		Str("to", key.FormatValue(full.High-1)).
		Str("qualifiers", cfg.SearchQualifiers).
		Msg("Starting crawl")

	report, err := engine.Run(ctx, full)
	printReport(cmd.OutOrStdout(), report)
	return err
}

// newFetcher wires the search adapter, the shared rate limiter and the
// retrying fetcher.
func newFetcher(ctx context.Context, cfg *config.Config, key model.OrderingKey, rdb *redis.Client) (*client.Fetcher, error) {
	searcher, err := client.NewGitHubSearcher(client.Config{
		Token:     cfg.GitHubToken,
		BaseURL:   cfg.GitHubAPIURL,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	var store ratelimit.Store
	if rdb != nil {
		store = ratelimit.NewRedisStore(rdb)
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Limit:             ratelimit.DefaultLimit,
		RequestsPerSecond: cfg.RequestsPerSecond,
		SecondaryInitial:  cfg.SecondaryInitial,
		SecondaryMax:      cfg.SecondaryMax,
	}, store, logging.NewLogger("limiter"))
	if err := limiter.Restore(ctx); err != nil {
		logger := logging.NewLogger("limiter")
		logger.Warn().Err(err).Msg("Starting without persisted quota")
	}

	return client.NewFetcher(searcher, limiter, client.FetcherConfig{
		Key:         key,
		Qualifiers:  cfg.SearchQualifiers,
		PerPage:     cfg.PageSize,
		WindowLimit: cfg.WindowLimit,
		Retry: client.RetryConfig{
			MaxAttempts:       cfg.MaxAttempts,
			InitialBackoff:    cfg.InitialBackoff,
			MaxBackoff:        cfg.MaxBackoff,
			BackoffMultiplier: 2.0,
		},
	}, logging.NewLogger("fetcher")), nil
}

func printReport(w io.Writer, r *crawl.Report) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Accepted:   %d / %d\n", r.Accepted, r.Target)
	fmt.Fprintf(w, "Chunks:     %d (%d exhausted, %d failed, %d oversized)\n",
		len(r.Chunks), len(r.Exhausted()), len(r.Failed()), len(r.Oversized()))
	fmt.Fprintf(w, "Pages:      %d\n", r.Pages)
	fmt.Fprintf(w, "Duplicates: %d\n", r.Duplicates)
	fmt.Fprintf(w, "Skipped:    %d\n", r.Skipped)
	fmt.Fprintf(w, "Duration:   %s\n", r.Duration.Round(time.Millisecond))
	for _, c := range r.Failed() {
		fmt.Fprintf(w, "  failed chunk %d %s: %v\n", c.ID, c.Range, c.Err)
	}
	if r.Shortfall {
		fmt.Fprintf(w, "Warning: target not reached, %d repositories short\n", r.Target-r.Accepted)
	}
}
