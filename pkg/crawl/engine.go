// Package crawl drives planned chunks through the page fetcher until a
// target number of unique repositories has been written.
//
// A pool of workers pulls chunks from a channel fed by the planner. Each
// chunk moves Pending -> InProgress -> Exhausted or Failed. Every entity
// passes through the dedup set before it is written, and the write that
// meets the target cancels the run: workers stop at their next page
// request, keeping whatever they already hold.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-harvester/pkg/dedup"
	"github.com/Sternrassler/repo-harvester/pkg/model"
	"github.com/Sternrassler/repo-harvester/pkg/pagination"
	"github.com/Sternrassler/repo-harvester/pkg/sink"
)

// Defaults for Config fields left zero.
const (
	DefaultWorkers       = 4
	DefaultProgressEvery = 1000
)

// ErrInvalidTarget is returned by Run when the target is not positive.
var ErrInvalidTarget = errors.New("target must be positive")

// ChunkSource streams chunks for a range and closes out when done.
type ChunkSource interface {
	Stream(ctx context.Context, full model.Range, out chan<- model.Chunk) error
}

// Config holds the engine configuration.
type Config struct {
	// Target is the number of unique repositories to collect.
	Target int

	// Workers is the number of chunks processed concurrently.
	Workers int

	// ProgressEvery logs the accepted count every N acceptances.
	ProgressEvery int
}

// Engine runs crawls. One Engine may run several crawls in sequence; the
// per-run state lives in Run.
type Engine struct {
	pages   pagination.PageSource
	planner ChunkSource
	seen    dedup.Set
	sink    sink.Sink
	config  Config
	logger  zerolog.Logger
}

// New creates an engine. planner may be nil when only RunChunks is used.
func New(pages pagination.PageSource, planner ChunkSource, seen dedup.Set, out sink.Sink, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	return &Engine{
		pages:   pages,
		planner: planner,
		seen:    seen,
		sink:    out,
		config:  cfg,
		logger:  logger,
	}
}

// Run plans full and crawls the chunks as they are planned. Chunks
// planned with a zero count are retired without a fetch.
//
// The returned report is never nil. The error is non-nil only when ctx
// ends before the run does or when planning cannot start; failed chunks
// and a shortfall are reported, not returned.
func (e *Engine) Run(ctx context.Context, full model.Range) (*Report, error) {
	if e.planner == nil {
		return &Report{Target: e.config.Target}, errors.New("engine has no planner")
	}
	return e.run(ctx, true, func(ctx context.Context, out chan<- model.Chunk) error {
		return e.planner.Stream(ctx, full, out)
	})
}

// RunChunks crawls a fixed worklist. Every chunk is fetched.
func (e *Engine) RunChunks(ctx context.Context, chunks []model.Chunk) (*Report, error) {
	return e.run(ctx, false, func(ctx context.Context, out chan<- model.Chunk) error {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
}

func (e *Engine) run(ctx context.Context, skipEmpty bool, feed func(context.Context, chan<- model.Chunk) error) (*Report, error) {
	if e.config.Target <= 0 {
		return &Report{Target: e.config.Target}, ErrInvalidTarget
	}

	start := time.Now()
	st := newState(e.config.Target)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	e.logger.Info().
		Int("target", e.config.Target).
		Int("workers", e.config.Workers).
		Msg("Crawl started")

	work := make(chan model.Chunk)
	feedErr := make(chan error, 1)
	go func() {
		feedErr <- feed(runCtx, work)
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := &worker{
				engine:    e,
				state:     st,
				parent:    ctx,
				stop:      stop,
				skipEmpty: skipEmpty,
				logger:    e.logger.With().Int("worker", id).Logger(),
			}
			for c := range work {
				w.process(runCtx, c)
			}
		}(i)
	}
	wg.Wait()
	planErr := <-feedErr

	report := st.report()
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		e.logger.Warn().
			Int("accepted", report.Accepted).
			Int("target", report.Target).
			Msg("Crawl cancelled")
		return report, err
	}

	if planErr != nil && runCtx.Err() == nil {
		return report, fmt.Errorf("plan chunks: %w", planErr)
	}

	if report.Accepted < report.Target {
		report.Shortfall = true
		e.logger.Warn().
			Int("accepted", report.Accepted).
			Int("target", report.Target).
			Int("failed_chunks", len(report.Failed())).
			Msg("Worklist drained below target")
	}

	e.logger.Info().
		Int("accepted", report.Accepted).
		Int("chunks", len(report.Chunks)).
		Int("failed_chunks", len(report.Failed())).
		Int("pages", report.Pages).
		Int("duplicates", report.Duplicates).
		Dur("duration", report.Duration).
		Msg("Crawl finished")
	return report, nil
}
