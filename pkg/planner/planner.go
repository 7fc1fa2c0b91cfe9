// Package planner partitions the ordering-key space into chunks whose
// result count fits inside the search window.
//
// Planning is lazy: a range is counted only when it is popped off the
// work stack, and chunks are streamed to the consumer as soon as they are
// known, so fetching can start long before the whole space is planned.
package planner

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

var chunksPlannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvester_chunks_planned_total",
	Help: "Chunks emitted by the planner by kind",
}, []string{"kind"}) // "fetch", "empty", "oversized", "failed"

// Counter reports the result count of a range.
type Counter interface {
	CountRange(ctx context.Context, r model.Range) (int, error)
}

// Config holds the planner configuration.
type Config struct {
	// WindowLimit is the most results one query can reach.
	WindowLimit int

	// MinWidth is the narrowest range the planner will produce by
	// splitting. A wider-than-window range narrower than 2*MinWidth is
	// emitted as oversized.
	MinWidth int64
}

// Planner bisects ranges until each fits the window.
type Planner struct {
	counter Counter
	config  Config
	logger  zerolog.Logger
}

// New creates a planner.
func New(counter Counter, cfg Config, logger zerolog.Logger) *Planner {
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = 1000
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = 1
	}
	return &Planner{counter: counter, config: cfg, logger: logger}
}

// Stream plans full and sends each chunk to out, in ascending key order,
// then closes out. Every value of full is covered by exactly one emitted
// chunk. A range whose count fails is emitted as a Failed chunk and
// planning continues. Stream returns the context error if ctx ends first.
func (p *Planner) Stream(ctx context.Context, full model.Range, out chan<- model.Chunk) error {
	defer close(out)

	if full.Empty() {
		return fmt.Errorf("plan %s: empty range", full)
	}

	stack := []model.Range{full}
	nextID := 1
	counted := 0

	emit := func(c model.Chunk) error {
		c.ID = nextID
		nextID++
		select {
		case out <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		total, err := p.counter.CountRange(ctx, r)
		counted++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			chunksPlannedTotal.WithLabelValues("failed").Inc()
			p.logger.Error().
				Err(err).
				Str("range", r.String()).
				Msg("Count failed - emitting range as failed chunk")
			if err := emit(model.Chunk{Range: r, Status: model.StatusFailed, Err: err}); err != nil {
				return err
			}
			continue
		}

		if total > p.config.WindowLimit {
			if r.Width() >= 2*p.config.MinWidth {
				low, high := r.Split()
				// Pushed high first so the low half is planned first
				stack = append(stack, high, low)
				p.logger.Debug().
					Str("range", r.String()).
					Int("total", total).
					Msg("Range exceeds window - splitting")
				continue
			}

			chunksPlannedTotal.WithLabelValues("oversized").Inc()
			p.logger.Warn().
				Str("range", r.String()).
				Int("total", total).
				Int("window_limit", p.config.WindowLimit).
				Msg("Range cannot be split further - only the first window of results is reachable")
			if err := emit(model.Chunk{Range: r, Total: total, Oversized: true}); err != nil {
				return err
			}
			continue
		}

		if total == 0 {
			chunksPlannedTotal.WithLabelValues("empty").Inc()
		} else {
			chunksPlannedTotal.WithLabelValues("fetch").Inc()
		}
		if err := emit(model.Chunk{Range: r, Total: total}); err != nil {
			return err
		}
	}

	p.logger.Info().
		Str("range", full.String()).
		Int("chunks", nextID-1).
		Int("count_queries", counted).
		Msg("Planning complete")
	return nil
}

// Plan collects the whole plan for full.
func (p *Planner) Plan(ctx context.Context, full model.Range) ([]model.Chunk, error) {
	out := make(chan model.Chunk)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Stream(ctx, full, out)
	}()

	var chunks []model.Chunk
	for c := range out {
		chunks = append(chunks, c)
	}
	if err := <-errCh; err != nil {
		return chunks, err
	}
	return chunks, nil
}
