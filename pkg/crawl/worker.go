package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-harvester/pkg/model"
	"github.com/Sternrassler/repo-harvester/pkg/pagination"
)

// errWrite marks a failed sink write inside a walk.
var errWrite = errors.New("sink write failed")

type worker struct {
	engine *Engine
	state  *state

	// parent is the caller's context. Writes use it so the target
	// cancellation never aborts a write whose slot is already reserved.
	// The run is stopped only once the target is committed.
	parent context.Context
	stop   context.CancelFunc

	skipEmpty bool
	logger    zerolog.Logger
}

func (w *worker) process(ctx context.Context, c model.Chunk) {
	w.state.add(c)

	if c.Status == model.StatusFailed {
		chunksTotal.WithLabelValues(c.Status.String()).Inc()
		w.logger.Error().
			Err(c.Err).
			Int("chunk", c.ID).
			Str("range", c.Range.String()).
			Msg("Chunk failed during planning")
		return
	}

	// Chunks arriving after the target was met stay Pending
	if ctx.Err() != nil || !w.state.claim(c.ID) {
		return
	}

	if w.skipEmpty && c.Total == 0 && !c.Oversized {
		w.finish(c, model.StatusExhausted, nil)
		return
	}

	workersActive.Inc()
	defer workersActive.Dec()

	w.logger.Info().
		Int("chunk", c.ID).
		Str("range", c.Range.String()).
		Int("total", c.Total).
		Bool("oversized", c.Oversized).
		Msg("Chunk started")

	pages, err := pagination.Walk(ctx, w.engine.pages, c, func(p model.Page) (bool, error) {
		pagesTotal.Inc()
		w.state.notePage(p)
		for _, repo := range p.Items {
			more, err := w.admit(repo)
			if err != nil || !more {
				return false, err
			}
		}
		return true, nil
	})

	switch {
	case err == nil, errors.Is(err, pagination.ErrStopped):
		w.finish(c, model.StatusExhausted, nil)
	case errors.Is(err, errWrite) && w.parent.Err() == nil:
		w.finish(c, model.StatusFailed, err)
	case ctx.Err() != nil && w.state.done():
		// Interrupted by the target being met elsewhere
		w.finish(c, model.StatusExhausted, nil)
	case ctx.Err() != nil:
		w.state.finish(c.ID, model.StatusPending, nil)
		w.logger.Debug().Int("chunk", c.ID).Int("pages", pages).Msg("Chunk interrupted")
	default:
		w.finish(c, model.StatusFailed, err)
	}
}

// admit runs one entity through dedup and the sink. It reports false
// once the walk over the current chunk should stop.
func (w *worker) admit(repo model.Repository) (bool, error) {
	ok, err := w.engine.seen.Accept(w.parent, repo.ID)
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", repo.ID, err)
	}
	if !ok {
		w.state.noteDuplicate()
		return true, nil
	}

	if !w.state.reserve() {
		w.forget(repo.ID)
		return false, nil
	}

	if err := w.engine.sink.Upsert(w.parent, repo); err != nil {
		w.state.release()
		w.forget(repo.ID)
		return false, fmt.Errorf("%w: %s: %w", errWrite, repo.ID, err)
	}
	n, reached := w.state.commit()
	acceptedTotal.Inc()

	if n%w.engine.config.ProgressEvery == 0 {
		w.logger.Info().
			Int("accepted", n).
			Int("target", w.state.target).
			Msg("Progress")
	}

	if reached {
		w.logger.Info().
			Int("accepted", n).
			Str("last_id", repo.ID).
			Msg("Target reached - stopping crawl")
		w.stop()
		return false, nil
	}
	return true, nil
}

func (w *worker) forget(id string) {
	if err := w.engine.seen.Forget(w.parent, id); err != nil {
		w.logger.Warn().Err(err).Str("id", id).Msg("Failed to release id")
	}
}

func (w *worker) finish(c model.Chunk, status model.Status, err error) {
	w.state.finish(c.ID, status, err)
	chunksTotal.WithLabelValues(status.String()).Inc()

	if status == model.StatusFailed {
		w.logger.Error().
			Err(err).
			Int("chunk", c.ID).
			Str("range", c.Range.String()).
			Msg("Chunk failed")
		return
	}
	w.logger.Debug().
		Int("chunk", c.ID).
		Str("status", status.String()).
		Msg("Chunk finished")
}
