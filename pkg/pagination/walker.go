package pagination

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// ErrStopped is returned by Walk when the visitor stopped the walk early.
var ErrStopped = errors.New("walk stopped by visitor")

// PageSource fetches one page of a chunk.
type PageSource interface {
	FetchPage(ctx context.Context, chunk model.Chunk, cursor model.Cursor) (model.Page, error)
}

// Visitor receives each page. Returning false stops the walk.
type Visitor func(page model.Page) (bool, error)

// Walk fetches the pages of chunk in order and passes them to visit.
// It returns the number of pages fetched. A nil error means the chunk
// was read to its last page; ErrStopped means visit ended it early.
func Walk(ctx context.Context, source PageSource, chunk model.Chunk, visit Visitor) (int, error) {
	start := time.Now()
	var cursor model.Cursor
	pages := 0

	for {
		// Check context cancellation
		if err := ctx.Err(); err != nil {
			log.Debug().
				Int("chunk", chunk.ID).
				Int("pages", pages).
				Msg("Walk stopping (context cancelled)")
			return pages, err
		}

		page, err := source.FetchPage(ctx, chunk, cursor)
		if err != nil {
			return pages, err
		}
		pages++

		more, err := visit(page)
		if err != nil {
			return pages, err
		}
		if !more {
			return pages, ErrStopped
		}

		if page.Next == "" {
			log.Debug().
				Int("chunk", chunk.ID).
				Int("pages", pages).
				Dur("duration", time.Since(start)).
				Msg("Walk complete")
			return pages, nil
		}
		cursor = page.Next
	}
}
