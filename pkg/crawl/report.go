package crawl

import (
	"time"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// Report summarises a finished run.
type Report struct {
	Target   int
	Accepted int

	// Chunks holds every chunk the run received, ordered by ID.
	Chunks []model.Chunk

	Pages      int
	Duplicates int
	Skipped    int

	// Shortfall is set when every chunk finished before the target was met.
	Shortfall bool

	Duration time.Duration
}

// Failed returns the chunks that ended in StatusFailed.
func (r *Report) Failed() []model.Chunk {
	return r.withStatus(model.StatusFailed)
}

// Exhausted returns the chunks that were read to the end or stopped at
// the target.
func (r *Report) Exhausted() []model.Chunk {
	return r.withStatus(model.StatusExhausted)
}

// Oversized returns the chunks planned wider than the search window.
func (r *Report) Oversized() []model.Chunk {
	var out []model.Chunk
	for _, c := range r.Chunks {
		if c.Oversized {
			out = append(out, c)
		}
	}
	return out
}

func (r *Report) withStatus(s model.Status) []model.Chunk {
	var out []model.Chunk
	for _, c := range r.Chunks {
		if c.Status == s {
			out = append(out, c)
		}
	}
	return out
}
