package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/repo-harvester/pkg/client"
	"github.com/Sternrassler/repo-harvester/pkg/dedup"
	"github.com/Sternrassler/repo-harvester/pkg/model"
	"github.com/Sternrassler/repo-harvester/pkg/sink"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// fakeSource serves scripted pages per chunk ID. The cursor is the page
// index.
type fakeSource struct {
	mu    sync.Mutex
	pages map[int][]model.Page
	errs  map[int]error
	calls map[int]int

	// onFetch runs before each fetch, outside the lock
	onFetch func(ctx context.Context, chunk model.Chunk, cursor model.Cursor)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[int][]model.Page),
		errs:  make(map[int]error),
		calls: make(map[int]int),
	}
}

// chunk scripts the pages of one chunk, each page listing entity ids.
func (f *fakeSource) chunk(id int, pages ...[]string) {
	seen := time.Now()
	out := make([]model.Page, 0, len(pages))
	for i, ids := range pages {
		p := model.Page{}
		for _, entity := range ids {
			p.Items = append(p.Items, model.Repository{ID: entity, Name: "owner/" + entity, SeenAt: seen})
		}
		if i < len(pages)-1 {
			p.Next = model.Cursor(strconv.Itoa(i + 1))
		}
		out = append(out, p)
	}
	f.pages[id] = out
}

func (f *fakeSource) FetchPage(ctx context.Context, c model.Chunk, cursor model.Cursor) (model.Page, error) {
	if f.onFetch != nil {
		f.onFetch(ctx, c, cursor)
	}
	if err := ctx.Err(); err != nil {
		return model.Page{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[c.ID]++
	if err, ok := f.errs[c.ID]; ok {
		return model.Page{}, err
	}

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(string(cursor))
	}
	pages := f.pages[c.ID]
	if idx >= len(pages) {
		return model.Page{}, nil
	}
	return pages[idx], nil
}

func (f *fakeSource) callsFor(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func chunks(n int) []model.Chunk {
	out := make([]model.Chunk, n)
	for i := range out {
		out[i] = model.Chunk{ID: i + 1, Range: model.Range{Low: int64(i * 10), High: int64(i*10 + 10)}}
	}
	return out
}

func storedIDs(t *testing.T, s *sink.Memory) []string {
	t.Helper()
	var ids []string
	require.NoError(t, s.Each(context.Background(), func(r model.Repository) error {
		ids = append(ids, r.ID)
		return nil
	}))
	return ids
}

func TestRunChunks_OverlapStopsAtTarget(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"1", "2", "3", "4"})
	source.chunk(2, []string{"3", "4", "5", "6"})

	seen := dedup.NewMemory()
	out := sink.NewMemory()
	engine := New(source, nil, seen, out, Config{Target: 5, Workers: 1}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(2))
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, storedIDs(t, out))
	assert.Equal(t, 5, report.Accepted)
	assert.False(t, report.Shortfall)
	assert.Equal(t, 2, report.Duplicates)
	require.Len(t, report.Chunks, 2)
	assert.Equal(t, model.StatusExhausted, report.Chunks[0].Status)
	assert.Equal(t, model.StatusExhausted, report.Chunks[1].Status)

	n, _ := seen.Len(context.Background())
	assert.Equal(t, 5, n, "id 6 must not be recorded as accepted")
}

func TestRunChunks_NoFurtherPagesAfterTarget(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"1", "2", "3"}, []string{"4", "5"}, []string{"6"})

	out := sink.NewMemory()
	engine := New(source, nil, dedup.NewMemory(), out, Config{Target: 4, Workers: 1}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(1))
	require.NoError(t, err)

	assert.Equal(t, 4, report.Accepted)
	assert.Equal(t, 2, source.callsFor(1), "third page must not be requested")
	assert.Equal(t, []string{"1", "2", "3", "4"}, storedIDs(t, out))
}

func TestRunChunks_FailedChunkIsolated(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"a", "b"})
	source.errs[2] = fmt.Errorf("fetch chunk 2: %w", fmt.Errorf("%w after 3 attempts: %w", client.ErrRetryExhausted, errors.New("502 bad gateway")))
	source.chunk(3, []string{"c"})

	engine := New(source, nil, dedup.NewMemory(), sink.NewMemory(), Config{Target: 10, Workers: 2}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(3))
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].ID)
	assert.ErrorIs(t, failed[0].Err, client.ErrRetryExhausted)
	assert.Len(t, report.Exhausted(), 2)
	assert.Equal(t, 3, report.Accepted)
	assert.True(t, report.Shortfall)
}

func TestRunChunks_Shortfall(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"1", "2"})
	source.chunk(2, []string{"2", "3"})

	engine := New(source, nil, dedup.NewMemory(), sink.NewMemory(), Config{Target: 5, Workers: 2}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(2))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Accepted)
	assert.True(t, report.Shortfall)
	assert.Empty(t, report.Failed())
	assert.Len(t, report.Exhausted(), 2)
}

func TestRunChunks_ConcurrentUniqueness(t *testing.T) {
	// Every chunk serves the same 50 ids in a different rotation
	source := newFakeSource()
	const numChunks = 8
	for c := 1; c <= numChunks; c++ {
		var pages [][]string
		for p := 0; p < 5; p++ {
			var ids []string
			for i := 0; i < 10; i++ {
				ids = append(ids, fmt.Sprintf("id-%02d", (c*7+p*10+i)%50))
			}
			pages = append(pages, ids)
		}
		source.chunk(c, pages...)
	}

	seen := dedup.NewMemory()
	out := sink.NewMemory()
	engine := New(source, nil, seen, out, Config{Target: 1000, Workers: 8}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(numChunks))
	require.NoError(t, err)

	assert.Equal(t, 50, report.Accepted)
	assert.Equal(t, 50, out.Len())
	assert.Equal(t, 50, out.Calls(), "each id written exactly once")
	assert.Equal(t, numChunks*50-50, report.Duplicates)
}

func TestRunChunks_ConcurrentTargetExact(t *testing.T) {
	source := newFakeSource()
	const numChunks = 10
	for c := 1; c <= numChunks; c++ {
		var pages [][]string
		for p := 0; p < 4; p++ {
			var ids []string
			for i := 0; i < 25; i++ {
				ids = append(ids, fmt.Sprintf("c%d-p%d-%d", c, p, i))
			}
			pages = append(pages, ids)
		}
		source.chunk(c, pages...)
	}

	seen := dedup.NewMemory()
	out := sink.NewMemory()
	engine := New(source, nil, seen, out, Config{Target: 333, Workers: 6}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(numChunks))
	require.NoError(t, err)

	assert.Equal(t, 333, report.Accepted)
	assert.Equal(t, 333, out.Len())
	assert.Equal(t, 333, out.Calls())
	n, _ := seen.Len(context.Background())
	assert.Equal(t, 333, n)
	assert.False(t, report.Shortfall)
	for _, c := range report.Chunks {
		assert.NotEqual(t, model.StatusInProgress, c.Status)
		assert.NotEqual(t, model.StatusFailed, c.Status)
	}
}

func TestRunChunks_SinkFailureReleasesID(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"a", "b", "c"})
	source.chunk(2, []string{"b", "d"})

	out := sink.NewMemory()
	var once sync.Once
	out.FailWith(func(r model.Repository) error {
		var err error
		if r.ID == "b" {
			once.Do(func() { err = errors.New("connection reset") })
		}
		return err
	})

	seen := dedup.NewMemory()
	engine := New(source, nil, seen, out, Config{Target: 10, Workers: 1}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(2))
	require.NoError(t, err)

	// Chunk 1 fails on b; chunk 2 still delivers b
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].ID)
	assert.Equal(t, []string{"a", "b", "d"}, storedIDs(t, out))
	assert.Equal(t, 3, report.Accepted)
	n, _ := seen.Len(context.Background())
	assert.Equal(t, 3, n)
}

// sinkFunc adapts a function to sink.Sink.
type sinkFunc func(ctx context.Context, r model.Repository) error

func (f sinkFunc) Upsert(ctx context.Context, r model.Repository) error { return f(ctx, r) }

func TestRunChunks_FailedWriteAfterLastSlotTaken(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"a"})
	source.chunk(2, []string{"c", "d", "e"})

	// Chunk 2 starts only once the write of a is in flight, and that
	// write fails only after c was stored: c takes the last free slot
	// while a still holds the other one.
	aWriting := make(chan struct{})
	cStored := make(chan struct{})
	source.onFetch = func(_ context.Context, c model.Chunk, _ model.Cursor) {
		if c.ID == 2 {
			<-aWriting
		}
	}

	store := sink.NewMemory()
	out := sinkFunc(func(ctx context.Context, r model.Repository) error {
		switch r.ID {
		case "a":
			close(aWriting)
			select {
			case <-cStored:
			case <-time.After(5 * time.Second):
			}
			return errors.New("connection reset")
		case "c":
			defer close(cStored)
		}
		return store.Upsert(ctx, r)
	})

	seen := dedup.NewMemory()
	engine := New(source, nil, seen, out, Config{Target: 2, Workers: 2}, testLogger())

	report, err := engine.RunChunks(context.Background(), chunks(2))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Accepted)
	assert.False(t, report.Shortfall)
	assert.Equal(t, []string{"c", "d"}, storedIDs(t, store))

	require.Len(t, report.Chunks, 2)
	assert.Equal(t, model.StatusFailed, report.Chunks[0].Status)
	assert.ErrorContains(t, report.Chunks[0].Err, "connection reset")
	assert.Equal(t, model.StatusExhausted, report.Chunks[1].Status)

	n, _ := seen.Len(context.Background())
	assert.Equal(t, 2, n, "a must be released after its failed write")
}

func TestRunChunks_WaitersResumeWhenTargetCommitted(t *testing.T) {
	source := newFakeSource()
	for c := 1; c <= 4; c++ {
		source.chunk(c, []string{fmt.Sprintf("x%d", c), fmt.Sprintf("y%d", c)})
	}

	store := sink.NewMemory()
	out := sinkFunc(func(ctx context.Context, r model.Repository) error {
		time.Sleep(5 * time.Millisecond)
		return store.Upsert(ctx, r)
	})

	engine := New(source, nil, dedup.NewMemory(), out, Config{Target: 3, Workers: 4}, testLogger())
	report, err := engine.RunChunks(context.Background(), chunks(4))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Accepted)
	assert.Equal(t, 3, store.Len())
	assert.Empty(t, report.Failed())
	for _, c := range report.Chunks {
		assert.NotEqual(t, model.StatusInProgress, c.Status)
	}
}

func TestRunChunks_MalformedSkipsCounted(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"a"})
	source.pages[1][0].Skipped = 2

	engine := New(source, nil, dedup.NewMemory(), sink.NewMemory(), Config{Target: 5, Workers: 1}, testLogger())
	report, err := engine.RunChunks(context.Background(), chunks(1))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, model.StatusExhausted, report.Chunks[0].Status)
}

func TestRunChunks_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := newFakeSource()
	source.chunk(1, []string{"a"}, []string{"b"}, []string{"c"})
	source.onFetch = func(_ context.Context, _ model.Chunk, cursor model.Cursor) {
		if cursor == "1" {
			cancel()
		}
	}

	engine := New(source, nil, dedup.NewMemory(), sink.NewMemory(), Config{Target: 10, Workers: 1}, testLogger())
	report, err := engine.RunChunks(ctx, chunks(1))

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Accepted)
	assert.False(t, report.Shortfall)
	assert.Equal(t, model.StatusPending, report.Chunks[0].Status)
}

func TestRunChunks_InvalidTarget(t *testing.T) {
	engine := New(newFakeSource(), nil, dedup.NewMemory(), sink.NewMemory(), Config{}, testLogger())
	_, err := engine.RunChunks(context.Background(), chunks(1))
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestRun_RequiresPlanner(t *testing.T) {
	engine := New(newFakeSource(), nil, dedup.NewMemory(), sink.NewMemory(), Config{Target: 1}, testLogger())
	_, err := engine.Run(context.Background(), model.Range{Low: 0, High: 10})
	assert.Error(t, err)
}

// staticPlanner streams a fixed plan.
type staticPlanner struct {
	chunks []model.Chunk
	err    error
}

func (p *staticPlanner) Stream(ctx context.Context, _ model.Range, out chan<- model.Chunk) error {
	defer close(out)
	for _, c := range p.chunks {
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func TestRun_PlannedChunks(t *testing.T) {
	source := newFakeSource()
	source.chunk(1, []string{"a"})
	source.chunk(3, []string{"b"})

	planner := &staticPlanner{chunks: []model.Chunk{
		{ID: 1, Range: model.Range{Low: 0, High: 10}, Total: 1},
		{ID: 2, Range: model.Range{Low: 10, High: 20}, Total: 0},
		{ID: 3, Range: model.Range{Low: 20, High: 30}, Total: 1},
		{ID: 4, Range: model.Range{Low: 30, High: 40}, Status: model.StatusFailed, Err: errors.New("count failed")},
	}}

	engine := New(source, planner, dedup.NewMemory(), sink.NewMemory(), Config{Target: 10, Workers: 2}, testLogger())
	report, err := engine.Run(context.Background(), model.Range{Low: 0, High: 40})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Accepted)
	assert.Zero(t, source.callsFor(2), "empty chunk must not be fetched")
	require.Len(t, report.Chunks, 4)
	assert.Equal(t, model.StatusExhausted, report.Chunks[1].Status)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, 4, report.Failed()[0].ID)
	assert.True(t, report.Shortfall)
}

func TestRun_PlannerError(t *testing.T) {
	planner := &staticPlanner{err: errors.New("plan [5,5): empty range")}
	engine := New(newFakeSource(), planner, dedup.NewMemory(), sink.NewMemory(), Config{Target: 1}, testLogger())

	_, err := engine.Run(context.Background(), model.Range{Low: 5, High: 5})
	assert.ErrorContains(t, err, "empty range")
}
