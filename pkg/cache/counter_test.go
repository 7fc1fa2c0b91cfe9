package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*CountEntry
	getErr  error
	setErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]*CountEntry)}
}

func (s *memoryStore) Get(_ context.Context, key CountKey) (*CountEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	e, ok := s.entries[key.String()]
	if !ok || e.IsExpired() {
		return nil, ErrCacheMiss
	}
	return e, nil
}

func (s *memoryStore) Set(_ context.Context, key CountKey, entry *CountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[key.String()] = entry
	return nil
}

type countingCounter struct {
	calls int
	total int
	err   error
}

func (c *countingCounter) CountRange(context.Context, model.Range) (int, error) {
	c.calls++
	return c.total, c.err
}

func rangeQuery(r model.Range) string {
	return "is:public stars:" + r.String()
}

func TestCachedCounter_MissThenHit(t *testing.T) {
	next := &countingCounter{total: 42}
	store := newMemoryStore()
	counter := NewCachedCounter(next, rangeQuery, store, time.Minute, testLogger())
	ctx := context.Background()
	r := model.Range{Low: 0, High: 10}

	total, err := counter.CountRange(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 42, total)

	total, err = counter.CountRange(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 42, total)
	assert.Equal(t, 1, next.calls, "second count should be served from cache")

	entry, err := store.Get(ctx, CountKey{Query: rangeQuery(r)})
	require.NoError(t, err)
	assert.Equal(t, rangeQuery(r), entry.Query)
	assert.WithinDuration(t, entry.CachedAt.Add(time.Minute), entry.Expires, time.Millisecond)
}

func TestCachedCounter_DistinctRanges(t *testing.T) {
	next := &countingCounter{total: 7}
	counter := NewCachedCounter(next, rangeQuery, newMemoryStore(), time.Minute, testLogger())
	ctx := context.Background()

	_, _ = counter.CountRange(ctx, model.Range{Low: 0, High: 10})
	_, _ = counter.CountRange(ctx, model.Range{Low: 10, High: 20})
	assert.Equal(t, 2, next.calls)
}

func TestCachedCounter_ErrorNotCached(t *testing.T) {
	next := &countingCounter{err: errors.New("search failed")}
	store := newMemoryStore()
	counter := NewCachedCounter(next, rangeQuery, store, time.Minute, testLogger())

	_, err := counter.CountRange(context.Background(), model.Range{Low: 0, High: 10})
	assert.EqualError(t, err, "search failed")
	assert.Empty(t, store.entries)
}

func TestCachedCounter_StoreFailuresBypassed(t *testing.T) {
	next := &countingCounter{total: 3}
	store := newMemoryStore()
	store.getErr = errors.New("redis down")
	store.setErr = errors.New("redis down")
	counter := NewCachedCounter(next, rangeQuery, store, time.Minute, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		total, err := counter.CountRange(ctx, model.Range{Low: 0, High: 10})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	}
	assert.Equal(t, 2, next.calls)
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}
