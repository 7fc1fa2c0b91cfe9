package crawl

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/repo-harvester/internal/testutil"
	"github.com/Sternrassler/repo-harvester/pkg/client"
	"github.com/Sternrassler/repo-harvester/pkg/dedup"
	"github.com/Sternrassler/repo-harvester/pkg/model"
	"github.com/Sternrassler/repo-harvester/pkg/planner"
	"github.com/Sternrassler/repo-harvester/pkg/ratelimit"
	"github.com/Sternrassler/repo-harvester/pkg/sink"
)

// newStackFetcher wires the real searcher, limiter and fetcher against mock.
func newStackFetcher(t *testing.T, mock *testutil.MockSearch, perPage, window int) *client.Fetcher {
	t.Helper()
	searcher, err := client.NewGitHubSearcher(client.Config{
		Token:   "test-token",
		BaseURL: mock.URL(),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(ratelimit.Config{Limit: 10000}, nil, testLogger())
	return client.NewFetcher(searcher, limiter, client.FetcherConfig{
		Key:         model.OrderingKey{Field: "stars", Kind: model.KeyNumeric},
		Qualifiers:  "is:public",
		PerPage:     perPage,
		WindowLimit: window,
		Retry: client.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     40 * time.Millisecond,
		},
	}, testLogger())
}

func TestRun_FullStackReachesTarget(t *testing.T) {
	// 60 repositories, three per star value 0..19
	mock := testutil.NewMockSearch(testutil.Repos(60, func(i int) int { return i % 20 }))
	defer mock.Close()
	mock.SetQuota(10000)

	fetcher := newStackFetcher(t, mock, 4, 8)
	plan := planner.New(fetcher, planner.Config{WindowLimit: 8}, testLogger())
	out := sink.NewMemory()
	engine := New(fetcher, plan, dedup.NewMemory(), out, Config{Target: 45, Workers: 3}, testLogger())

	report, err := engine.Run(context.Background(), model.Range{Low: 0, High: 32})
	require.NoError(t, err)

	assert.Equal(t, 45, report.Accepted)
	assert.Equal(t, 45, out.Len())
	assert.Empty(t, report.Failed())
	assert.Empty(t, report.Oversized())
	assert.False(t, report.Shortfall)
	for _, c := range report.Chunks {
		assert.LessOrEqual(t, c.Total, 8, "chunk %s exceeds window", c.Range)
	}
}

func TestRun_FullStackCollectsEverything(t *testing.T) {
	mock := testutil.NewMockSearch(testutil.Repos(60, func(i int) int { return i % 20 }))
	defer mock.Close()
	mock.SetQuota(10000)

	fetcher := newStackFetcher(t, mock, 4, 8)
	plan := planner.New(fetcher, planner.Config{WindowLimit: 8}, testLogger())
	out := sink.NewMemory()
	engine := New(fetcher, plan, dedup.NewMemory(), out, Config{Target: 1000, Workers: 4}, testLogger())

	report, err := engine.Run(context.Background(), model.Range{Low: 0, High: 32})
	require.NoError(t, err)

	assert.Equal(t, 60, report.Accepted)
	assert.Equal(t, 60, out.Len())
	assert.True(t, report.Shortfall)
	assert.Empty(t, report.Failed())
}

func TestRunChunks_FullStackRetryExhaustion(t *testing.T) {
	mock := testutil.NewMockSearch(testutil.Repos(60, func(i int) int { return i % 20 }))
	defer mock.Close()
	mock.SetQuota(10000)
	mock.QueueStatus(http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable)

	fetcher := newStackFetcher(t, mock, 10, 1000)
	engine := New(fetcher, nil, dedup.NewMemory(), sink.NewMemory(), Config{Target: 100, Workers: 1}, testLogger())

	report, err := engine.RunChunks(context.Background(), []model.Chunk{
		{ID: 1, Range: model.Range{Low: 0, High: 10}},
		{ID: 2, Range: model.Range{Low: 10, High: 20}},
	})
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].ID)
	assert.ErrorIs(t, failed[0].Err, client.ErrRetryExhausted)

	assert.Equal(t, model.StatusExhausted, report.Chunks[1].Status)
	assert.Equal(t, 30, report.Accepted)
	assert.True(t, report.Shortfall)

	// Three failed attempts, then three pages of chunk 2
	assert.Equal(t, 6, mock.GetRequestCount())
}
