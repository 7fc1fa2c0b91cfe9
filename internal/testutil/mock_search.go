// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MockRepo is one repository served by MockSearch.
type MockRepo struct {
	NodeID   string
	FullName string
	Stars    int

	// OmitStars drops stargazers_count from the JSON to simulate a
	// malformed hit.
	OmitStars bool
}

type failureKind int

const (
	failStatus failureKind = iota
	failRateLimit
	failSecondary
)

type mockFailure struct {
	kind       failureKind
	status     int
	resetAt    time.Time
	retryAfter int
}

// MockSearch is a configurable mock of the GitHub repository search API.
type MockSearch struct {
	server *httptest.Server

	mu       sync.RWMutex
	repos    []MockRepo
	failures []mockFailure

	// Quota reported in X-RateLimit-* headers for one fixed window
	quotaLimit int
	quotaUsed  int
	quotaReset time.Time

	// Tracking
	RequestCount int
	Queries      []string
}

var starsQualifier = regexp.MustCompile(`stars:(-?\d+)\.\.(-?\d+)`)

// NewMockSearch creates a mock search server over repos.
func NewMockSearch(repos []MockRepo) *MockSearch {
	mock := &MockSearch{
		repos:      append([]MockRepo(nil), repos...),
		quotaLimit: 30,
		quotaReset: time.Now().Add(time.Minute),
	}
	sort.Slice(mock.repos, func(i, j int) bool {
		return mock.repos[i].NodeID < mock.repos[j].NodeID
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/search/repositories", mock.handleSearch)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server URL.
func (m *MockSearch) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSearch) Close() {
	m.server.Close()
}

// QueueStatus makes the next requests fail with the given HTTP statuses,
// one per request.
func (m *MockSearch) QueueStatus(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range statuses {
		m.failures = append(m.failures, mockFailure{kind: failStatus, status: s})
	}
}

// QueueRateLimit makes the next request fail with an exhausted quota.
func (m *MockSearch) QueueRateLimit(resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, mockFailure{kind: failRateLimit, status: http.StatusForbidden, resetAt: resetAt})
}

// QueueSecondary makes the next request fail with a secondary rate limit.
func (m *MockSearch) QueueSecondary(retryAfterSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, mockFailure{kind: failSecondary, status: http.StatusForbidden, retryAfter: retryAfterSeconds})
}

// SetQuota sets the advertised quota limit and starts a fresh window.
// The mock only reports quota; it never rejects a request for it.
func (m *MockSearch) SetQuota(limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaLimit = limit
	m.quotaUsed = 0
	m.quotaReset = time.Now().Add(time.Minute)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSearch) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetQueries returns the q parameters received so far.
func (m *MockSearch) GetQueries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Queries...)
}

func (m *MockSearch) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	m.mu.Lock()
	m.RequestCount++
	m.Queries = append(m.Queries, q)
	var failure *mockFailure
	if len(m.failures) > 0 {
		f := m.failures[0]
		m.failures = m.failures[1:]
		failure = &f
	}
	m.quotaUsed++
	limit := m.quotaLimit
	remaining := m.quotaLimit - m.quotaUsed
	if remaining < 0 {
		remaining = 0
	}
	reset := m.quotaReset
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Resource", "search")

	if failure != nil {
		writeFailure(w, *failure, remaining, reset)
		return
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

	matched := m.match(q)
	page := intParam(r.URL.Query(), "page", 1)
	perPage := intParam(r.URL.Query(), "per_page", 30)

	start := (page - 1) * perPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}

	if end < len(matched) {
		next := *r.URL
		params := next.Query()
		params.Set("page", strconv.Itoa(page+1))
		next.RawQuery = params.Encode()
		w.Header().Set("Link", fmt.Sprintf(`<%s%s>; rel="next"`, m.server.URL, next.RequestURI()))
	}

	items := make([]map[string]any, 0, end-start)
	for _, repo := range matched[start:end] {
		item := map[string]any{
			"node_id":   repo.NodeID,
			"full_name": repo.FullName,
		}
		if !repo.OmitStars {
			item["stargazers_count"] = repo.Stars
		}
		items = append(items, item)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"total_count":        len(matched),
		"incomplete_results": false,
		"items":              items,
	})
}

func (m *MockSearch) match(q string) []MockRepo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub := starsQualifier.FindStringSubmatch(q)
	if sub == nil {
		return append([]MockRepo(nil), m.repos...)
	}
	low, _ := strconv.Atoi(sub[1])
	high, _ := strconv.Atoi(sub[2])

	var out []MockRepo
	for _, repo := range m.repos {
		if repo.Stars >= low && repo.Stars <= high {
			out = append(out, repo)
		}
	}
	return out
}

func writeFailure(w http.ResponseWriter, f mockFailure, remaining int, reset time.Time) {
	switch f.kind {
	case failRateLimit:
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(f.resetAt.Unix(), 10))
		w.WriteHeader(f.status)
		w.Write([]byte(`{"message": "API rate limit exceeded"}`))
	case failSecondary:
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.Header().Set("Retry-After", strconv.Itoa(f.retryAfter))
		w.WriteHeader(f.status)
		w.Write([]byte(`{"message": "You have exceeded a secondary rate limit", "documentation_url": "https://docs.github.com/rest/overview/resources-in-the-rest-api#secondary-rate-limits"}`))
	default:
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.WriteHeader(f.status)
		w.Write([]byte(`{"message": "mock failure"}`))
	}
}

func intParam(values url.Values, key string, fallback int) int {
	if v, err := strconv.Atoi(values.Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

// Repos builds n repositories with ids repo-0001.. and stars assigned by
// starsOf(i).
func Repos(n int, starsOf func(i int) int) []MockRepo {
	repos := make([]MockRepo, 0, n)
	for i := 1; i <= n; i++ {
		repos = append(repos, MockRepo{
			NodeID:   fmt.Sprintf("repo-%04d", i),
			FullName: fmt.Sprintf("owner/repo-%04d", i),
			Stars:    starsOf(i),
		})
	}
	return repos
}
