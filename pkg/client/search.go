// Package client provides the search side of the harvester: a GitHub
// search API adapter and a page fetcher that applies rate limiting,
// retries with backoff and drops malformed results.
package client

import (
	"context"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// Query is one search request.
type Query struct {
	// Text is the full search string, qualifiers included.
	Text string

	// Page is 1-based.
	Page    int
	PerPage int
}

// RawRepository is a search hit before validation. Pointer and empty
// fields mean the API omitted them.
type RawRepository struct {
	NodeID   string
	FullName string
	Stars    *int
}

// SearchResult is the decoded response of one search request.
type SearchResult struct {
	Total int
	Items []RawRepository

	// NextPage is 0 on the last page.
	NextPage int

	// Quota is nil when the response carried no rate limit headers.
	Quota *model.Quota
}

// Searcher executes repository searches against the remote API.
// Implementations return a *SearchError for classified failures and may
// return a partial SearchResult alongside an error to report quota.
type Searcher interface {
	SearchRepositories(ctx context.Context, q Query) (*SearchResult, error)
}
