package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// Config holds the GitHub search adapter configuration.
type Config struct {
	// Token authenticates requests. Required by the search quota we plan for.
	Token string

	// BaseURL overrides https://api.github.com/ (enterprise or tests).
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Sort and Order are passed through to the search API. Empty means
	// best match.
	Sort  string
	Order string
}

// GitHubSearcher implements Searcher with go-github.
type GitHubSearcher struct {
	gh    *gh.Client
	sort  string
	order string
}

// NewGitHubSearcher creates a GitHub search adapter.
func NewGitHubSearcher(cfg Config) (*GitHubSearcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	httpClient.Timeout = cfg.Timeout

	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		client.BaseURL = base
	}
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}

	return &GitHubSearcher{gh: client, sort: cfg.Sort, order: cfg.Order}, nil
}

// SearchRepositories runs one page of a repository search.
func (s *GitHubSearcher) SearchRepositories(ctx context.Context, q Query) (*SearchResult, error) {
	opts := &gh.SearchOptions{
		Sort:  s.sort,
		Order: s.order,
		ListOptions: gh.ListOptions{
			Page:    q.Page,
			PerPage: q.PerPage,
		},
	}

	result, resp, err := s.gh.Search.Repositories(ctx, q.Text, opts)

	out := &SearchResult{}
	if resp != nil {
		out.Quota = quotaFromRate(resp.Rate)
		out.NextPage = resp.NextPage
	}
	if err != nil {
		return out, classifyGitHubError(err, resp)
	}

	out.Total = result.GetTotal()
	out.Items = make([]RawRepository, 0, len(result.Repositories))
	for _, repo := range result.Repositories {
		if repo == nil {
			out.Items = append(out.Items, RawRepository{})
			continue
		}
		out.Items = append(out.Items, RawRepository{
			NodeID:   repo.GetNodeID(),
			FullName: repo.GetFullName(),
			Stars:    repo.StargazersCount,
		})
	}
	return out, nil
}

func quotaFromRate(rate gh.Rate) *model.Quota {
	if rate.Limit == 0 {
		return nil
	}
	return &model.Quota{
		Limit:     rate.Limit,
		Remaining: rate.Remaining,
		ResetAt:   rate.Reset.Time,
	}
}

// classifyGitHubError maps go-github errors onto SearchError classes.
func classifyGitHubError(err error, resp *gh.Response) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &SearchError{
			StatusCode: statusOf(rateErr.Response),
			ErrorClass: ErrorClassRateLimit,
			Message:    rateErr.Message,
			ResetAt:    rateErr.Rate.Reset.Time,
			Err:        err,
		}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &SearchError{
			StatusCode: statusOf(abuseErr.Response),
			ErrorClass: ErrorClassSecondaryRateLimit,
			Message:    abuseErr.Message,
			RetryAfter: abuseErr.GetRetryAfter(),
			Err:        err,
		}
	}

	var acceptedErr *gh.AcceptedError
	if errors.As(err, &acceptedErr) {
		return &SearchError{
			StatusCode: http.StatusAccepted,
			ErrorClass: ErrorClassServer,
			Message:    "results not ready",
			Err:        err,
		}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) {
		status := statusOf(respErr.Response)
		class := ErrorClassClient
		switch {
		case status == http.StatusTooManyRequests:
			class = ErrorClassSecondaryRateLimit
		case status >= 500:
			class = ErrorClassServer
		}
		return &SearchError{
			StatusCode: status,
			ErrorClass: class,
			Message:    respErr.Message,
			Err:        err,
		}
	}

	status := 0
	if resp != nil {
		status = statusOf(resp.Response)
	}
	return &SearchError{
		StatusCode: status,
		ErrorClass: ErrorClassNetwork,
		Message:    "request failed",
		Err:        err,
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
