// Package ratelimit gates outbound search requests against the remote
// quota. It tracks the X-RateLimit-Remaining and X-RateLimit-Reset values
// reported with every response, suspends callers while the quota is
// exhausted, and backs off exponentially on secondary rate limits.
package ratelimit

import (
	"time"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// Redis keys for the persisted quota snapshot.
const (
	RedisKeyRemaining      = "harvester:rate_limit:remaining"
	RedisKeyLimit          = "harvester:rate_limit:limit"
	RedisKeyResetTimestamp = "harvester:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "harvester:rate_limit:last_update"
)

// Defaults for the GitHub search API.
const (
	// DefaultLimit is the authenticated search quota per window.
	DefaultLimit = 30

	// DefaultWindow is the search quota window. Used when an exhausted
	// response carries no reset time.
	DefaultWindow = time.Minute

	// DefaultRequestsPerSecond spreads the quota evenly over the window.
	DefaultRequestsPerSecond = 0.5

	// DefaultSecondaryInitial is the first backoff after a secondary limit.
	DefaultSecondaryInitial = 5 * time.Second

	// DefaultSecondaryMax caps the secondary backoff.
	DefaultSecondaryMax = 10 * time.Minute
)

// Snapshot is the quota state as last reported by the API.
type Snapshot struct {
	model.Quota

	// LastUpdate is when the snapshot was taken.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the snapshot is older than maxAge.
func (s *Snapshot) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Blocked returns true while the quota is spent and the window has not reset.
func (s *Snapshot) Blocked(now time.Time) bool {
	return s.Remaining <= 0 && now.Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the quota window resets.
// Returns 0 if the reset time has already passed.
func (s *Snapshot) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
