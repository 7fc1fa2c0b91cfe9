package cache

import (
	"time"
)

// CountEntry is a cached result count for one range query.
type CountEntry struct {
	// Query is the exact search string the count was taken for
	Query string `json:"query"`

	// Total is the result count reported by the search API
	Total int `json:"total"`

	// CachedAt is when the count was stored
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the count is considered stale
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired.
func (e *CountEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CountEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
