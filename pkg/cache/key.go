package cache

import (
	"sort"
	"strings"
)

// KeyPrefix namespaces every count cache key.
const KeyPrefix = "harvester:count"

// CountKey identifies the cached count of one search query.
type CountKey struct {
	Query string
}

// String generates a deterministic cache key string. Search terms are
// whitespace-separated and order-insensitive, so they are sorted.
//
// Example:
//
//	harvester:count:is:public stars:0..99
func (k CountKey) String() string {
	terms := strings.Fields(k.Query)
	sort.Strings(terms)
	return KeyPrefix + ":" + strings.Join(terms, " ")
}
