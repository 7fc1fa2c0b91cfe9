// Package cache keeps range result counts in Redis.
//
// Planning a crawl counts many ranges, and every count costs one search
// request out of a small quota. A restarted or repeated crawl over the
// same key space asks for the same counts again; CachedCounter answers
// those from Redis while the entry is fresh.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	counter := cache.NewCachedCounter(
//		fetcher, fetcher.QueryText,
//		cache.NewManager(redisClient), time.Hour, logger,
//	)
//
//	total, err := counter.CountRange(ctx, model.Range{Low: 0, High: 100})
//
// Keys are derived from the rendered query with its terms sorted, so the
// same qualifiers in a different order share an entry.
//
// # Metrics
//
//   - harvester_count_cache_hits_total - Cache hits
//   - harvester_count_cache_misses_total - Cache misses
//   - harvester_count_cache_errors_total{operation} - Cache operation errors
package cache
