package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks count cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_count_cache_hits_total",
			Help: "Total number of range counts served from cache",
		},
	)

	// CacheMisses tracks count cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_count_cache_misses_total",
			Help: "Total number of range counts not found in cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_count_cache_errors_total",
			Help: "Total number of count cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
