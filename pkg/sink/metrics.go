package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_sink_upserts_total",
		Help: "Repository upserts by result",
	}, []string{"result"}) // "ok", "stale", "error"

	upsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_sink_upsert_duration_seconds",
		Help:    "Postgres upsert duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
