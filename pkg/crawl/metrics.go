package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_accepted_total",
		Help: "Unique repositories accepted and written",
	})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_chunks_total",
		Help: "Chunks finished by final status",
	}, []string{"status"})

	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_total",
		Help: "Search result pages processed",
	})

	workersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_workers_active",
		Help: "Workers currently driving a chunk",
	})
)
