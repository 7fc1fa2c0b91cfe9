package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harvester_duplicates_total",
	Help: "Entities rejected because their id was already accepted",
})
