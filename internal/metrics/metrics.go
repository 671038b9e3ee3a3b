// Package metrics holds the prometheus collectors of the reference-data layer.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Search paths used as label values
const (
	PathBrowse          = "browse"
	PathFilter          = "filter"
	PathSuggest         = "suggest"
	PathSemantic        = "semantic"
	PathKeywordFallback = "keyword_fallback"
)

var SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "refcache",
	Subsystem: "sync",
	Name:      "runs_total",
	Help:      "Sync attempts by outcome (success, error, skipped_fresh, skipped_busy).",
}, []string{"outcome"})

var SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "refcache",
	Subsystem: "sync",
	Name:      "duration_seconds",
	Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
})

var ReplicaRecords = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "refcache",
	Subsystem: "replica",
	Name:      "records",
	Help:      "Records held by the local replica after the last successful sync.",
})

var SearchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "refcache",
	Subsystem: "search",
	Name:      "requests_total",
}, []string{"path"})

var CacheFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "refcache",
	Subsystem: "cache",
	Name:      "fetches_total",
}, []string{"key", "outcome"})

var StaleDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "refcache",
	Subsystem: "hybrid",
	Name:      "stale_discarded_total",
	Help:      "Search responses dropped because a newer request was dispatched.",
})

// Collectors lists every collector of the package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SyncRuns,
		SyncDuration,
		ReplicaRecords,
		SearchRequests,
		CacheFetches,
		StaleDiscarded,
	}
}

// Register adds all collectors to reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
