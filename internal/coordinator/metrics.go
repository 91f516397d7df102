package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	writeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "coordinator",
			Name:      "writes_total",
			Help:      "Writes by order mode and final state.",
		}, []string{"mode", "state"})

	writeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gridcache",
			Subsystem: "coordinator",
			Name:      "write_duration_seconds",
			Help:      "Time from token assignment to the write returning.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"mode"})

	applyRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "coordinator",
			Name:      "apply_retries_total",
			Help:      "Replica applies retried after a store failure.",
		})

	resequenced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "coordinator",
			Name:      "resequenced_total",
			Help:      "Coordinated writes given a new token after a replica held a newer one from another primary.",
		})

	hintsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "coordinator",
			Name:      "hints_queued_total",
			Help:      "Failed replica applies handed to the repairer.",
		})
)

func init() {
	prometheus.MustRegister(writeOutcomes)
	prometheus.MustRegister(writeDuration)
	prometheus.MustRegister(applyRetries)
	prometheus.MustRegister(resequenced)
	prometheus.MustRegister(hintsQueued)
}
