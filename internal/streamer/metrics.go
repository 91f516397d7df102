package streamer

import "github.com/prometheus/client_golang/prometheus"

var (
	loadedEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "streamer",
			Name:      "entries_total",
			Help:      "Bulk-loaded entries by result.",
		}, []string{"status"})

	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gridcache",
			Subsystem: "streamer",
			Name:      "load_duration_seconds",
			Help:      "Duration of one load call.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		})
)

func init() {
	prometheus.MustRegister(loadedEntries)
	prometheus.MustRegister(loadDuration)
}
