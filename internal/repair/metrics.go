package repair

import "github.com/prometheus/client_golang/prometheus"

var (
	hintsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gridcache",
			Subsystem: "repair",
			Name:      "hints",
			Help:      "Hints waiting to be replayed.",
		})

	repairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "repair",
			Name:      "sends_total",
			Help:      "Entries re-sent to lagging replicas.",
		}, []string{"kind", "result"})
)

func init() {
	prometheus.MustRegister(hintsQueued)
	prometheus.MustRegister(repairs)
}
