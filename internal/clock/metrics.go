package clock

import "github.com/prometheus/client_golang/prometheus"

var (
	clockEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "clock",
			Name:      "events",
			Help:      "Counter of distributed clock events.",
		}, []string{"type"})

	sequencerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "sequencer",
			Name:      "events",
			Help:      "Counter of per-key sequencer events.",
		}, []string{"type"})

	guardRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "clock",
			Name:      "regressions_total",
			Help:      "Tokens refused because they did not order after the source's previous token.",
		}, []string{"mode"})
)

func init() {
	prometheus.MustRegister(clockEvents)
	prometheus.MustRegister(sequencerEvents)
	prometheus.MustRegister(guardRejects)
}
