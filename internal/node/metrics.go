package node

import "github.com/prometheus/client_golang/prometheus"

var (
	applies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "node",
			Name:      "applies_total",
			Help:      "Entries applied to local replicas.",
		}, []string{"cache", "result"})

	tokenRegressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridcache",
			Subsystem: "node",
			Name:      "token_regressions_total",
			Help:      "Applied entries carrying this node's token above what it issued.",
		}, []string{"cache"})
)

func init() {
	prometheus.MustRegister(applies)
	prometheus.MustRegister(tokenRegressions)
}
