package transport

import "github.com/prometheus/client_golang/prometheus"

var rpcHandled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gridcache",
		Subsystem: "transport",
		Name:      "handled_total",
		Help:      "Replica RPCs handled by this node.",
	}, []string{"method", "result"})

func init() {
	prometheus.MustRegister(rpcHandled)
}
