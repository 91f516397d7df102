package membership

import "github.com/prometheus/client_golang/prometheus"

var membersGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gridcache",
		Subsystem: "membership",
		Name:      "members",
		Help:      "Cluster members by status as seen by this node.",
	}, []string{"status"})

func init() {
	prometheus.MustRegister(membersGauge)
}
