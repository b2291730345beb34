// Package metrics defines the Prometheus collectors exposed at
// /admin/metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Total number of proxied requests by status class.",
	},
	[]string{"status"},
)

var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Proxied request latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"model"},
)

var PolicyDenialsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "policy",
		Name:      "denials_total",
		Help:      "Total number of access denials by reason code.",
	},
	[]string{"code"},
)

var UsageTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "usage",
		Name:      "tokens_total",
		Help:      "Total tokens recorded by model.",
	},
	[]string{"model"},
)

var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "usage",
		Name:      "queue_depth",
		Help:      "Depth of the durable usage/request-perf queues at last sample.",
	},
	[]string{"queue"},
)

var ConfigReloadsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "config",
		Name:      "reloads_total",
		Help:      "Total number of configuration reloads applied.",
	},
)

// All returns the gateway's collectors for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		PolicyDenialsTotal,
		UsageTokensTotal,
		QueueDepth,
		ConfigReloadsTotal,
	}
}

// NewRegistry builds a *prometheus.Registry carrying every collector
// from All, for exposition at GET /admin/metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
