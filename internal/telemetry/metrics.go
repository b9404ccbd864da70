package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var PostsCollectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "collector",
		Name:      "posts_collected_total",
		Help:      "Total number of posts fetched from the forum API by the collector, before filtering and deduplication.",
	},
	[]string{"community"},
)

var PostsFilteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "collector",
		Name:      "posts_filtered_total",
		Help:      "Total number of posts dropped by the collector, by reason.",
	},
	[]string{"reason"},
)

var ProcessorFallbackTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "processor",
		Name:      "model_fallback_total",
		Help:      "Total number of times the processor fell back to the large model.",
	},
)

var ProcessorFailedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "processor",
		Name:      "failed_total",
		Help:      "Total number of posts that failed processing terminally.",
	},
)

var PublishActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "publisher",
		Name:      "actions_total",
		Help:      "Total number of publish actions, by outcome (create, update, skip, rollback, create_failed, update_failed).",
	},
	[]string{"action"},
)

var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "pipeline",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of pending work items, by stage.",
	},
	[]string{"stage"},
)

var QuotaUsageRatio = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "pipeline",
		Subsystem: "quota",
		Name:      "usage_ratio",
		Help:      "Current daily quota usage as a fraction of the configured limit, by service.",
	},
	[]string{"service"},
)

var TakedownSLAViolationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "takedown",
		Name:      "sla_violations_total",
		Help:      "Total number of takedowns observed past their SLA deadline.",
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pipeline",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of the admin HTTP server's own requests (metrics, health checks), by method, route, and status.",
	},
	[]string{"method", "route", "status"},
)

// All returns all pipeline-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PostsCollectedTotal,
		PostsFilteredTotal,
		ProcessorFallbackTotal,
		ProcessorFailedTotal,
		PublishActionsTotal,
		QueueDepth,
		QuotaUsageRatio,
		TakedownSLAViolationsTotal,
		HTTPRequestDuration,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors and the given extra collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
