package mapserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mapserver"

type nodeMetrics struct {
	submapsSubmitted prometheus.Counter
	submapsRejected  prometheus.Counter
	submapsMerged    prometheus.Counter
	commandFailures  *prometheus.CounterVec
	mergeRetries     prometheus.Counter
	mergeDuration    prometheus.Histogram
	queueLength      prometheus.Gauge
	lookups          *prometheus.CounterVec
	saves            *prometheus.CounterVec
}

func newNodeMetrics(reg prometheus.Registerer) *nodeMetrics {
	m := &nodeMetrics{
		submapsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "submaps",
			Name:      "submitted_total",
			Help:      "Submaps accepted for ingestion",
		}),
		submapsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "submaps",
			Name:      "rejected_total",
			Help:      "Submaps refused because the node was not accepting work",
		}),
		submapsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "submaps",
			Name:      "merged_total",
			Help:      "Submaps folded into the shared map",
		}),
		commandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "commands",
			Name:      "failures_total",
			Help:      "Failed processing commands by target (submap or global)",
		}, []string{"target"}),
		mergeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "merge",
			Name:      "retries_total",
			Help:      "Retried merges of a submap into the shared map",
		}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Time spent folding one submap into the shared map",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "submaps",
			Name:      "queued",
			Help:      "Submaps waiting to be merged",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "lookup",
			Name:      "requests_total",
			Help:      "Pose lookups by result status",
		}, []string{"status"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "map",
			Name:      "saves_total",
			Help:      "Saves of the shared map by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.submapsSubmitted,
		m.submapsRejected,
		m.submapsMerged,
		m.commandFailures,
		m.mergeRetries,
		m.mergeDuration,
		m.queueLength,
		m.lookups,
		m.saves,
	)
	return m
}
