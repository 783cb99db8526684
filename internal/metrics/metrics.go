package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ResourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preload",
			Name:      "resources_total",
			Help:      "Count of resources that finished loading, by result.",
		},
		[]string{"result"},
	)

	ResourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "preload",
			Name:      "resource_duration_seconds",
			Help:      "Time from a resource starting to load until its middleware finished.",
		},
		[]string{"load_type"},
	)

	HTTPRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "preload",
			Name:      "http_request_latency_seconds",
			Help:      "Latency of requests issued by the request strategy.",
		},
		[]string{"status"},
	)

	QueueRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "preload",
			Name:      "queue_running",
			Help:      "Number of resources currently being fetched.",
		},
	)

	Progress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "preload",
			Name:      "progress_percent",
			Help:      "Aggregate progress of the current load cycle (0-100).",
		},
	)
)

// Register registers the preload metrics into the default registry.
func Register() {
	prometheus.MustRegister(ResourcesTotal, ResourceDuration, HTTPRequestLatency, QueueRunning, Progress)
}
