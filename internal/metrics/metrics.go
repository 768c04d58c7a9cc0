// Package metrics defines the gateway's Prometheus collectors and is
// the single place instrumentation is registered, mirroring the
// teacher's observability package shape but trimmed to the counters
// and histograms this gateway actually emits.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inferedge_http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inferedge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	InferenceQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inferedge_inference_queue_depth",
		Help: "Current number of inference jobs waiting in the actor's bounded queue.",
	})

	InferenceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inferedge_inference_duration_seconds",
		Help:    "Inference call duration in seconds by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	PluginInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inferedge_plugin_invocations_total",
		Help: "Total plugin invocations by plugin name and outcome.",
	}, []string{"plugin", "outcome"})
)

// Registry is the collector registry served at /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		InferenceQueueDepth,
		InferenceDuration,
		PluginInvocationsTotal,
	)
}

// ObserveInference records one inference attempt's duration under outcome
// ("ok", "timeout", "queue_full", "error").
func ObserveInference(outcome string, d time.Duration) {
	InferenceDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObservePluginInvocation records one plugin invocation's outcome
// ("ok", "plugin_error", "timeout", "cancelled", "spawn_error",
// "invalid_json").
func ObservePluginInvocation(plugin, outcome string) {
	PluginInvocationsTotal.WithLabelValues(plugin, outcome).Inc()
}

// ObserveHTTPRequest records one HTTP request's route/status/duration.
func ObserveHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
