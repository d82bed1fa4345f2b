package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crosswalk"

// Metrics holds the collectors shared by both pipelines and the dispatcher
type Metrics struct {
	Ticks            *prometheus.CounterVec
	InferenceCalls   *prometheus.CounterVec
	InferenceLatency *prometheus.HistogramVec
	Alerts           *prometheus.CounterVec
	RouteRequests    *prometheus.CounterVec
	StaleRoutes      prometheus.Counter
	Instructions     prometheus.Counter
	SpeechRequests   *prometheus.CounterVec
	Clips            *prometheus.CounterVec
	DeviceErrors     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "ticks_total",
			Help:      "Sampler ticks by outcome (sampled, skipped, no_frame).",
		}, []string{"outcome"}),
		InferenceCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "inference_calls_total",
			Help:      "Inference calls by category and outcome.",
		}, []string{"category", "outcome"}),
		InferenceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "inference_duration_seconds",
			Help:      "Inference round-trip time by category.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}, []string{"category"}),
		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "alerts_total",
			Help:      "Detection alerts by category and decision (fired, suppressed).",
		}, []string{"category", "decision"}),
		RouteRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "route_requests_total",
			Help:      "Route requests by outcome.",
		}, []string{"outcome"}),
		StaleRoutes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "stale_routes_discarded_total",
			Help:      "Route responses discarded because a newer request was issued.",
		}),
		Instructions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "instructions_spoken_total",
			Help:      "Distinct instructions sent to speech.",
		}),
		SpeechRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "speech",
			Name:      "requests_total",
			Help:      "Speech synthesis lookups by outcome (hit, miss, error).",
		}, []string{"outcome"}),
		Clips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "clips_total",
			Help:      "Dispatcher clips by outcome (played, dropped, failed).",
		}, []string{"outcome"}),
		DeviceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Fatal device errors by device.",
		}, []string{"device"}),
	}
}
