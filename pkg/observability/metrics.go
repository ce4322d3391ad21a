// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the lmbroker session broker.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets defines histogram buckets suited for local inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbroker_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request latency in seconds by method and
	// route. The event channel is not observed; its duration is the
	// subscriber's connection lifetime.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lmbroker_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// EventSubscribers is 1 while an event channel client is connected. A
	// value above 1 only appears briefly while a subscriber is replaced.
	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lmbroker_event_subscribers",
			Help: "Connected event channel subscribers",
		},
	)

	// StreamEventsTotal counts stream events by disposition: delivered to
	// the subscriber, or dropped because no subscriber could take them.
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbroker_stream_events_total",
			Help: "Stream events by disposition",
		},
		[]string{"disposition", "final"},
	)

	// SessionsActive tracks the number of sessions held by the registry.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lmbroker_sessions_active",
			Help: "Live sessions",
		},
	)

	// StreamsActive tracks the number of running streams.
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lmbroker_streams_active",
			Help: "Running streams",
		},
	)

	// StreamOutcomesTotal counts finished streams by terminal state.
	StreamOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbroker_stream_outcomes_total",
			Help: "Finished streams",
		},
		[]string{"outcome"},
	)

	// ProviderRequestsTotal counts generations sent to the engine.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbroker_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "operation", "status"},
	)

	// ProviderLatency records engine latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lmbroker_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "operation"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbroker_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "direction"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmbroker_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		EventSubscribers,
		StreamEventsTotal,
		SessionsActive,
		StreamsActive,
		StreamOutcomesTotal,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		RateLimitRejectedTotal,
	)
}

// EventDelivered records a stream event handed to the subscriber.
func EventDelivered(final bool) {
	StreamEventsTotal.WithLabelValues("delivered", strconv.FormatBool(final)).Inc()
}

// EventDropped records a stream event nobody received.
func EventDropped(final bool) {
	StreamEventsTotal.WithLabelValues("dropped", strconv.FormatBool(final)).Inc()
}
