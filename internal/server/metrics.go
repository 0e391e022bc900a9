package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcheck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idcheck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Verification metrics
	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcheck_verifications_total",
			Help: "Total number of verifications by outcome",
		},
		[]string{"outcome"}, // verified, mismatch, invalid, failed
	)

	verificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idcheck_verification_duration_seconds",
			Help:    "Verification pipeline duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50},
		},
		[]string{"transport"}, // http, websocket
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idcheck_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idcheck_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 512 * 1024, 1024 * 1024, 5 * 1024 * 1024, 10 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idcheck_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcheck_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)

// outcome classifies a result for idcheck_verifications_total.
func outcome(verified, success, invalid bool) string {
	switch {
	case invalid:
		return "invalid"
	case !success:
		return "failed"
	case verified:
		return "verified"
	default:
		return "mismatch"
	}
}
