package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustedbroker",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustedbroker",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustedbroker",
			Subsystem: "session",
			Name:      "total",
			Help:      "Main-channel sessions by terminal state.",
		},
		[]string{"state"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustedbroker",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Main-channel session duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)
	packages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustedbroker",
			Subsystem: "wire",
			Name:      "packages_total",
			Help:      "Packages received or sent per channel and type.",
		},
		[]string{"channel", "direction", "type"},
	)
	heartbeatStreams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustedbroker",
			Subsystem: "heartbeat",
			Name:      "streams_total",
			Help:      "Heartbeat streams by terminal outcome.",
		},
		[]string{"outcome"},
	)
	acceptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustedbroker",
			Subsystem: "listener",
			Name:      "accept_errors_total",
			Help:      "Failed accept calls per channel.",
		},
		[]string{"channel"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessions,
			sessionDuration,
			packages,
			heartbeatStreams,
			acceptErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSession(state string, duration time.Duration) {
	RegisterMetrics()
	sessions.WithLabelValues(state).Inc()
	sessionDuration.WithLabelValues(state).Observe(duration.Seconds())
}

func RecordPackage(channel, direction, messageType string) {
	RegisterMetrics()
	packages.WithLabelValues(channel, direction, messageType).Inc()
}

func RecordHeartbeatStream(outcome string) {
	RegisterMetrics()
	heartbeatStreams.WithLabelValues(outcome).Inc()
}

func RecordAcceptError(channel string) {
	RegisterMetrics()
	acceptErrors.WithLabelValues(channel).Inc()
}
