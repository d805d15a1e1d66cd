package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Inbound dispatch outcomes.
const (
	InboundDispatched = "dispatched"
	InboundDropped    = "dropped"
	InboundMalformed  = "malformed"
)

// Send outcomes.
const (
	SendAcknowledged     = "acknowledged"
	SendHandshakeFailure = "handshake_failure"
	SendTimeout          = "timeout"
	SendCancelled        = "cancelled"
	SendTransportError   = "transport_error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pigeon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pigeon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pigeon",
			Subsystem: "dispatch",
			Name:      "inbound_total",
			Help:      "Inbound raw messages by dispatch outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	callbackErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pigeon",
			Subsystem: "dispatch",
			Name:      "callback_errors_total",
			Help:      "Handler callbacks that returned an error.",
		},
		[]string{"endpoint"},
	)
	acksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pigeon",
			Subsystem: "listen",
			Name:      "acknowledgments_total",
			Help:      "Acknowledgments posted by listeners.",
		},
		[]string{"endpoint", "success"},
	)
	sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pigeon",
			Subsystem: "send",
			Name:      "total",
			Help:      "Completed send operations by outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pigeon",
			Subsystem: "send",
			Name:      "duration_seconds",
			Help:      "Send duration from handshake to settlement in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			inboundMessages, callbackErrors, acksSent,
			sends, sendDuration,
		)
	})
}

func RecordHTTPRequest(endpoint, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(endpoint, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(endpoint, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordInbound(endpoint, outcome string) {
	RegisterMetrics()
	inboundMessages.WithLabelValues(endpoint, outcome).Inc()
}

func RecordCallbackError(endpoint string) {
	RegisterMetrics()
	callbackErrors.WithLabelValues(endpoint).Inc()
}

func RecordAcknowledgment(endpoint string, success bool) {
	RegisterMetrics()
	acksSent.WithLabelValues(endpoint, strconv.FormatBool(success)).Inc()
}

func RecordSend(endpoint, outcome string, duration time.Duration) {
	RegisterMetrics()
	sends.WithLabelValues(endpoint, outcome).Inc()
	sendDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}
