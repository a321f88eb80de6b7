// Package tlsmetrics provides Prometheus instrumentation for the TLS engine
// and its Stream Adapter: handshake counts and latency, resumption hits,
// verification failures, and connect/cancel events.
package tlsmetrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all tlsuv metrics.
	Namespace = "tlsuv"

	LabelBackend = "backend"
	LabelStatus  = "status"
	LabelReason  = "reason"

	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// HandshakesTotal tracks completed handshakes by backend and outcome.
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handshakes_total",
			Help:      "Total number of TLS handshakes by backend and status",
		},
		[]string{LabelBackend, LabelStatus},
	)

	// HandshakeDuration tracks handshake latency in seconds.
	HandshakeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration of TLS handshakes in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelBackend},
	)

	// ResumptionsTotal tracks session resumption attempts and whether the
	// ticket was accepted by the peer.
	ResumptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resumptions_total",
			Help:      "Total number of session resumption attempts by outcome",
		},
		[]string{LabelStatus},
	)

	// VerifyFailuresTotal tracks certificate verification failures by reason
	// (e.g. "chain", "hostname", "custom_verifier").
	VerifyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verify_failures_total",
			Help:      "Total number of peer certificate verification failures by reason",
		},
		[]string{LabelReason},
	)

	// ActiveConnections tracks Stream Adapter connections currently open.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of Stream Adapter connections currently open",
		},
	)

	// ConnectAttemptsTotal tracks connect outcomes; the Stream Adapter
	// records one per Connect attempt (resolve, dial and handshake together).
	ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of dial attempts by status",
		},
		[]string{LabelStatus},
	)

	// CancelsTotal tracks cancellations of an in-flight connect/read/write.
	CancelsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cancels_total",
			Help:      "Total number of connection cancellations",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordHandshake records a completed handshake's outcome and duration.
func RecordHandshake(backend, status string, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	HandshakesTotal.WithLabelValues(backend, status).Inc()
	HandshakeDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordResumption records whether a resumption attempt was accepted.
func RecordResumption(status string) {
	if !enabled.Load() {
		return
	}
	ResumptionsTotal.WithLabelValues(status).Inc()
}

// RecordVerifyFailure records a certificate verification failure.
func RecordVerifyFailure(reason string) {
	if !enabled.Load() {
		return
	}
	VerifyFailuresTotal.WithLabelValues(reason).Inc()
}

// IncrementActiveConnections increments the open connection gauge.
func IncrementActiveConnections() {
	if !enabled.Load() {
		return
	}
	ActiveConnections.Inc()
}

// DecrementActiveConnections decrements the open connection gauge.
func DecrementActiveConnections() {
	if !enabled.Load() {
		return
	}
	ActiveConnections.Dec()
}

// RecordConnectAttempt records one connect attempt's outcome.
func RecordConnectAttempt(status string) {
	if !enabled.Load() {
		return
	}
	ConnectAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordCancel records a connection cancellation.
func RecordCancel() {
	if !enabled.Load() {
		return
	}
	CancelsTotal.Inc()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection; useful in tests.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
