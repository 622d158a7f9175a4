package deviceclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelTarget    = "target"
	labelErrorCode = "error_code"
	labelReason    = "reason"
)

var (
	metricRequestsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipbus_deviceclient_requests_enqueued_total",
			Help: "Requests accepted by an actor's mailbox, by target.",
		},
		[]string{labelTarget},
	)

	metricRequestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipbus_deviceclient_requests_completed_total",
			Help: "Requests delivered to their requester, by target and error code.",
		},
		[]string{labelTarget, labelErrorCode},
	)

	metricRetriesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipbus_deviceclient_retries_issued_total",
			Help: "Recovery retries issued, by target and reason (request_lost, reply_lost).",
		},
		[]string{labelTarget, labelReason},
	)

	metricQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ipbus_deviceclient_queue_depth",
			Help: "Current number of requests queued behind the in-flight request, by target.",
		},
		[]string{labelTarget},
	)

	metricWriteSocketErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipbus_deviceclient_write_socket_errors_total",
			Help: "Count of write socket errors, by target.",
		},
		[]string{labelTarget},
	)
)

// Metrics is a per-actor handle onto the package's metric vectors,
// pre-labeled with the actor's target.
type Metrics struct {
	target string
}

// NewMetrics returns a Metrics handle labeled with target (conventionally
// "ipv4:port").
func NewMetrics(target string) *Metrics {
	return &Metrics{target: target}
}

func (m *Metrics) emitEnqueued() {
	metricRequestsEnqueued.WithLabelValues(m.target).Inc()
}

func (m *Metrics) emitCompleted(code uint16) {
	metricRequestsCompleted.WithLabelValues(m.target, errorCodeLabel(code)).Inc()
}

func (m *Metrics) emitRetry(reason string) {
	metricRetriesIssued.WithLabelValues(m.target, reason).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	metricQueueDepth.WithLabelValues(m.target).Set(float64(n))
}

func (m *Metrics) emitWriteSocketError() {
	metricWriteSocketErrors.WithLabelValues(m.target).Inc()
}

func errorCodeLabel(code uint16) string {
	switch code {
	case 0:
		return "success"
	case 1:
		return "control_timeout"
	case 2:
		return "status_timeout"
	case 3:
		return "malformed_status"
	default:
		return "unknown"
	}
}
