package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const labelTarget = "target"
const labelOutcome = "outcome"

var metricProbesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ipbus_deviceclient_status_probes_total",
		Help: "Status-port probes issued, by target and outcome (success, malformed, timeout, send_error).",
	},
	[]string{labelTarget, labelOutcome},
)

// Metrics is a thin per-target handle onto the package's counters.
type Metrics struct {
	target string
}

// NewMetrics returns a Metrics handle labeled with target (conventionally
// "ipv4:port").
func NewMetrics(target string) *Metrics {
	return &Metrics{target: target}
}

func (m *Metrics) emitOutcome(outcome string) {
	if m == nil {
		return
	}
	metricProbesTotal.WithLabelValues(m.target, outcome).Inc()
}
