package status

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the transfer counters to prometheus. Registration is
// the caller's choice of registry so tests can stay isolated.
type Metrics struct {
	transfersTotal *prometheus.CounterVec
	bytesTotal     prometheus.Counter
	inFlight       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexusvault",
			Name:      "transfers_total",
			Help:      "Transfers by terminal state.",
		}, []string{"state"}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexusvault",
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved through the pipeline.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexusvault",
			Name:      "transfers_in_flight",
			Help:      "Transfers between enqueue and terminal state.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transfersTotal, m.bytesTotal, m.inFlight)
	}
	return m
}

func (m *Metrics) transferStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) transferFinished(state TransferState) {
	m.inFlight.Dec()
	m.transfersTotal.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) addBytes(n int64) {
	m.bytesTotal.Add(float64(n))
}
