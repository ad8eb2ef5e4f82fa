package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// Metrics holds the ledger's Prometheus collectors.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	volume     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wishledger",
				Name:      "ledger_operations_total",
				Help:      "Ledger operations by name and result code.",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wishledger",
				Name:      "ledger_operation_duration_seconds",
				Help:      "Ledger operation latency including lock wait.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		volume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wishledger",
				Name:      "ledger_volume_total",
				Help:      "Amount moved by kind: funded, claimed, refunded, deposited, withdrawn.",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(m.operations, m.duration, m.volume)
	return m
}

// observe is deferred with a pointer to the caller's named error result.
func (m *Metrics) observe(op string, start time.Time, errp *error) {
	if m == nil {
		return
	}
	result := "ok"
	if errp != nil && *errp != nil {
		result = domain.ErrorCode(*errp)
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addVolume(kind string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.volume.WithLabelValues(kind).Add(float64(amount))
}
