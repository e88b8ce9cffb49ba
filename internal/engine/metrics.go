package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: вступления и нажатия кнопок
	JoinsTotal     *prometheus.CounterVec
	DecisionsTotal *prometheus.CounterVec

	// Latency: полный переход автомата (включая вызовы платформы)
	DecisionDuration *prometheus.HistogramVec

	// Errors: отказы платформы и хранилища по операциям
	FaultsTotal *prometheus.CounterVec

	// Saturation: сколько заявок ждет решения
	PendingApprovals prometheus.Gauge

	RehydratedTotal *prometheus.CounterVec

	reg prometheus.Registerer
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		JoinsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_joins_total",
			Help: "Member joins by result.",
		}, []string{"result"}), // posted, failed

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Control activations by action and outcome.",
		}, []string{"action", "outcome"}),

		DecisionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_decision_duration_seconds",
			Help:    "Histogram of approval transition latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action"}),

		FaultsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_faults_total",
			Help: "Failed platform and storage calls by kind.",
		}, []string{"kind"}), // storage, platform

		PendingApprovals: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_pending_approvals",
			Help: "Approval requests waiting for a decision.",
		}),

		RehydratedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_rehydrated_total",
			Help: "Pending approvals processed at startup by result.",
		}, []string{"result"}), // attached, skipped

		reg: reg,
	}
}

// ObserveAuditBuffer регистрирует gauge заполненности буфера аудита.
func (m *Metrics) ObserveAuditBuffer(fill func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gatekeeper_audit_buffer_utilization",
		Help: "Current number of events in audit buffer.",
	}, fill)
}
