package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/meshflow/internal/domain"
)

const namespace = "meshflow"

// Metrics — Prometheus метрики оркестратора.
//
// Методы безопасны для nil-получателя: оркестратор без метрик
// просто не вызывает коллекторы.
type Metrics struct {
	RunsSubmitted prometheus.Counter
	RunsFinished  *prometheus.CounterVec
	RunRetries    prometheus.Counter
	StepsInFlight prometheus.Gauge
	StepsFinished *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
}

// NewMetrics создаёт и регистрирует метрики на reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_submitted_total",
			Help:      "Total runs accepted for execution",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal status",
		}, []string{"status"}),
		RunRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_retries_total",
			Help:      "Accepted retry requests",
		}),
		StepsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "steps_in_flight",
			Help:      "Steps with an executor call in flight",
		}),
		StepsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_finished_total",
			Help:      "Finished step executions by result status and failure reason",
		}, []string{"status", "reason"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution wall time",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.RunsSubmitted,
		m.RunsFinished,
		m.RunRetries,
		m.StepsInFlight,
		m.StepsFinished,
		m.StepDuration,
	)
	return m
}

// RunSubmitted учитывает принятый run.
func (m *Metrics) RunSubmitted() {
	if m == nil {
		return
	}
	m.RunsSubmitted.Inc()
}

// RunFinished учитывает run в финальном статусе.
func (m *Metrics) RunFinished(status domain.RunStatus) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(string(status)).Inc()
}

// RunRetried учитывает принятый retry.
func (m *Metrics) RunRetried() {
	if m == nil {
		return
	}
	m.RunRetries.Inc()
}

// StepStarted увеличивает число выполняющихся шагов.
func (m *Metrics) StepStarted() {
	if m == nil {
		return
	}
	m.StepsInFlight.Inc()
}

// StepFinished учитывает завершение выполнения шага.
func (m *Metrics) StepFinished(result *domain.StepResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StepsInFlight.Dec()
	m.StepsFinished.WithLabelValues(string(result.Status), string(result.Reason)).Inc()
	m.StepDuration.WithLabelValues(string(result.Status)).Observe(elapsed.Seconds())
}
