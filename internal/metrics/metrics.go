// Package metrics exposes monitor counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livetag"

// Cycle outcomes.
const (
	OutcomeIdle      = "idle"    // no trigger
	OutcomeSkipped   = "skipped" // similar frame
	OutcomeSaved     = "saved"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	saves         prometheus.Counter
	duplicates    prometheus.Counter
	failures      *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	historySize   prometheus.Gauge
}

// New registers every collector on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitor cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one capture cycle.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Artifacts written and committed to history.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Pairs skipped because history already held them.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Cycle failures by error code.",
		}, []string{"code"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"breaker"}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_records",
			Help:      "Pairs recorded in the history log.",
		}),
	}
	m.reg.MustRegister(
		m.cycles, m.cycleDuration, m.saves, m.duplicates, m.failures, m.breakerState, m.historySize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Saved() {
	if m == nil {
		return
	}
	m.saves.Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) Failure(code string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(code).Inc()
}

// BreakerState records a breaker transition; state is the numeric
// resilience.State.
func (m *Metrics) BreakerState(name string, state uint32) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) HistorySize(n int) {
	if m == nil {
		return
	}
	m.historySize.Set(float64(n))
}
