// Package metrics defines the prometheus collectors of the load service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dsg"

// Metrics holds the load collectors. A nil *Metrics records nothing.
type Metrics struct {
	LoadsTotal      *prometheus.CounterVec
	LoadDuration    prometheus.Histogram
	ValuesLoaded    prometheus.Counter
	RowsRejected    *prometheus.CounterVec
	VariablesLoaded prometheus.Counter
	LoadsInFlight   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Completed dataset loads by final status.",
		}, []string{"status"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Wall time of dataset loads.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ValuesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measured_parameters_loaded_total",
			Help:      "Newly inserted measured parameter values.",
		}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Dataset rows skipped by reason.",
		}, []string{"reason"}),
		VariablesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variables_loaded_total",
			Help:      "Dataset variables that contributed values.",
		}),
		LoadsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loads_in_flight",
			Help:      "Dataset loads currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.LoadsTotal, m.LoadDuration, m.ValuesLoaded, m.RowsRejected, m.VariablesLoaded, m.LoadsInFlight)
	}
	return m
}

// LoadStarted marks a load as running and returns a func that records its end.
func (m *Metrics) LoadStarted() func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.LoadsInFlight.Inc()
	return func(status string) {
		m.LoadsInFlight.Dec()
		m.LoadsTotal.WithLabelValues(status).Inc()
		m.LoadDuration.Observe(time.Since(start).Seconds())
	}
}

// ObserveLoad adds the counts of one finished load.
func (m *Metrics) ObserveLoad(values int64, variables int, rejected map[string]int64) {
	if m == nil {
		return
	}
	m.ValuesLoaded.Add(float64(values))
	m.VariablesLoaded.Add(float64(variables))
	for reason, n := range rejected {
		m.RowsRejected.WithLabelValues(reason).Add(float64(n))
	}
}
