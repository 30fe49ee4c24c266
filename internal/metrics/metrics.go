// Package metrics exposes the pipeline's Prometheus instrumentation.
// All methods are safe on a nil receiver so callers never need to branch
// on whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"geohint/internal/model"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	confirmations *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	blacklisted   prometheus.Gauge
	inFlight      prometheus.Gauge
	created       prometheus.Counter
	reused        prometheus.Counter
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geohint",
			Name:      "confirmations_total",
			Help:      "Confirmed locations by code type.",
		}, []string{"code_type"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geohint",
			Name:      "outcomes_total",
			Help:      "Terminal domain outcomes by class.",
		}, []string{"outcome"}),
		blacklisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geohint",
			Name:      "blacklisted_probes",
			Help:      "Probes blacklisted during the current run.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geohint",
			Name:      "verifications_in_flight",
			Help:      "Domains currently being verified.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geohint",
			Name:      "measurements_created_total",
			Help:      "One-off measurements created on the probing service.",
		}),
		reused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geohint",
			Name:      "measurements_reused_total",
			Help:      "Verifications satisfied from existing measurements.",
		}),
	}
	reg.MustRegister(m.confirmations, m.outcomes, m.blacklisted, m.inFlight, m.created, m.reused)
	return m
}

// Confirmation counts one confirmed location for the given code type.
func (m *Metrics) Confirmation(t model.CodeType) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(string(t)).Inc()
}

// Outcome counts one terminal domain outcome.
func (m *Metrics) Outcome(o model.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(o)).Inc()
}

// ProbeBlacklisted records the current blacklist size.
func (m *Metrics) ProbeBlacklisted(size int) {
	if m == nil {
		return
	}
	m.blacklisted.Set(float64(size))
}

// VerificationStarted marks one verification entering flight.
func (m *Metrics) VerificationStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// VerificationDone marks one verification leaving flight.
func (m *Metrics) VerificationDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// MeasurementCreated counts one new one-off measurement.
func (m *Metrics) MeasurementCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

// MeasurementReused counts one verification served from history.
func (m *Metrics) MeasurementReused() {
	if m == nil {
		return
	}
	m.reused.Inc()
}
