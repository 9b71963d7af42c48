// Package metrics exposes the companion's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	syncs      *prometheus.CounterVec
	stages     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	triggers   prometheus.Gauge
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "reminder_sync_total",
			Help:      "Daily reminder synchronizations by schedule source and outcome.",
		}, []string{"source", "outcome"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "stage_resolutions_total",
			Help:      "Progress stage resolutions by resulting stage.",
		}, []string{"stage"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "notification_deliveries_total",
			Help:      "Local notifications fired by the trigger scheduler.",
		}, []string{"status"}),
		triggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "companion",
			Name:      "installed_triggers",
			Help:      "Recurring notification triggers currently installed.",
		}),
	}
	m.registry.MustRegister(m.syncs, m.stages, m.deliveries, m.triggers)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSync(source, outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveStage(stage int) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(strconv.Itoa(stage)).Inc()
}

func (m *Metrics) ObserveDelivery(ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.deliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) SetInstalledTriggers(n int) {
	if m == nil {
		return
	}
	m.triggers.Set(float64(n))
}
