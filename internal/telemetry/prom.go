package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promRegistry backs the /metrics endpoint. Component counters are mirrored
// at scrape time via value functions, so nothing is double-counted.
var promRegistry = newRegistry()

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RegisterCounter exposes fn as a cumulative counter on /metrics.
// Call once per metric at startup; duplicate names panic.
func RegisterCounter(name, help string, fn func() int64) {
	promRegistry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(fn()) },
	))
}

// RegisterGauge exposes fn as a gauge on /metrics.
func RegisterGauge(name, help string, fn func() int64) {
	promRegistry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(fn()) },
	))
}

// PromHandler serves the process metrics registry.
func PromHandler() http.Handler {
	return promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
}
