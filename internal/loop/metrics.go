package loop

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pidloop"

// Metrics are the Prometheus series of one control loop, held on a private
// registry so several loops can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	latency     prometheus.Histogram
	output      prometheus.Gauge
	pv          prometheus.Gauge
	setpoint    prometheus.Gauge
	iterations  prometheus.Counter
	saturations prometheus.Counter
	failures    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compute_duration_seconds",
			Help:      "Time spent in one controller Compute call.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		output: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output",
			Help:      "Last controller output sent to the actuator.",
		}),
		pv: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_variable",
			Help:      "Last measured process variable.",
		}),
		setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setpoint",
			Help:      "Setpoint in force for the last iteration.",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed control iterations.",
		}),
		saturations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saturated_iterations_total",
			Help:      "Iterations whose output sat on a bound.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_failures_total",
			Help:      "Sensor reads or actuator writes that failed.",
		}, []string{"stage"}),
	}

	m.registry.MustRegister(m.latency, m.output, m.pv, m.setpoint, m.iterations, m.saturations, m.failures)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
