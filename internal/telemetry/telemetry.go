// Package telemetry exposes agent counters in Prometheus format.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inventariagent/internal/model"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg          *prometheus.Registry
	incidents    *prometheus.CounterVec
	enforcements *prometheus.CounterVec
	notified     prometheus.Counter
	cycles       *prometheus.CounterVec
	readings     *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		incidents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventari_incident_outcomes_total",
			Help: "Incident lifecycle outcomes by tag and outcome",
		}, []string{"tag", "outcome"}),
		enforcements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventari_enforcements_total",
			Help: "Classified processes by verdict and termination result",
		}, []string{"verdict", "terminated"}),
		notified: f.NewCounter(prometheus.CounterOpts{
			Name: "inventari_notifications_sent_total",
			Help: "Block notifications delivered",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventari_metric_cycles_total",
			Help: "Metric poll cycles by result",
		}, []string{"result"}),
		readings: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inventari_metric_reading",
			Help: "Latest sensor reading",
		}, []string{"metric"}),
	}
}

func (m *Metrics) IncidentOutcome(tag, outcome string) {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues(tag, outcome).Inc()
}

func (m *Metrics) Enforcement(verdict string, terminated, notified bool) {
	if m == nil {
		return
	}
	m.enforcements.WithLabelValues(verdict, strconv.FormatBool(terminated)).Inc()
	if notified {
		m.notified.Inc()
	}
}

func (m *Metrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) Snapshot(s model.MetricsSnapshot) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues("cpuTemp").Set(s.CPUTempC)
	m.readings.WithLabelValues("gpuTemp").Set(s.GPUTempC)
	m.readings.WithLabelValues("cpuUsage").Set(s.CPUUsagePct)
	m.readings.WithLabelValues("ramUsage").Set(s.RAMUsagePct)
	m.readings.WithLabelValues("diskFree").Set(s.DiskFreePct)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
