// Package metrics holds the Prometheus collectors for searches and sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "log_search"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	searches     *prometheus.CounterVec
	hostOutcomes *prometheus.CounterVec
	hostDuration *prometheus.HistogramVec
	linesMatched *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// New registers every collector on a private registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Search requests by result (ok, rejected).",
		}, []string{"result"}),
		hostOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_outcomes_total",
			Help:      "Per-host search outcomes by server and status.",
		}, []string{"server", "status"}),
		hostDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "host_duration_seconds",
			Help:      "Wall time of one host search, including lease wait and connect.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"server"}),
		linesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_returned_total",
			Help:      "Log lines returned per server.",
		}, []string{"server"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_searches_in_flight",
			Help:      "Host searches currently running.",
		}),
	}
	reg.MustRegister(
		m.searches, m.hostOutcomes, m.hostDuration, m.linesMatched, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) RequestDone(rejected bool) {
	if m == nil {
		return
	}
	if rejected {
		m.searches.WithLabelValues("rejected").Inc()
		return
	}
	m.searches.WithLabelValues("ok").Inc()
}

// HostStarted returns a func that must be called once the host search ends.
func (m *Metrics) HostStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) HostDone(server, status string, lines int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.hostOutcomes.WithLabelValues(server, status).Inc()
	m.hostDuration.WithLabelValues(server).Observe(elapsed.Seconds())
	if lines > 0 {
		m.linesMatched.WithLabelValues(server).Add(float64(lines))
	}
}
