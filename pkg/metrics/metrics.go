// Package metrics, relay'in Prometheus metriklerini toplar ve /metrics handler'ını sunar.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akinalp/mqvicall/models"
)

const (
	namespace = "mqvi"
	subsystem = "call"
)

var ringBuckets = []float64{0.5, 1, 2, 3, 5, 7, 10, 15, 20, 30, 45, 60}

// Metrics, arama relay metrikleri. Her instance kendi registry'sine kaydolur.
type Metrics struct {
	registry *prometheus.Registry

	initiated   *prometheus.CounterVec
	answered    *prometheus.CounterVec
	ended       *prometheus.CounterVec
	active      prometheus.Gauge
	ringSeconds *prometheus.HistogramVec
	connections prometheus.Gauge
}

// New, metrikleri oluşturur. withRuntime true ise Go ve process collector'ları da eklenir.
func New(withRuntime bool) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	if withRuntime {
		mustRegister(m, collectors.NewGoCollector())
		mustRegister(m, collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m.initiated = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "initiated_total",
		Help:      "Number of callUser requests accepted by the relay",
	}, []string{"kind"}))

	m.answered = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "answered_total",
		Help:      "Number of calls answered by the callee",
	}, []string{"kind"}))

	m.ended = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "ended_total",
		Help:      "Number of relayed calls by final outcome",
	}, []string{"outcome"}))

	m.active = mustRegister(m, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active",
		Help:      "Number of calls currently ringing or in progress",
	}))

	m.ringSeconds = mustRegister(m, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "ring_duration_seconds",
		Help:      "Time from callUser to answerCall",
		Buckets:   ringBuckets,
	}, []string{"kind"}))

	m.connections = mustRegister(m, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "online_users",
		Help:      "Number of users with at least one signaling connection",
	}))

	return m
}

func mustRegister[T prometheus.Collector](m *Metrics, c T) T {
	if err := m.registry.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			return e.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}

func (m *Metrics) CallInitiated(kind models.CallKind) {
	m.initiated.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) CallAnswered(kind models.CallKind, ring time.Duration) {
	m.answered.WithLabelValues(string(kind)).Inc()
	m.ringSeconds.WithLabelValues(string(kind)).Observe(ring.Seconds())
}

func (m *Metrics) CallEnded(outcome models.CallOutcome) {
	m.ended.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) SetActiveCalls(n int) {
	m.active.Set(float64(n))
}

// UserOnline / UserOffline, hub'ın ilk bağlantı / tam kopma callback'lerinden çağrılır.
func (m *Metrics) UserOnline()  { m.connections.Inc() }
func (m *Metrics) UserOffline() { m.connections.Dec() }

// Registry, testler ve ek collector'lar için.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler, /metrics endpoint'i.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
