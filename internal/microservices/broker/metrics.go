package broker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's collectors on a private prometheus registry so
// several brokers (tests) can live in one process.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewMetrics(sessions *Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msbroker_requests_total",
			Help: "Requests handled by the broker by command and result",
		}, []string{"command", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msbroker_request_duration_seconds",
			Help:    "Time spent dispatching a request",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"command"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "msbroker_master_sessions",
			Help: "Masters currently logged in",
		}, func() float64 {
			masters, _ := sessions.Counts()
			return float64(masters)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "msbroker_slave_sessions",
			Help: "Slaves currently logged in",
		}, func() float64 {
			_, slaves := sessions.Counts()
			return float64(slaves)
		}),
	)
	return m
}

func (m *Metrics) observe(command, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(command, result).Inc()
	m.requestDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
