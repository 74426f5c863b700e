package pool

import "github.com/prometheus/client_golang/prometheus"

// PromMetrics implements Metrics on top of client_golang, grounded on
// JeelKantaria-db-bouncer/internal/metrics.Collector's gauge/counter shape.
type PromMetrics struct {
	active    prometheus.Gauge
	idle      prometheus.Gauge
	total     prometheus.Gauge
	waiting   prometheus.Gauge
	exhausted prometheus.Counter
}

// NewPromMetrics registers a pool's gauges and counters against reg.
func NewPromMetrics(reg *prometheus.Registry, name string) *PromMetrics {
	m := &PromMetrics{
		active:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "reactor_pool_connections_active", ConstLabels: prometheus.Labels{"pool": name}}),
		idle:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "reactor_pool_connections_idle", ConstLabels: prometheus.Labels{"pool": name}}),
		total:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "reactor_pool_connections_total", ConstLabels: prometheus.Labels{"pool": name}}),
		waiting:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "reactor_pool_connections_waiting", ConstLabels: prometheus.Labels{"pool": name}}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{Name: "reactor_pool_exhausted_total", ConstLabels: prometheus.Labels{"pool": name}}),
	}
	reg.MustRegister(m.active, m.idle, m.total, m.waiting, m.exhausted)
	return m
}

func (m *PromMetrics) SetPoolStats(active, idle, total, waiting int) {
	m.active.Set(float64(active))
	m.idle.Set(float64(idle))
	m.total.Set(float64(total))
	m.waiting.Set(float64(waiting))
}

func (m *PromMetrics) PoolExhausted() { m.exhausted.Inc() }
