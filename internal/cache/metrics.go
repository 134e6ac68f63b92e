package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "cubec"
	subsystem = "compiler_cache"
)

// Metrics holds the prometheus collectors of one cache.
type Metrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	evictions   *prometheus.CounterVec
	compileTime *prometheus.HistogramVec
}

func newMetrics() *Metrics {
	return &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hits_total",
			Help:      "Lookups served from a cached bundle.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "misses_total",
			Help:      "Lookups that waited for a compile.",
		}),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "evictions_total",
				Help:      "Entries removed from the cache by reason.",
			},
			[]string{"reason"}, // "size" or "age"
		),
		compileTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "compile_duration_seconds",
				Help:      "Schema compile time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			},
			[]string{"result"}, // "success" or "error"
		),
	}
}

// MustRegister registers the metrics with the given Prometheus registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(m.hits, m.misses, m.evictions, m.compileTime)
}

func (m *Metrics) observeCompile(seconds float64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.compileTime.WithLabelValues(result).Observe(seconds)
}
