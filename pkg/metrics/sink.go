package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the production middleware.MetricsSink: every named counter and
// gauge is lazily registered with Prometheus the first time it's touched,
// so callers don't need to pre-declare the set of names they'll use.
type Sink struct {
	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewSink allocates an empty Sink.
func NewSink() *Sink {
	return &Sink{
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
}

func (s *Sink) counter(name string) prometheus.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_" + name + "_total",
			Help: "The total count of " + name + " observed by the tracker",
		})
		prometheus.MustRegister(c)
		s.counters[name] = c
	}
	return c
}

func (s *Sink) gauge(name string) prometheus.Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_" + name,
			Help: "The current value of " + name + " observed by the tracker",
		})
		prometheus.MustRegister(g)
		s.gauges[name] = g
	}
	return g
}

// Incr implements middleware.MetricsSink.
func (s *Sink) Incr(counter string, n int64) {
	s.counter(counter).Add(float64(n))
}

// Set implements middleware.MetricsSink.
func (s *Sink) Set(gauge string, v float64) {
	s.gauge(gauge).Set(v)
}
