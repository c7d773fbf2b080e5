package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink backs Sink with github.com/prometheus/client_golang,
// registered into a caller-supplied registry rather than the package
// default — the engine must not assume it owns process-global state.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusSink creates a sink that registers its metrics into reg.
func NewPrometheusSink(reg *prometheus.Registry) *PrometheusSink {
	return &PrometheusSink{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

var _ Sink = (*PrometheusSink)(nil)

func (s *PrometheusSink) counterVec(name string, nlabels int) *prometheus.CounterVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cv, ok := s.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: name,
	}, labelNames(nlabels))
	s.registry.MustRegister(cv)
	s.counters[name] = cv
	return cv
}

func (s *PrometheusSink) gaugeVec(name string, nlabels int) *prometheus.GaugeVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gv, ok := s.gauges[name]; ok {
		return gv
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: name,
	}, labelNames(nlabels))
	s.registry.MustRegister(gv)
	s.gauges[name] = gv
	return gv
}

func (s *PrometheusSink) histogramVec(name string, nlabels int) *prometheus.HistogramVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hv, ok := s.histograms[name]; ok {
		return hv
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    name,
		Buckets: prometheus.DefBuckets,
	}, labelNames(nlabels))
	s.registry.MustRegister(hv)
	s.histograms[name] = hv
	return hv
}

func labelNames(n int) []string {
	if n == 0 {
		return nil
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("l%d", i)
	}
	return names
}

func (s *PrometheusSink) IncCounter(name string, labels ...string) {
	s.counterVec(name, len(labels)).WithLabelValues(labels...).Inc()
}

func (s *PrometheusSink) AddCounter(name string, delta float64, labels ...string) {
	s.counterVec(name, len(labels)).WithLabelValues(labels...).Add(delta)
}

func (s *PrometheusSink) SetGauge(name string, value float64, labels ...string) {
	s.gaugeVec(name, len(labels)).WithLabelValues(labels...).Set(value)
}

func (s *PrometheusSink) ObserveHistogram(name string, value float64, labels ...string) {
	s.histogramVec(name, len(labels)).WithLabelValues(labels...).Observe(value)
}
