package metrics

// Noop is a Sink that discards every observation. It is the default used by
// tests and by callers that don't care about metrics.
type Noop struct{}

var _ Sink = Noop{}

func (Noop) IncCounter(name string, labels ...string)                     {}
func (Noop) AddCounter(name string, delta float64, labels ...string)      {}
func (Noop) SetGauge(name string, value float64, labels ...string)       {}
func (Noop) ObserveHistogram(name string, value float64, labels ...string) {}
