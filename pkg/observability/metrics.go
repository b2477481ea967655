package observability

import (
	"sync"
	"time"
)

// NoOpMetricsClient discards all measurements; used in tests and when
// metrics are disabled.
type NoOpMetricsClient struct{}

// NewNoOpMetricsClient creates a metrics client that does nothing
func NewNoOpMetricsClient() MetricsClient { return &NoOpMetricsClient{} }

func (c *NoOpMetricsClient) IncrementCounter(name string, value float64) {}
func (c *NoOpMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (c *NoOpMetricsClient) RecordGauge(name string, value float64, labels map[string]string)     {}
func (c *NoOpMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}
func (c *NoOpMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}

// InMemoryMetricsClient accumulates counters in memory so tests can
// assert on recorded values.
type InMemoryMetricsClient struct {
	mu       sync.RWMutex
	counters map[string]float64
	gauges   map[string]float64
}

// NewInMemoryMetricsClient creates an in-memory metrics client
func NewInMemoryMetricsClient() *InMemoryMetricsClient {
	return &InMemoryMetricsClient{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

func (c *InMemoryMetricsClient) IncrementCounter(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += value
}

func (c *InMemoryMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	c.IncrementCounter(name, value)
}

func (c *InMemoryMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

func (c *InMemoryMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	c.IncrementCounter(name+".sum", value)
	c.IncrementCounter(name+".count", 1)
}

func (c *InMemoryMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	c.RecordHistogram(name, duration.Seconds(), labels)
}

// Counter returns the accumulated value for a counter name.
func (c *InMemoryMetricsClient) Counter(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Snapshot returns a copy of all counters.
func (c *InMemoryMetricsClient) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}
