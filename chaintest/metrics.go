// Package chaintest provides in-memory chain.Operator and
// chain.RecordWriter test doubles, used by this module's own tests and
// reusable by integrators assembling their own chain.Build calls in
// tests, mirroring the teacher's own testing package of synthetic
// plugins (SPEC_FULL §2.1).
package chaintest

import (
	"sync/atomic"

	chain "github.com/mirrorstream/chain"
)

// NoopMetricGroup is a chain.MetricGroup that records nothing but
// satisfies the interface for tests that don't care about metrics.
type NoopMetricGroup struct{}

// Counter implements chain.MetricGroup.
func (NoopMetricGroup) Counter(string) chain.Counter { return noopCounter{} }

// Gauge implements chain.MetricGroup.
func (NoopMetricGroup) Gauge(string) chain.Gauge { return &memGauge{} }

type noopCounter struct{}

func (noopCounter) Inc(int64) {}

// memGauge is a chain.Gauge backed by an atomic value, handed out by
// both NoopMetricGroup and RecordingMetricGroup so tests can assert on
// currentInputWatermark/currentOutputWatermark without an otel
// dependency.
type memGauge struct{ v atomic.Int64 }

func (g *memGauge) Set(value int64) { g.v.Store(value) }
func (g *memGauge) Value() int64    { return g.v.Load() }

// memCounter is a chain.Counter backed by an atomic value, handed out
// by RecordingMetricGroup so tests can assert on numRecordsIn.
type memCounter struct{ v atomic.Int64 }

func (c *memCounter) Inc(delta int64) { c.v.Add(delta) }
func (c *memCounter) Value() int64    { return c.v.Load() }

// RecordingMetricGroup is a chain.MetricGroup that remembers every
// counter/gauge it has handed out, by name, so a test can read back
// numRecordsIn or a watermark gauge after driving an operator through
// a chain.
type RecordingMetricGroup struct {
	counters map[string]*memCounter
	gauges   map[string]*memGauge
}

// NewRecordingMetricGroup returns an empty RecordingMetricGroup.
func NewRecordingMetricGroup() *RecordingMetricGroup {
	return &RecordingMetricGroup{
		counters: map[string]*memCounter{},
		gauges:   map[string]*memGauge{},
	}
}

// Counter implements chain.MetricGroup, returning the same instance
// for repeated calls with the same name.
func (g *RecordingMetricGroup) Counter(name string) chain.Counter {
	if c, ok := g.counters[name]; ok {
		return c
	}
	c := &memCounter{}
	g.counters[name] = c
	return c
}

// Gauge implements chain.MetricGroup, returning the same instance for
// repeated calls with the same name.
func (g *RecordingMetricGroup) Gauge(name string) chain.Gauge {
	if gg, ok := g.gauges[name]; ok {
		return gg
	}
	gg := &memGauge{}
	g.gauges[name] = gg
	return gg
}

// CounterValue returns the current value of the named counter, or 0 if
// it was never requested.
func (g *RecordingMetricGroup) CounterValue(name string) int64 {
	if c, ok := g.counters[name]; ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the current value of the named gauge, or 0 if it
// was never requested.
func (g *RecordingMetricGroup) GaugeValue(name string) int64 {
	if gg, ok := g.gauges[name]; ok {
		return gg.Value()
	}
	return 0
}
