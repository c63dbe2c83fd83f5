package chain

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otelMetricGroup is the concrete, otel-backed MetricGroup returned by
// NewOtelMetricGroup (used by telemetry.Handler.ForOperator and by
// config.Topology.Build's default MetricGroupFactory), scoped with
// attributes identifying the owning operator. Counters map
// directly onto otel synchronous counters; gauges are backed by an
// atomic value plus a registered asynchronous callback, since the
// chain's per-record path (spec.md §5) must never block on an otel
// export and a synchronous gauge instrument is not part of the stable
// metric API this module targets.
type otelMetricGroup struct {
	meter metric.Meter
	attrs []attribute.KeyValue

	mu       sync.Mutex
	counters map[string]*otelCounter
	gauges   map[string]*otelGauge
}

// NewOtelMetricGroup returns a MetricGroup that records through meter,
// tagging every instrument with attrs (typically operator_id and
// operator_type).
func NewOtelMetricGroup(meter metric.Meter, attrs ...attribute.KeyValue) MetricGroup {
	return &otelMetricGroup{
		meter:    meter,
		attrs:    attrs,
		counters: map[string]*otelCounter{},
		gauges:   map[string]*otelGauge{},
	}
}

func (g *otelMetricGroup) Counter(name string) Counter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.counters[name]; ok {
		return c
	}
	ctr, _ := g.meter.Int64Counter(name)
	c := &otelCounter{ctr: ctr, attrs: g.attrs}
	g.counters[name] = c
	return c
}

func (g *otelMetricGroup) Gauge(name string) Gauge {
	g.mu.Lock()
	defer g.mu.Unlock()
	if og, ok := g.gauges[name]; ok {
		return og
	}
	og := &otelGauge{attrs: g.attrs}
	obs, err := g.meter.Int64ObservableGauge(name)
	if err == nil {
		_, _ = g.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(obs, og.Value(), metric.WithAttributes(og.attrs...))
			return nil
		}, obs)
	}
	g.gauges[name] = og
	return og
}

type otelCounter struct {
	ctr   metric.Int64Counter
	attrs []attribute.KeyValue
}

func (c *otelCounter) Inc(delta int64) {
	if c.ctr == nil {
		return
	}
	c.ctr.Add(context.Background(), delta, metric.WithAttributes(c.attrs...))
}

type otelGauge struct {
	value atomic.Int64
	attrs []attribute.KeyValue
}

func (g *otelGauge) Set(value int64) { g.value.Store(value) }
func (g *otelGauge) Value() int64    { return g.value.Load() }
