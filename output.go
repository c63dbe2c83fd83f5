package chain

import "reflect"

// StreamStatusProvider is queried by every sink to learn the task's
// current stream status, gating watermark forwarding while IDLE. It is
// implemented by the Controller; sinks hold a non-owning reference to
// it (spec.md §9's "cyclic reference (sink ↔ chain controller)").
type StreamStatusProvider interface {
	GetStreamStatus() StreamStatus
}

// AnyOutputTag is the type-erased view of an OutputTag[T], used so
// that a side-output emit can be routed to a sink bound to a
// differently-typed T without requiring a generic method (Go methods
// cannot carry their own type parameters, so side-output dispatch is
// necessarily erased-and-checked at runtime, mirroring the cast
// failure spec.md §4.2/§7 documents for the source system).
type AnyOutputTag interface {
	TagID() string
	ElementType() reflect.Type
}

// Erase returns the type-erased view of tag.
func Erase[T any](tag OutputTag[T]) AnyOutputTag {
	return erasedTag[T]{tag}
}

type erasedTag[T any] struct {
	tag OutputTag[T]
}

func (e erasedTag[T]) TagID() string { return e.tag.ID }
func (e erasedTag[T]) ElementType() reflect.Type {
	var zero T
	return reflect.TypeOf(&zero).Elem()
}

// sinkHandle is the subset of Output's operations that do not depend
// on the main stream's element type. A fan-out sink's downstream
// targets are not necessarily homogeneous in T: a side-output edge may
// carry a different element type U than its producer's main stream T,
// and Go methods cannot carry their own type parameters the way a
// Java generic method can. Every Output[T], for every T, satisfies
// sinkHandle, so broadcasting/directed outputs can hold a single
// type-independent list for everything except the main-stream Collect
// call (see broadcastingOutput/directedOutput).
type sinkHandle interface {
	// CollectSideOutput emits a record tagged for a side-output
	// stream. record must be a *StreamRecord[U] where U is the tag's
	// element type; a mismatch yields a *SideOutputTypeError.
	CollectSideOutput(tag AnyOutputTag, record any) error
	// EmitWatermark propagates event-time progress, subject to
	// stream-status gating.
	EmitWatermark(mark Watermark) error
	// EmitLatencyMarker forwards a latency probe unconditionally.
	EmitLatencyMarker(marker *LatencyMarker) error
	// Close ends the stream for this sink.
	Close() error
	// WatermarkGauge observes the timestamp of the last watermark this
	// sink processed, updated regardless of stream status.
	WatermarkGauge() WatermarkGauge
}

// Output is the uniform emitter every operator writes into: the
// chain's sink interface (spec.md §4.1). Every method may return a
// *ChainedOperatorError wrapping whatever the underlying operator or
// writer failed with; callers treat a non-nil error as fatal to the
// task and do not retry.
type Output[T any] interface {
	sinkHandle
	// Collect emits a record to the main stream.
	Collect(record *StreamRecord[T]) error
}

// statusGate is embedded by every sink implementation to share the
// stream-status read and gauge update, per spec.md §4.1's "every sink
// also implements a stream-status-aware contract".
type statusGate struct {
	status StreamStatusProvider
	watermarkObserver
}

func newStatusGate(status StreamStatusProvider) statusGate {
	return statusGate{status: status, watermarkObserver: newWatermarkObserver()}
}

// observe updates the gauge (and any bound metric gauges) unconditionally
// and reports whether the watermark should additionally be forwarded
// downstream.
func (g *statusGate) observe(mark Watermark) (forward bool) {
	g.publish(mark)
	return g.status.GetStreamStatus() == StatusActive
}

// watermarkObserver tracks a sink's last-seen watermark both in its own
// WatermarkGauge (read by metrics collectors, per spec.md §4.1's
// getWatermarkGauge) and, once bound, in a chain.Gauge published on an
// operator's MetricGroup as currentInputWatermark/currentOutputWatermark
// (spec.md §4.6 step 5, §6). Every sink embeds it (directly or via
// statusGate) so builder.go can bind either gauge uniformly through the
// metricBindable interface below, regardless of which sink variant it
// built.
type watermarkObserver struct {
	gauge   *watermarkGauge
	metrics []Gauge
}

func newWatermarkObserver() watermarkObserver {
	return watermarkObserver{gauge: newWatermarkGauge()}
}

// publish updates the internal gauge and every bound metric gauge.
func (w *watermarkObserver) publish(mark Watermark) {
	w.gauge.set(mark)
	for _, m := range w.metrics {
		m.Set(int64(mark))
	}
}

// bindMetricGauge implements metricBindable: registers an additional
// chain.Gauge to receive every future watermark this sink observes.
func (w *watermarkObserver) bindMetricGauge(g Gauge) {
	w.metrics = append(w.metrics, g)
}

func (w *watermarkObserver) watermarkGauge() WatermarkGauge { return w.gauge }

// metricBindable is implemented by every sink that can additionally
// publish its watermark gauge onto an operator's MetricGroup, which is
// every sink built by this package (all of them embed watermarkObserver,
// directly or via statusGate). builder.go uses it to wire
// currentInputWatermark/currentOutputWatermark without needing to
// enumerate every concrete sink type.
type metricBindable interface {
	bindMetricGauge(g Gauge)
}
