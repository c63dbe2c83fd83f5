package chain

import "time"

// Event is any non-record control message the network writer output
// can broadcast: a checkpoint barrier, a checkpoint cancel marker, or
// an encoded watermark/latency-marker/stream-status change. Encoding
// these as events (rather than dedicated writer methods per event
// kind) is what spec.md §4.5 means by "emitWatermark, ... encoded as
// non-record events broadcast on the writer".
type Event interface {
	isEvent()
}

// CheckpointBarrier is broadcast on every network writer output by
// Controller.BroadcastCheckpointBarrier. All sinks receiving it for
// the same checkpoint observe the identical value (spec.md §4.7).
type CheckpointBarrier struct {
	CheckpointID int64
	Timestamp    time.Time
	Options      CheckpointOptions
}

func (CheckpointBarrier) isEvent() {}

// CheckpointOptions carries checkpoint-kind configuration opaque to
// the chain (full vs incremental, alignment mode, ...); it is passed
// through unexamined, per spec.md §1's scope boundary around
// checkpoint coordination.
type CheckpointOptions struct {
	Kind string
	Args map[string]any
}

// CheckpointCancelMarker is broadcast to abort an in-flight checkpoint.
type CheckpointCancelMarker struct {
	CheckpointID int64
}

func (CheckpointCancelMarker) isEvent() {}

// StreamStatusEvent is broadcast whenever Controller.ToggleStreamStatus
// changes the task's status.
type StreamStatusEvent struct {
	Status StreamStatus
}

func (StreamStatusEvent) isEvent() {}

// WatermarkEvent is the encoded form of an event-time progress signal
// crossing a task boundary.
type WatermarkEvent struct {
	Mark Watermark
}

func (WatermarkEvent) isEvent() {}

// LatencyMarkerEvent is the encoded form of a latency probe crossing a
// task boundary.
type LatencyMarkerEvent struct {
	Marker *LatencyMarker
}

func (LatencyMarkerEvent) isEvent() {}

// RecordWriter is the narrow contract the chain consumes from the
// network output layer (spec.md §1, §6): serialization of records into
// outbound buffers, backpressure, and broadcast-event transport are
// all the network layer's responsibility, reached only through this
// interface.
type RecordWriter[T any] interface {
	EmitRecord(record *StreamRecord[T]) error
	BroadcastEvent(event Event) error
	// Flush is deferred to batching inside the writer; the chain only
	// calls it from Controller.FlushOutputs.
	Flush() error
	Close() error
}

// NetworkOutput is the type-erased supertype every networkWriterOutput
// satisfies, letting the Controller hold a single homogeneous slice of
// per-edge outputs whose element types may differ from each other.
type NetworkOutput interface {
	BroadcastEvent(event Event) error
	Flush() error
	Close() error
}

// networkWriterOutput is the terminal chain sink: it wraps a
// RecordWriter plus an optional side-output tag and hands records
// straight to the writer (spec.md §4.5).
type networkWriterOutput[T any] struct {
	statusGate
	edgeID string
	writer RecordWriter[T]
	ownTag AnyOutputTag
}

func newNetworkWriterOutput[T any](edgeID string, writer RecordWriter[T], status StreamStatusProvider, ownTag AnyOutputTag) *networkWriterOutput[T] {
	return &networkWriterOutput[T]{
		statusGate: newStatusGate(status),
		edgeID:     edgeID,
		writer:     writer,
		ownTag:     ownTag,
	}
}

// NewNetworkSink wraps a RecordWriter into the Output a
// StreamConfig.NonChainedOutputs edge expects, for embedders assembling
// a NetworkSinkSet outside this package (spec.md §1, §6): the writer
// itself stays the network layer's responsibility, but turning it into
// something chain.Build can wire into a chain is this package's job.
// ownTag is nil for a main-path sink, or the erased tag a side-output
// sink should match.
func NewNetworkSink[T any](edgeID string, writer RecordWriter[T], status StreamStatusProvider, ownTag AnyOutputTag) Output[T] {
	return newNetworkWriterOutput[T](edgeID, writer, status, ownTag)
}

// Collect implements Output: tag-matching semantics identical to
// chainingOutput (main-only sinks drop tagged emits; tagged sinks drop
// untagged and non-matching-tag emits).
func (o *networkWriterOutput[T]) Collect(record *StreamRecord[T]) error {
	if o.ownTag != nil {
		return nil
	}
	return o.emit(record)
}

// CollectSideOutput implements Output.
func (o *networkWriterOutput[T]) CollectSideOutput(tag AnyOutputTag, record any) error {
	if o.ownTag == nil || o.ownTag.TagID() != tag.TagID() || o.ownTag.ElementType() != tag.ElementType() {
		return nil
	}
	rec, ok := record.(*StreamRecord[T])
	if !ok {
		return &ChainedOperatorError{
			OperatorID: o.edgeID,
			Cause:      &SideOutputTypeError{TagID: tag.TagID(), Cause: errTypeMismatch},
		}
	}
	return o.emit(rec)
}

func (o *networkWriterOutput[T]) emit(record *StreamRecord[T]) error {
	if err := o.writer.EmitRecord(record); err != nil {
		return &ChainedOperatorError{OperatorID: o.edgeID, Cause: err}
	}
	return nil
}

// EmitWatermark implements Output: the gauge updates unconditionally;
// the encoded event is broadcast only while ACTIVE.
func (o *networkWriterOutput[T]) EmitWatermark(mark Watermark) error {
	if !o.observe(mark) {
		return nil
	}
	if err := o.writer.BroadcastEvent(WatermarkEvent{Mark: mark}); err != nil {
		return &ChainedOperatorError{OperatorID: o.edgeID, Cause: err}
	}
	return nil
}

// EmitLatencyMarker implements Output: forwarded unconditionally.
func (o *networkWriterOutput[T]) EmitLatencyMarker(marker *LatencyMarker) error {
	if err := o.writer.BroadcastEvent(LatencyMarkerEvent{Marker: marker}); err != nil {
		return &ChainedOperatorError{OperatorID: o.edgeID, Cause: err}
	}
	return nil
}

// EmitStreamStatus encodes and broadcasts a stream-status change.
func (o *networkWriterOutput[T]) EmitStreamStatus(status StreamStatus) error {
	return o.BroadcastEvent(StreamStatusEvent{Status: status})
}

// BroadcastEvent implements NetworkOutput: sends a non-record event to
// every downstream channel the writer owns.
func (o *networkWriterOutput[T]) BroadcastEvent(event Event) error {
	if err := o.writer.BroadcastEvent(event); err != nil {
		return &ChainedOperatorError{OperatorID: o.edgeID, Cause: err}
	}
	return nil
}

// Flush implements NetworkOutput.
func (o *networkWriterOutput[T]) Flush() error {
	return o.writer.Flush()
}

// Close implements Output and NetworkOutput: releases writer
// resources and must succeed idempotently (spec.md §3 Lifecycles).
func (o *networkWriterOutput[T]) Close() error {
	return o.writer.Close()
}

// WatermarkGauge implements Output.
func (o *networkWriterOutput[T]) WatermarkGauge() WatermarkGauge { return o.watermarkGauge() }
