package chain

// chainingOutput binds to exactly one downstream operator fused into
// the same task, plus an optional side-output tag. Constructed by the
// builder for every in-task edge (spec.md §4.2).
type chainingOutput[T any] struct {
	statusGate
	operatorID string
	downstream Operator[T]
	numIn      Counter
	ownTag     AnyOutputTag // nil: this sink only forwards the main stream
}

func newChainingOutput[T any](
	operatorID string,
	downstream Operator[T],
	status StreamStatusProvider,
	ownTag AnyOutputTag,
) *chainingOutput[T] {
	return &chainingOutput[T]{
		statusGate: newStatusGate(status),
		operatorID: operatorID,
		downstream: downstream,
		numIn:      downstream.MetricGroup().Counter("numRecordsIn"),
		ownTag:     ownTag,
	}
}

// Collect implements Output. A side-output sink (ownTag != nil) drops
// untagged emits: the same producer may hold several chaining outputs,
// one main and several side, and an untagged Collect always means
// "main" (spec.md §4.2).
func (o *chainingOutput[T]) Collect(record *StreamRecord[T]) error {
	if o.ownTag != nil {
		return nil
	}
	return o.push(record)
}

// CollectSideOutput implements Output. Forwards iff ownTag is set and
// equals tag (id and element type); otherwise drops, including when
// this is a main-stream sink (ownTag == nil).
func (o *chainingOutput[T]) CollectSideOutput(tag AnyOutputTag, record any) error {
	if o.ownTag == nil || o.ownTag.TagID() != tag.TagID() || o.ownTag.ElementType() != tag.ElementType() {
		return nil
	}

	rec, ok := record.(*StreamRecord[T])
	if !ok {
		return &ChainedOperatorError{
			OperatorID: o.operatorID,
			Cause:      &SideOutputTypeError{TagID: tag.TagID(), Cause: errTypeMismatch},
		}
	}

	return o.push(rec)
}

func (o *chainingOutput[T]) push(record *StreamRecord[T]) error {
	return guardOperatorCall(o.operatorID, func() error {
		o.numIn.Inc(1)
		o.downstream.SetKeyContextElement1(record)
		return o.downstream.ProcessElement(record)
	})
}

// EmitWatermark implements Output: the gauge is always updated; the
// downstream operator only observes the watermark while ACTIVE.
func (o *chainingOutput[T]) EmitWatermark(mark Watermark) error {
	if !o.observe(mark) {
		return nil
	}
	return guardOperatorCall(o.operatorID, func() error {
		return o.downstream.ProcessWatermark(mark)
	})
}

// EmitLatencyMarker implements Output: forwarded unconditionally.
func (o *chainingOutput[T]) EmitLatencyMarker(marker *LatencyMarker) error {
	return guardOperatorCall(o.operatorID, func() error {
		return o.downstream.ProcessLatencyMarker(marker)
	})
}

// Close implements Output: closes the bound operator.
func (o *chainingOutput[T]) Close() error {
	return guardOperatorCall(o.operatorID, o.downstream.Close)
}

// WatermarkGauge implements Output.
func (o *chainingOutput[T]) WatermarkGauge() WatermarkGauge { return o.watermarkGauge() }

// copyingChainingOutput is the object-reuse-disabled variant: every
// hand-off to the downstream operator first produces a deep copy via
// serializer, so the upstream producer's buffer is never observable to
// a downstream operator that might mutate it (spec.md §4.2, §9).
type copyingChainingOutput[T any] struct {
	*chainingOutput[T]
	serializer Serializer[T]
}

func newCopyingChainingOutput[T any](
	operatorID string,
	downstream Operator[T],
	status StreamStatusProvider,
	ownTag AnyOutputTag,
	serializer Serializer[T],
) *copyingChainingOutput[T] {
	return &copyingChainingOutput[T]{
		chainingOutput: newChainingOutput(operatorID, downstream, status, ownTag),
		serializer:     serializer,
	}
}

func (o *copyingChainingOutput[T]) Collect(record *StreamRecord[T]) error {
	if o.ownTag != nil {
		return nil
	}
	return o.push(record.DeepCopy(o.serializer))
}

func (o *copyingChainingOutput[T]) CollectSideOutput(tag AnyOutputTag, record any) error {
	if o.ownTag == nil || o.ownTag.TagID() != tag.TagID() || o.ownTag.ElementType() != tag.ElementType() {
		return nil
	}

	rec, ok := record.(*StreamRecord[T])
	if !ok {
		return &ChainedOperatorError{
			OperatorID: o.operatorID,
			Cause:      &SideOutputTypeError{TagID: tag.TagID(), Cause: errTypeMismatch},
		}
	}

	return o.push(rec.DeepCopy(o.serializer))
}
