package chain

// xorshift32 is a fast, non-cryptographic PRNG used to pick a single
// downstream sink for latency-marker sampling, per spec.md §4.3 and
// §9. Each broadcasting output owns its own instance, seeded from its
// sink count, so two fan-outs with the same number of sinks make the
// same sequence of choices.
type xorshift32 struct{ state uint32 }

func newXorshift32(seed uint32) *xorshift32 {
	if seed == 0 {
		seed = 0x9e3779b9
	}
	return &xorshift32{state: seed}
}

func (x *xorshift32) next() uint32 {
	s := x.state
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	x.state = s
	return s
}

// broadcastingOutput fans a record out to every one of its downstream
// sinks, in order. Required whenever a producer feeds two or more
// successors and has no output selectors (spec.md §4.3, §4.6).
//
// all holds every downstream sink this producer feeds — main-stream
// and side-output alike — and backs watermark/latency-marker/close
// fan-out, none of which depend on the main element type. main holds
// only the subset reachable on the untagged main stream (same element
// type T as the producer) and backs Collect; a side-output sink whose
// element type differs from T is never a member of main; it still
// receives side-output records through CollectSideOutput via all.
type broadcastingOutput[T any] struct {
	statusGate
	operatorID string
	all        []sinkHandle
	main       []Output[T]
	rng        *xorshift32
}

func newBroadcastingOutput[T any](operatorID string, status StreamStatusProvider, all []sinkHandle, main []Output[T]) *broadcastingOutput[T] {
	return &broadcastingOutput[T]{
		statusGate: newStatusGate(status),
		operatorID: operatorID,
		all:        all,
		main:       main,
		rng:        newXorshift32(uint32(len(all)) + 1),
	}
}

// Collect implements Output: delivers the same record to every
// main-stream sink.
func (o *broadcastingOutput[T]) Collect(record *StreamRecord[T]) error {
	for _, sink := range o.main {
		if err := sink.Collect(record); err != nil {
			return err
		}
	}
	return nil
}

// CollectSideOutput implements Output: forwarded to every sink; each
// sink filters by its own bound tag.
func (o *broadcastingOutput[T]) CollectSideOutput(tag AnyOutputTag, record any) error {
	for _, sink := range o.all {
		if err := sink.CollectSideOutput(tag, record); err != nil {
			return err
		}
	}
	return nil
}

// EmitWatermark implements Output: updates the gauge unconditionally
// and forwards to every sink only while ACTIVE.
func (o *broadcastingOutput[T]) EmitWatermark(mark Watermark) error {
	if !o.observe(mark) {
		return nil
	}
	for _, sink := range o.all {
		if err := sink.EmitWatermark(mark); err != nil {
			return err
		}
	}
	return nil
}

// EmitLatencyMarker implements Output: forwards to exactly one sink,
// chosen uniformly at random, to avoid multiplying latency-probe
// volume by fan-out. Zero sinks is a no-op; one sink always receives
// it.
func (o *broadcastingOutput[T]) EmitLatencyMarker(marker *LatencyMarker) error {
	switch len(o.all) {
	case 0:
		return nil
	case 1:
		return o.all[0].EmitLatencyMarker(marker)
	default:
		idx := int(o.rng.next() % uint32(len(o.all)))
		return o.all[idx].EmitLatencyMarker(marker)
	}
}

// Close implements Output: closes every sink, returning the first
// error encountered after attempting all of them.
func (o *broadcastingOutput[T]) Close() error {
	var first error
	for _, sink := range o.all {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WatermarkGauge implements Output.
func (o *broadcastingOutput[T]) WatermarkGauge() WatermarkGauge { return o.watermarkGauge() }

// copyingBroadcastingOutput is the object-reuse-disabled variant: a
// shallow copy of the record is produced for every main-stream sink
// except the last, which receives the original. This avoids one copy
// per record without risking visibility, because the producer holds
// no other reference to the record once it has handed it to the
// broadcasting output (spec.md §4.3, §8 property 2).
type copyingBroadcastingOutput[T any] struct {
	*broadcastingOutput[T]
}

func newCopyingBroadcastingOutput[T any](operatorID string, status StreamStatusProvider, all []sinkHandle, main []Output[T]) *copyingBroadcastingOutput[T] {
	return &copyingBroadcastingOutput[T]{broadcastingOutput: newBroadcastingOutput(operatorID, status, all, main)}
}

func (o *copyingBroadcastingOutput[T]) Collect(record *StreamRecord[T]) error {
	last := len(o.main) - 1
	for i, sink := range o.main {
		r := record
		if i != last {
			r = record.ShallowCopy()
		}
		if err := sink.Collect(r); err != nil {
			return err
		}
	}
	return nil
}

func (o *copyingBroadcastingOutput[T]) CollectSideOutput(tag AnyOutputTag, record any) error {
	last := len(o.all) - 1
	rec, isTyped := record.(*StreamRecord[T])
	for i, sink := range o.all {
		r := record
		if isTyped && i != last {
			r = rec.ShallowCopy()
		}
		if err := sink.CollectSideOutput(tag, r); err != nil {
			return err
		}
	}
	return nil
}
