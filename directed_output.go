package chain

// directedOutput consults the producer's output selectors to choose,
// per record, which of its sinks should receive it. Selectors are
// evaluated in declaration order; the union of names they produce
// determines, for each sink, whether it receives the record — so a
// sink targeted by more than one selector still receives the record
// exactly once per Collect call (spec.md §4.4; the source's dedup
// behavior is unspecified there, so this union-then-match strategy is
// the implementation-defined-but-deterministic choice documented in
// DESIGN.md).
//
// all mirrors broadcastingOutput's split: every downstream sink,
// main-stream and side-output alike, for the type-independent
// operations. main holds only the main-stream sinks (type T, same as
// the producer) and is what matches/Collect index into; edgeNames is
// parallel to main, not to all, since selector matching only ever
// steers main-stream records.
type directedOutput[T any] struct {
	statusGate
	operatorID string
	selectors  []OutputSelector[T]
	all        []sinkHandle
	main       []Output[T]
	edgeNames  [][]string
}

func newDirectedOutput[T any](
	operatorID string,
	status StreamStatusProvider,
	selectors []OutputSelector[T],
	all []sinkHandle,
	main []Output[T],
	edgeNames [][]string,
) *directedOutput[T] {
	return &directedOutput[T]{
		statusGate: newStatusGate(status),
		operatorID: operatorID,
		selectors:  selectors,
		all:        all,
		main:       main,
		edgeNames:  edgeNames,
	}
}

// matches returns the indices into main of sinks whose configured edge
// names intersect the union of every selector's result for value, in
// sink declaration order. A sink with no configured names never
// matches through the selector path (directed output is only used when
// selectors exist).
func (o *directedOutput[T]) matches(value T) []int {
	selected := map[string]struct{}{}
	for _, sel := range o.selectors {
		for _, name := range sel.Select(value) {
			selected[name] = struct{}{}
		}
	}

	if len(selected) == 0 {
		return nil
	}

	out := make([]int, 0, len(o.main))
	for i, names := range o.edgeNames {
		for _, name := range names {
			if _, ok := selected[name]; ok {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Collect implements Output: a record whose selectors return an empty
// set is dropped without error (spec.md §8 boundary behavior).
func (o *directedOutput[T]) Collect(record *StreamRecord[T]) error {
	for _, idx := range o.matches(record.Value) {
		if err := o.main[idx].Collect(record); err != nil {
			return err
		}
	}
	return nil
}

// CollectSideOutput implements Output. Side-output routing bypasses
// selector matching (selectors only steer the main stream); it simply
// forwards to every sink, which each apply their own tag filter.
func (o *directedOutput[T]) CollectSideOutput(tag AnyOutputTag, record any) error {
	for _, sink := range o.all {
		if err := sink.CollectSideOutput(tag, record); err != nil {
			return err
		}
	}
	return nil
}

// EmitWatermark implements Output.
func (o *directedOutput[T]) EmitWatermark(mark Watermark) error {
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

// EmitLatencyMarker implements Output: forwarded to every sink — a
// directed output's fan-out is content-dependent, so there is no safe
// fixed sampling choice the way broadcasting output has.
func (o *directedOutput[T]) EmitLatencyMarker(marker *LatencyMarker) error {
	for _, sink := range o.all {
		if err := sink.EmitLatencyMarker(marker); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Output.
func (o *directedOutput[T]) Close() error {
	var first error
	for _, sink := range o.all {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WatermarkGauge implements Output.
func (o *directedOutput[T]) WatermarkGauge() WatermarkGauge { return o.watermarkGauge() }

// copyingDirectedOutput applies the same "skip the copy for the last
// recipient" optimization as copyingBroadcastingOutput, computed over
// the main-stream sinks that actually matched this record.
type copyingDirectedOutput[T any] struct {
	*directedOutput[T]
}

func newCopyingDirectedOutput[T any](
	operatorID string,
	status StreamStatusProvider,
	selectors []OutputSelector[T],
	all []sinkHandle,
	main []Output[T],
	edgeNames [][]string,
) *copyingDirectedOutput[T] {
	return &copyingDirectedOutput[T]{directedOutput: newDirectedOutput(operatorID, status, selectors, all, main, edgeNames)}
}

func (o *copyingDirectedOutput[T]) Collect(record *StreamRecord[T]) error {
	matched := o.matches(record.Value)
	last := len(matched) - 1
	for i, idx := range matched {
		r := record
		if i != last {
			r = record.ShallowCopy()
		}
		if err := o.main[idx].Collect(r); err != nil {
			return err
		}
	}
	return nil
}
