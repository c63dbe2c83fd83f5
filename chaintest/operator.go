package chaintest

import (
	"sync"

	"github.com/google/uuid"

	chain "github.com/mirrorstream/chain"
)

// RecordingOperator is a synthetic, one-input chain.Operator that
// applies an optional transform to every element it sees and remembers
// everything it was asked to process, so a test can assert on the
// sequence of calls a chaining output drove into it (SPEC_FULL §2.1).
// Construct it with NewRecordingOperator: the zero value has no metric
// group, so MetricGroup and NumRecordsIn cannot be used on it.
type RecordingOperator[T any] struct {
	// ID identifies the operator for MetricGroup attribution and test
	// failure messages. If empty, NewRecordingOperator assigns a
	// random one.
	ID string
	// Transform is applied to each element in ProcessElement before it
	// is appended to Received and written to Output (if set). A nil
	// Transform passes the value through unchanged.
	Transform func(T) T
	// Output, if set, receives every transformed record via Collect,
	// letting a test chain two RecordingOperators together without a
	// full Builder.
	Output chain.Output[T]

	metrics *RecordingMetricGroup

	mu            sync.Mutex
	received      []T
	keyContext    []T
	watermarks    []chain.Watermark
	latencyMarks  []*chain.LatencyMarker
	closed        bool
	preBarrierIDs []int64
}

// NewRecordingOperator returns a ready-to-use RecordingOperator. An
// empty id is replaced with a random uuid so test failure output can
// still name the operator unambiguously.
func NewRecordingOperator[T any](id string, transform func(T) T) *RecordingOperator[T] {
	if id == "" {
		id = uuid.NewString()
	}
	return &RecordingOperator[T]{ID: id, Transform: transform, metrics: NewRecordingMetricGroup()}
}

// ProcessElement implements chain.Operator.
func (o *RecordingOperator[T]) ProcessElement(record *chain.StreamRecord[T]) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	value := record.Value
	if o.Transform != nil {
		value = o.Transform(value)
	}
	o.received = append(o.received, value)

	if o.Output != nil {
		return o.Output.Collect(chain.NewStreamRecord(value))
	}
	return nil
}

// ProcessWatermark implements chain.Operator.
func (o *RecordingOperator[T]) ProcessWatermark(mark chain.Watermark) error {
	o.mu.Lock()
	o.watermarks = append(o.watermarks, mark)
	o.mu.Unlock()
	if o.Output != nil {
		return o.Output.EmitWatermark(mark)
	}
	return nil
}

// ProcessLatencyMarker implements chain.Operator.
func (o *RecordingOperator[T]) ProcessLatencyMarker(marker *chain.LatencyMarker) error {
	o.mu.Lock()
	o.latencyMarks = append(o.latencyMarks, marker)
	o.mu.Unlock()
	if o.Output != nil {
		return o.Output.EmitLatencyMarker(marker)
	}
	return nil
}

// SetKeyContextElement1 implements chain.Operator.
func (o *RecordingOperator[T]) SetKeyContextElement1(record *chain.StreamRecord[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keyContext = append(o.keyContext, record.Value)
}

// Close implements chain.Operator.
func (o *RecordingOperator[T]) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.Output != nil {
		return o.Output.Close()
	}
	return nil
}

// PrepareSnapshotPreBarrier implements chain.Operator.
func (o *RecordingOperator[T]) PrepareSnapshotPreBarrier(checkpointID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.preBarrierIDs = append(o.preBarrierIDs, checkpointID)
	return nil
}

// MetricGroup implements chain.Operator.
func (o *RecordingOperator[T]) MetricGroup() chain.MetricGroup { return o.metrics }

// Received returns every value ProcessElement has observed so far, in
// order.
func (o *RecordingOperator[T]) Received() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]T, len(o.received))
	copy(out, o.received)
	return out
}

// NumRecordsIn returns the numRecordsIn counter a chainingOutput bound
// to this operator would have incremented, read back through the
// operator's own MetricGroup.
func (o *RecordingOperator[T]) NumRecordsIn() int64 { return o.metrics.CounterValue("numRecordsIn") }

// Watermarks returns every watermark ProcessWatermark has observed.
func (o *RecordingOperator[T]) Watermarks() []chain.Watermark {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]chain.Watermark, len(o.watermarks))
	copy(out, o.watermarks)
	return out
}

// Closed reports whether Close has been called.
func (o *RecordingOperator[T]) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// BoundedRecordingOperator wraps a RecordingOperator with the
// BoundedOneInput capability, so Controller.EndInput's finalization
// pass (spec.md §4.7) has something to invoke.
type BoundedRecordingOperator[T any] struct {
	*RecordingOperator[T]

	mu       sync.Mutex
	endCalls int
}

// NewBoundedRecordingOperator returns a ready-to-use
// BoundedRecordingOperator.
func NewBoundedRecordingOperator[T any](id string, transform func(T) T) *BoundedRecordingOperator[T] {
	return &BoundedRecordingOperator[T]{RecordingOperator: NewRecordingOperator(id, transform)}
}

// EndInput implements chain.BoundedOneInput.
func (o *BoundedRecordingOperator[T]) EndInput() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endCalls++
	return nil
}

// EndInputCalls reports how many times EndInput has been invoked.
func (o *BoundedRecordingOperator[T]) EndInputCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.endCalls
}

// TwoInputRecordingOperator is a synthetic two-input head operator
// implementing chain.TwoInputOperator and chain.BoundedMultiInput, for
// exercising Controller's two-input end-of-input state machine
// (spec.md §4.7, scenario D).
type TwoInputRecordingOperator[T1, T2 any] struct {
	metrics *RecordingMetricGroup

	mu             sync.Mutex
	received1      []T1
	received2      []T2
	endInputCalls  []int
	closed         bool
}

// NewTwoInputRecordingOperator returns a ready-to-use
// TwoInputRecordingOperator.
func NewTwoInputRecordingOperator[T1, T2 any]() *TwoInputRecordingOperator[T1, T2] {
	return &TwoInputRecordingOperator[T1, T2]{metrics: NewRecordingMetricGroup()}
}

func (o *TwoInputRecordingOperator[T1, T2]) ProcessElement1(record *chain.StreamRecord[T1]) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received1 = append(o.received1, record.Value)
	return nil
}

func (o *TwoInputRecordingOperator[T1, T2]) ProcessElement2(record *chain.StreamRecord[T2]) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received2 = append(o.received2, record.Value)
	return nil
}

func (o *TwoInputRecordingOperator[T1, T2]) ProcessWatermark1(chain.Watermark) error { return nil }
func (o *TwoInputRecordingOperator[T1, T2]) ProcessWatermark2(chain.Watermark) error { return nil }
func (o *TwoInputRecordingOperator[T1, T2]) ProcessLatencyMarker1(*chain.LatencyMarker) error {
	return nil
}
func (o *TwoInputRecordingOperator[T1, T2]) ProcessLatencyMarker2(*chain.LatencyMarker) error {
	return nil
}
func (o *TwoInputRecordingOperator[T1, T2]) SetKeyContextElement1(*chain.StreamRecord[T1]) {}
func (o *TwoInputRecordingOperator[T1, T2]) SetKeyContextElement2(*chain.StreamRecord[T2]) {}

func (o *TwoInputRecordingOperator[T1, T2]) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *TwoInputRecordingOperator[T1, T2]) PrepareSnapshotPreBarrier(int64) error { return nil }
func (o *TwoInputRecordingOperator[T1, T2]) MetricGroup() chain.MetricGroup        { return o.metrics }

// EndInput implements chain.BoundedMultiInput.
func (o *TwoInputRecordingOperator[T1, T2]) EndInput(inputID int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endInputCalls = append(o.endInputCalls, inputID)
	return nil
}

// EndInputCalls returns every inputID EndInput has been called with,
// in order.
func (o *TwoInputRecordingOperator[T1, T2]) EndInputCalls() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int, len(o.endInputCalls))
	copy(out, o.endInputCalls)
	return out
}

// Received1 returns every value seen on input 1.
func (o *TwoInputRecordingOperator[T1, T2]) Received1() []T1 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]T1, len(o.received1))
	copy(out, o.received1)
	return out
}
