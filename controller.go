package chain

import (
	"sync/atomic"
	"time"
)

// headKind distinguishes a one-input head (or source) from a
// two-input head, driving which end-of-input transition the
// Controller follows in EndInput (spec.md §4.7).
type headKind int

const (
	headOneInput headKind = iota
	headTwoInput
)

// OperatorInfo is the static identity of one operator in the chain,
// used only for introspection (ControllerSnapshot); it plays no part
// in the hot per-record path.
type OperatorInfo struct {
	ID   string
	Type string
}

// ControllerSnapshot is a read-only, serializable view of a running
// Controller's state, consumed by the debug server and safe to build
// from another goroutine (spec.md §4.7.a / §5's narrow exception for
// stream status; Snapshot only reads published, immutable-after-build
// fields plus the atomically-guarded status).
type ControllerSnapshot struct {
	Operators      []OperatorInfo `json:"operators"`
	StreamStatus   string         `json:"stream_status"`
	FinishedInputs uint64         `json:"finished_inputs"`
	OutputCount    int            `json:"output_count"`
}

// Controller owns the assembled chain: every operator, every network
// writer output, and the sink the task's input reader writes into. It
// drives lifecycle, stream status, end-of-input, and checkpoint-event
// broadcast (spec.md §4.7). No two controllers may share an operator
// or a network writer output (spec.md §3 invariant).
//
// In is the element type of the chain's primary (first) input,
// exposed through GetChainEntryPoint. A two-input head's second input
// is exposed as a type-erased Output through GetSecondChainEntryPoint,
// since Go methods cannot carry an additional type parameter of their
// own the way the source system's generic method could; the caller,
// which built the two-input head and therefore knows its second input
// type statically, recovers it with a type assertion — the same
// erase-then-assert pattern AnyOutputTag and sinkHandle already use
// elsewhere in this package.
type Controller[In any] struct {
	allOperators    []operatorHandle // reverse-topological: last is head, first is deepest leaf
	streamOutputs   []NetworkOutput  // network writer outputs, in out-edge order
	chainEntryPoint Output[In]
	secondEntry     any // Output[In2] for a two-input head, else nil

	kind           headKind
	numHeadInputs  int
	headMultiInput BoundedMultiInput // non-nil iff the head also implements BoundedMultiInput

	status         atomic.Int32
	finishedInputs InputSelectionMask
}

// NewController assembles a Controller around a one-input (or source)
// chain: allOperators and streamOutputs are whatever Build returned,
// and entryPoint is the sink the task's input reader writes into.
func NewController[In any](allOperators []operatorHandle, streamOutputs []NetworkOutput, entryPoint Output[In]) *Controller[In] {
	c := &Controller[In]{
		allOperators:    allOperators,
		streamOutputs:   streamOutputs,
		chainEntryPoint: entryPoint,
		kind:            headOneInput,
		numHeadInputs:   1,
	}
	c.status.Store(int32(StatusActive))
	return c
}

// NewTwoInputController assembles a Controller around a two-input
// head chain. entryPoint1/entryPoint2 are the sinks the task's two
// input readers write into; multiInput is the head's BoundedMultiInput
// capability if it declares one, else nil.
func NewTwoInputController[In1, In2 any](
	allOperators []operatorHandle,
	streamOutputs []NetworkOutput,
	entryPoint1 Output[In1],
	entryPoint2 Output[In2],
	multiInput BoundedMultiInput,
) *Controller[In1] {
	c := &Controller[In1]{
		allOperators:    allOperators,
		streamOutputs:   streamOutputs,
		chainEntryPoint: entryPoint1,
		secondEntry:     entryPoint2,
		kind:            headTwoInput,
		numHeadInputs:   2,
		headMultiInput:  multiInput,
	}
	c.status.Store(int32(StatusActive))
	return c
}

// GetChainEntryPoint returns the sink used by the task's (primary)
// input reader to feed records into the head operator.
func (c *Controller[In]) GetChainEntryPoint() Output[In] { return c.chainEntryPoint }

// GetSecondChainEntryPoint returns the second input's sink for a
// two-input head, type-erased as any; ok is false for a one-input
// head. Callers recover the concrete Output[In2] with a type
// assertion.
func (c *Controller[In]) GetSecondChainEntryPoint() (sink any, ok bool) {
	return c.secondEntry, c.secondEntry != nil
}

// GetStreamStatus implements StreamStatusProvider and
// StreamStatusMaintainer: the current ACTIVE/IDLE status, read
// atomically so it may also be observed from another goroutine (the
// one exception to the task-thread-only rule, spec.md §5, §4.7.a).
func (c *Controller[In]) GetStreamStatus() StreamStatus {
	return StreamStatus(c.status.Load())
}

// ToggleStreamStatus implements StreamStatusMaintainer: if status
// differs from the current one, updates it and broadcasts a
// StreamStatusEvent on every network writer output. A toggle to the
// already-current status is a no-op — no event is emitted (spec.md
// §4.7, §8's idempotence property).
func (c *Controller[In]) ToggleStreamStatus(status StreamStatus) error {
	if StreamStatus(c.status.Load()) == status {
		return nil
	}
	c.status.Store(int32(status))
	for _, out := range c.streamOutputs {
		if err := out.BroadcastEvent(StreamStatusEvent{Status: status}); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastCheckpointBarrier broadcasts a single CheckpointBarrier
// value — the same object for every recipient — on every network
// writer output (spec.md §4.7).
func (c *Controller[In]) BroadcastCheckpointBarrier(checkpointID int64, timestamp time.Time, options CheckpointOptions) error {
	barrier := CheckpointBarrier{CheckpointID: checkpointID, Timestamp: timestamp, Options: options}
	for _, out := range c.streamOutputs {
		if err := out.BroadcastEvent(barrier); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastCheckpointCancelMarker broadcasts a checkpoint cancellation
// on every network writer output.
func (c *Controller[In]) BroadcastCheckpointCancelMarker(checkpointID int64) error {
	marker := CheckpointCancelMarker{CheckpointID: checkpointID}
	for _, out := range c.streamOutputs {
		if err := out.BroadcastEvent(marker); err != nil {
			return err
		}
	}
	return nil
}

// PrepareSnapshotPreBarrier invokes every operator's pre-barrier hook
// in head-to-tail order (highest index to lowest), per spec.md §4.7.
// This must complete on every operator before the caller broadcasts
// the checkpoint barrier itself.
func (c *Controller[In]) PrepareSnapshotPreBarrier(checkpointID int64) error {
	for i := len(c.allOperators) - 1; i >= 0; i-- {
		if err := c.allOperators[i].PrepareSnapshotPreBarrier(checkpointID); err != nil {
			return err
		}
	}
	return nil
}

// FlushOutputs flushes every network writer output, propagating the
// first failure encountered (spec.md §4.7).
func (c *Controller[In]) FlushOutputs() error {
	var first error
	for _, out := range c.streamOutputs {
		if err := out.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReleaseOutputs closes every network writer output unconditionally.
// It never returns an error or panics out to the caller: a failure
// closing one output is swallowed so every other output still gets a
// chance to close (spec.md §3 Lifecycles, §7 Release failure policy).
// Callers that want release failures observed should install a
// func(msg string) via SetReleaseLogger.
func (c *Controller[In]) ReleaseOutputs() {
	for _, out := range c.streamOutputs {
		releaseOne(out)
	}
}

func releaseOne(out NetworkOutput) {
	defer func() {
		if r := recover(); r != nil && releaseLogger != nil {
			releaseLogger(errPanicString(r))
		}
	}()
	if err := out.Close(); err != nil && releaseLogger != nil {
		releaseLogger(err.Error())
	}
}

// releaseLogger receives a message whenever ReleaseOutputs swallows a
// failure; nil means failures are dropped silently. SetReleaseLogger
// installs one (the controller package has no direct slog dependency
// of its own, per spec.md §1's scope boundary around logging).
var releaseLogger func(msg string)

// SetReleaseLogger installs a sink for failures ReleaseOutputs would
// otherwise swallow. Pass nil to go back to dropping them silently.
func SetReleaseLogger(fn func(msg string)) { releaseLogger = fn }

func errPanicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic during releaseOutputs"
}

// EndInput runs the end-of-input state machine for inputID (spec.md
// §4.7): a no-op once every input has already finished; for a
// two-input head, marks inputID and (if the head implements
// BoundedMultiInput) invokes its per-input EndInput, only finalizing
// once every input is marked; for a one-input head or a source,
// directly marks every input finished. Finalization invokes every
// BoundedOneInput operator in the chain, head-to-tail.
func (c *Controller[In]) EndInput(inputID int) error {
	if c.finishedInputs.AllSelected(c.numHeadInputs) {
		return nil
	}

	switch c.kind {
	case headTwoInput:
		if c.finishedInputs.Has(inputID) {
			return nil
		}
		if c.headMultiInput != nil {
			if err := c.headMultiInput.EndInput(inputID); err != nil {
				return err
			}
		}
		c.finishedInputs = c.finishedInputs.Mark(inputID)
		if !c.finishedInputs.AllSelected(c.numHeadInputs) {
			return nil
		}
	default:
		c.finishedInputs = allInputsSelected
	}

	return c.finalizeEndOfInput()
}

func (c *Controller[In]) finalizeEndOfInput() error {
	for i := len(c.allOperators) - 1; i >= 0; i-- {
		if bounded, ok := AsBoundedOneInput(c.allOperators[i]); ok {
			if err := bounded.EndInput(); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetAllOperators returns the chain's flat operator list in
// reverse-topological order: the last element is the head, the first
// is a deepest leaf (spec.md §4.6, §9).
func (c *Controller[In]) GetAllOperators() []operatorHandle { return c.allOperators }

// GetStreamOutputs returns every network writer output, in out-edge
// order.
func (c *Controller[In]) GetStreamOutputs() []NetworkOutput { return c.streamOutputs }

// GetHeadOperator returns the chain's root operator.
func (c *Controller[In]) GetHeadOperator() operatorHandle {
	if len(c.allOperators) == 0 {
		return nil
	}
	return c.allOperators[len(c.allOperators)-1]
}

// GetChainLength returns the number of operators fused into this
// chain.
func (c *Controller[In]) GetChainLength() int { return len(c.allOperators) }

// Snapshot returns a read-only view of the controller's current state,
// safe to call from a goroutine other than the task thread (spec.md
// §4.7.a, §5).
func (c *Controller[In]) Snapshot() ControllerSnapshot {
	infos := make([]OperatorInfo, 0, len(c.allOperators))
	for _, op := range c.allOperators {
		if id, ok := op.(interface {
			OperatorID() string
			OperatorType() string
		}); ok {
			infos = append(infos, OperatorInfo{ID: id.OperatorID(), Type: id.OperatorType()})
		}
	}
	return ControllerSnapshot{
		Operators:      infos,
		StreamStatus:   c.GetStreamStatus().String(),
		FinishedInputs: uint64(c.finishedInputs),
		OutputCount:    len(c.streamOutputs),
	}
}
