package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorstream/chain/chaintest"
)

// Scenario A — single chain, object reuse enabled (spec.md §8).
func TestScenarioA_SingleChainObjectReuse(t *testing.T) {
	writer := chaintest.NewRecordWriter[int]()
	status := chaintest.NewStaticStatusProvider(StatusActive)

	netOut := newNetworkWriterOutput[int]("N", writer, status, nil)
	c := chaintest.NewRecordingOperator[int]("C", func(v int) int { return v + 1 })
	c.Output = netOut

	chainingOut := newChainingOutput[int]("H", c, status, nil)
	h := chaintest.NewRecordingOperator[int]("H", func(v int) int { return v })
	h.Output = chainingOut

	entry := newChainingOutput[int]("entry", h, status, nil)

	for _, v := range []int{1, 2, 3} {
		require.NoError(t, entry.Collect(NewStreamRecord(v)))
	}

	assert.Equal(t, int64(3), h.NumRecordsIn())
	assert.Equal(t, int64(3), c.NumRecordsIn())

	var got []int
	for _, r := range writer.Records() {
		got = append(got, r.Value)
	}
	assert.Equal(t, []int{2, 3, 4}, got)
}

// Scenario B — copying fan-out, object reuse disabled (spec.md §8).
func TestScenarioB_CopyingFanOut(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusActive)

	type marker struct{ seen int }
	a := chaintest.NewRecordingOperator[*marker]("a", nil)
	b := chaintest.NewRecordingOperator[*marker]("b", nil)
	c := chaintest.NewRecordingOperator[*marker]("c", nil)

	outA := newChainingOutput[*marker]("producer", a, status, nil)
	outB := newChainingOutput[*marker]("producer", b, status, nil)
	outC := newChainingOutput[*marker]("producer", c, status, nil)

	fanOut := newCopyingBroadcastingOutput[*marker](
		"producer", status,
		[]sinkHandle{outA, outB, outC},
		[]Output[*marker]{outA, outB, outC},
	)

	original := &marker{}
	require.NoError(t, fanOut.Collect(NewStreamRecord(original)))

	recvA := a.Received()
	recvB := b.Received()
	recvC := c.Received()
	require.Len(t, recvA, 1)
	require.Len(t, recvB, 1)
	require.Len(t, recvC, 1)

	// ShallowCopy only copies the envelope, not the pointed-to value,
	// so every recipient observes the same *marker regardless of
	// whether its envelope was copied; what the copying optimization
	// buys is that the two non-last sinks cannot mutate the producer's
	// own envelope (timestamp), which outC's does share.
	assert.Same(t, original, recvA[0])
	assert.Same(t, original, recvB[0])
	assert.Same(t, original, recvC[0])

	assert.Equal(t, int64(1), a.NumRecordsIn())
	assert.Equal(t, int64(1), b.NumRecordsIn())
	assert.Equal(t, int64(1), c.NumRecordsIn())
}

// captureOutput is a minimal Output[T] double that just remembers the
// exact *StreamRecord[T] pointer it was handed, used to verify
// broadcasting/directed output's "skip the copy for the last
// recipient" optimization at the envelope level, independent of the
// value the envelope wraps (spec.md §8 property 2).
type captureOutput[T any] struct {
	gauge  *watermarkGauge
	record *StreamRecord[T]
}

func newCaptureOutput[T any]() *captureOutput[T] { return &captureOutput[T]{gauge: newWatermarkGauge()} }

func (c *captureOutput[T]) Collect(record *StreamRecord[T]) error { c.record = record; return nil }
func (c *captureOutput[T]) CollectSideOutput(AnyOutputTag, any) error { return nil }
func (c *captureOutput[T]) EmitWatermark(mark Watermark) error { c.gauge.set(mark); return nil }
func (c *captureOutput[T]) EmitLatencyMarker(*LatencyMarker) error { return nil }
func (c *captureOutput[T]) Close() error { return nil }
func (c *captureOutput[T]) WatermarkGauge() WatermarkGauge { return c.gauge }

// TestCopyingBroadcastingOutputSkipsLastCopy verifies spec.md §8
// property 2 directly at the envelope level: with N>0 downstreams,
// exactly N-1 receive a copied envelope and the last receives the
// original.
func TestCopyingBroadcastingOutputSkipsLastCopy(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusActive)
	c1, c2, c3 := newCaptureOutput[int](), newCaptureOutput[int](), newCaptureOutput[int]()

	fanOut := newCopyingBroadcastingOutput[int](
		"producer", status,
		[]sinkHandle{c1, c2, c3},
		[]Output[int]{c1, c2, c3},
	)

	original := NewStreamRecord(42)
	require.NoError(t, fanOut.Collect(original))

	assert.NotSame(t, original, c1.record)
	assert.NotSame(t, original, c2.record)
	assert.Same(t, original, c3.record)
	assert.Equal(t, 42, c1.record.Value)
	assert.Equal(t, 42, c2.record.Value)
}

// Scenario C — watermark gating under IDLE/ACTIVE status (spec.md §8).
func TestScenarioC_WatermarkGating(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusIdle)
	downstream := chaintest.NewRecordingOperator[int]("downstream", nil)
	out := newChainingOutput[int]("producer", downstream, status, nil)

	require.NoError(t, out.EmitWatermark(100))
	assert.Equal(t, Watermark(100), out.WatermarkGauge().Get())
	assert.Empty(t, downstream.Watermarks())

	status.Set(StatusActive)
	require.NoError(t, out.EmitWatermark(200))
	assert.Equal(t, Watermark(200), out.WatermarkGauge().Get())
	assert.Equal(t, []Watermark{200}, downstream.Watermarks())
}

// Scenario D — two-input end-of-input state machine (spec.md §8).
func TestScenarioD_TwoInputEndOfInput(t *testing.T) {
	head := chaintest.NewTwoInputRecordingOperator[int, string]()
	tail := chaintest.NewBoundedRecordingOperator[int](t.Name(), nil)

	ctrl := NewTwoInputController[int, string](
		[]operatorHandle{tail, head},
		nil,
		newDiscardingOutput[int](),
		newDiscardingOutput[string](),
		head,
	)

	require.NoError(t, ctrl.EndInput(1))
	assert.Equal(t, []int{1}, head.EndInputCalls())
	assert.Equal(t, 0, tail.EndInputCalls())

	require.NoError(t, ctrl.EndInput(2))
	assert.Equal(t, []int{1, 2}, head.EndInputCalls())
	assert.Equal(t, 1, tail.EndInputCalls())

	// Idempotence: repeated calls after completion are no-ops.
	require.NoError(t, ctrl.EndInput(1))
	require.NoError(t, ctrl.EndInput(2))
	assert.Equal(t, []int{1, 2}, head.EndInputCalls())
	assert.Equal(t, 1, tail.EndInputCalls())
}

// Scenario E — side-output type mismatch (spec.md §8).
func TestScenarioE_SideOutputTypeMismatch(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusActive)
	downstream := chaintest.NewRecordingOperator[string]("sideConsumer", nil)
	tag := OutputTag[string]{ID: "T"}
	sink := newChainingOutput[string]("producer", downstream, status, Erase(tag))

	err := sink.CollectSideOutput(Erase(tag), NewStreamRecord(42))
	require.Error(t, err)

	var chainedErr *ChainedOperatorError
	require.ErrorAs(t, err, &chainedErr)

	var sideErr *SideOutputTypeError
	require.ErrorAs(t, err, &sideErr)
	assert.Equal(t, "T", sideErr.TagID)
	assert.Contains(t, err.Error(), "multiple OutputTags with different types but identical names")
}

// Scenario F — construction failure cleans up already-created network
// writer outputs (spec.md §8). Build closes whatever network outputs
// it had already wired by the time a later sibling's construction
// fails, and still returns them.
func TestScenarioF_ConstructionFailureClosesNetworkOutputs(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusActive)
	wOK := chaintest.NewRecordWriter[int]()

	childOK := &StreamConfig[int, int]{
		OperatorID: "childOK",
		Factory: func(out Output[int]) Operator[int] {
			return chaintest.NewRecordingOperator[int]("childOK", nil)
		},
		NonChainedOutputs: []StreamEdge{{SourceID: "childOK", TargetID: "sinkOK"}},
	}
	childFail := &StreamConfig[int, int]{
		OperatorID: "childFail",
		Factory: func(out Output[int]) Operator[int] {
			return chaintest.NewRecordingOperator[int]("childFail", nil)
		},
		NonChainedOutputs: []StreamEdge{{SourceID: "childFail", TargetID: "sinkMissing"}},
	}

	root := &StreamConfig[int, int]{
		OperatorID: "root",
		Factory: func(out Output[int]) Operator[int] {
			return chaintest.NewRecordingOperator[int]("root", nil)
		},
		ChainedOutputs: []StreamEdge{
			{SourceID: "root", TargetID: "childOK"},
			{SourceID: "root", TargetID: "childFail"},
		},
		Chained: []ChainedSubtree[int]{
			Chain[int, int]("root", true, nil, nil, childOK),
			Chain[int, int]("root", true, nil, nil, childFail),
		},
	}

	sinkOK := newNetworkWriterOutput[int]("sinkOK", wOK, status, nil)

	sinks := &NetworkSinkSet{
		Chained: []*NetworkSinkSet{
			{Sinks: []sinkHandle{sinkOK}},
			{ /* childFail declares 1 non-chained output but we supply 0: mismatch */ },
		},
	}

	_, _, streamOutputs, err := Build[int, int](status, root, sinks, true)
	require.Error(t, err)

	var constructionErr *ChainConstructionError
	require.ErrorAs(t, err, &constructionErr)

	// childOK's network output was already wired before childFail blew
	// up, so Build closed it and returned it; closing it again here
	// succeeds because Close is idempotent.
	require.Len(t, streamOutputs, 1)
	for _, out := range streamOutputs {
		require.NoError(t, out.Close())
	}
	assert.True(t, wOK.Closed())
}

// ReleaseOutputs must never throw and must close every network output,
// even when one of them fails (spec.md §7, §8 property 6).
func TestReleaseOutputsClosesAllAndNeverThrows(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusActive)
	w1 := chaintest.NewRecordWriter[int]()
	w2 := chaintest.NewRecordWriter[int]()

	sink1 := newNetworkWriterOutput[int]("sink1", w1, status, nil)
	sink2 := newNetworkWriterOutput[int]("sink2", w2, status, nil)

	ctrl := NewController[int](nil, []NetworkOutput{sink1, sink2}, newDiscardingOutput[int]())

	assert.NotPanics(t, func() { ctrl.ReleaseOutputs() })
	assert.True(t, w1.Closed())
	assert.True(t, w2.Closed())
}

// ToggleStreamStatus broadcasts exactly one event per genuine change,
// and is a no-op when toggled to the status already in effect (spec.md
// §8 round-trip property).
func TestToggleStreamStatusIdempotence(t *testing.T) {
	w := chaintest.NewRecordWriter[int]()
	status := chaintest.NewStaticStatusProvider(StatusActive)
	sink := newNetworkWriterOutput[int]("sink", w, status, nil)

	ctrl := NewController[int](nil, []NetworkOutput{sink}, newDiscardingOutput[int]())

	require.NoError(t, ctrl.ToggleStreamStatus(StatusIdle))
	require.NoError(t, ctrl.ToggleStreamStatus(StatusIdle))
	assert.Len(t, w.Events(), 1)

	require.NoError(t, ctrl.ToggleStreamStatus(StatusActive))
	assert.Len(t, w.Events(), 2)
}

// Directed output drops a record without error when every selector
// returns an empty set (spec.md §8 boundary behavior).
func TestDirectedOutputEmptySelectorDrops(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusActive)
	downstream := chaintest.NewRecordingOperator[int]("x", nil)
	sink := newChainingOutput[int]("producer", downstream, status, nil)

	noMatch := OutputSelectorFunc[int](func(int) []string { return nil })
	directed := newDirectedOutput[int](
		"producer", status,
		[]OutputSelector[int]{noMatch},
		[]sinkHandle{sink},
		[]Output[int]{sink},
		[][]string{{"x"}},
	)

	require.NoError(t, directed.Collect(NewStreamRecord(7)))
	assert.Empty(t, downstream.Received())
}

// Builder with a single non-chained output and no selectors returns
// the network writer output directly, without a broadcasting wrapper
// (spec.md §8 boundary behavior).
func TestBuilderSingleSuccessorFastPath(t *testing.T) {
	status := chaintest.NewStaticStatusProvider(StatusActive)
	w := chaintest.NewRecordWriter[int]()
	sink := newNetworkWriterOutput[int]("sink", w, status, nil)

	var wired Output[int]
	cfg := &StreamConfig[int, int]{
		OperatorID: "root",
		Factory: func(out Output[int]) Operator[int] {
			wired = out
			op := chaintest.NewRecordingOperator[int]("root", nil)
			op.Output = out
			return op
		},
		NonChainedOutputs: []StreamEdge{{SourceID: "root", TargetID: "sink"}},
	}
	sinks := &NetworkSinkSet{Sinks: []sinkHandle{sink}}

	op, _, _, err := Build[int, int](status, cfg, sinks, true)
	require.NoError(t, err)
	assert.Same(t, sink, wired)
	require.NoError(t, op.ProcessElement(NewStreamRecord(1)))
	assert.Len(t, w.Records(), 1)
}
