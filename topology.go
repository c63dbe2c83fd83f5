package chain

// PartitionerDescriptor names the partitioning strategy an edge uses
// when it crosses a task boundary (forward, hash, rebalance, ...). The
// chain never interprets it — it is opaque configuration handed to the
// network layer that owns the RecordWriter for the edge.
type PartitionerDescriptor struct {
	Kind string
	Args map[string]any
}

// SerializerDescriptor names the codec an edge uses to serialize
// records, again opaque to the chain itself: the builder does not read
// it. Defensive copies in copying chaining outputs use the Serializer
// passed to Chain instead (spec.md §4.6).
type SerializerDescriptor struct {
	Kind string
	Args map[string]any
}

// StreamEdge is a static topology edge: {source operator id, target
// operator id, optional side-output tag id, partitioner descriptor,
// serializer descriptor}. It is read-only after construction.
type StreamEdge struct {
	SourceID     string
	TargetID     string
	OutputTagID  string // empty means main stream
	Partitioner  PartitionerDescriptor
	Serializer   SerializerDescriptor
	IsSideOutput bool
}

// OutputSelector maps a record's presence to zero or more named output
// streams. Only non-chained/chained edges whose configured name
// matches an entry a selector returns receive the record; see
// spec.md §4.4.
type OutputSelector[T any] interface {
	Select(value T) []string
}

// OutputSelectorFunc adapts a plain function to OutputSelector.
type OutputSelectorFunc[T any] func(value T) []string

// Select implements OutputSelector.
func (f OutputSelectorFunc[T]) Select(value T) []string { return f(value) }

// ChainedSubtree recursively constructs a chained successor and
// returns it already wrapped as this producer's Output[Out] — that is,
// as a chainingOutput (or copyingChainingOutput) bound to the
// successor's own operator. Out is the producer's element type, which
// by construction equals the successor's own input type; a distinct
// successor element type (its own Out2) is fully hidden inside the
// closure, since Go methods cannot carry their own type parameters and
// StreamConfig cannot otherwise hold a heterogeneous list of
// differently-typed successors and later recover their types
// generically. Chain (builder.go) produces these closures at topology
// assembly time, when the concrete successor type is still known
// statically; parentOperatorID, objectReuse, and ownTag are captured by
// the closure at that point rather than passed at call time.
type ChainedSubtree[Out any] func(
	status StreamStatusProvider,
	sinks *NetworkSinkSet,
) (sink Output[Out], operators []operatorHandle, streamOutputs []NetworkOutput, err error)

// StreamConfig is the per-operator static configuration consumed by
// the chain builder. In is the element type the operator consumes via
// ProcessElement; Out is the element type it produces on its main
// stream, which is also the input type of every main-stream chained
// successor (spec.md §3, §4.6).
type StreamConfig[In, Out any] struct {
	// OperatorID uniquely identifies the operator within the task.
	OperatorID string
	// OperatorType is a human-readable label, attached to metrics and
	// logs (e.g. "map", "filter", "window").
	OperatorType string
	// Factory instantiates the operator this config describes, given
	// the Output it should write into.
	Factory func(output Output[Out]) Operator[In]
	// ChainedOutputs describes outgoing edges to operators fused into
	// this same task; each has a corresponding entry in Chained below,
	// in the same order.
	ChainedOutputs []StreamEdge
	// Chained holds, for each entry in ChainedOutputs, the closure that
	// builds that successor and returns it pre-wrapped as an
	// Output[Out] (see ChainedSubtree).
	Chained []ChainedSubtree[Out]
	// NonChainedOutputs describes outgoing edges that leave the task
	// through a network writer, positionally aligned with the
	// RecordWriters supplied via NetworkSinkSet.Sinks at build time
	// (spec.md §4.6, §9).
	NonChainedOutputs []StreamEdge
	// Selectors are consulted, in order, when this operator's output
	// fans out to more than one edge by name; nil or empty means no
	// selection (fast single/broadcast path).
	Selectors []OutputSelector[Out]
	// EdgeNames maps each entry of the concatenation of ChainedOutputs
	// then NonChainedOutputs to the name(s) an OutputSelector must
	// produce for that edge to receive a record. An edge with no names
	// never receives records through the selector path; side-output
	// edges are not steered by selectors at all. Only consulted when
	// Selectors is non-empty.
	EdgeNames [][]string
	// Serializer deep-copies an Out value. Build does not read it:
	// copying chaining outputs use the Serializer passed to Chain, and
	// copying fan-out outputs make shallow envelope copies only.
	Serializer Serializer[Out]
}

// NetworkSinkSet supplies the RecordWriters a StreamConfig tree needs
// for its NonChainedOutputs, mirroring the tree's own shape: Sinks is
// positionally aligned with the owning StreamConfig's
// NonChainedOutputs, and Chained supplies the corresponding subtree for
// each entry in that StreamConfig's ChainedOutputs, in the same order.
// A length mismatch at any level is reported as a *ChainConstructionError
// rather than a slice index panic (spec.md §9's resolved "positional
// record-writer alignment" open question).
type NetworkSinkSet struct {
	Sinks   []sinkHandle
	Chained []*NetworkSinkSet
}
