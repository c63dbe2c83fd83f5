package chain

// operatorHandle is the type-independent subset of Operator[T] the
// controller needs to hold a single homogeneous slice across operators
// of differing element types: every Operator[T], for every T,
// satisfies it structurally (spec.md §4.7).
type operatorHandle interface {
	Close() error
	PrepareSnapshotPreBarrier(checkpointID int64) error
	MetricGroup() MetricGroup
}

// operatorUnwrapper is implemented by operatorHandle wrappers (such as
// builtOperator) that hold a concrete Operator[T] underneath. It lets
// AsBoundedOneInput/AsBoundedMultiInput see through the wrapper to
// query the real operator's optional capabilities, without the
// wrapper itself having to re-declare every optional interface.
type operatorUnwrapper interface {
	unwrap() any
}

// builtOperator pairs an operator's static identity (spec.md §6's
// metrics attributes, §4.7.a's snapshot) with the operatorHandle the
// controller drives it through. It is what the builder actually
// appends to the chain's flat, reverse-topological operator list.
type builtOperator struct {
	id  string
	typ string
	op  operatorHandle
}

func (b *builtOperator) Close() error                                  { return b.op.Close() }
func (b *builtOperator) PrepareSnapshotPreBarrier(id int64) error       { return b.op.PrepareSnapshotPreBarrier(id) }
func (b *builtOperator) MetricGroup() MetricGroup                      { return b.op.MetricGroup() }
func (b *builtOperator) OperatorID() string                            { return b.id }
func (b *builtOperator) OperatorType() string                          { return b.typ }
func (b *builtOperator) unwrap() any                                   { return b.op }

// Chain adapts a chained successor's StreamConfig into the closure
// shape a producer's StreamConfig.Chained field expects. parentOperatorID,
// objectReuse, ownTag, and serializer are all static topology decisions
// and are captured here, at assembly time, when the successor's own
// (In, Out) type parameters are still known statically — see
// ChainedSubtree's doc comment for why this closure exists at all.
func Chain[In, Out any](
	parentOperatorID string,
	objectReuse bool,
	ownTag AnyOutputTag,
	serializer Serializer[In],
	child *StreamConfig[In, Out],
) ChainedSubtree[In] {
	return func(status StreamStatusProvider, sinks *NetworkSinkSet) (Output[In], []operatorHandle, []NetworkOutput, error) {
		op, ops, streamOutputs, err := build(status, child, sinks, objectReuse)
		if err != nil {
			return nil, ops, streamOutputs, err
		}

		var sink Output[In]
		if objectReuse || serializer == nil {
			sink = newChainingOutput[In](parentOperatorID, op, status, ownTag)
		} else {
			sink = newCopyingChainingOutput[In](parentOperatorID, op, status, ownTag, serializer)
		}

		// sink is what will invoke op.ProcessElement from its upstream
		// producer; its gauge is therefore op's currentInputWatermark
		// (spec.md §4.6 step 5, §6).
		if mb, ok := sink.(metricBindable); ok {
			mb.bindMetricGauge(op.MetricGroup().Gauge("currentInputWatermark"))
		}

		return sink, ops, streamOutputs, nil
	}
}

// discardingOutput is the terminal sink used when a producer has no
// configured successor at all: every emit is dropped, every close and
// watermark call succeeds trivially. The builder falls back to it
// rather than leaving Output nil, so operator code never has to guard
// against a missing sink (spec.md §4.6).
type discardingOutput[T any] struct {
	watermarkObserver
}

func newDiscardingOutput[T any]() *discardingOutput[T] {
	return &discardingOutput[T]{watermarkObserver: newWatermarkObserver()}
}

func (o *discardingOutput[T]) Collect(*StreamRecord[T]) error            { return nil }
func (o *discardingOutput[T]) CollectSideOutput(AnyOutputTag, any) error { return nil }
func (o *discardingOutput[T]) EmitWatermark(mark Watermark) error        { o.publish(mark); return nil }
func (o *discardingOutput[T]) EmitLatencyMarker(*LatencyMarker) error    { return nil }
func (o *discardingOutput[T]) Close() error                              { return nil }
func (o *discardingOutput[T]) WatermarkGauge() WatermarkGauge            { return o.watermarkGauge() }

// Build constructs the full operator chain rooted at config and
// returns its entry-point operator, the flat chain operator list in
// reverse-topological order (index 0 is the deepest leaf, the last
// index is config's own operator), and every network output the
// subtree reaches. On failure it closes every network output already
// wired before the failing edge (close errors are swallowed, as in
// Controller.ReleaseOutputs) and still returns those outputs and the
// operators built so far (spec.md §4.6, §7).
func Build[In, Out any](status StreamStatusProvider, config *StreamConfig[In, Out], sinks *NetworkSinkSet, objectReuse bool) (Operator[In], []operatorHandle, []NetworkOutput, error) {
	op, ops, streamOutputs, err := build(status, config, sinks, objectReuse)
	if err != nil {
		for _, out := range streamOutputs {
			releaseOne(out)
		}
	}
	return op, ops, streamOutputs, err
}

func build[In, Out any](status StreamStatusProvider, config *StreamConfig[In, Out], sinks *NetworkSinkSet, objectReuse bool) (Operator[In], []operatorHandle, []NetworkOutput, error) {
	if sinks == nil {
		sinks = &NetworkSinkSet{}
	}
	if len(sinks.Sinks) != len(config.NonChainedOutputs) {
		return nil, nil, nil, &ChainConstructionError{
			Stage: config.OperatorID,
			Cause: errSinkCountMismatch(config.OperatorID, len(config.NonChainedOutputs), len(sinks.Sinks)),
		}
	}
	if len(sinks.Chained) != len(config.Chained) {
		return nil, nil, nil, &ChainConstructionError{
			Stage: config.OperatorID,
			Cause: errSinkCountMismatch(config.OperatorID, len(config.Chained), len(sinks.Chained)),
		}
	}

	var (
		all           []sinkHandle
		main          []Output[Out]
		edgeNames     [][]string
		operators     []operatorHandle
		streamOutputs []NetworkOutput
	)

	for i, sub := range config.ChainedOutputs {
		output, nestedOps, nested, err := config.Chained[i](status, sinks.Chained[i])
		operators = append(operators, nestedOps...)
		streamOutputs = append(streamOutputs, nested...)
		if err != nil {
			return nil, operators, streamOutputs, err
		}
		all = append(all, output)
		if !sub.IsSideOutput {
			main = append(main, output)
			edgeNames = append(edgeNames, config.edgeNamesFor(i))
		}
	}

	for i, edge := range config.NonChainedOutputs {
		sink := sinks.Sinks[i]
		if netOut, ok := sink.(NetworkOutput); ok {
			streamOutputs = append(streamOutputs, netOut)
		}
		all = append(all, sink)
		if !edge.IsSideOutput {
			mainSink, ok := sink.(Output[Out])
			if !ok {
				return nil, operators, streamOutputs, &ChainConstructionError{
					Stage: config.OperatorID,
					Cause: errTypeMismatch,
				}
			}
			main = append(main, mainSink)
			edgeNames = append(edgeNames, config.edgeNamesFor(len(config.ChainedOutputs)+i))
		}
	}

	output := assembleOutput(config, status, objectReuse, all, main, edgeNames)
	op := config.Factory(output)

	// output is this operator's own fan-out sink, so its gauge is op's
	// currentOutputWatermark (spec.md §4.6 step 5, §6).
	if mb, ok := output.(metricBindable); ok {
		mb.bindMetricGauge(op.MetricGroup().Gauge("currentOutputWatermark"))
	}

	operators = append(operators, &builtOperator{id: config.OperatorID, typ: config.OperatorType, op: op})
	return op, operators, streamOutputs, nil
}

// edgeNamesFor returns the configured selector names for the edge at
// position idx in the concatenation of ChainedOutputs then
// NonChainedOutputs, or nil if EdgeNames was not supplied for it.
func (config *StreamConfig[In, Out]) edgeNamesFor(idx int) []string {
	if idx >= len(config.EdgeNames) {
		return nil
	}
	return config.EdgeNames[idx]
}

func assembleOutput[In, Out any](
	config *StreamConfig[In, Out],
	status StreamStatusProvider,
	objectReuse bool,
	all []sinkHandle,
	main []Output[Out],
	edgeNames [][]string,
) Output[Out] {
	switch {
	case len(config.Selectors) > 0:
		if objectReuse {
			return newDirectedOutput(config.OperatorID, status, config.Selectors, all, main, edgeNames)
		}
		return newCopyingDirectedOutput(config.OperatorID, status, config.Selectors, all, main, edgeNames)
	case len(all) == 0:
		return newDiscardingOutput[Out]()
	case len(all) == 1 && len(main) == 1:
		return main[0]
	default:
		if objectReuse {
			return newBroadcastingOutput(config.OperatorID, status, all, main)
		}
		return newCopyingBroadcastingOutput(config.OperatorID, status, all, main)
	}
}
