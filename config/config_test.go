package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chain "github.com/mirrorstream/chain"
	"github.com/mirrorstream/chain/chaintest"
)

const doc = `
root: source
nodes:
  - id: source
    type: passthrough
    edges:
      - target: sink
        chained: false
`

func identityFactory(map[string]any, chain.MetricGroup) (func(chain.Output[Data]) chain.Operator[Data], error) {
	return func(out chain.Output[Data]) chain.Operator[Data] {
		op := chaintest.NewRecordingOperator[Data]("", nil)
		op.Output = out
		return op
	}, nil
}

func TestDecodeTopology(t *testing.T) {
	top, err := DecodeTopology(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "source", top.Root)
	require.Len(t, top.Nodes, 1)
	assert.Equal(t, "passthrough", top.Nodes[0].Type)
}

func TestTopologyBuildResolvesNonChainedSink(t *testing.T) {
	top, err := DecodeTopology(strings.NewReader(doc))
	require.NoError(t, err)

	writer := chaintest.NewRecordWriter[Data]()
	status := chaintest.NewStaticStatusProvider(chain.StatusActive)

	var seenIDs []string
	metrics := func(id, typ string) chain.MetricGroup {
		seenIDs = append(seenIDs, id)
		return chaintest.NoopMetricGroup{}
	}

	sinkFactory := func(edge Edge, status chain.StreamStatusProvider) (chain.Output[Data], bool) {
		if edge.Target != "sink" {
			return nil, false
		}
		return chain.NewNetworkSink[Data]("sink", writer, status, nil), true
	}

	cfg, sinks, err := top.Build(map[string]OperatorFactory{"passthrough": identityFactory}, sinkFactory, metrics, status, false)
	require.NoError(t, err)
	require.Len(t, sinks.Sinks, 1)
	assert.Equal(t, []string{"source"}, seenIDs)
	assert.Equal(t, "source", cfg.OperatorID)
	require.Len(t, cfg.NonChainedOutputs, 1)
	assert.Equal(t, "sink", cfg.NonChainedOutputs[0].TargetID)

	op, _, streamOutputs, err := chain.Build[Data, Data](status, cfg, sinks, false)
	require.NoError(t, err)
	require.Len(t, streamOutputs, 1)

	require.NoError(t, op.ProcessElement(chain.NewStreamRecord[Data](Data{"v": 1})))
	require.Len(t, writer.Records(), 1)
}

func TestTopologyBuildRejectsUnknownChainTarget(t *testing.T) {
	top := &Topology{
		Root: "a",
		Nodes: []Node{
			{ID: "a", Type: "passthrough", Edges: []Edge{{Target: "missing", Chained: true}}},
		},
	}
	_, _, err := top.Build(map[string]OperatorFactory{"passthrough": identityFactory}, nil, nil, chaintest.NewStaticStatusProvider(chain.StatusActive), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestTopologyBuildDetectsCycle(t *testing.T) {
	top := &Topology{
		Root: "a",
		Nodes: []Node{
			{ID: "a", Type: "passthrough", Edges: []Edge{{Target: "b", Chained: true}}},
			{ID: "b", Type: "passthrough", Edges: []Edge{{Target: "a", Chained: true}}},
		},
	}
	_, _, err := top.Build(map[string]OperatorFactory{"passthrough": identityFactory}, nil, nil, chaintest.NewStaticStatusProvider(chain.StatusActive), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestTopologyBuildMissingFactory(t *testing.T) {
	top := &Topology{Root: "a", Nodes: []Node{{ID: "a", Type: "unknown"}}}
	_, _, err := top.Build(nil, nil, nil, chaintest.NewStaticStatusProvider(chain.StatusActive), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no factory registered")
}
