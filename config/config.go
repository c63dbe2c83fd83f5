// Package config builds chain.StreamConfig trees from a YAML topology
// document, the companion the chain builder consumes but does not
// itself parse (spec.md §6, SPEC_FULL §1.1.a / §6.1). It targets the
// common dynamic-pipeline shape the teacher repo itself is built
// around — records represented as map[string]interface{} — so a
// topology document can wire arbitrary user operators without the
// config package needing a type parameter per node.
package config

import (
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/metric/noop"
	"gopkg.in/yaml.v3"

	chain "github.com/mirrorstream/chain"
)

// Data is the element type every config-driven chain carries, mirroring
// the teacher's own Data = map[string]interface{} representation.
type Data = map[string]interface{}

// Edge is the YAML-decodable description of one outgoing edge of a
// Node: either chained (fused into the same task, naming another Node
// by ID) or non-chained (naming a network sink registered by the
// embedder), optionally a side output, optionally named for output
// selector matching.
type Edge struct {
	Target      string            `yaml:"target"`
	Chained     bool              `yaml:"chained"`
	OutputTag   string            `yaml:"output_tag,omitempty"`
	Names       []string          `yaml:"names,omitempty"`
	Partitioner string            `yaml:"partitioner,omitempty"`
	Serializer  string            `yaml:"serializer,omitempty"`
	Args        map[string]string `yaml:"args,omitempty"`
}

// Node is the YAML-decodable description of one operator in the
// topology: its id, its factory type name (resolved against the
// registry passed to Build), its freeform options, and its outgoing
// edges.
type Node struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options,omitempty"`
	Edges   []Edge         `yaml:"edges,omitempty"`
}

// Topology is the full YAML document: every node in the chain plus the
// id of its root (head) node.
type Topology struct {
	Root  string `yaml:"root"`
	Nodes []Node `yaml:"nodes"`
}

// DecodeTopology reads and parses a Topology document.
func DecodeTopology(r io.Reader) (*Topology, error) {
	t := &Topology{}
	if err := yaml.NewDecoder(r).Decode(t); err != nil {
		return nil, fmt.Errorf("config: decode topology: %w", err)
	}
	return t, nil
}

// OperatorFactory instantiates the operator a Node describes. options
// is the Node's raw Options map; factories that want a typed view of
// it should call DecodeOptions. metrics is the node's own scoped
// chain.MetricGroup (SPEC_FULL §4.6.a) — factories that don't report
// metrics are free to ignore it.
type OperatorFactory func(options map[string]any, metrics chain.MetricGroup) (func(output chain.Output[Data]) chain.Operator[Data], error)

// MetricGroupFactory scopes a chain.MetricGroup to one node of the
// topology, by id and type. A *telemetry.Handler's ForOperator method
// satisfies this once wrapped to discard the type, e.g.
// func(id, _ string) chain.MetricGroup { return handler.ForOperator(id) }.
// Build accepts it as a plain function rather than the concrete
// telemetry.Handler type so this package never has to import
// telemetry — telemetry itself imports chain to hand back
// chain.MetricGroup values, and chain.StreamConfig is built here, so a
// direct dependency on telemetry would close an import cycle back
// through chain.
type MetricGroupFactory func(operatorID, operatorType string) chain.MetricGroup

// DecodeOptions decodes a node's freeform Options map into a typed
// struct via mapstructure, the same library the teacher's loader uses
// for its own dynamic option structs.
func DecodeOptions[T any](raw map[string]any) (T, error) {
	var out T
	err := mapstructure.Decode(raw, &out)
	return out, err
}

// NetworkSinkFactory resolves a non-chained Edge's named sink into an
// Output, typically by wrapping the embedder's own chain.RecordWriter[Data]
// with chain.NewNetworkSink(edge.Target, writer, status, nil). It is
// supplied by the embedder, since the network layer is out of scope
// for this module (spec.md §1); status is threaded through from Build
// so the sink's watermark/stream-status gating matches the rest of the
// chain it joins.
type NetworkSinkFactory func(edge Edge, status chain.StreamStatusProvider) (chain.Output[Data], bool)

// Build resolves the topology into a *chain.StreamConfig[Data, Data]
// tree rooted at t.Root plus the *chain.NetworkSinkSet it requires,
// using factories to instantiate each node's operator and sinkFactory
// to resolve non-chained edges into network sinks. metrics may be nil,
// in which case every node gets a chain.MetricGroup backed by an
// otel no-op meter; wiring it to a real meter is the caller's
// responsibility, typically via a *telemetry.Handler's ForOperator
// method. The two returned values are positionally aligned at every
// level, per chain.NetworkSinkSet's own contract (spec.md §4.6, §9);
// pass them both, and the same status, to chain.Build.
// objectReuse must match the value the caller later passes to
// chain.Build for the same tree: it decides, for every chained edge
// this call wires up, whether the chaining output bound to that edge
// is the copying variant (spec.md §3's "object-reuse mode is task-wide
// and constant over a run" — config.Build bakes that single task-wide
// decision into every intra-chain edge it constructs).
func (t *Topology) Build(factories map[string]OperatorFactory, sinkFactory NetworkSinkFactory, metrics MetricGroupFactory, status chain.StreamStatusProvider, objectReuse bool) (*chain.StreamConfig[Data, Data], *chain.NetworkSinkSet, error) {
	byID := make(map[string]Node, len(t.Nodes))
	for _, n := range t.Nodes {
		byID[n.ID] = n
	}

	root, ok := byID[t.Root]
	if !ok {
		return nil, nil, fmt.Errorf("config: root node %q not found", t.Root)
	}
	if metrics == nil {
		metrics = func(string, string) chain.MetricGroup { return chain.NewOtelMetricGroup(noop.NewMeterProvider().Meter("chain")) }
	}

	visiting := map[string]bool{}
	return t.build(root, byID, factories, sinkFactory, metrics, status, objectReuse, visiting)
}

func (t *Topology) build(
	node Node,
	byID map[string]Node,
	factories map[string]OperatorFactory,
	sinkFactory NetworkSinkFactory,
	metrics MetricGroupFactory,
	status chain.StreamStatusProvider,
	objectReuse bool,
	visiting map[string]bool,
) (*chain.StreamConfig[Data, Data], *chain.NetworkSinkSet, error) {
	if visiting[node.ID] {
		return nil, nil, fmt.Errorf("config: cycle detected at node %q", node.ID)
	}
	visiting[node.ID] = true
	defer delete(visiting, node.ID)

	factory, ok := factories[node.Type]
	if !ok {
		return nil, nil, fmt.Errorf("config: node %q: no factory registered for type %q", node.ID, node.Type)
	}
	mk, err := factory(node.Options, metrics(node.ID, node.Type))
	if err != nil {
		return nil, nil, fmt.Errorf("config: node %q: %w", node.ID, err)
	}

	cfg := &chain.StreamConfig[Data, Data]{
		OperatorID:   node.ID,
		OperatorType: node.Type,
		Factory:      mk,
		Serializer:   chain.GobSerializer[Data]{},
	}
	sinks := &chain.NetworkSinkSet{}

	var selectorNames [][]string
	for _, edge := range node.Edges {
		if edge.Chained {
			childNode, ok := byID[edge.Target]
			if !ok {
				return nil, nil, fmt.Errorf("config: node %q: chained edge targets unknown node %q", node.ID, edge.Target)
			}
			childCfg, childSinks, err := t.build(childNode, byID, factories, sinkFactory, metrics, status, objectReuse, visiting)
			if err != nil {
				return nil, nil, err
			}

			var ownTag chain.AnyOutputTag
			isSideOutput := edge.OutputTag != ""
			if isSideOutput {
				ownTag = chain.Erase(chain.OutputTag[Data]{ID: edge.OutputTag})
			}

			cfg.ChainedOutputs = append(cfg.ChainedOutputs, chain.StreamEdge{
				SourceID:     node.ID,
				TargetID:     edge.Target,
				OutputTagID:  edge.OutputTag,
				IsSideOutput: isSideOutput,
			})
			cfg.Chained = append(cfg.Chained, chain.Chain[Data, Data](node.ID, objectReuse, ownTag, chain.GobSerializer[Data]{}, childCfg))
			sinks.Chained = append(sinks.Chained, childSinks)
			selectorNames = append(selectorNames, edge.Names)
			continue
		}

		if sinkFactory == nil {
			return nil, nil, fmt.Errorf("config: node %q: non-chained edge to %q with no sink factory configured", node.ID, edge.Target)
		}
		sink, ok := sinkFactory(edge, status)
		if !ok {
			return nil, nil, fmt.Errorf("config: node %q: sink factory could not resolve edge to %q", node.ID, edge.Target)
		}
		cfg.NonChainedOutputs = append(cfg.NonChainedOutputs, chain.StreamEdge{
			SourceID:     node.ID,
			TargetID:     edge.Target,
			OutputTagID:  edge.OutputTag,
			IsSideOutput: edge.OutputTag != "",
		})
		sinks.Sinks = append(sinks.Sinks, sink)
		selectorNames = append(selectorNames, edge.Names)
	}
	cfg.EdgeNames = selectorNames

	return cfg, sinks, nil
}
