package dag

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/connect"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/pipeline"
)

// Options carries the run-level inputs of graph construction.
type Options struct {
	// Initial is the pipeline's initial input value, NilVal when absent.
	Initial cty.Value
	// MaxParallel caps concurrent engine submissions across the graph.
	// Zero or negative means unlimited.
	MaxParallel int
}

// Build constructs a complete, validated task graph from a resolved
// connection graph. The concurrency cap travels on the returned graph; no
// ambient state is involved.
func Build(ctx context.Context, resolved *connect.Graph, opts Options) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.")

	// Fan-out shapes are checked up front so a bad item map fails the
	// build before any task node exists.
	if err := checkFanOut(resolved); err != nil {
		return nil, err
	}

	graph := &Graph{
		Nodes:       make(map[string]*Node),
		Initial:     opts.Initial,
		MaxParallel: opts.MaxParallel,
		brickTypes:  make(map[string]string),
		namespaces:  make(map[string]*Namespace),
		extracts:    make(map[string][]*Node),
		computes:    make(map[string][]*Node),
	}

	// First pass: create compute and extract nodes for every stage item.
	if err := createNodes(ctx, resolved, graph); err != nil {
		return nil, err
	}
	logger.Debug("Build: Node creation complete.", "node_count", len(graph.Nodes))

	// Second pass: link dependencies.
	if err := linkNodes(ctx, resolved, graph); err != nil {
		return nil, err
	}
	logger.Debug("Build: Node linking complete.")

	// Third pass: initialize counters.
	for _, node := range graph.Nodes {
		node.SetInitialCounters()
	}
	logger.Debug("Build: Counter initialization complete.")

	if err := graph.detectCycles(); err != nil {
		return nil, fmt.Errorf("error validating task graph: %w", err)
	}
	logger.Debug("Build: Cycle detection passed.")

	logger.Debug("Build: Graph construction successful.")
	return graph, nil
}

// checkFanOut verifies every fan-out stage declares a usable item source.
func checkFanOut(resolved *connect.Graph) error {
	for _, stage := range resolved.Stages() {
		desc, ok := resolved.Descriptor(stage.Name)
		if !ok || !desc.FanOut || hasKey(stage.Config, brick.ItemsFromKey) {
			continue
		}
		if _, err := staticItems(stage.Name, stage.Config); err != nil {
			return err
		}
	}
	return nil
}

// createNodes performs the first pass of graph creation: one compute node
// per stage item, each paired with a result-extraction node. Static fan-out
// stages are expanded here; dynamic ones get a single placeholder node that
// the executor expands at runtime.
func createNodes(ctx context.Context, resolved *connect.Graph, graph *Graph) error {
	logger := ctxlog.FromContext(ctx)

	for _, stage := range resolved.Stages() {
		desc, ok := resolved.Descriptor(stage.Name)
		if !ok {
			return fmt.Errorf("stage '%s' missing from connection graph", stage.Name)
		}

		bindings := resolved.Bindings(stage.Name)
		var computes, extracts []*Node

		addItem := func(item string, config cty.Value, placeholder bool) {
			compute := newNode(taskID(stage.Type, stage.Name, item), stage, item, ComputeNode, config)
			compute.Bindings = bindings
			compute.IsPlaceholder = placeholder
			computes = append(computes, compute)
			extracts = append(extracts, newNode(extractID(stage.Type, stage.Name, item), stage, item, ExtractNode, config))
		}

		switch {
		case !desc.FanOut:
			addItem("", stage.Config, false)

		case hasKey(stage.Config, brick.ItemsFromKey):
			// Dynamic fan-out: items are known only after the producing
			// stage ran, so a single placeholder stands in for the set.
			addItem("", stage.Config, true)
			logger.Debug("Created placeholder node for dynamic fan-out.", "stage", stage.Name)

		default:
			items, err := staticItems(stage.Name, stage.Config)
			if err != nil {
				return err
			}
			base, _ := cfgtree.Get(stage.Config, brick.BaseKey)
			for _, label := range cfgtree.SortedGoKeys(items) {
				addItem(label, cfgtree.Merge(base, items[label]), false)
			}
			logger.Debug("Expanded static fan-out.", "stage", stage.Name, "items", len(items))
		}

		for i := range computes {
			graph.Nodes[computes[i].ID] = computes[i]
			graph.Nodes[extracts[i].ID] = extracts[i]
		}
		graph.stageOrder = append(graph.stageOrder, stage.Name)
		graph.brickTypes[stage.Name] = stage.Type
		graph.namespaces[stage.Name] = newNamespace(stage.Name, desc.FanOut)
		graph.extracts[stage.Name] = extracts
		graph.computes[stage.Name] = computes
	}
	return nil
}

// staticItems reads the fan-out item map of a stage config.
func staticItems(stage string, config cty.Value) (map[string]cty.Value, error) {
	raw, ok := cfgtree.Get(config, brick.ItemsKey)
	if !ok {
		return nil, fault.Configf("%s: fan-out stage declares neither %s nor %s", stage, brick.ItemsKey, brick.ItemsFromKey)
	}
	if !cfgtree.IsTree(raw) {
		return nil, fault.Configf("%s: %s must be a mapping of item labels", stage, brick.ItemsKey)
	}

	items := make(map[string]cty.Value)
	for it := raw.ElementIterator(); it.Next(); {
		k, v := it.Element()
		items[k.AsString()] = v
	}
	if len(items) == 0 {
		return nil, fault.Configf("%s: fan-out items map is empty", stage)
	}
	return items, nil
}

func hasKey(config cty.Value, key string) bool {
	_, ok := cfgtree.Get(config, key)
	return ok
}

func newNode(id string, stage *pipeline.Stage, item string, kind NodeKind, config cty.Value) *Node {
	return &Node{
		ID:         id,
		Stage:      stage,
		Item:       item,
		Kind:       kind,
		Config:     config,
		Deps:       make(map[string]*Node),
		Dependents: make(map[string]*Node),
	}
}

func taskID(brickType, stage, item string) string {
	if item == "" {
		return fmt.Sprintf("task.%s.%s", brickType, stage)
	}
	return fmt.Sprintf("task.%s.%s[%s]", brickType, stage, item)
}

func extractID(brickType, stage, item string) string {
	if item == "" {
		return fmt.Sprintf("extract.%s.%s", brickType, stage)
	}
	return fmt.Sprintf("extract.%s.%s[%s]", brickType, stage, item)
}
