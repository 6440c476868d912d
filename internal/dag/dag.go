// Package dag turns a validated connection graph into an executable task
// graph: one compute node per stage item, one extract node per stage, and
// dependency edges derived from the resolved input bindings.
package dag

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Graph is the executable task graph for one pipeline run.
type Graph struct {
	// Nodes stores all nodes in the graph, keyed by their unique ID.
	Nodes map[string]*Node

	// Initial is the pipeline's initial input value, NilVal when the run
	// was started without one.
	Initial cty.Value

	// MaxParallel caps the number of engine submissions in flight across
	// the whole graph. Zero or negative means unlimited.
	MaxParallel int

	stageOrder []string
	brickTypes map[string]string
	namespaces map[string]*Namespace
	extracts   map[string][]*Node
	computes   map[string][]*Node
}

// StageOrder returns the stage names in declared pipeline order.
func (g *Graph) StageOrder() []string {
	return g.stageOrder
}

// BrickType returns the brick type a stage runs.
func (g *Graph) BrickType(stage string) string {
	return g.brickTypes[stage]
}

// Namespace returns the output namespace of a stage.
func (g *Graph) Namespace(stage string) *Namespace {
	return g.namespaces[stage]
}

// ExtractNodes returns the extraction nodes of a stage in item order.
func (g *Graph) ExtractNodes(stage string) []*Node {
	return g.extracts[stage]
}

// ComputeNodes returns the compute nodes of a stage in item order.
func (g *Graph) ComputeNodes(stage string) []*Node {
	return g.computes[stage]
}

// States snapshots every node's execution state, keyed by node ID.
func (g *Graph) States() map[string]string {
	states := make(map[string]string, len(g.Nodes))
	for id, node := range g.Nodes {
		states[id] = node.GetState().String()
	}
	return states
}

// addEdge records that `to` depends on `from`. Adding the same edge twice
// is harmless.
func addEdge(from, to *Node) {
	to.Deps[from.ID] = from
	from.Dependents[to.ID] = to
}

// detectCycles checks for circular dependencies in the graph using DFS.
func (g *Graph) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(node *Node) error
	visit = func(node *Node) error {
		visiting[node.ID] = true
		for _, dep := range node.Deps {
			if visiting[dep.ID] {
				return fmt.Errorf("cycle detected involving '%s'", dep.ID)
			}
			if !visited[dep.ID] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		delete(visiting, node.ID)
		visited[node.ID] = true
		return nil
	}

	for _, node := range g.Nodes {
		if !visited[node.ID] {
			if err := visit(node); err != nil {
				return err
			}
		}
	}
	return nil
}
