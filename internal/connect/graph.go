package connect

import (
	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/pipeline"
)

// Binding is one resolved input connection. It captures where a port's data
// comes from after the sentinels have been resolved, so the graph builder
// never re-runs resolution.
type Binding struct {
	// Port is the consuming input port.
	Port *brick.InputPort

	// Source is the raw source field value: a stage name, "input" or "auto".
	Source string

	// Producer is the resolved producing stage. Empty when the binding is
	// satisfied by the pipeline's initial input.
	Producer string

	// Output is the producer output the port consumes.
	Output string

	// Implicit marks bindings resolved via "auto" rather than an explicit
	// stage name.
	Implicit bool

	// Initial marks bindings fed by the pipeline's initial input, either
	// via the "input" sentinel or "auto" on the first stage.
	Initial bool

	// Satisfied is false when the producer's matching output is
	// conditionally absent and the binding survived only as a warning.
	Satisfied bool
}

// Graph is the validated connection graph. It is built once by Resolve and
// read-only afterwards; the builder walks it to lay out task nodes.
type Graph struct {
	stages   []*pipeline.Stage
	byName   map[string]*pipeline.Stage
	bricks   map[string]*brick.Descriptor
	bindings map[string][]*Binding
}

func newGraph(stages []*pipeline.Stage) *Graph {
	return &Graph{
		stages:   stages,
		byName:   make(map[string]*pipeline.Stage, len(stages)),
		bricks:   make(map[string]*brick.Descriptor, len(stages)),
		bindings: make(map[string][]*Binding, len(stages)),
	}
}

func (g *Graph) add(stage string, b *Binding) {
	g.bindings[stage] = append(g.bindings[stage], b)
}

func (g *Graph) admit(s *pipeline.Stage, desc *brick.Descriptor) {
	g.byName[s.Name] = s
	g.bricks[s.Name] = desc
}

// Stages returns the pipeline stages in declared order.
func (g *Graph) Stages() []*pipeline.Stage {
	return g.stages
}

// Stage looks up a stage by name.
func (g *Graph) Stage(name string) (*pipeline.Stage, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Descriptor returns the brick descriptor a stage validated against.
func (g *Graph) Descriptor(name string) (*brick.Descriptor, bool) {
	d, ok := g.bricks[name]
	return d, ok
}

// Bindings returns the resolved input bindings of a stage, in the port
// order the walk processed them.
func (g *Graph) Bindings(stage string) []*Binding {
	return g.bindings[stage]
}
