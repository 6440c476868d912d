package dag

import (
	"sync"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/connect"
	"github.com/kilnworks/kiln/internal/pipeline"
)

// NodeKind distinguishes between different kinds of nodes in the graph.
type NodeKind int

const (
	// ComputeNode represents one unit of brick work: a single item of a
	// stage, submitted to an engine or run locally.
	ComputeNode NodeKind = iota
	// ExtractNode represents the per-stage collection step that exposes
	// outputs and extracted results once every item of the stage is done.
	ExtractNode
)

func (k NodeKind) String() string {
	switch k {
	case ComputeNode:
		return "compute"
	case ExtractNode:
		return "extract"
	}
	return "unknown"
}

// State represents the execution state of a node in the graph.
type State int32

const (
	// Pending indicates the node is waiting for its dependencies to complete.
	Pending State = iota
	// Running indicates the node is currently being executed by a worker.
	Running
	// Done indicates the node has completed execution successfully.
	Done
	// Failed indicates the node has failed execution or was skipped.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Node is a single vertex in the task graph, representing one unit of work
// for a stage: a compute item or the stage's extraction step.
type Node struct {
	// ID is the unique identifier, e.g. "task.vasp.relax" or
	// "task.sweep.eos[strain-2]".
	ID string
	// Stage is the pipeline stage this node belongs to.
	Stage *pipeline.Stage
	// Item is the fan-out label. Empty for one-to-one stages and for
	// extract nodes.
	Item string
	// Kind distinguishes compute work from per-stage extraction.
	Kind NodeKind

	// IsPlaceholder is true when the node stands in for a dynamic fan-out
	// whose items are only known at runtime. Such nodes are expanded by the
	// executor when they run.
	IsPlaceholder bool

	// Config is the effective item configuration: the stage config for
	// one-to-one nodes, the deep-merged base+override for fan-out items.
	Config cty.Value
	// Bindings are the stage's resolved input connections. Set on compute
	// nodes; extract nodes carry none.
	Bindings []*connect.Binding

	// Tasks holds the node's task set once it has run.
	Tasks *brick.TaskSet
	// Expanded holds the per-item task sets of a placeholder node after
	// runtime expansion.
	Expanded []*brick.TaskSet
	// Error stores any error that occurred during the node's execution.
	Error error

	// Deps holds the nodes this node depends on (predecessors).
	Deps map[string]*Node
	// Dependents holds the nodes that depend on this node (successors).
	Dependents map[string]*Node

	// depCount is an atomic counter for unmet dependencies, used by the
	// scheduler.
	depCount atomic.Int32
	// state is the node's current execution state, managed atomically.
	state atomic.Int32
	// skipOnce ensures a node is marked as skipped and processed exactly once.
	skipOnce sync.Once
}

// SetInitialCounters primes the dependency counter from the linked graph.
// Called once after linking, before execution.
func (n *Node) SetInitialCounters() {
	n.depCount.Store(int32(len(n.Deps)))
}

// DepCount atomically returns the current number of unmet dependencies.
func (n *Node) DepCount() int32 {
	return n.depCount.Load()
}

// DecrementDepCount atomically decrements the dependency counter and returns
// the new value.
func (n *Node) DecrementDepCount() int32 {
	return n.depCount.Add(-1)
}

// SetState atomically sets the node's execution state.
func (n *Node) SetState(s State) {
	n.state.Store(int32(s))
}

// GetState atomically retrieves the node's execution state.
func (n *Node) GetState() State {
	return State(n.state.Load())
}

// Skip marks a node as failed and decrements the WaitGroup counter. It uses
// a sync.Once to guarantee this happens only once, returning true if it was
// the first time this node was skipped.
func (n *Node) Skip(err error, wg *sync.WaitGroup) bool {
	var wasSkipped bool
	n.skipOnce.Do(func() {
		n.SetState(Failed)
		n.Error = err
		wg.Done()
		wasSkipped = true
	})
	return wasSkipped
}
