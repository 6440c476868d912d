// Package brick defines the contract every stage type implements: a fixed
// descriptor declaring input and output ports, plus the behaviors the
// builder and executor drive a stage through.
package brick

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/engine"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/store"
)

// Record is a free-form result tree extracted from a completed task set.
type Record map[string]cty.Value

// BuildContext carries everything a brick needs to turn one stage (or one
// fan-out item of a stage) into engine tasks.
type BuildContext struct {
	// Stage is the original stage definition, read-only.
	Stage *pipeline.Stage
	// Item is the fan-out item label, empty for one-to-one stages.
	Item string
	// Config is the effective configuration: the stage's own config with
	// any fan-out override already merged in.
	Config cty.Value
	// Inputs holds resolved input-port payloads, keyed by port name.
	// Ports bound to a conditionally absent producer output are missing.
	Inputs map[string]cty.Value
	// Restart, when set, is the workspace handle of the stage being
	// resumed from.
	Restart *store.Handle
	// Store allocates scratch directories for the tasks being built.
	Store store.Store
	// RunID identifies the pipeline run.
	RunID string
}

// TaskSpec is one engine work unit.
type TaskSpec struct {
	Workdir *store.Handle
	Config  cty.Value
	Inputs  map[string]cty.Value
	Restart *store.Handle
	// Local marks specs executed in-process by the brick itself instead of
	// being dispatched to the calculation engine.
	Local bool
}

// TaskSet groups the work units built for one stage task, together with
// their engine results once run.
type TaskSet struct {
	Stage string
	Item  string
	Brick string
	Specs []*TaskSpec
	// Ran holds the engine result for each spec, filled by the executor.
	Ran []*engine.Result
}

// NewTaskSet allocates a task set with its result slots.
func NewTaskSet(stage, item, brickType string, specs ...*TaskSpec) *TaskSet {
	return &TaskSet{
		Stage: stage,
		Item:  item,
		Brick: brickType,
		Specs: specs,
		Ran:   make([]*engine.Result, 0, len(specs)),
	}
}

// FirstResult returns the first engine result, or nil when nothing ran.
func (ts *TaskSet) FirstResult() *engine.Result {
	if len(ts.Ran) == 0 {
		return nil
	}
	return ts.Ran[0]
}

// Brick is the behavior contract behind a descriptor. One implementation
// exists per brick type, registered in a static table at process start; the
// registry dispatches on the stage's type string, so no reflection is
// involved anywhere on the validation or build path.
type Brick interface {
	// Descriptor returns the brick's immutable connection contract.
	Descriptor() *Descriptor

	// ValidateConfig checks the stage's own configuration. preceding holds
	// the names of all earlier stages, for fields that reference them.
	// Violations are config errors.
	ValidateConfig(ctx context.Context, stage *pipeline.Stage, preceding []string) error

	// BuildTasks turns one stage task into engine work units.
	BuildTasks(ctx context.Context, bc *BuildContext) (*TaskSet, error)

	// Outputs maps a completed task set to the brick's output-port values.
	Outputs(ts *TaskSet) (map[string]cty.Value, error)

	// Results extracts a summary record from a completed task set.
	Results(ts *TaskSet) (Record, error)
}

// LocalRunner is implemented by bricks that run some or all of their task
// specs in-process instead of on the calculation engine. The executor calls
// RunLocal for every spec marked Local.
type LocalRunner interface {
	RunLocal(ctx context.Context, spec *TaskSpec) (*engine.Result, error)
}
