package testutil

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/pipeline"
)

// Stage builds a pipeline stage with an object-shaped config.
func Stage(brickType, name string, config map[string]cty.Value) *pipeline.Stage {
	cfg := cty.EmptyObjectVal
	if len(config) > 0 {
		cfg = cty.ObjectVal(config)
	}
	return &pipeline.Stage{Name: name, Type: brickType, Config: cfg}
}

// TestBrick is a configurable brick for exercising paths the real bricks
// keep out of reach, such as contract-breaking publications.
type TestBrick struct {
	Desc        *brick.Descriptor
	ValidateErr error
	BuildFn     func(ctx context.Context, bc *brick.BuildContext) (*brick.TaskSet, error)
	OutputsFn   func(ts *brick.TaskSet) (map[string]cty.Value, error)
	ResultsFn   func(ts *brick.TaskSet) (brick.Record, error)
}

// Descriptor implements brick.Brick.
func (b *TestBrick) Descriptor() *brick.Descriptor { return b.Desc }

// ValidateConfig implements brick.Brick.
func (b *TestBrick) ValidateConfig(ctx context.Context, stage *pipeline.Stage, preceding []string) error {
	return b.ValidateErr
}

// BuildTasks implements brick.Brick. The default builds one engine task in a
// store-allocated workdir.
func (b *TestBrick) BuildTasks(ctx context.Context, bc *brick.BuildContext) (*brick.TaskSet, error) {
	if b.BuildFn != nil {
		return b.BuildFn(ctx, bc)
	}
	workdir, err := bc.Store.StageDir(ctx, bc.Stage.Name, bc.Item)
	if err != nil {
		return nil, err
	}
	return brick.NewTaskSet(bc.Stage.Name, bc.Item, b.Desc.Type, &brick.TaskSpec{
		Workdir: workdir,
		Config:  bc.Config,
		Inputs:  bc.Inputs,
		Restart: bc.Restart,
	}), nil
}

// Outputs implements brick.Brick. The default republishes the engine's raw
// outputs, so the descriptor must declare matching ports.
func (b *TestBrick) Outputs(ts *brick.TaskSet) (map[string]cty.Value, error) {
	if b.OutputsFn != nil {
		return b.OutputsFn(ts)
	}
	res := ts.FirstResult()
	if res == nil {
		return map[string]cty.Value{}, nil
	}
	return res.Outputs, nil
}

// Results implements brick.Brick.
func (b *TestBrick) Results(ts *brick.TaskSet) (brick.Record, error) {
	if b.ResultsFn != nil {
		return b.ResultsFn(ts)
	}
	return brick.Record{}, nil
}
