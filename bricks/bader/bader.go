// Package bader implements the brick for Bader charge-partitioning stages.
// The analysis needs the producer's all-electron charge densities on disk,
// which places the strictest prerequisites of any brick on its input.
package bader

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/porttype"

	"github.com/kilnworks/kiln/bricks/vasp"
)

// BrickType is the stage type string pipelines use for this brick.
const BrickType = "bader"

// Brick is the bader stage implementation.
type Brick struct{}

// New returns the bader brick.
func New() *Brick {
	return &Brick{}
}

// Descriptor declares the bader connection contract. The charge input is
// only usable when the producer wrote its all-electron densities (laechg)
// and was told to retrieve them alongside the total charge.
func (b *Brick) Descriptor() *brick.Descriptor {
	return &brick.Descriptor{
		Type: BrickType,
		Inputs: map[string]*brick.InputPort{
			"charge": {
				Kind:        porttype.FileCollection,
				Required:    true,
				SourceField: "charge_from",
				FromOutput:  "charge",
				Producers:   []string{vasp.BrickType},
				Needs: &brick.Needs{
					Settings: map[string]cty.Value{"laechg": cty.True},
					Artifacts: []string{
						vasp.FileAeccar0, vasp.FileAeccar2, vasp.FileChgcar,
					},
				},
			},
		},
		Outputs: map[string]*brick.OutputPort{
			"charges": {Kind: porttype.Record},
		},
	}
}

// ValidateConfig is a no-op: the analysis has no tunable parameters.
func (b *Brick) ValidateConfig(ctx context.Context, stage *pipeline.Stage, preceding []string) error {
	return nil
}

// BuildTasks allocates a working directory and emits the single engine task.
func (b *Brick) BuildTasks(ctx context.Context, bc *brick.BuildContext) (*brick.TaskSet, error) {
	workdir, err := bc.Store.StageDir(ctx, bc.Stage.Name, bc.Item)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating workdir for stage '%s'", bc.Stage.Name)
	}
	spec := &brick.TaskSpec{
		Workdir: workdir,
		Config:  bc.Config,
		Inputs:  bc.Inputs,
	}
	return brick.NewTaskSet(bc.Stage.Name, bc.Item, BrickType, spec), nil
}

// Outputs publishes the per-atom charge record.
func (b *Brick) Outputs(ts *brick.TaskSet) (map[string]cty.Value, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("bader stage '%s' has no engine result", ts.Stage)
	}
	out := map[string]cty.Value{}
	if v, ok := res.Outputs["charges"]; ok {
		out["charges"] = v
	}
	return out, nil
}

// Results extracts the run-summary record.
func (b *Brick) Results(ts *brick.TaskSet) (brick.Record, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("bader stage '%s' has no engine result", ts.Stage)
	}
	rec := brick.Record{
		"elapsed_s": cty.NumberFloatVal(res.Elapsed.Seconds()),
	}
	if v, ok := res.Outputs["atoms"]; ok {
		rec["atoms"] = v
	}
	return rec, nil
}
