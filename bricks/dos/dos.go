// Package dos implements the brick for density-of-states post-processing
// stages. A dos stage reads a finished calculation's structure, optionally
// reuses its charge density, and publishes the computed spectrum.
package dos

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/porttype"

	"github.com/kilnworks/kiln/bricks/vasp"
)

// BrickType is the stage type string pipelines use for this brick.
const BrickType = "dos"

// imageSuffixes are the plot files published on the plots port.
var imageSuffixes = []string{".png", ".svg", ".pdf"}

// Brick is the dos stage implementation.
type Brick struct{}

// New returns the dos brick.
func New() *Brick {
	return &Brick{}
}

// Descriptor declares the dos connection contract.
func (b *Brick) Descriptor() *brick.Descriptor {
	return &brick.Descriptor{
		Type: BrickType,
		Inputs: map[string]*brick.InputPort{
			"structure": {
				Kind:        porttype.Structure,
				Required:    true,
				SourceField: "structure_from",
				Producers:   []string{vasp.BrickType},
			},
			"charge": {
				Kind:        porttype.FileCollection,
				SourceField: "charge_from",
				FromOutput:  "charge",
				Producers:   []string{vasp.BrickType},
				Needs:       &brick.Needs{Artifacts: []string{vasp.FileChgcar}},
			},
		},
		Outputs: map[string]*brick.OutputPort{
			"dos": {Kind: porttype.Record},
			"plots": {
				Kind:      porttype.ImageCollection,
				Condition: &brick.Condition{Path: []string{"plot"}, Op: brick.OpEQ, Value: cty.True},
			},
		},
	}
}

// ValidateConfig checks the spectrum parameters a stage sets.
func (b *Brick) ValidateConfig(ctx context.Context, stage *pipeline.Stage, preceding []string) error {
	if raw, ok := cfgtree.Get(stage.Config, "plot"); ok {
		if raw.IsNull() || raw.Type() != cty.Bool {
			return fault.Configf("%s: plot must be true or false, got %s", stage.Name, cfgtree.Render(raw))
		}
	}
	if raw, ok := cfgtree.Get(stage.Config, "sigma"); ok {
		num, err := convert.Convert(raw, cty.Number)
		if err != nil || num.IsNull() {
			return fault.Configf("%s: sigma must be a number, got %s", stage.Name, cfgtree.Render(raw))
		}
		if num.AsBigFloat().Sign() <= 0 {
			return fault.Configf("%s: sigma must be positive, got %s", stage.Name, cfgtree.Render(raw))
		}
	}
	if raw, ok := cfgtree.Get(stage.Config, "nedos"); ok {
		num, err := convert.Convert(raw, cty.Number)
		if err != nil || num.IsNull() {
			return fault.Configf("%s: nedos must be a number, got %s", stage.Name, cfgtree.Render(raw))
		}
		if n, _ := num.AsBigFloat().Int64(); n <= 0 {
			return fault.Configf("%s: nedos must be positive, got %d", stage.Name, n)
		}
	}
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

// Outputs publishes the spectrum record and, when plotting was requested,
// the rendered images retrieved from the engine.
func (b *Brick) Outputs(ts *brick.TaskSet) (map[string]cty.Value, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("dos stage '%s' has no engine result", ts.Stage)
	}

	out := map[string]cty.Value{}
	if v, ok := res.Outputs["dos"]; ok {
		out["dos"] = v
	}
	if plots := imageFiles(res.Files); len(plots) > 0 {
		vals := make([]cty.Value, 0, len(plots))
		for _, p := range plots {
			vals = append(vals, cty.StringVal(p))
		}
		out["plots"] = cty.ListVal(vals)
	}
	return out, nil
}

// Results extracts the run-summary record.
func (b *Brick) Results(ts *brick.TaskSet) (brick.Record, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("dos stage '%s' has no engine result", ts.Stage)
	}
	rec := brick.Record{
		"elapsed_s": cty.NumberFloatVal(res.Elapsed.Seconds()),
	}
	if v, ok := res.Outputs["band_gap"]; ok {
		rec["band_gap"] = v
	}
	if v, ok := res.Outputs["fermi_energy"]; ok {
		rec["fermi_energy"] = v
	}
	return rec, nil
}

func imageFiles(files []string) []string {
	var kept []string
	for _, f := range files {
		lower := strings.ToLower(f)
		for _, suffix := range imageSuffixes {
			if strings.HasSuffix(lower, suffix) {
				kept = append(kept, f)
				break
			}
		}
	}
	return kept
}
