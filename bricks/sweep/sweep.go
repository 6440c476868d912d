// Package sweep implements the fan-out brick: one stage that runs a family
// of related calculations, one per item. Items come either from a static
// map in the stage config or, at runtime, from a producing stage's output.
package sweep

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/porttype"
	"github.com/kilnworks/kiln/internal/store"

	"github.com/kilnworks/kiln/bricks/strain"
	"github.com/kilnworks/kiln/bricks/vasp"
)

// BrickType is the stage type string pipelines use for this brick.
const BrickType = "sweep"

// Brick is the sweep stage implementation.
type Brick struct{}

// New returns the sweep brick.
func New() *Brick {
	return &Brick{}
}

// Descriptor declares the sweep connection contract. Output ports describe
// what every item publishes; consumers read them per item label.
func (b *Brick) Descriptor() *brick.Descriptor {
	return &brick.Descriptor{
		Type:   BrickType,
		FanOut: true,
		Inputs: map[string]*brick.InputPort{
			"structure": {
				Kind:        porttype.Structure,
				SourceField: "structure_from",
				Producers:   []string{vasp.BrickType},
			},
			"items": {
				Kind:        porttype.Record,
				SourceField: brick.ItemsFromKey,
				FromOutput:  "items",
				Producers:   []string{strain.BrickType},
			},
		},
		Outputs: map[string]*brick.OutputPort{
			"energy": {Kind: porttype.ScalarEnergy},
			"structure": {
				Kind:      porttype.Structure,
				Condition: &brick.Condition{Path: []string{brick.BaseKey, "nsw"}, Op: brick.OpGT, Value: cty.Zero},
			},
			"workdir": {Kind: porttype.RemoteHandle},
			"files":   {Kind: porttype.FileCollection},
		},
		DefaultRetrieve: []string{vasp.FileContcar, vasp.FileOutcar, vasp.FileVasprun},
	}
}

// ValidateConfig checks the fan-out declaration: exactly one item source,
// and mapping-shaped base and items trees.
func (b *Brick) ValidateConfig(ctx context.Context, stage *pipeline.Stage, preceding []string) error {
	itemsRaw, hasItems := cfgtree.Get(stage.Config, brick.ItemsKey)
	_, hasFrom := cfgtree.Get(stage.Config, brick.ItemsFromKey)
	switch {
	case hasItems && hasFrom:
		return fault.Configf("%s: %s and %s are mutually exclusive", stage.Name, brick.ItemsKey, brick.ItemsFromKey)
	case !hasItems && !hasFrom:
		return fault.Configf("%s: fan-out stage declares neither %s nor %s", stage.Name, brick.ItemsKey, brick.ItemsFromKey)
	}

	if hasItems {
		if !cfgtree.IsTree(itemsRaw) {
			return fault.Configf("%s: %s must be a mapping of item labels", stage.Name, brick.ItemsKey)
		}
		if len(cfgtree.Keys(itemsRaw)) == 0 {
			return fault.Configf("%s: fan-out items map is empty", stage.Name)
		}
	}

	if baseRaw, ok := cfgtree.Get(stage.Config, brick.BaseKey); ok {
		if !cfgtree.IsTree(baseRaw) {
			return fault.Configf("%s: %s must be a mapping of calculation parameters", stage.Name, brick.BaseKey)
		}
	}
	return nil
}

// BuildTasks emits one engine task for a single item. The config it receives
// is the item's effective tree, base and override already merged.
func (b *Brick) BuildTasks(ctx context.Context, bc *brick.BuildContext) (*brick.TaskSet, error) {
	workdir, err := bc.Store.StageDir(ctx, bc.Stage.Name, bc.Item)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating workdir for stage '%s' item '%s'", bc.Stage.Name, bc.Item)
	}
	spec := &brick.TaskSpec{
		Workdir: workdir,
		Config:  bc.Config,
		Inputs:  bc.Inputs,
	}
	return brick.NewTaskSet(bc.Stage.Name, bc.Item, BrickType, spec), nil
}

// Outputs publishes one item's port values.
func (b *Brick) Outputs(ts *brick.TaskSet) (map[string]cty.Value, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("sweep stage '%s' item '%s' has no engine result", ts.Stage, ts.Item)
	}

	out := map[string]cty.Value{
		"workdir": store.Val(ts.Specs[0].Workdir),
		"files":   fileList(res.Files),
	}
	if v, ok := res.Outputs["energy"]; ok {
		out["energy"] = v
	}
	if v, ok := res.Outputs["structure"]; ok {
		s, err := matter.Decode(v)
		if err != nil {
			return nil, errors.Wrapf(err, "sweep stage '%s' item '%s': structure output", ts.Stage, ts.Item)
		}
		out["structure"] = matter.Val(s)
	}
	return out, nil
}

// Results extracts one item's summary record.
func (b *Brick) Results(ts *brick.TaskSet) (brick.Record, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("sweep stage '%s' item '%s' has no engine result", ts.Stage, ts.Item)
	}
	rec := brick.Record{
		"elapsed_s": cty.NumberFloatVal(res.Elapsed.Seconds()),
	}
	if v, ok := res.Outputs["energy"]; ok {
		rec["energy"] = v
	}
	return rec, nil
}

func fileList(names []string) cty.Value {
	if len(names) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, 0, len(names))
	for _, n := range names {
		vals = append(vals, cty.StringVal(n))
	}
	return cty.ListVal(vals)
}
