// Package vasp implements the brick for plane-wave DFT calculation stages.
// A vasp stage builds exactly one engine task; its connection contract
// covers structure hand-off, charge-density reuse and wavefunction restart.
package vasp

import (
	"context"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/porttype"
	"github.com/kilnworks/kiln/internal/store"
)

// BrickType is the stage type string pipelines use for this brick.
const BrickType = "vasp"

// Calculation artifacts by their fixed upstream names.
const (
	FileContcar = "CONTCAR"
	FileOutcar  = "OUTCAR"
	FileVasprun = "vasprun.xml"
	FileWavecar = "WAVECAR"
	FileChgcar  = "CHGCAR"
	FileXdatcar = "XDATCAR"
	FileAeccar0 = "AECCAR0"
	FileAeccar2 = "AECCAR2"
)

// chargeArtifacts are the retrieved files published on the charge port.
var chargeArtifacts = []string{FileChgcar, "CHG", FileAeccar0, "AECCAR1", FileAeccar2}

// trajectoryArtifacts are the retrieved files published on the trajectory port.
var trajectoryArtifacts = []string{FileXdatcar}

// ichargModes are the accepted charge-initialization modes.
var ichargModes = []int64{0, 1, 2, 4, 11, 12}

// Brick is the vasp stage implementation.
type Brick struct{}

// New returns the vasp brick.
func New() *Brick {
	return &Brick{}
}

// Descriptor declares the vasp connection contract.
func (b *Brick) Descriptor() *brick.Descriptor {
	return &brick.Descriptor{
		Type: BrickType,
		Inputs: map[string]*brick.InputPort{
			"structure": {
				Name:        "structure",
				Kind:        porttype.Structure,
				SourceField: "structure_from",
				Producers:   []string{BrickType},
			},
			// Resuming needs the producer's wavefunction kept on disk, so
			// the producer must have set lwave explicitly.
			"restart": {
				Name:        "restart",
				Kind:        porttype.RemoteHandle,
				SourceField: "restart",
				FromOutput:  "workdir",
				Producers:   []string{BrickType},
				Needs: &brick.Needs{
					Settings: map[string]cty.Value{"lwave": cty.True},
				},
			},
			// The charge port only exists when icharg asks to read a
			// charge density from file.
			"charge": {
				Name:        "charge",
				Kind:        porttype.FileCollection,
				SourceField: "charge_from",
				FromOutput:  "charge",
				Producers:   []string{BrickType},
				Condition: &brick.Condition{
					Path: []string{"icharg"},
					Op:   brick.OpIn,
					Value: cty.TupleVal([]cty.Value{
						cty.NumberIntVal(1), cty.NumberIntVal(11),
					}),
				},
				Needs: &brick.Needs{Artifacts: []string{FileChgcar}},
			},
		},
		Outputs: map[string]*brick.OutputPort{
			// A static run never moves ions, so no relaxed structure.
			"structure": {
				Name:      "structure",
				Kind:      porttype.Structure,
				Condition: &brick.Condition{Path: []string{"nsw"}, Op: brick.OpGT, Value: cty.Zero},
			},
			"energy":  {Name: "energy", Kind: porttype.ScalarEnergy},
			"workdir": {Name: "workdir", Kind: porttype.RemoteHandle},
			"files":   {Name: "files", Kind: porttype.FileCollection},
			"charge":  {Name: "charge", Kind: porttype.FileCollection},
			"trajectory": {
				Name: "trajectory",
				Kind: porttype.FileCollection,
				Condition: &brick.Condition{
					Path: []string{"ibrion"},
					Op:   brick.OpIn,
					Value: cty.TupleVal([]cty.Value{
						cty.NumberIntVal(0), cty.NumberIntVal(1),
						cty.NumberIntVal(2), cty.NumberIntVal(3),
					}),
				},
			},
		},
		DefaultRetrieve: []string{FileContcar, FileOutcar, FileVasprun},
	}
}

// ValidateConfig checks the calculation parameters a stage sets.
func (b *Brick) ValidateConfig(ctx context.Context, stage *pipeline.Stage, preceding []string) error {
	if n, ok, err := intSetting(stage.Config, "nsw"); err != nil {
		return fault.Configf("%s: nsw %v", stage.Name, err)
	} else if ok && n < 0 {
		return fault.Configf("%s: nsw must be zero or positive, got %d", stage.Name, n)
	}

	if n, ok, err := intSetting(stage.Config, "icharg"); err != nil {
		return fault.Configf("%s: icharg %v", stage.Name, err)
	} else if ok && !slices.Contains(ichargModes, n) {
		return fault.Configf("%s: icharg %d is not a recognized charge-initialization mode", stage.Name, n)
	}

	if n, ok, err := intSetting(stage.Config, "encut"); err != nil {
		return fault.Configf("%s: encut %v", stage.Name, err)
	} else if ok && n <= 0 {
		return fault.Configf("%s: encut must be positive, got %d", stage.Name, n)
	}

	if raw, ok := cfgtree.Get(stage.Config, "retrieve"); ok {
		if err := checkFileList(raw); err != nil {
			return fault.Configf("%s: retrieve %v", stage.Name, err)
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
		Restart: bc.Restart,
	}
	return brick.NewTaskSet(bc.Stage.Name, bc.Item, BrickType, spec), nil
}

// Outputs publishes the calculation's port values. The relaxed structure and
// final energy come from the engine report; file collections are derived
// from what was retrieved into the workdir.
func (b *Brick) Outputs(ts *brick.TaskSet) (map[string]cty.Value, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("vasp stage '%s' has no engine result", ts.Stage)
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
			return nil, errors.Wrapf(err, "vasp stage '%s': structure output", ts.Stage)
		}
		out["structure"] = matter.Val(s)
	}
	if charge := filterFiles(res.Files, chargeArtifacts); len(charge) > 0 {
		out["charge"] = fileList(charge)
	}
	if traj := filterFiles(res.Files, trajectoryArtifacts); len(traj) > 0 {
		out["trajectory"] = fileList(traj)
	}
	return out, nil
}

// Results extracts the run-summary record.
func (b *Brick) Results(ts *brick.TaskSet) (brick.Record, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("vasp stage '%s' has no engine result", ts.Stage)
	}
	rec := brick.Record{
		"elapsed_s": cty.NumberFloatVal(res.Elapsed.Seconds()),
	}
	if v, ok := res.Outputs["energy"]; ok {
		rec["energy"] = v
	}
	if v, ok := res.Outputs["converged"]; ok {
		rec["converged"] = v
	}
	return rec, nil
}

// intSetting reads a numeric config field as an integer. The second return
// is false when the field is absent.
func intSetting(config cty.Value, key string) (int64, bool, error) {
	raw, ok := cfgtree.Get(config, key)
	if !ok {
		return 0, false, nil
	}
	num, err := convert.Convert(raw, cty.Number)
	if err != nil || num.IsNull() {
		return 0, true, errors.Newf("must be a number, got %s", cfgtree.Render(raw))
	}
	n, _ := num.AsBigFloat().Int64()
	return n, true, nil
}

// checkFileList rejects retrieve values that are not a sequence of names.
func checkFileList(v cty.Value) error {
	if v.IsNull() || !v.CanIterateElements() {
		return errors.Newf("must be a list of file names, got %s", cfgtree.Render(v))
	}
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		if ev.IsNull() || ev.Type() != cty.String {
			return errors.Newf("must be a list of file names, got %s", cfgtree.Render(v))
		}
	}
	return nil
}

// fileList wraps names as a file-collection value.
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

// filterFiles keeps the names whose base matches one of the wanted
// artifacts. Engine file lists may carry relative paths.
func filterFiles(files, wanted []string) []string {
	var kept []string
	for _, f := range files {
		base := f
		if i := strings.LastIndexByte(f, '/'); i >= 0 {
			base = f[i+1:]
		}
		if slices.Contains(wanted, base) {
			kept = append(kept, f)
		}
	}
	return kept
}
