// Package strain implements the brick that generates deformation items for
// a fan-out sweep. It runs in-process: no engine round-trip is needed to
// turn a list of strain amplitudes into per-item parameter overrides.
package strain

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/engine"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/porttype"
)

// BrickType is the stage type string pipelines use for this brick.
const BrickType = "strain"

// axes are the accepted deformation directions.
var axes = []string{"a", "b", "c", "iso"}

// Brick is the strain stage implementation.
type Brick struct{}

// New returns the strain brick.
func New() *Brick {
	return &Brick{}
}

// Descriptor declares the strain connection contract. The brick consumes
// nothing; it publishes an item map for a sweep stage to expand over.
func (b *Brick) Descriptor() *brick.Descriptor {
	return &brick.Descriptor{
		Type: BrickType,
		Outputs: map[string]*brick.OutputPort{
			"items": {Kind: porttype.Record},
		},
	}
}

// ValidateConfig checks the deformation parameters.
func (b *Brick) ValidateConfig(ctx context.Context, stage *pipeline.Stage, preceding []string) error {
	if _, err := readAmplitudes(stage.Config); err != nil {
		return fault.Configf("%s: %v", stage.Name, err)
	}
	if raw, ok := cfgtree.Get(stage.Config, "axis"); ok {
		if raw.IsNull() || raw.Type() != cty.String || !slices.Contains(axes, raw.AsString()) {
			return fault.Configf("%s: axis must be one of %s, got %s", stage.Name, strings.Join(axes, ", "), cfgtree.Render(raw))
		}
	}
	return nil
}

// BuildTasks emits a single in-process task. No working directory is
// allocated; the computation never leaves the executor.
func (b *Brick) BuildTasks(ctx context.Context, bc *brick.BuildContext) (*brick.TaskSet, error) {
	spec := &brick.TaskSpec{
		Config: bc.Config,
		Inputs: bc.Inputs,
		Local:  true,
	}
	return brick.NewTaskSet(bc.Stage.Name, bc.Item, BrickType, spec), nil
}

// RunLocal expands the amplitude list into labeled item overrides.
func (b *Brick) RunLocal(ctx context.Context, spec *brick.TaskSpec) (*engine.Result, error) {
	start := time.Now()

	amps, err := readAmplitudes(spec.Config)
	if err != nil {
		return nil, err
	}
	axis := "iso"
	if raw, ok := cfgtree.Get(spec.Config, "axis"); ok && raw.Type() == cty.String && !raw.IsNull() {
		axis = raw.AsString()
	}

	items := make(map[string]cty.Value, len(amps))
	for i, amp := range amps {
		items[fmt.Sprintf("strain-%d", i)] = cty.ObjectVal(map[string]cty.Value{
			"strain": cty.NumberFloatVal(amp),
			"axis":   cty.StringVal(axis),
		})
	}

	return &engine.Result{
		Outputs: map[string]cty.Value{"items": cty.ObjectVal(items)},
		Elapsed: time.Since(start),
	}, nil
}

// Outputs publishes the generated item map.
func (b *Brick) Outputs(ts *brick.TaskSet) (map[string]cty.Value, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("strain stage '%s' has no result", ts.Stage)
	}
	out := map[string]cty.Value{}
	if v, ok := res.Outputs["items"]; ok {
		out["items"] = v
	}
	return out, nil
}

// Results extracts the run-summary record.
func (b *Brick) Results(ts *brick.TaskSet) (brick.Record, error) {
	res := ts.FirstResult()
	if res == nil {
		return nil, errors.Newf("strain stage '%s' has no result", ts.Stage)
	}
	count := 0
	if v, ok := res.Outputs["items"]; ok && v.CanIterateElements() {
		count = v.LengthInt()
	}
	return brick.Record{"items": cty.NumberIntVal(int64(count))}, nil
}

// readAmplitudes parses the required amplitude list.
func readAmplitudes(config cty.Value) ([]float64, error) {
	raw, ok := cfgtree.Get(config, "amplitudes")
	if !ok {
		return nil, errors.New("amplitudes is not set")
	}
	if raw.IsNull() || !raw.CanIterateElements() {
		return nil, errors.Newf("amplitudes must be a list of numbers, got %s", cfgtree.Render(raw))
	}

	var amps []float64
	for it := raw.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		num, err := convert.Convert(ev, cty.Number)
		if err != nil || num.IsNull() {
			return nil, errors.Newf("amplitudes must be a list of numbers, got %s", cfgtree.Render(ev))
		}
		f, _ := num.AsBigFloat().Float64()
		amps = append(amps, f)
	}
	if len(amps) == 0 {
		return nil, errors.New("amplitudes list is empty")
	}
	return amps, nil
}
