package strain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/testutil"
)

func amplitudes(vals ...float64) cty.Value {
	elems := make([]cty.Value, 0, len(vals))
	for _, v := range vals {
		elems = append(elems, cty.NumberFloatVal(v))
	}
	return cty.TupleVal(elems)
}

func TestDescriptorContract(t *testing.T) {
	t.Parallel()
	reg := brick.New()
	require.NoError(t, reg.Register(New()))

	d := New().Descriptor()
	assert.Empty(t, d.Inputs, "the generator consumes nothing")
	_, ok := d.Output("items")
	assert.True(t, ok)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		config  map[string]cty.Value
		wantErr string
	}{
		{
			name:   "amplitudes with axis",
			config: map[string]cty.Value{"amplitudes": amplitudes(-0.01, 0, 0.01), "axis": cty.StringVal("c")},
		},
		{
			name:   "amplitudes alone",
			config: map[string]cty.Value{"amplitudes": amplitudes(-0.02, 0.02)},
		},
		{
			name:    "missing amplitudes",
			wantErr: "amplitudes is not set",
		},
		{
			name:    "amplitudes not a list",
			config:  map[string]cty.Value{"amplitudes": cty.StringVal("0.01")},
			wantErr: "must be a list of numbers",
		},
		{
			name:    "empty amplitude list",
			config:  map[string]cty.Value{"amplitudes": cty.EmptyTupleVal},
			wantErr: "amplitudes list is empty",
		},
		{
			name: "non-numeric amplitude",
			config: map[string]cty.Value{
				"amplitudes": cty.TupleVal([]cty.Value{cty.StringVal("tiny")}),
			},
			wantErr: "must be a list of numbers",
		},
		{
			name: "unknown axis",
			config: map[string]cty.Value{
				"amplitudes": amplitudes(0.01),
				"axis":       cty.StringVal("diagonal"),
			},
			wantErr: "axis must be one of a, b, c, iso",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stage := testutil.Stage(BrickType, "gen", tc.config)
			err := New().ValidateConfig(context.Background(), stage, nil)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, fault.IsConfig(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBuildTasksStaysLocal(t *testing.T) {
	t.Parallel()
	bc := &brick.BuildContext{
		Stage:  testutil.Stage(BrickType, "gen", nil),
		Config: cty.ObjectVal(map[string]cty.Value{"amplitudes": amplitudes(0.01)}),
		// No store: an in-process task never allocates scratch space.
	}

	ts, err := New().BuildTasks(context.Background(), bc)
	require.NoError(t, err)

	require.Len(t, ts.Specs, 1)
	assert.True(t, ts.Specs[0].Local)
	assert.Nil(t, ts.Specs[0].Workdir)
}

func TestRunLocal(t *testing.T) {
	t.Parallel()

	t.Run("labels items in amplitude order", func(t *testing.T) {
		spec := &brick.TaskSpec{
			Config: cty.ObjectVal(map[string]cty.Value{
				"amplitudes": amplitudes(-0.01, 0, 0.01),
				"axis":       cty.StringVal("c"),
			}),
			Local: true,
		}

		res, err := New().RunLocal(context.Background(), spec)
		require.NoError(t, err)

		want := cty.ObjectVal(map[string]cty.Value{
			"strain-0": cty.ObjectVal(map[string]cty.Value{
				"strain": cty.NumberFloatVal(-0.01), "axis": cty.StringVal("c"),
			}),
			"strain-1": cty.ObjectVal(map[string]cty.Value{
				"strain": cty.NumberFloatVal(0), "axis": cty.StringVal("c"),
			}),
			"strain-2": cty.ObjectVal(map[string]cty.Value{
				"strain": cty.NumberFloatVal(0.01), "axis": cty.StringVal("c"),
			}),
		})
		assert.True(t, res.Outputs["items"].RawEquals(want), "got %s", res.Outputs["items"].GoString())
	})

	t.Run("axis defaults to isotropic", func(t *testing.T) {
		spec := &brick.TaskSpec{
			Config: cty.ObjectVal(map[string]cty.Value{"amplitudes": amplitudes(0.02)}),
			Local:  true,
		}

		res, err := New().RunLocal(context.Background(), spec)
		require.NoError(t, err)

		item := res.Outputs["items"].GetAttr("strain-0")
		assert.Equal(t, "iso", item.GetAttr("axis").AsString())
	})

	t.Run("bad config fails the task", func(t *testing.T) {
		_, err := New().RunLocal(context.Background(), &brick.TaskSpec{Config: cty.EmptyObjectVal, Local: true})
		require.Error(t, err)
	})
}

func TestOutputsAndResults(t *testing.T) {
	t.Parallel()

	ts := brick.NewTaskSet("gen", "", BrickType, &brick.TaskSpec{
		Config: cty.ObjectVal(map[string]cty.Value{"amplitudes": amplitudes(-0.01, 0.01)}),
		Local:  true,
	})
	res, err := New().RunLocal(context.Background(), ts.Specs[0])
	require.NoError(t, err)
	ts.Ran = append(ts.Ran, res)

	out, err := New().Outputs(ts)
	require.NoError(t, err)
	assert.Contains(t, out, "items")

	rec, err := New().Results(ts)
	require.NoError(t, err)
	assert.True(t, rec["items"].RawEquals(cty.NumberIntVal(2)))

	t.Run("nothing ran", func(t *testing.T) {
		empty := brick.NewTaskSet("gen", "", BrickType, &brick.TaskSpec{Local: true})
		_, err := New().Outputs(empty)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no result")
	})
}
