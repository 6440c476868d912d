package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/pipeline"
)

func writePipeline(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	t.Parallel()
	src := `
stage "vasp" "relax" {
  nsw            = 100
  structure_from = "input"
}

stage "dos" "spectrum" {
  structure_from = "relax"
  retrieve       = ["DOSCAR"]
}
`
	path := writePipeline(t, t.TempDir(), "pipeline.kiln.hcl", src)

	stages, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, stages, 2)

	assert.Equal(t, []string{"relax", "spectrum"}, pipeline.Names(stages))
	assert.Equal(t, "vasp", stages[0].Type)
	assert.Equal(t, "dos", stages[1].Type)

	wantRelax := cty.ObjectVal(map[string]cty.Value{
		"nsw":            cty.NumberIntVal(100),
		"structure_from": cty.StringVal("input"),
	})
	assert.Empty(t, cmp.Diff(wantRelax.GoString(), stages[0].Config.GoString()))

	wantSpectrum := cty.ObjectVal(map[string]cty.Value{
		"structure_from": cty.StringVal("relax"),
		"retrieve":       cty.TupleVal([]cty.Value{cty.StringVal("DOSCAR")}),
	})
	assert.Empty(t, cmp.Diff(wantSpectrum.GoString(), stages[1].Config.GoString()))
}

func TestLoadNestedConfigTrees(t *testing.T) {
	t.Parallel()
	src := `
stage "sweep" "eos" {
  base = {
    nsw   = 0
    encut = 520
  }
  items = {
    small = { encut = 400 }
    large = {}
  }
}
`
	path := writePipeline(t, t.TempDir(), "eos.kiln.hcl", src)

	stages, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, stages, 1)

	want := cty.ObjectVal(map[string]cty.Value{
		"base": cty.ObjectVal(map[string]cty.Value{
			"nsw":   cty.NumberIntVal(0),
			"encut": cty.NumberIntVal(520),
		}),
		"items": cty.ObjectVal(map[string]cty.Value{
			"small": cty.ObjectVal(map[string]cty.Value{"encut": cty.NumberIntVal(400)}),
			"large": cty.EmptyObjectVal,
		}),
	})
	assert.Empty(t, cmp.Diff(want.GoString(), stages[0].Config.GoString()))
}

func TestLoadEmptyStageBody(t *testing.T) {
	t.Parallel()
	path := writePipeline(t, t.TempDir(), "bare.kiln.hcl", `stage "vasp" "relax" {}`)

	stages, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.True(t, stages[0].Config.RawEquals(cty.EmptyObjectVal))
}

func TestLoadDirectoryDiscovery(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writePipeline(t, dir, "20-post.kiln.hcl", `stage "dos" "spectrum" { structure_from = "relax" }`)
	writePipeline(t, dir, "10-relax.kiln.hcl", `stage "vasp" "relax" {}`)
	writePipeline(t, dir, "notes.txt", "not a pipeline")

	sub := filepath.Join(dir, "extra")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writePipeline(t, sub, "30-charge.kiln.hcl", `stage "bader" "charges" { charge_from = "spectrum" }`)

	stages, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)

	// Sorted path order: the two root files first, then the subdirectory.
	assert.Equal(t, []string{"relax", "spectrum", "charges"}, pipeline.Names(stages))
}

func TestLoadMultiplePaths(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := writePipeline(t, dir, "b.kiln.hcl", `stage "vasp" "relax" {}`)
	second := writePipeline(t, dir, "a.kiln.hcl", `stage "dos" "spectrum" {}`)

	// Explicit path arguments keep their argument order.
	stages, err := NewLoader().Load(context.Background(), first, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"relax", "spectrum"}, pipeline.Names(stages))
}

func TestLoadExplicitFileIgnoresExtension(t *testing.T) {
	t.Parallel()
	path := writePipeline(t, t.TempDir(), "pipeline.hcl", `stage "vasp" "relax" {}`)

	stages, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "relax", stages[0].Name)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing path", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.kiln.hcl"))
		require.Error(t, err)
		assert.True(t, fault.IsConfig(err))
		assert.Contains(t, err.Error(), "pipeline path")
	})

	t.Run("malformed syntax", func(t *testing.T) {
		path := writePipeline(t, t.TempDir(), "broken.kiln.hcl", `stage "vasp" "relax" {`)
		_, err := NewLoader().Load(context.Background(), path)
		require.Error(t, err)
		assert.True(t, fault.IsConfig(err))
		assert.Contains(t, err.Error(), "parsing")
	})

	t.Run("stage block missing its name label", func(t *testing.T) {
		path := writePipeline(t, t.TempDir(), "unnamed.kiln.hcl", `stage "vasp" {}`)
		_, err := NewLoader().Load(context.Background(), path)
		require.Error(t, err)
		assert.True(t, fault.IsConfig(err))
	})

	t.Run("unknown block type", func(t *testing.T) {
		path := writePipeline(t, t.TempDir(), "job.kiln.hcl", `job "vasp" "relax" {}`)
		_, err := NewLoader().Load(context.Background(), path)
		require.Error(t, err)
		assert.True(t, fault.IsConfig(err))
	})

	t.Run("non-static expression", func(t *testing.T) {
		path := writePipeline(t, t.TempDir(), "dynamic.kiln.hcl", `
stage "vasp" "relax" {
  structure_from = var.source
}
`)
		_, err := NewLoader().Load(context.Background(), path)
		require.Error(t, err)
		assert.True(t, fault.IsConfig(err))
		assert.Contains(t, err.Error(), "stage 'relax'")
		assert.Contains(t, err.Error(), "structure_from")
	})
}
