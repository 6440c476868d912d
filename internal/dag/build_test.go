package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/bricks/dos"
	"github.com/kilnworks/kiln/bricks/strain"
	"github.com/kilnworks/kiln/bricks/sweep"
	"github.com/kilnworks/kiln/bricks/vasp"
	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/connect"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/porttype"
	"github.com/kilnworks/kiln/internal/testutil"
)

func buildRegistry(t *testing.T) *brick.Registry {
	t.Helper()
	reg := brick.New()
	require.NoError(t, reg.Register(vasp.New()))
	require.NoError(t, reg.Register(dos.New()))
	require.NoError(t, reg.Register(sweep.New()))
	require.NoError(t, reg.Register(strain.New()))
	return reg
}

func resolve(t *testing.T, reg *brick.Registry, stages ...*pipeline.Stage) *connect.Graph {
	t.Helper()
	resolved, _, err := connect.Resolve(context.Background(), stages, reg)
	require.NoError(t, err)
	return resolved
}

func TestBuildSimpleChain(t *testing.T) {
	t.Parallel()
	reg := buildRegistry(t)

	resolved := resolve(t, reg,
		testutil.Stage("vasp", "relax", map[string]cty.Value{"nsw": cty.NumberIntVal(100)}),
		testutil.Stage("vasp", "scf", map[string]cty.Value{"structure_from": cty.StringVal("relax")}),
	)

	graph, err := Build(context.Background(), resolved, Options{})
	require.NoError(t, err)

	t.Run("one compute and one extract node per stage", func(t *testing.T) {
		require.Len(t, graph.Nodes, 4)
		for _, id := range []string{"task.vasp.relax", "extract.vasp.relax", "task.vasp.scf", "extract.vasp.scf"} {
			assert.Contains(t, graph.Nodes, id)
		}
	})

	t.Run("extraction follows its compute node", func(t *testing.T) {
		extract := graph.Nodes["extract.vasp.relax"]
		require.Contains(t, extract.Deps, "task.vasp.relax")
		assert.Equal(t, int32(1), extract.DepCount())
	})

	t.Run("consumer waits for the producer's extraction", func(t *testing.T) {
		consumer := graph.Nodes["task.vasp.scf"]
		require.Contains(t, consumer.Deps, "extract.vasp.relax")
		assert.Equal(t, int32(1), consumer.DepCount())
	})

	t.Run("roots have no unmet dependencies", func(t *testing.T) {
		assert.Equal(t, int32(0), graph.Nodes["task.vasp.relax"].DepCount())
	})

	t.Run("stage accessors", func(t *testing.T) {
		assert.Equal(t, []string{"relax", "scf"}, graph.StageOrder())
		assert.Equal(t, "vasp", graph.BrickType("scf"))
		require.Len(t, graph.ComputeNodes("relax"), 1)
		require.Len(t, graph.ExtractNodes("relax"), 1)
		require.NotNil(t, graph.Namespace("relax"))
		assert.False(t, graph.Namespace("relax").FanOut())
	})

	t.Run("all nodes start pending", func(t *testing.T) {
		for id, state := range graph.States() {
			assert.Equal(t, "pending", state, "node %s", id)
		}
	})
}

func TestBuildDuplicateEdgesCollapse(t *testing.T) {
	t.Parallel()
	reg := buildRegistry(t)

	// Two ports fed by the same producer still make one dependency edge.
	resolved := resolve(t, reg,
		testutil.Stage("vasp", "scf", map[string]cty.Value{
			"nsw":   cty.NumberIntVal(100),
			"lwave": cty.True,
		}),
		testutil.Stage("vasp", "resume", map[string]cty.Value{
			"structure_from": cty.StringVal("scf"),
			"restart":        cty.StringVal("scf"),
		}),
	)

	graph, err := Build(context.Background(), resolved, Options{})
	require.NoError(t, err)

	consumer := graph.Nodes["task.vasp.resume"]
	assert.Len(t, consumer.Deps, 1)
	assert.Equal(t, int32(1), consumer.DepCount())
}

func TestBuildStaticFanOut(t *testing.T) {
	t.Parallel()
	reg := buildRegistry(t)

	resolved := resolve(t, reg,
		testutil.Stage("sweep", "eos", map[string]cty.Value{
			"base": cty.ObjectVal(map[string]cty.Value{
				"nsw":   cty.NumberIntVal(100),
				"encut": cty.NumberIntVal(500),
			}),
			"items": cty.ObjectVal(map[string]cty.Value{
				"s1": cty.ObjectVal(map[string]cty.Value{"strain": cty.NumberFloatVal(-0.01)}),
				"s2": cty.ObjectVal(map[string]cty.Value{
					"strain": cty.NumberFloatVal(0.01),
					"nsw":    cty.NumberIntVal(0),
				}),
			}),
		}),
	)

	graph, err := Build(context.Background(), resolved, Options{})
	require.NoError(t, err)

	t.Run("every item gets its own node pair", func(t *testing.T) {
		require.Len(t, graph.Nodes, 4)
		for _, id := range []string{
			"task.sweep.eos[s1]", "extract.sweep.eos[s1]",
			"task.sweep.eos[s2]", "extract.sweep.eos[s2]",
		} {
			assert.Contains(t, graph.Nodes, id)
		}
	})

	t.Run("items expand in label order", func(t *testing.T) {
		computes := graph.ComputeNodes("eos")
		require.Len(t, computes, 2)
		assert.Equal(t, "s1", computes[0].Item)
		assert.Equal(t, "s2", computes[1].Item)
	})

	t.Run("item config is base with the override merged in", func(t *testing.T) {
		s1 := graph.Nodes["task.sweep.eos[s1]"]
		nsw, ok := cfgtree.Get(s1.Config, "nsw")
		require.True(t, ok)
		assert.Equal(t, cty.NumberIntVal(100), nsw)
		strainVal, ok := cfgtree.Get(s1.Config, "strain")
		require.True(t, ok)
		assert.Equal(t, cty.NumberFloatVal(-0.01), strainVal)

		s2 := graph.Nodes["task.sweep.eos[s2]"]
		nsw, ok = cfgtree.Get(s2.Config, "nsw")
		require.True(t, ok)
		assert.Equal(t, cty.NumberIntVal(0), nsw)
		encut, ok := cfgtree.Get(s2.Config, "encut")
		require.True(t, ok)
		assert.Equal(t, cty.NumberIntVal(500), encut)
	})

	t.Run("items run independently without scratch", func(t *testing.T) {
		assert.Empty(t, graph.Nodes["task.sweep.eos[s1]"].Deps)
		assert.Empty(t, graph.Nodes["task.sweep.eos[s2]"].Deps)
	})

	t.Run("namespace is itemized", func(t *testing.T) {
		assert.True(t, graph.Namespace("eos").FanOut())
	})
}

func TestBuildScratchSerialization(t *testing.T) {
	t.Parallel()
	reg := buildRegistry(t)

	resolved := resolve(t, reg,
		testutil.Stage("sweep", "eos", map[string]cty.Value{
			"scratch": cty.StringVal("/scratch/shared"),
			"items": cty.ObjectVal(map[string]cty.Value{
				"s1": cty.ObjectVal(map[string]cty.Value{"strain": cty.NumberFloatVal(-0.01)}),
				"s2": cty.ObjectVal(map[string]cty.Value{"strain": cty.NumberFloatVal(0.0)}),
				"s3": cty.ObjectVal(map[string]cty.Value{"strain": cty.NumberFloatVal(0.01)}),
			}),
		}),
	)

	graph, err := Build(context.Background(), resolved, Options{})
	require.NoError(t, err)

	// Consecutive siblings chain so only one touches the directory at a time.
	assert.Empty(t, graph.Nodes["task.sweep.eos[s1]"].Deps)
	assert.Contains(t, graph.Nodes["task.sweep.eos[s2]"].Deps, "task.sweep.eos[s1]")
	assert.Contains(t, graph.Nodes["task.sweep.eos[s3]"].Deps, "task.sweep.eos[s2]")
	assert.NotContains(t, graph.Nodes["task.sweep.eos[s3]"].Deps, "task.sweep.eos[s1]")
}

func TestBuildDynamicFanOut(t *testing.T) {
	t.Parallel()
	reg := buildRegistry(t)

	resolved := resolve(t, reg,
		testutil.Stage("strain", "gen", map[string]cty.Value{
			"amplitudes": cty.TupleVal([]cty.Value{cty.NumberFloatVal(-0.01), cty.NumberFloatVal(0.01)}),
		}),
		testutil.Stage("sweep", "eos", map[string]cty.Value{
			"items_from": cty.StringVal("gen"),
		}),
	)

	graph, err := Build(context.Background(), resolved, Options{})
	require.NoError(t, err)

	t.Run("a single placeholder stands in for the unknown items", func(t *testing.T) {
		require.Len(t, graph.Nodes, 4)
		node := graph.Nodes["task.sweep.eos"]
		require.NotNil(t, node)
		assert.True(t, node.IsPlaceholder)
		assert.Empty(t, node.Item)
	})

	t.Run("placeholder waits on the item producer", func(t *testing.T) {
		node := graph.Nodes["task.sweep.eos"]
		assert.Contains(t, node.Deps, "extract.strain.gen")
	})

	t.Run("compute nodes outside the fan-out are not placeholders", func(t *testing.T) {
		assert.False(t, graph.Nodes["task.strain.gen"].IsPlaceholder)
	})
}

func TestBuildFanOutShapeErrors(t *testing.T) {
	t.Parallel()

	// A permissive fan-out brick gets the bad shapes past stage validation,
	// so the builder's own checks have to catch them.
	lax := &testutil.TestBrick{Desc: &brick.Descriptor{
		Type:   "lax",
		FanOut: true,
		Outputs: map[string]*brick.OutputPort{
			"energy": {Kind: porttype.ScalarEnergy},
		},
	}}
	reg := brick.New()
	require.NoError(t, reg.Register(lax))

	testCases := []struct {
		name    string
		config  map[string]cty.Value
		wantMsg string
	}{
		{
			"no item source",
			map[string]cty.Value{"base": cty.EmptyObjectVal},
			"declares neither items nor items_from",
		},
		{
			"items is not a mapping",
			map[string]cty.Value{"items": cty.StringVal("s1,s2")},
			"items must be a mapping of item labels",
		},
		{
			"items map is empty",
			map[string]cty.Value{"items": cty.EmptyObjectVal},
			"fan-out items map is empty",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolved := resolve(t, reg, testutil.Stage("lax", "eos", tc.config))

			_, err := Build(context.Background(), resolved, Options{})

			require.Error(t, err)
			assert.True(t, fault.IsConfig(err))
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestBuildInitialInput(t *testing.T) {
	t.Parallel()
	reg := buildRegistry(t)

	t.Run("required port with no pipeline input fails", func(t *testing.T) {
		resolved := resolve(t, reg,
			testutil.Stage("dos", "spectrum", map[string]cty.Value{"structure_from": cty.StringVal("input")}),
		)

		_, err := Build(context.Background(), resolved, Options{})

		require.Error(t, err)
		assert.True(t, fault.IsConfig(err))
		assert.Contains(t, err.Error(), "spectrum: input 'structure' reads the pipeline input, but none was provided")
	})

	t.Run("required port with a pipeline input builds", func(t *testing.T) {
		resolved := resolve(t, reg,
			testutil.Stage("dos", "spectrum", map[string]cty.Value{"structure_from": cty.StringVal("input")}),
		)
		initial := matter.Val(&matter.Structure{Format: "poscar", Data: []byte("Si2")})

		graph, err := Build(context.Background(), resolved, Options{Initial: initial})

		require.NoError(t, err)
		assert.True(t, graph.Initial.RawEquals(initial))
	})

	t.Run("optional port tolerates a missing pipeline input", func(t *testing.T) {
		resolved := resolve(t, reg,
			testutil.Stage("vasp", "relax", map[string]cty.Value{"structure_from": cty.StringVal("input")}),
		)

		_, err := Build(context.Background(), resolved, Options{})
		require.NoError(t, err)
	})
}

func TestBuildMaxParallel(t *testing.T) {
	t.Parallel()
	reg := buildRegistry(t)

	resolved := resolve(t, reg,
		testutil.Stage("vasp", "relax", map[string]cty.Value{"nsw": cty.NumberIntVal(100)}),
	)

	graph, err := Build(context.Background(), resolved, Options{MaxParallel: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, graph.MaxParallel)
}

func TestDetectCycles(t *testing.T) {
	t.Parallel()

	stage := testutil.Stage("x", "s", nil)
	newGraph := func(ids ...string) *Graph {
		g := &Graph{Nodes: make(map[string]*Node)}
		for _, id := range ids {
			g.Nodes[id] = newNode(id, stage, "", ComputeNode, cty.EmptyObjectVal)
		}
		return g
	}

	t.Run("acyclic graph passes", func(t *testing.T) {
		g := newGraph("a", "b", "c")
		addEdge(g.Nodes["a"], g.Nodes["b"])
		addEdge(g.Nodes["b"], g.Nodes["c"])
		require.NoError(t, g.detectCycles())
	})

	t.Run("two-node cycle is caught", func(t *testing.T) {
		g := newGraph("a", "b")
		addEdge(g.Nodes["a"], g.Nodes["b"])
		addEdge(g.Nodes["b"], g.Nodes["a"])
		err := g.detectCycles()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle detected")
	})

	t.Run("self loop is caught", func(t *testing.T) {
		g := newGraph("a")
		addEdge(g.Nodes["a"], g.Nodes["a"])
		require.Error(t, g.detectCycles())
	})
}
