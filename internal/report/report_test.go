package report

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/bricks/strain"
	"github.com/kilnworks/kiln/bricks/sweep"
	"github.com/kilnworks/kiln/bricks/vasp"
	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/connect"
	"github.com/kilnworks/kiln/internal/dag"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/testutil"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func capture(fn func(p *Printer)) string {
	var buf bytes.Buffer
	fn(NewPrinter(&buf))
	return buf.String()
}

func buildGraph(t *testing.T, opts dag.Options, stages ...*pipeline.Stage) *dag.Graph {
	t.Helper()
	reg := brick.New()
	require.NoError(t, reg.Register(vasp.New()))
	require.NoError(t, reg.Register(sweep.New()))
	require.NoError(t, reg.Register(strain.New()))

	resolved, _, err := connect.Resolve(context.Background(), stages, reg)
	require.NoError(t, err)
	graph, err := dag.Build(context.Background(), resolved, opts)
	require.NoError(t, err)
	return graph
}

func TestWarnings(t *testing.T) {
	out := capture(func(p *Printer) {
		p.Warnings([]connect.Warning{
			{Stage: "post", Port: "structure", Producer: "scf", Detail: "nsw=0"},
			{Stage: "charges", Port: "charge", Producer: "scf", Detail: "laechg unset"},
		})
	})

	assert.Contains(t, out, "post: auto-resolved input from 'scf' may be unavailable (nsw=0)")
	assert.Contains(t, out, "charges: auto-resolved input from 'scf' may be unavailable (laechg unset)")
}

func TestValidationOK(t *testing.T) {
	t.Run("without warnings", func(t *testing.T) {
		out := capture(func(p *Printer) { p.ValidationOK(3, 0) })
		assert.Contains(t, out, "Pipeline valid: 3 stage(s).")
	})

	t.Run("with warnings", func(t *testing.T) {
		out := capture(func(p *Printer) { p.ValidationOK(3, 2) })
		assert.Contains(t, out, "Pipeline valid: 3 stage(s), 2 warning(s).")
	})
}

func TestFailure(t *testing.T) {
	t.Run("classed error", func(t *testing.T) {
		out := capture(func(p *Printer) {
			p.Failure(fault.Connectionf("stage 'scf' doesn't produce output 'structure'"))
		})
		assert.Contains(t, out, "connection:")
		assert.Contains(t, out, "stage 'scf' doesn't produce output 'structure'")
	})

	t.Run("hints follow the error", func(t *testing.T) {
		err := fault.WithSuggestion(fault.Configf("unknown stage 'rlax'"), "rlax", []string{"relax", "scf"})
		out := capture(func(p *Printer) { p.Failure(err) })
		assert.Contains(t, out, "config:")
		assert.Contains(t, out, "did you mean 'relax'?")
	})

	t.Run("unclassed error", func(t *testing.T) {
		out := capture(func(p *Printer) { p.Failure(errors.New("boom")) })
		assert.Contains(t, out, "error: boom")
	})
}

func TestPlan(t *testing.T) {
	t.Run("static chain", func(t *testing.T) {
		graph := buildGraph(t, dag.Options{MaxParallel: 3},
			testutil.Stage("vasp", "relax", map[string]cty.Value{"nsw": cty.NumberIntVal(100)}),
			testutil.Stage("vasp", "scf", map[string]cty.Value{"structure_from": cty.StringVal("relax")}),
		)

		out := capture(func(p *Printer) { p.Plan(graph) })

		for _, want := range []string{"Stage", "Brick", "Items", "Nodes", "relax", "scf", "vasp"} {
			assert.Contains(t, out, want)
		}
		assert.Contains(t, out, "4 node(s) total, engine slots: 3")
	})

	t.Run("dynamic fan-out shows no item count", func(t *testing.T) {
		graph := buildGraph(t, dag.Options{},
			testutil.Stage("strain", "gen", map[string]cty.Value{
				"amplitudes": cty.TupleVal([]cty.Value{cty.NumberFloatVal(-0.01), cty.NumberFloatVal(0.01)}),
			}),
			testutil.Stage("sweep", "eos", map[string]cty.Value{"items_from": cty.StringVal("gen")}),
		)

		out := capture(func(p *Printer) { p.Plan(graph) })

		assert.Contains(t, out, "dynamic")
		assert.Contains(t, out, "4 node(s) total, engine slots: unlimited")
	})
}

func TestRunSummary(t *testing.T) {
	graph := buildGraph(t, dag.Options{},
		testutil.Stage("vasp", "relax", map[string]cty.Value{"nsw": cty.NumberIntVal(100)}),
		testutil.Stage("vasp", "scf", map[string]cty.Value{"structure_from": cty.StringVal("relax")}),
	)
	graph.Namespace("relax").SetResults("", brick.Record{
		"energy": cty.NumberFloatVal(-13.2),
		"steps":  cty.NumberIntVal(42),
	})

	out := capture(func(p *Printer) { p.RunSummary(graph, 1500*time.Millisecond) })

	assert.Contains(t, out, "Run finished in 1.5s.")
	assert.Contains(t, out, "relax:")
	assert.Contains(t, out, "energy = -13.2")
	assert.Contains(t, out, "steps = 42")
	assert.NotContains(t, out, "scf:", "stages without records stay out of the summary")
}

func TestRunSummaryLabelsFanOutItems(t *testing.T) {
	graph := buildGraph(t, dag.Options{},
		testutil.Stage("sweep", "eos", map[string]cty.Value{
			"base": cty.ObjectVal(map[string]cty.Value{"nsw": cty.NumberIntVal(0)}),
			"items": cty.ObjectVal(map[string]cty.Value{
				"s1": cty.ObjectVal(map[string]cty.Value{"strain": cty.NumberFloatVal(-0.01)}),
				"s2": cty.ObjectVal(map[string]cty.Value{"strain": cty.NumberFloatVal(0.01)}),
			}),
		}),
	)
	graph.Namespace("eos").SetResults("s1", brick.Record{"energy": cty.NumberFloatVal(-12.9)})
	graph.Namespace("eos").SetResults("s2", brick.Record{"energy": cty.NumberFloatVal(-13.1)})

	out := capture(func(p *Printer) { p.RunSummary(graph, time.Second) })

	assert.Contains(t, out, "eos[s1]:")
	assert.Contains(t, out, "eos[s2]:")
	assert.Contains(t, out, "energy = -12.9")
}
