// Package report renders validation findings, build plans and run outcomes
// for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/connect"
	"github.com/kilnworks/kiln/internal/dag"
	"github.com/kilnworks/kiln/internal/fault"
)

// Printer writes human-facing reports to one output stream.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a printer. A nil writer prints to stdout.
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out}
}

// Warnings prints each validation warning on its own line.
func (p *Printer) Warnings(warnings []connect.Warning) {
	for _, w := range warnings {
		pterm.Warning.WithWriter(p.out).Println(w.String())
	}
}

// ValidationOK reports a successful validation.
func (p *Printer) ValidationOK(stages, warnings int) {
	if warnings > 0 {
		pterm.Success.WithWriter(p.out).Printfln("Pipeline valid: %d stage(s), %d warning(s).", stages, warnings)
		return
	}
	pterm.Success.WithWriter(p.out).Printfln("Pipeline valid: %d stage(s).", stages)
}

// Failure reports a fatal error with its taxonomy class and any hints
// attached during validation.
func (p *Printer) Failure(err error) {
	class := fault.Class(err)
	if class == "" {
		class = "error"
	}
	pterm.Error.WithWriter(p.out).Printfln("%s: %v", class, err)
	if hints := fault.Hints(err); hints != "" {
		pterm.Info.WithWriter(p.out).Println(hints)
	}
}

// Plan prints the compiled task graph as a per-stage table.
func (p *Printer) Plan(g *dag.Graph) {
	data := pterm.TableData{{"Stage", "Brick", "Items", "Nodes"}}
	for _, stage := range g.StageOrder() {
		computes := g.ComputeNodes(stage)
		items := strconv.Itoa(len(computes))
		if len(computes) == 1 && computes[0].IsPlaceholder {
			items = "dynamic"
		}
		nodes := len(computes) + len(g.ExtractNodes(stage))
		data = append(data, []string{stage, g.BrickType(stage), items, strconv.Itoa(nodes)})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithWriter(p.out).WithData(data).Render(); err != nil {
		pterm.Error.WithWriter(p.out).Println(err)
		return
	}
	pterm.Info.WithWriter(p.out).Printfln("%d node(s) total, engine slots: %s", len(g.Nodes), capString(g.MaxParallel))
}

// RunSummary prints the extracted records of a finished run, stage by stage.
func (p *Printer) RunSummary(g *dag.Graph, elapsed time.Duration) {
	pterm.Success.WithWriter(p.out).Printfln("Run finished in %s.", elapsed.Round(time.Millisecond))

	text := pterm.DefaultBasicText.WithWriter(p.out)
	for _, stage := range g.StageOrder() {
		ns := g.Namespace(stage)
		results := ns.Results()
		for _, item := range ns.Items() {
			rec := results[item]
			if len(rec) == 0 {
				continue
			}
			label := stage
			if item != "" {
				label = fmt.Sprintf("%s[%s]", stage, item)
			}
			text.Printfln("%s:", label)
			for _, key := range cfgtree.SortedGoKeys(rec) {
				text.Printfln("  %s = %s", key, cfgtree.Render(rec[key]))
			}
		}
	}
}

func capString(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
