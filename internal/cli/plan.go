package cli

import (
	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/internal/report"
)

var (
	planInput       string
	planMaxParallel int
)

var planCmd = &cobra.Command{
	Use:   "plan [paths...]",
	Short: "Compile the task graph and show it without running",
	Long: `Validate the pipeline, expand fan-out stages and print the task
graph that a run would execute: one row per stage with its item and node
counts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planInput, "input", "", "Path to an initial structure file.")
	planCmd.Flags().IntVar(&planMaxParallel, "max-parallel", 0, "Cap on concurrent engine tasks. Overrides settings.")
}

func runPlan(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if f := cmd.Flag("max-parallel"); f != nil && f.Changed {
		s.MaxParallel = planMaxParallel
	}
	a, err := buildApp(s)
	if err != nil {
		return err
	}
	printer := report.NewPrinter(cmd.OutOrStdout())

	initial, err := initialInput(planInput)
	if err != nil {
		return reported(printer, err)
	}
	val, err := a.Validate(cmd.Context(), args...)
	if err != nil {
		return reported(printer, err)
	}
	printer.Warnings(val.Warnings)

	graph, err := a.BuildGraph(cmd.Context(), val, initial, s.MaxParallel)
	if err != nil {
		return reported(printer, err)
	}
	printer.Plan(graph)
	return nil
}
