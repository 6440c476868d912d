package cli

import (
	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/internal/app"
	"github.com/kilnworks/kiln/internal/report"
)

var (
	runInput       string
	runWorkers     int
	runMaxParallel int
	runScratch     string
	runStatusAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run [paths...]",
	Short: "Execute a pipeline on the configured engine",
	Long: `Validate the pipeline, build its task graph and execute it. Stage
tasks are dispatched to the configured calculation engine; Ctrl+C cancels
the run, and tasks that have not started yet are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "Path to an initial structure file.")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Number of executor workers. Overrides settings.")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Cap on concurrent engine tasks. Overrides settings.")
	runCmd.Flags().StringVar(&runScratch, "scratch", "", "Root directory for run workspaces. Overrides settings.")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "", "Address to serve run status on, e.g. :8686.")
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		s.Workers = runWorkers
	}
	if flags.Changed("max-parallel") {
		s.MaxParallel = runMaxParallel
	}
	if flags.Changed("scratch") {
		s.Scratch = runScratch
	}
	if flags.Changed("status-addr") {
		s.StatusAddr = runStatusAddr
	}

	a, err := buildApp(s)
	if err != nil {
		return err
	}
	printer := report.NewPrinter(cmd.OutOrStdout())

	initial, err := initialInput(runInput)
	if err != nil {
		return reported(printer, err)
	}

	res, err := a.Run(cmd.Context(), app.RunOptions{
		Paths:       args,
		Input:       initial,
		Scratch:     s.Scratch,
		Workers:     s.Workers,
		MaxParallel: s.MaxParallel,
		StatusAddr:  s.StatusAddr,
	})
	if err != nil {
		return reported(printer, err)
	}
	printer.RunSummary(res.Graph, res.Elapsed)
	return nil
}
