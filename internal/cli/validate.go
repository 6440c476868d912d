package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/internal/app"
	"github.com/kilnworks/kiln/internal/report"
	"github.com/kilnworks/kiln/internal/watch"
)

var watchFlag bool

var validateCmd = &cobra.Command{
	Use:   "validate [paths...]",
	Short: "Validate stage connections without running anything",
	Long: `Load the pipeline definitions at the given paths and check every
stage connection against the brick contracts: producer compatibility,
output availability and prerequisites. Nothing is executed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&watchFlag, "watch", false, "Re-validate whenever a definition file changes.")
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	a, err := buildApp(s)
	if err != nil {
		return err
	}
	printer := report.NewPrinter(cmd.OutOrStdout())

	ok := validateOnce(cmd.Context(), a, printer, args)
	if !watchFlag {
		if !ok {
			return &ExitError{Code: 1}
		}
		return nil
	}

	w, err := watch.New(args, func() {
		validateOnce(cmd.Context(), a, printer, args)
	})
	if err != nil {
		return err
	}
	defer w.Close()

	a.Logger().Info("👀 Watching for pipeline changes. Press Ctrl+C to stop.", "paths", args)
	w.Start(cmd.Context())
	return nil
}

// validateOnce runs a single validation pass and reports the outcome. It
// returns false when the pipeline failed validation.
func validateOnce(ctx context.Context, a *app.App, printer *report.Printer, paths []string) bool {
	val, err := a.Validate(ctx, paths...)
	if err != nil {
		printer.Failure(err)
		return false
	}
	printer.Warnings(val.Warnings)
	printer.ValidationOK(len(val.Stages), len(val.Warnings))
	return true
}
