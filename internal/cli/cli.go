package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/app"
	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/report"
	"github.com/kilnworks/kiln/internal/settings"
)

// ExitError is an error carrying a specific process exit code. An empty
// message means the failure was already reported to the user.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "🔥 kiln - composable materials-simulation pipelines",
	Long: `kiln composes staged simulation workflows from reusable bricks,
validates every stage connection before anything runs, and executes the
resulting task graph on a local or remote calculation engine.

Examples:
  kiln validate relax.kiln.hcl      # Check stage connections
  kiln plan pipelines/              # Show the compiled task graph
  kiln run pipelines/ --workers 8   # Execute a pipeline`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the kiln command tree.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the kiln settings file.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error.")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json.")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
}

// loadSettings resolves tool settings, with explicitly set flags overriding
// file and environment values.
func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	s, err := settings.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		s.LogLevel = logLevel
	}
	if f := cmd.Flag("log-format"); f != nil && f.Changed {
		s.LogFormat = logFormat
	}
	return s, nil
}

// buildApp constructs the application from resolved settings. Logs go to
// stderr so command output stays clean.
func buildApp(s *settings.Settings) (*app.App, error) {
	return app.New(os.Stderr, &app.Config{
		LogLevel:  s.LogLevel,
		LogFormat: s.LogFormat,
		Engine:    s.Engine,
	})
}

// initialInput loads the pipeline's initial structure, NilVal when no path
// was given.
func initialInput(path string) (cty.Value, error) {
	if path == "" {
		return cty.NilVal, nil
	}
	s, err := matter.FromFile(path)
	if err != nil {
		return cty.NilVal, err
	}
	return matter.Val(s), nil
}

// reported converts an already printed failure into a bare exit code.
func reported(printer *report.Printer, err error) error {
	printer.Failure(err)
	return &ExitError{Code: 1}
}
