package connect

import "fmt"

// Warning records a non-fatal finding: an implicitly resolved input landed
// on a producer whose matching output is conditionally absent. Warnings are
// collected and returned alongside a successful validation; they never block
// pipeline construction.
type Warning struct {
	// Stage is the consuming stage.
	Stage string
	// Port is the consuming input port.
	Port string
	// Producer is the stage the input auto-resolved to.
	Producer string
	// Detail explains why the output may be unavailable, e.g. "nsw=0".
	Detail string
}

// String renders the warning in its user-facing form.
func (w Warning) String() string {
	return fmt.Sprintf("%s: auto-resolved input from '%s' may be unavailable (%s)", w.Stage, w.Producer, w.Detail)
}

// Strings renders a warning list for display and assertions.
func Strings(warnings []Warning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.String())
	}
	return out
}
