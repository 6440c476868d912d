// Package pipeline defines the format-agnostic representation of a user's
// pipeline definition.
//
// A pipeline is an ordered list of stages. Order matters: a stage may only
// reference stages that appear strictly before it, so list order is the one
// and only topological order.
package pipeline

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Source sentinels recognized anywhere a stage-config field names a
// producing stage.
const (
	// SourceInput binds a port to the pipeline's external initial input.
	SourceInput = "input"
	// SourceAuto binds a port to the immediately preceding stage, or to the
	// initial input when the stage is first.
	SourceAuto = "auto"
)

// Stage is one configured brick instance within an ordered pipeline.
type Stage struct {
	// Name uniquely identifies the stage within its pipeline.
	Name string
	// Type names the brick the stage instantiates.
	Type string
	// Config is the stage's own key-value tree: brick parameters plus the
	// *_from and restart fields naming producer stages. NilVal when the
	// stage carries no configuration at all.
	Config cty.Value
}

// Names returns the stage names in pipeline order.
func Names(stages []*Stage) []string {
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.Name)
	}
	return names
}

// Loader is the interface for a format-specific pipeline loader. Each
// loader reads definition files from the given paths and translates them
// into the ordered stage list, preserving file order.
type Loader interface {
	Load(ctx context.Context, paths ...string) ([]*Stage, error)
}
