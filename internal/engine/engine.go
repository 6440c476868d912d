// Package engine defines the contract between the composition core and the
// external calculation engine that actually runs stage tasks.
package engine

import (
	"context"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/store"
)

// Request describes one calculation the engine must perform.
type Request struct {
	// RunID ties the request to a pipeline run.
	RunID string
	// Stage and Item identify the task within the run. Item is empty for
	// one-to-one stages.
	Stage string
	Item  string
	// Brick is the stage's brick type, for engine-side dispatch.
	Brick string
	// Config is the task's effective configuration (fan-out overrides
	// already merged in).
	Config cty.Value
	// Inputs holds the resolved input-port payloads, keyed by port name.
	Inputs map[string]cty.Value
	// Workdir is the task's allocated scratch directory.
	Workdir *store.Handle
	// Restart, when set, names an earlier task's workspace to resume from
	// instead of recomputing.
	Restart *store.Handle
}

// Result is what the engine reports back for one completed request.
type Result struct {
	// Outputs carries the produced values keyed by output-port name.
	Outputs map[string]cty.Value
	// Files lists the artifacts retrieved into the workdir.
	Files []string
	// Elapsed is the engine-side wall time.
	Elapsed time.Duration
}

// Engine runs calculation requests. Implementations must honor context
// cancellation and return promptly when the context ends.
type Engine interface {
	Run(ctx context.Context, req *Request) (*Result, error)
}
