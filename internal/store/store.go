// Package store manages per-stage scratch workspaces and the opaque handles
// that reference them.
//
// A handle is the persistent-state currency of the pipeline: a completed
// stage exposes its working directory as a handle, and a later stage may
// consume that handle to resume from checkpoint files instead of recomputing.
// The composition core passes handles through untouched; only the engines
// resolve them to real paths.
package store

import (
	"context"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"
)

// Handle identifies one stage working directory within a run.
type Handle struct {
	RunID string
	Stage string
	Item  string
	Path  string
}

// HandleType is the capsule type used to carry a *Handle inside a cty value tree.
var HandleType = cty.Capsule("handle", reflect.TypeOf(Handle{}))

// Val wraps a handle in a cty value.
func Val(h *Handle) cty.Value {
	return cty.CapsuleVal(HandleType, h)
}

// FromVal unwraps a handle from a cty value.
func FromVal(v cty.Value) (*Handle, error) {
	if v.IsNull() || !v.Type().Equals(HandleType) {
		return nil, errors.Newf("value is not a workspace handle: %s", v.Type().FriendlyName())
	}
	return v.EncapsulatedValue().(*Handle), nil
}

// Store allocates working directories for stage tasks.
type Store interface {
	// StageDir returns a handle for the given stage and fan-out item,
	// creating the backing directory if needed. The item is empty for
	// one-to-one stages.
	StageDir(ctx context.Context, stage, item string) (*Handle, error)

	// RunID identifies the run all allocated handles belong to.
	RunID() string
}
