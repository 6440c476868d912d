// Package porttype defines the closed set of semantic data kinds a brick
// port may carry.
//
// The set is fixed at build time. It is consulted only while brick
// descriptors are registered: a descriptor naming an unknown kind is an
// authoring defect and is rejected before any pipeline is processed.
package porttype

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/store"
)

// Kind is a semantic data-kind tag carried by a port declaration.
type Kind string

const (
	// Structure is an opaque atomic-structure payload.
	Structure Kind = "structure"
	// ScalarEnergy is a single energy value.
	ScalarEnergy Kind = "scalar-energy"
	// RemoteHandle is an opaque workspace handle usable for restarts.
	RemoteHandle Kind = "remote-handle"
	// FileCollection is a list of retrieved file names.
	FileCollection Kind = "file-collection"
	// ImageCollection is a list of rendered plot file names.
	ImageCollection Kind = "image-collection"
	// Record is a free-form key-value result tree.
	Record Kind = "record"
)

// kinds maps every registered kind to the value type its payloads use.
var kinds = map[Kind]cty.Type{
	Structure:       matter.Type,
	ScalarEnergy:    cty.Number,
	RemoteHandle:    store.HandleType,
	FileCollection:  cty.List(cty.String),
	ImageCollection: cty.List(cty.String),
	Record:          cty.DynamicPseudoType,
}

// Registered reports whether k is a member of the closed kind set.
func Registered(k Kind) bool {
	_, ok := kinds[k]
	return ok
}

// All returns every registered kind in stable order.
func All() []Kind {
	return []Kind{Structure, ScalarEnergy, RemoteHandle, FileCollection, ImageCollection, Record}
}

// ValueType returns the payload type for a registered kind. It panics on an
// unregistered kind; callers validate kinds at descriptor registration.
func ValueType(k Kind) cty.Type {
	t, ok := kinds[k]
	if !ok {
		panic("porttype: unregistered kind " + string(k))
	}
	return t
}

// Conforms reports whether a value is an acceptable payload for the kind.
// Null values conform to every kind; record ports accept anything.
func Conforms(k Kind, v cty.Value) bool {
	t, ok := kinds[k]
	if !ok {
		return false
	}
	if v.IsNull() {
		return true
	}
	if t.Equals(cty.DynamicPseudoType) {
		return true
	}
	if t.IsListType() {
		// Loaders and engines produce tuples for literal lists; accept any
		// sequence whose elements are all strings.
		vt := v.Type()
		if vt.IsTupleType() {
			for _, et := range vt.TupleElementTypes() {
				if !et.Equals(cty.String) {
					return false
				}
			}
			return true
		}
		return vt.IsListType() && vt.ElementType().Equals(cty.String)
	}
	return v.Type().Equals(t)
}
