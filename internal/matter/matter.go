// Package matter defines the opaque structure value passed between stages.
//
// A structure is never interpreted by the composition core; it flows from the
// pipeline's initial input or a producing stage into consuming stages
// untouched. Only the engines and the bricks that sit at the engine boundary
// look inside.
package matter

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"
)

// Structure is an atomic-structure payload (e.g. a POSCAR or CIF file body).
type Structure struct {
	// Format is the lowercase file-format name, derived from the file
	// extension or set explicitly by the producer.
	Format string
	// Data is the raw file body.
	Data []byte
}

// Type is the capsule type used to carry a *Structure inside a cty value tree.
var Type = cty.Capsule("structure", reflect.TypeOf(Structure{}))

// Val wraps a structure in a cty value.
func Val(s *Structure) cty.Value {
	return cty.CapsuleVal(Type, s)
}

// FromVal unwraps a structure from a cty value.
func FromVal(v cty.Value) (*Structure, error) {
	if v.IsNull() || !v.Type().Equals(Type) {
		return nil, errors.Newf("value is not a structure: %s", v.Type().FriendlyName())
	}
	return v.EncapsulatedValue().(*Structure), nil
}

// Decode accepts a structure either as a capsule or in its wire form: the
// plain object tree with a base64 data attribute that crosses the engine
// boundary.
func Decode(v cty.Value) (*Structure, error) {
	if !v.IsNull() && v.Type().Equals(Type) {
		return FromVal(v)
	}
	if v.IsNull() || !v.Type().IsObjectType() {
		return nil, errors.Newf("value is not a structure: %s", v.Type().FriendlyName())
	}

	format, ok := wireAttr(v, "format")
	if !ok {
		return nil, errors.New("structure wire form has no format attribute")
	}
	encoded, ok := wireAttr(v, "data")
	if !ok {
		return nil, errors.New("structure wire form has no data attribute")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decoding structure data")
	}
	return &Structure{Format: format, Data: data}, nil
}

func wireAttr(v cty.Value, name string) (string, bool) {
	if !v.Type().HasAttribute(name) {
		return "", false
	}
	av := v.GetAttr(name)
	if av.IsNull() || av.Type() != cty.String {
		return "", false
	}
	return av.AsString(), true
}

// FromFile reads a structure from disk. The format is taken from the file
// extension; extensionless files (POSCAR, CONTCAR) use the file name itself.
func FromFile(path string) (*Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading structure file %s", path)
	}
	base := filepath.Base(path)
	format := strings.TrimPrefix(filepath.Ext(base), ".")
	if format == "" {
		format = base
	}
	return &Structure{Format: strings.ToLower(format), Data: data}, nil
}
