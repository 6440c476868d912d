// Package cfgtree provides read-only helpers over the nested key-value
// trees that stage configurations are stored as.
//
// Every stage config is a cty object value. The helpers here never mutate
// their inputs; cty values are immutable, so lookups and merges always
// produce fresh values.
package cfgtree

import (
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Get returns the value at the given key path below root. The second return
// is false when any hop is missing, the leaf is null, or root is not a
// key-value tree.
func Get(root cty.Value, path ...string) (cty.Value, bool) {
	v := root
	for _, name := range path {
		next, ok := attr(v, name, false)
		if !ok {
			return cty.NilVal, false
		}
		v = next
	}
	if v == cty.NilVal || v.IsNull() {
		return cty.NilVal, false
	}
	return v, true
}

// GetFold is Get with case-insensitive key matching at every hop. An exact
// match wins over a folded one; folded ties resolve to the lexically
// smallest key so lookups stay deterministic.
func GetFold(root cty.Value, path ...string) (cty.Value, bool) {
	v := root
	for _, name := range path {
		next, ok := attr(v, name, true)
		if !ok {
			return cty.NilVal, false
		}
		v = next
	}
	if v == cty.NilVal || v.IsNull() {
		return cty.NilVal, false
	}
	return v, true
}

// attr resolves one hop of a key path.
func attr(v cty.Value, name string, fold bool) (cty.Value, bool) {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return cty.NilVal, false
	}
	t := v.Type()
	switch {
	case t.IsObjectType():
		if t.HasAttribute(name) {
			return v.GetAttr(name), true
		}
	case t.IsMapType():
		idx := cty.StringVal(name)
		if v.HasIndex(idx).True() {
			return v.Index(idx), true
		}
	default:
		return cty.NilVal, false
	}
	if !fold {
		return cty.NilVal, false
	}
	for _, k := range Keys(v) {
		if strings.EqualFold(k, name) {
			next, _ := attr(v, k, false)
			return next, true
		}
	}
	return cty.NilVal, false
}

// Keys returns the sorted attribute names of an object or map value.
func Keys(v cty.Value) []string {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return nil
	}
	t := v.Type()
	if !t.IsObjectType() && !t.IsMapType() {
		return nil
	}
	var keys []string
	for it := v.ElementIterator(); it.Next(); {
		k, _ := it.Element()
		keys = append(keys, k.AsString())
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two values are equal, converting a to b's type
// first when the types differ.
func Equal(a, b cty.Value) bool {
	if a == cty.NilVal || b == cty.NilVal {
		return a == b
	}
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if !a.Type().Equals(b.Type()) {
		conv, err := convert.Convert(a, b.Type())
		if err != nil {
			return false
		}
		a = conv
	}
	return a.Equals(b).True()
}

// Render formats a value for error and warning messages: bare strings,
// plain numbers and booleans, bracketed collections.
func Render(v cty.Value) string {
	if v == cty.NilVal || v.IsNull() {
		return "null"
	}
	if !v.IsKnown() {
		return "(unknown)"
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString()
	case t == cty.Number:
		return v.AsBigFloat().Text('f', -1)
	case t == cty.Bool:
		if v.True() {
			return "true"
		}
		return "false"
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		var parts []string
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			parts = append(parts, Render(ev))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case t.IsObjectType() || t.IsMapType():
		var parts []string
		for _, k := range Keys(v) {
			ev, _ := attr(v, k, false)
			parts = append(parts, k+"="+Render(ev))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return t.FriendlyName()
	}
}
