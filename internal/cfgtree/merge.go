package cfgtree

import "github.com/zclconf/go-cty/cty"

// Merge deep-merges override onto base and returns the result. The rule is
// fixed: a non-tree override value replaces the base value wholesale, a tree
// override value recurses key by key, and keys absent from the override are
// kept from the base.
func Merge(base, override cty.Value) cty.Value {
	if override == cty.NilVal {
		return base
	}
	if !IsTree(base) || !IsTree(override) {
		return override
	}

	out := make(map[string]cty.Value)
	for it := base.ElementIterator(); it.Next(); {
		k, v := it.Element()
		out[k.AsString()] = v
	}
	for it := override.ElementIterator(); it.Next(); {
		k, ov := it.Element()
		key := k.AsString()
		if bv, ok := out[key]; ok && IsTree(bv) && IsTree(ov) {
			out[key] = Merge(bv, ov)
		} else {
			out[key] = ov
		}
	}
	if len(out) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(out)
}

// IsTree reports whether a value is a key-value tree: something string-keyed
// that a merge can recurse into and an item map can be read from.
func IsTree(v cty.Value) bool {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return false
	}
	t := v.Type()
	return t.IsObjectType() || t.IsMapType()
}
