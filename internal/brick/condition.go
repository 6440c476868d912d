package brick

import (
	"math/big"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/kilnworks/kiln/internal/cfgtree"
)

// Op is a conditional-rule operator. The set is closed; descriptors naming
// any other operator are rejected at registration.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpEQ Op = "=="
	OpIn Op = "in"
)

// knownOp reports whether op is a member of the closed operator set.
func knownOp(op Op) bool {
	switch op {
	case OpGT, OpLT, OpEQ, OpIn:
		return true
	}
	return false
}

// Condition gates a port on one field of the owning stage's configuration.
// Evaluation is a pure function of that configuration: no I/O, no state,
// and a missing field simply evaluates to false.
type Condition struct {
	// Path is the key path into the stage config, matched case-insensitively.
	Path []string
	// Op compares the config value against Value.
	Op Op
	// Value is the comparison operand. For OpIn it is a sequence; the rule
	// holds when the config value equals any element.
	Value cty.Value
}

// Eval evaluates the rule against a stage configuration.
func (c *Condition) Eval(config cty.Value) bool {
	v, ok := cfgtree.GetFold(config, c.Path...)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEQ:
		return cfgtree.Equal(v, c.Value)
	case OpGT:
		cmp, ok := numCmp(v, c.Value)
		return ok && cmp > 0
	case OpLT:
		cmp, ok := numCmp(v, c.Value)
		return ok && cmp < 0
	case OpIn:
		if c.Value == cty.NilVal || c.Value.IsNull() || !c.Value.CanIterateElements() {
			return false
		}
		for it := c.Value.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			if cfgtree.Equal(v, ev) {
				return true
			}
		}
		return false
	}
	return false
}

// Describe renders the config value the rule was evaluated against, for
// warning and error detail, e.g. "nsw=0" or "nsw unset".
func (c *Condition) Describe(config cty.Value) string {
	field := strings.Join(c.Path, ".")
	v, ok := cfgtree.GetFold(config, c.Path...)
	if !ok {
		return field + " unset"
	}
	return field + "=" + cfgtree.Render(v)
}

// String renders the rule itself, e.g. "nsw > 0" or "ibrion in [0, 1, 2, 3]".
func (c *Condition) String() string {
	return strings.Join(c.Path, ".") + " " + string(c.Op) + " " + cfgtree.Render(c.Value)
}

// numCmp compares two values numerically. The second return is false when
// either value cannot be read as a number.
func numCmp(a, b cty.Value) (int, bool) {
	af, ok := toBigFloat(a)
	if !ok {
		return 0, false
	}
	bf, ok := toBigFloat(b)
	if !ok {
		return 0, false
	}
	return af.Cmp(bf), true
}

func toBigFloat(v cty.Value) (*big.Float, bool) {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return nil, false
	}
	if v.Type() != cty.Number {
		conv, err := convert.Convert(v, cty.Number)
		if err != nil {
			return nil, false
		}
		v = conv
	}
	return v.AsBigFloat(), true
}
