package engine

import (
	"encoding/base64"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/store"
)

// Encode flattens opaque capsule values into plain object trees so a request
// can cross a JSON transport. Structures become {kind, format, data} with
// base64 payloads, handles become {kind, run_id, stage, item, path}.
// Collections are rebuilt around their encoded elements.
func Encode(v cty.Value) (cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}

	switch {
	case v.Type().Equals(matter.Type):
		s, err := matter.FromVal(v)
		if err != nil {
			return cty.NilVal, err
		}
		return cty.ObjectVal(map[string]cty.Value{
			"kind":   cty.StringVal("structure"),
			"format": cty.StringVal(s.Format),
			"data":   cty.StringVal(base64.StdEncoding.EncodeToString(s.Data)),
		}), nil

	case v.Type().Equals(store.HandleType):
		h, err := store.FromVal(v)
		if err != nil {
			return cty.NilVal, err
		}
		return handleVal(h), nil

	case v.Type().IsObjectType() || v.Type().IsMapType():
		attrs := make(map[string]cty.Value)
		for it := v.ElementIterator(); it.Next(); {
			k, elem := it.Element()
			enc, err := Encode(elem)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k.AsString()] = enc
		}
		if len(attrs) == 0 {
			return cty.EmptyObjectVal, nil
		}
		return cty.ObjectVal(attrs), nil

	case v.Type().IsTupleType() || v.Type().IsListType() || v.Type().IsSetType():
		var elems []cty.Value
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			enc, err := Encode(elem)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, enc)
		}
		if len(elems) == 0 {
			return cty.EmptyTupleVal, nil
		}
		return cty.TupleVal(elems), nil

	case v.Type().IsCapsuleType():
		return cty.NilVal, fmt.Errorf("cannot encode capsule type %s for transport", v.Type().FriendlyName())

	default:
		return v, nil
	}
}

// Wire renders the request as one plain value tree ready for JSON transport.
func (r *Request) Wire() (cty.Value, error) {
	config, err := Encode(r.Config)
	if err != nil {
		return cty.NilVal, fmt.Errorf("encoding config: %w", err)
	}

	inputs := make(map[string]cty.Value, len(r.Inputs))
	for name, v := range r.Inputs {
		enc, err := Encode(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("encoding input '%s': %w", name, err)
		}
		inputs[name] = enc
	}
	inputsVal := cty.EmptyObjectVal
	if len(inputs) > 0 {
		inputsVal = cty.ObjectVal(inputs)
	}

	attrs := map[string]cty.Value{
		"run_id": cty.StringVal(r.RunID),
		"stage":  cty.StringVal(r.Stage),
		"item":   cty.StringVal(r.Item),
		"brick":  cty.StringVal(r.Brick),
		"config": config,
		"inputs": inputsVal,
	}
	if r.Workdir != nil {
		attrs["workdir"] = handleVal(r.Workdir)
	}
	if r.Restart != nil {
		attrs["restart"] = handleVal(r.Restart)
	}
	return cty.ObjectVal(attrs), nil
}

// WireJSON renders the request as the JSON document sent to an engine.
func (r *Request) WireJSON() ([]byte, error) {
	val, err := r.Wire()
	if err != nil {
		return nil, err
	}
	return ctyjson.Marshal(val, val.Type())
}

// DecodeOutputs parses an engine's outputs document into per-port values.
// The document shape is implied from the JSON itself; bricks rehydrate
// domain values from the plain trees according to their port kinds.
func DecodeOutputs(data []byte) (map[string]cty.Value, error) {
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return nil, fmt.Errorf("implying outputs type: %w", err)
	}
	val, err := ctyjson.Unmarshal(data, ty)
	if err != nil {
		return nil, fmt.Errorf("decoding outputs: %w", err)
	}
	if !val.Type().IsObjectType() {
		return nil, fmt.Errorf("outputs document is not an object")
	}

	outputs := make(map[string]cty.Value)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		outputs[k.AsString()] = v
	}
	return outputs, nil
}

func handleVal(h *store.Handle) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"kind":   cty.StringVal("handle"),
		"run_id": cty.StringVal(h.RunID),
		"stage":  cty.StringVal(h.Stage),
		"item":   cty.StringVal(h.Item),
		"path":   cty.StringVal(h.Path),
	})
}
