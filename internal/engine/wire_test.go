package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/store"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	t.Run("structure capsule flattens to wire form", func(t *testing.T) {
		s := &matter.Structure{Format: "poscar", Data: []byte("Si2\n1.0\n")}

		enc, err := Encode(matter.Val(s))
		require.NoError(t, err)

		assert.Equal(t, "structure", enc.GetAttr("kind").AsString())
		assert.Equal(t, "poscar", enc.GetAttr("format").AsString())
		data, err := base64.StdEncoding.DecodeString(enc.GetAttr("data").AsString())
		require.NoError(t, err)
		assert.Equal(t, s.Data, data)
	})

	t.Run("handle capsule flattens to wire form", func(t *testing.T) {
		h := &store.Handle{RunID: "r1", Stage: "scf", Item: "s1", Path: "/scratch/r1/scf/s1"}

		enc, err := Encode(store.Val(h))
		require.NoError(t, err)

		assert.Equal(t, "handle", enc.GetAttr("kind").AsString())
		assert.Equal(t, "r1", enc.GetAttr("run_id").AsString())
		assert.Equal(t, "scf", enc.GetAttr("stage").AsString())
		assert.Equal(t, "s1", enc.GetAttr("item").AsString())
		assert.Equal(t, "/scratch/r1/scf/s1", enc.GetAttr("path").AsString())
	})

	t.Run("capsules nested in collections are encoded", func(t *testing.T) {
		s := &matter.Structure{Format: "cif", Data: []byte("data_Si")}
		v := cty.ObjectVal(map[string]cty.Value{
			"label": cty.StringVal("relaxed"),
			"frames": cty.TupleVal([]cty.Value{
				matter.Val(s),
			}),
		})

		enc, err := Encode(v)
		require.NoError(t, err)

		frame := enc.GetAttr("frames").Index(cty.NumberIntVal(0))
		assert.Equal(t, "structure", frame.GetAttr("kind").AsString())
		assert.Equal(t, "relaxed", enc.GetAttr("label").AsString())
	})

	t.Run("plain values pass through", func(t *testing.T) {
		enc, err := Encode(cty.NumberFloatVal(-13.2))
		require.NoError(t, err)
		assert.True(t, enc.RawEquals(cty.NumberFloatVal(-13.2)))
	})

	t.Run("null and nil collapse to null", func(t *testing.T) {
		enc, err := Encode(cty.NilVal)
		require.NoError(t, err)
		assert.True(t, enc.IsNull())

		enc, err = Encode(cty.NullVal(cty.String))
		require.NoError(t, err)
		assert.True(t, enc.IsNull())
	})

	t.Run("empty collections keep their shape", func(t *testing.T) {
		enc, err := Encode(cty.EmptyObjectVal)
		require.NoError(t, err)
		assert.True(t, enc.RawEquals(cty.EmptyObjectVal))

		enc, err = Encode(cty.EmptyTupleVal)
		require.NoError(t, err)
		assert.True(t, enc.RawEquals(cty.EmptyTupleVal))
	})

	t.Run("unknown capsule type is rejected", func(t *testing.T) {
		blobType := cty.Capsule("blob", reflect.TypeOf([]byte(nil)))
		payload := []byte("opaque")

		_, err := Encode(cty.CapsuleVal(blobType, &payload))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot encode capsule type")
	})

	t.Run("wire form rehydrates as a structure", func(t *testing.T) {
		s := &matter.Structure{Format: "poscar", Data: []byte("Si2\n1.0\n")}

		enc, err := Encode(matter.Val(s))
		require.NoError(t, err)

		got, err := matter.Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, s.Format, got.Format)
		assert.Equal(t, s.Data, got.Data)
	})
}

func TestRequestWire(t *testing.T) {
	t.Parallel()
	req := &Request{
		RunID: "r1",
		Stage: "scf",
		Brick: "vasp",
		Config: cty.ObjectVal(map[string]cty.Value{
			"nsw": cty.NumberIntVal(0),
		}),
		Inputs: map[string]cty.Value{
			"structure": matter.Val(&matter.Structure{Format: "poscar", Data: []byte("Si2")}),
		},
		Workdir: &store.Handle{RunID: "r1", Stage: "scf", Path: "/scratch/r1/scf"},
		Restart: &store.Handle{RunID: "r1", Stage: "relax", Path: "/scratch/r1/relax"},
	}

	wire, err := req.Wire()
	require.NoError(t, err)

	assert.Equal(t, "r1", wire.GetAttr("run_id").AsString())
	assert.Equal(t, "scf", wire.GetAttr("stage").AsString())
	assert.Equal(t, "", wire.GetAttr("item").AsString())
	assert.Equal(t, "vasp", wire.GetAttr("brick").AsString())
	assert.True(t, wire.GetAttr("config").GetAttr("nsw").RawEquals(cty.NumberIntVal(0)))

	structure := wire.GetAttr("inputs").GetAttr("structure")
	assert.Equal(t, "structure", structure.GetAttr("kind").AsString())

	assert.Equal(t, "/scratch/r1/scf", wire.GetAttr("workdir").GetAttr("path").AsString())
	assert.Equal(t, "relax", wire.GetAttr("restart").GetAttr("stage").AsString())
}

func TestRequestWireOmitsAbsentHandles(t *testing.T) {
	t.Parallel()
	req := &Request{RunID: "r1", Stage: "relax", Brick: "vasp", Config: cty.EmptyObjectVal}

	wire, err := req.Wire()
	require.NoError(t, err)

	assert.False(t, wire.Type().HasAttribute("workdir"))
	assert.False(t, wire.Type().HasAttribute("restart"))
	assert.True(t, wire.GetAttr("inputs").RawEquals(cty.EmptyObjectVal))
}

func TestRequestWireJSON(t *testing.T) {
	t.Parallel()
	req := &Request{
		RunID:  "r1",
		Stage:  "relax",
		Brick:  "vasp",
		Config: cty.ObjectVal(map[string]cty.Value{"nsw": cty.NumberIntVal(100)}),
	}

	data, err := req.WireJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "relax", doc["stage"])
	assert.Equal(t, "vasp", doc["brick"])
	config, ok := doc["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(100), config["nsw"])
}

func TestDecodeOutputs(t *testing.T) {
	t.Parallel()

	t.Run("plain document", func(t *testing.T) {
		doc := fmt.Sprintf(`{
			"energy": -13.2,
			"files": ["OUTCAR", "CONTCAR"],
			"structure": {"kind": "structure", "format": "poscar", "data": %q}
		}`, base64.StdEncoding.EncodeToString([]byte("Si2\n1.0\n")))

		outputs, err := DecodeOutputs([]byte(doc))
		require.NoError(t, err)
		require.Len(t, outputs, 3)

		energy, _ := outputs["energy"].AsBigFloat().Float64()
		assert.InDelta(t, -13.2, energy, 1e-9)
		assert.Equal(t, cty.NumberIntVal(2), outputs["files"].Length())

		s, err := matter.Decode(outputs["structure"])
		require.NoError(t, err)
		assert.Equal(t, "poscar", s.Format)
		assert.Equal(t, []byte("Si2\n1.0\n"), s.Data)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := DecodeOutputs([]byte(`{`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "implying outputs type")
	})

	t.Run("non-object document", func(t *testing.T) {
		_, err := DecodeOutputs([]byte(`[1, 2]`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an object")
	})
}
