package porttype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/matter"
	"github.com/kilnworks/kiln/internal/store"
)

func TestRegistered(t *testing.T) {
	t.Parallel()

	for _, k := range All() {
		assert.True(t, Registered(k), "kind %q should be registered", k)
	}
	assert.False(t, Registered(Kind("tensor")))
	assert.False(t, Registered(Kind("")))
}

func TestValueType(t *testing.T) {
	t.Parallel()

	assert.True(t, ValueType(Structure).Equals(matter.Type))
	assert.True(t, ValueType(ScalarEnergy).Equals(cty.Number))
	assert.True(t, ValueType(RemoteHandle).Equals(store.HandleType))
	assert.True(t, ValueType(FileCollection).Equals(cty.List(cty.String)))
	assert.True(t, ValueType(ImageCollection).Equals(cty.List(cty.String)))
	assert.True(t, ValueType(Record).Equals(cty.DynamicPseudoType))

	assert.Panics(t, func() { ValueType(Kind("tensor")) })
}

func TestConforms(t *testing.T) {
	t.Parallel()

	structure := matter.Val(&matter.Structure{Format: "poscar", Data: []byte("Si")})
	handle := store.Val(&store.Handle{RunID: "r", Stage: "s", Path: "/tmp/s"})

	testCases := []struct {
		name string
		kind Kind
		v    cty.Value
		want bool
	}{
		{"structure capsule", Structure, structure, true},
		{"structure rejects number", Structure, cty.NumberIntVal(1), false},
		{"energy number", ScalarEnergy, cty.NumberFloatVal(-13.1), true},
		{"energy rejects string", ScalarEnergy, cty.StringVal("-13.1"), false},
		{"handle capsule", RemoteHandle, handle, true},
		{"file list", FileCollection, cty.ListVal([]cty.Value{cty.StringVal("OUTCAR")}), true},
		{"file tuple of strings", FileCollection, cty.TupleVal([]cty.Value{cty.StringVal("OUTCAR")}), true},
		{"file tuple with number", FileCollection, cty.TupleVal([]cty.Value{cty.NumberIntVal(1)}), false},
		{"record accepts anything", Record, cty.ObjectVal(map[string]cty.Value{"gap": cty.NumberFloatVal(1.1)}), true},
		{"null conforms everywhere", ScalarEnergy, cty.NullVal(cty.Number), true},
		{"unregistered kind", Kind("tensor"), cty.NumberIntVal(1), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Conforms(tc.kind, tc.v))
		})
	}
}

func TestAllIsStable(t *testing.T) {
	t.Parallel()

	first := All()
	second := All()
	require.Equal(t, first, second)
	assert.Len(t, first, 6)
}
