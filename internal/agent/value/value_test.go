package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"unit", Unit(), false},
		{"false", Boolean(false), false},
		{"true", Boolean(true), true},
		{"zero int", Integer(0), false},
		{"nonzero int", Integer(-1), true},
		{"zero float", Number(0), false},
		{"empty string", String(""), false},
		{"nonempty string", String("x"), true},
		{"empty array", Array(KindInteger, nil), false},
		{"nonempty array", Array(KindInteger, []Value{Integer(1)}), true},
		{"empty object", Object(nil), false},
		{"nonempty object", Object(map[string]Value{"a": Integer(1)}), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.v.Truthy())
		})
	}
}

func TestValueMarshalRoundTripByKind(t *testing.T) {
	in := Object(map[string]Value{
		"name": String("audio"),
		"n":    Integer(3),
	})
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := FromKindValue(KindObject, raw)
	require.NoError(t, err)
	obj, ok := out.AsObject()
	require.True(t, ok)
	s, _ := obj["name"].AsString()
	assert.Equal(t, "audio", s)
	i, _ := obj["n"].AsInt()
	assert.EqualValues(t, 3, i)
}

func TestDataUnmarshalUsesKindHint(t *testing.T) {
	raw := []byte(`{"kind":"count","value":3,"metadata":{"$stream:audio":5}}`)
	var d Data
	require.NoError(t, json.Unmarshal(raw, &d))
	assert.Equal(t, "count", d.Kind)
	i, ok := d.Value.AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 3, i)

	sid, ok := d.StreamID("audio")
	require.True(t, ok)
	assert.EqualValues(t, 5, sid)
}

func TestDataWithMetadataIsImmutable(t *testing.T) {
	d1 := New("text", Text("hello"))
	d2 := d1.WithMetadata(StreamMetadataKey("s"), Integer(1))
	assert.Nil(t, d1.Metadata)
	assert.Len(t, d2.Metadata, 1)
}

func TestFromKindValueUnknownFallsBackToGeneric(t *testing.T) {
	v, err := FromKindValue(Kind("mystery"), []byte(`{"a":1}`))
	require.NoError(t, err)
	obj, ok := v.AsObject()
	require.True(t, ok)
	_, ok = obj["a"]
	assert.True(t, ok)
}
