package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	values := []Value{Null{}, Bool(true), Number(1), String("s"), Array{}, Object{}}
	kinds := []Kind{KindNull, KindBool, KindNumber, KindString, KindArray, KindObject}

	for i, v := range values {
		assert.Equal(t, kinds[i], v.Kind())
	}
}

func TestKindOrder(t *testing.T) {
	assert.Less(t, KindNull, KindBool)
	assert.Less(t, KindBool, KindNumber)
	assert.Less(t, KindNumber, KindString)
	assert.Less(t, KindString, KindArray)
	assert.Less(t, KindArray, KindObject)
	assert.Equal(t, "boolean", KindBool.String())
}

func TestDecode(t *testing.T) {
	v, err := Decode([]byte(`{"a":[1,2.5,null,true,"x"],"b":{"c":-0.125}}`))
	require.NoError(t, err)

	want := Object{
		"a": Array{Number(1), Number(2.5), Null{}, Bool(true), String("x")},
		"b": Object{"c": Number(-0.125)},
	}
	assert.Equal(t, want, v)
}

func TestDecodeObjectRejectsNonObject(t *testing.T) {
	_, err := DecodeObject([]byte(`[1]`))
	assert.Error(t, err)

	_, err = DecodeObject([]byte(`{`))
	assert.Error(t, err)
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{
		"z":    Number(1),
		"a":    Array{String("b"), Null{}},
		"flag": Bool(false),
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["b",null],"flag":false,"z":1}`, string(data))

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, obj, back)
}

func TestFromAnyAndToAny(t *testing.T) {
	raw := map[string]any{
		"n":   7,
		"f":   1.5,
		"s":   "x",
		"nil": nil,
		"arr": []any{true, int64(3)},
	}

	v, err := FromAny(raw)
	require.NoError(t, err)
	obj := v.(Object)
	assert.Equal(t, Number(7), obj["n"])
	assert.Equal(t, Null{}, obj["nil"])
	assert.Equal(t, Array{Bool(true), Number(3)}, obj["arr"])

	back := ToAny(obj).(map[string]any)
	assert.Equal(t, float64(7), back["n"])
	assert.Nil(t, back["nil"])

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestObjectAccessors(t *testing.T) {
	obj := NewObject(
		O("s", String("x")),
		O("n", Number(2)),
		O("b", Bool(true)),
		O("o", Object{"k": Null{}}),
	)

	s, ok := obj.Str("s")
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	n, ok := obj.Num("n")
	assert.True(t, ok)
	assert.Equal(t, 2.0, n)

	_, ok = obj.Num("s")
	assert.False(t, ok)

	assert.True(t, obj.Flag("b"))
	assert.False(t, obj.Flag("missing"))

	inner, ok := obj.Obj("o")
	assert.True(t, ok)
	assert.Contains(t, inner, "k")
}

func TestCloneIsDeep(t *testing.T) {
	obj := Object{"inner": Object{"v": Number(1)}, "list": Array{Number(1)}}
	cp := obj.Clone()

	cp["inner"].(Object)["v"] = Number(2)
	cp["list"].(Array)[0] = Number(9)

	assert.Equal(t, Number(1), obj["inner"].(Object)["v"])
	assert.Equal(t, Number(1), obj["list"].(Array)[0])
}

func TestCompareUTF16(t *testing.T) {
	assert.Equal(t, 0, CompareUTF16("abc", "abc"))
	assert.Equal(t, -1, CompareUTF16("ab", "abc"))
	assert.Equal(t, 1, CompareUTF16("b", "abc"))
	// Surrogate pair (0xD83D...) sorts below U+FFFF.
	assert.Equal(t, -1, CompareUTF16("\U0001F600", "\uffff"))
}
