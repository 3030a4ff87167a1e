package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONRoundTrip(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"room":"kitchen","level":40,"on":true,"tags":["a","b"],"meta":{"x":null}}`), &raw))

	obj, err := ObjectFrom(raw)
	require.NoError(t, err)

	assert.Equal(t, "kitchen", obj.Str("room"))
	n, ok := obj["level"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 40.0, n)
	assert.Equal(t, KindArray, obj["tags"].Kind())

	meta, ok := obj.Lookup("meta", "x")
	require.True(t, ok)
	assert.True(t, meta.IsNull())

	assert.Equal(t, `{"level":40,"meta":{"x":null},"on":true,"room":"kitchen","tags":["a","b"]}`, obj.Serialize())
}

func TestFromUnsupported(t *testing.T) {
	_, err := From(struct{}{})
	assert.Error(t, err)

	_, err = From(map[string]any{"bad": make(chan int)})
	assert.ErrorContains(t, err, `key "bad"`)
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"inner": Obj(Object{"v": Int(1)})}
	cp := orig.Clone()
	cp.SetPath([]string{"inner", "v"}, Int(2))

	v, _ := orig.Lookup("inner", "v")
	assert.True(t, v.Equal(Int(1)))
}

func TestEqual(t *testing.T) {
	a := MustFrom(map[string]any{"a": []any{1, "x"}, "b": nil})
	b := MustFrom(map[string]any{"b": nil, "a": []any{1.0, "x"}})
	c := MustFrom(map[string]any{"a": []any{1, "y"}, "b": nil})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Int(0).Equal(Bool(false)))
	assert.True(t, Null().Equal(Value{}))
}

func TestSetPathCreatesIntermediates(t *testing.T) {
	obj := Object{"leaf": String("scalar")}
	obj.SetPath([]string{"leaf", "child"}, Bool(true))
	obj.SetPath([]string{"a", "b", "c"}, Int(3))

	v, ok := obj.Lookup("leaf", "child")
	require.True(t, ok)
	assert.True(t, v.Equal(Bool(true)))

	v, ok = obj.Lookup("a", "b", "c")
	require.True(t, ok)
	assert.True(t, v.Equal(Int(3)))
}

func TestUnmarshalValue(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`[1,"two",{"three":3}]`), &v))
	arr, ok := v.AsArray()
	require.True(t, ok)
	require.Len(t, arr, 3)
	assert.Equal(t, "two", arr[1].Text())
	assert.Equal(t, `{"three":3}`, arr[2].Text())
}
