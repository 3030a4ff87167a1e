// Package value implements the closed set of values carried by intent
// parameters and state trees: null, bool, number, string, array and object.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable-by-convention tagged variant. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  Object
}

// Object is a string-keyed mapping of values.
type Object map[string]Value

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Int(n int) Value        { return Value{kind: KindNumber, n: float64(n)} }
func String(s string) Value  { return Value{kind: KindString, s: s} }

// Array builds an array value from the given elements.
func Array(vs ...Value) Value {
	arr := make([]Value, len(vs))
	copy(arr, vs)
	return Value{kind: KindArray, arr: arr}
}

// Obj wraps an Object. A nil object becomes an empty one.
func Obj(o Object) Value {
	if o == nil {
		o = Object{}
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool)  { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (Object, bool)   { return v.obj, v.kind == KindObject }

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

// Any converts the value to the plain Go shapes produced by encoding/json.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Any()
		}
		return out
	case KindObject:
		return v.obj.Any()
	default:
		return nil
	}
}

// Serialize returns the canonical JSON form (object keys sorted).
func (v Value) Serialize() string {
	data, err := json.Marshal(v.Any())
	if err != nil {
		return fmt.Sprintf("%v", v.Any())
	}
	return string(data)
}

// Text renders strings verbatim and everything else as canonical JSON.
func (v Value) Text() string {
	if v.kind == KindString {
		return v.s
	}
	return v.Serialize()
}

func (v Value) String() string { return v.Text() }

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := From(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// From converts plain Go data into a Value. Unsupported types return an error.
func From(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.Clone(), nil
	case Object:
		return Obj(t.Clone()), nil
	case []Value:
		return Array(t...).Clone(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("number %q: %w", t, err)
		}
		return Number(n), nil
	case time.Time:
		return String(t.UTC().Format(time.RFC3339)), nil
	case time.Duration:
		return String(t.String()), nil
	case []string:
		arr := make([]Value, len(t))
		for i, s := range t {
			arr[i] = String(s)
		}
		return Value{kind: KindArray, arr: arr}, nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			ev, err := From(e)
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = ev
		}
		return Value{kind: KindArray, arr: arr}, nil
	case map[string]string:
		obj := make(Object, len(t))
		for k, s := range t {
			obj[k] = String(s)
		}
		return Obj(obj), nil
	case map[string]any:
		obj, err := ObjectFrom(t)
		if err != nil {
			return Null(), err
		}
		return Obj(obj), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// MustFrom is From for literals known to be convertible.
func MustFrom(x any) Value {
	v, err := From(x)
	if err != nil {
		panic(err)
	}
	return v
}

// ObjectFrom converts a decoded JSON object.
func ObjectFrom(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, e := range m {
		ev, err := From(e)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		obj[k] = ev
	}
	return obj, nil
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v.Clone()
	}
	return out
}

// Keys returns the keys in sorted order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Any converts the object to map[string]any.
func (o Object) Any() map[string]any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = v.Any()
	}
	return out
}

// Str returns the string at key, or "" when absent or not a string.
func (o Object) Str(key string) string {
	s, _ := o[key].AsString()
	return s
}

// Serialize returns the canonical JSON form of the object.
func (o Object) Serialize() string {
	return Obj(o).Serialize()
}

// Lookup walks a path of object keys.
func (o Object) Lookup(path ...string) (Value, bool) {
	cur := Obj(o)
	for _, p := range path {
		obj, ok := cur.AsObject()
		if !ok {
			return Null(), false
		}
		next, ok := obj[p]
		if !ok {
			return Null(), false
		}
		cur = next
	}
	return cur, true
}

// SetPath stores v at path, creating or replacing intermediate objects.
// An empty path is a no-op.
func (o Object) SetPath(path []string, v Value) {
	if len(path) == 0 {
		return
	}
	cur := o
	for _, p := range path[:len(path)-1] {
		next, ok := cur[p].AsObject()
		if !ok || next == nil {
			next = Object{}
			cur[p] = Obj(next)
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}
