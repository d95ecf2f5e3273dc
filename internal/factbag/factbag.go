// Package factbag provides the path-addressed value tree that rules are evaluated against.
package factbag

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "invalid"
	}
}

// Value is an immutable JSON-like tagged union. The zero Value is Null.
// All numbers are held as float64.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// NullValue returns Null.
func NullValue() Value { return Value{} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// NumberValue wraps n.
func NumberValue(n float64) Value { return Value{kind: Number, n: n} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// ArrayValue wraps vs.
func ArrayValue(vs []Value) Value { return Value{kind: Array, arr: vs} }

// ObjectValue wraps m. A nil map becomes an empty object.
func ObjectValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Object, obj: m}
}

// Of converts a decoded JSON or plain Go value into a Value.
// Pointers are dereferenced, nil pointers become Null and time.Time becomes an RFC 3339 string.
// Values of shapes with no JSON counterpart (structs, channels, funcs) become Null.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case bool:
		return BoolValue(x)
	case string:
		return StringValue(x)
	case float64:
		return NumberValue(x)
	case float32:
		return NumberValue(float64(x))
	case int:
		return NumberValue(float64(x))
	case int8:
		return NumberValue(float64(x))
	case int16:
		return NumberValue(float64(x))
	case int32:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case uint:
		return NumberValue(float64(x))
	case uint8:
		return NumberValue(float64(x))
	case uint16:
		return NumberValue(float64(x))
	case uint32:
		return NumberValue(float64(x))
	case uint64:
		return NumberValue(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return StringValue(x.String())
		}
		return NumberValue(f)
	case time.Time:
		return StringValue(x.UTC().Format(time.RFC3339))
	case []any:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = Of(e)
		}
		return ArrayValue(vs)
	case []string:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = StringValue(e)
		}
		return ArrayValue(vs)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = Of(e)
		}
		return ObjectValue(m)
	case map[string]string:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = StringValue(e)
		}
		return ObjectValue(m)
	case map[string]Value:
		return ObjectValue(x)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(x, &decoded); err != nil {
			return Value{}
		}
		return Of(decoded)
	}

	return ofReflect(reflect.ValueOf(v))
}

func ofReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Value{}
		}
		return Of(rv.Elem().Interface())
	case reflect.Bool:
		return BoolValue(rv.Bool())
	case reflect.String:
		return StringValue(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NumberValue(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NumberValue(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return NumberValue(rv.Float())
	case reflect.Slice, reflect.Array:
		vs := make([]Value, rv.Len())
		for i := range vs {
			vs[i] = Of(rv.Index(i).Interface())
		}
		return ArrayValue(vs)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = Of(iter.Value().Interface())
		}
		return ObjectValue(m)
	}
	return Value{}
}

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == Null }

// Str returns the string payload and whether v is a String.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == String
}

// Num returns the number payload and whether v is a Number.
func (v Value) Num() (float64, bool) {
	return v.n, v.kind == Number
}

// Len returns the number of elements of an Array or keys of an Object.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	default:
		return 0
	}
}

// Get returns the member named key of an Object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	e, ok := v.obj[key]
	return e, ok
}

// Lookup resolves a dot-separated path through nested objects.
// It reports false as soon as a segment is missing or a non-object is traversed.
func (v Value) Lookup(path string) (Value, bool) {
	cur := v
	for part := range strings.SplitSeq(path, ".") {
		next, ok := cur.Get(part)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Equal reports structural, type-sensitive equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == o.b
	case Number:
		return v.n == o.n
	case String:
		return v.s == o.s
	case Array:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case Object:
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

// Float coerces v to a number: numbers pass through, true is 1 and false is 0,
// strings are parsed as plain decimal floats. Surrounding whitespace, digit
// separators and hex literals are rejected. Anything else reports false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case Number:
		return v.n, true
	case Bool:
		if v.b {
			return 1, true
		}
		return 0, true
	case String:
		if strings.ContainsAny(v.s, "_xX") {
			return 0, false
		}
		f, err := strconv.ParseFloat(v.s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Interface converts v back to plain Go values (nil, bool, float64, string, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.n
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// String returns the compact JSON encoding of v.
func (v Value) String() string {
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return "null"
	}
	return string(b)
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*v = Of(decoded)
	return nil
}

// Builder assembles an Object, skipping absent values.
type Builder struct {
	m map[string]Value
}

// NewBuilder returns an empty object builder.
func NewBuilder() *Builder {
	return &Builder{m: make(map[string]Value)}
}

// Set stores Of(v) under key unless v is nil or a nil pointer.
func (b *Builder) Set(key string, v any) *Builder {
	val := Of(v)
	if val.IsNull() {
		return b
	}
	b.m[key] = val
	return b
}

// SetValue stores val under key unconditionally.
func (b *Builder) SetValue(key string, val Value) *Builder {
	b.m[key] = val
	return b
}

// Build returns the assembled Object.
func (b *Builder) Build() Value {
	return ObjectValue(b.m)
}
