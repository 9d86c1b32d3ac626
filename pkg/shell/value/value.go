// Package value holds the typed structured values carried by object pipes.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	Null Kind = iota
	String
	Int
	Float
	Bool
	List
	Map
)

var kindNames = [...]string{"null", "string", "int", "float", "bool", "list", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable structured value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	list []Value
	m    map[string]Value
}

func Str(s string) Value { return Value{kind: String, s: s} }
func Integer(i int64) Value { return Value{kind: Int, i: i} }
func Number(f float64) Value { return Value{kind: Float, f: f} }
func Boolean(b bool) Value { return Value{kind: Bool, i: boolInt(b)} }
func NewList(items ...Value) Value { return Value{kind: List, list: items} }

// NewMap returns a map value. The map must not be modified afterwards.
func NewMap(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Map, m: m}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == Null }

// AsString returns the string payload; ok is false for other kinds.
func (v Value) AsString() (string, bool) { return v.s, v.kind == String }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == Int }

// AsFloat converts numeric values to float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case Float:
		return v.f, true
	case Int:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) { return v.i != 0, v.kind == Bool }

// Items returns the elements of a list.
func (v Value) Items() []Value { return v.list }

// Keys returns the keys of a map in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Field returns a map entry.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != Map {
		return Value{}, false
	}
	f, ok := v.m[name]
	return f, ok
}

// Path resolves a dotted path such as "user.name" or "items.0".
func (v Value) Path(path string) (Value, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch cur.kind {
		case Map:
			next, ok := cur.m[part]
			if !ok {
				return Value{}, false
			}
			cur = next
		case List:
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || n >= len(cur.list) {
				return Value{}, false
			}
			cur = cur.list[n]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Pick returns a map holding only the named paths of v. Missing paths map
// to null.
func (v Value) Pick(paths ...string) Value {
	out := make(map[string]Value, len(paths))
	for _, p := range paths {
		f, _ := v.Path(p)
		out[p] = f
	}
	return NewMap(out)
}

// Text renders v as a single line of text. Scalars render bare; lists and
// maps render as canonical JSON with sorted keys.
func (v Value) Text() string {
	switch v.kind {
	case Null:
		return ""
	case String:
		return v.s
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return formatFloat(v.f)
	case Bool:
		return strconv.FormatBool(v.i != 0)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}

func (v Value) String() string { return v.Text() }

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Truthy follows the object filter rules: null, false, zero, empty strings
// and empty containers are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case Null:
		return false
	case String:
		return v.s != ""
	case Int, Bool:
		return v.i != 0
	case Float:
		return v.f != 0
	case List:
		return len(v.list) > 0
	}
	return len(v.m) > 0
}

// Equal reports deep equality. Ints and floats compare numerically.
func Equal(a, b Value) bool { return Compare(a, b) == 0 && a.sameClass(b) }

func (v Value) sameClass(o Value) bool {
	num := func(k Kind) bool { return k == Int || k == Float }
	return v.kind == o.kind || num(v.kind) && num(o.kind)
}

// Compare orders values for sorting. Values of different kinds order by
// kind, with ints and floats compared numerically.
func Compare(a, b Value) int {
	af, aNum := a.AsFloat()
	bf, bNum := b.AsFloat()
	if aNum && bNum {
		if a.kind == Int && b.kind == Int {
			return cmpInt(a.i, b.i)
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	if a.kind != b.kind {
		return cmpInt(int64(a.kind), int64(b.kind))
	}
	switch a.kind {
	case String:
		return strings.Compare(a.s, b.s)
	case Bool:
		return cmpInt(a.i, b.i)
	case List:
		for i := 0; i < len(a.list) && i < len(b.list); i++ {
			if c := Compare(a.list[i], b.list[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(a.list)), int64(len(b.list)))
	case Map:
		return strings.Compare(a.Text(), b.Text())
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MarshalJSON encodes v. Maps are written with sorted keys.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(v.s)
	case Int:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case Float:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return nil, fmt.Errorf("value: cannot encode %v as JSON", v.f)
		}
		return []byte(formatFloat(v.f)), nil
	case Bool:
		return []byte(strconv.FormatBool(v.i != 0)), nil
	case List:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := v.m[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON document into v. Integral numbers become
// Int values.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts decoded JSON or plain Go values.
func FromAny(x any) Value {
	switch x := x.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case string:
		return Str(x)
	case bool:
		return Boolean(x)
	case int:
		return Integer(int64(x))
	case int64:
		return Integer(x)
	case float64:
		return Number(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Integer(i)
		}
		f, _ := x.Float64()
		return Number(f)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = FromAny(e)
		}
		return NewList(items...)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return NewMap(m)
	}
	return Str(fmt.Sprint(x))
}

// Parse decodes one JSON document.
func Parse(b []byte) (Value, error) {
	var v Value
	err := v.UnmarshalJSON(b)
	return v, err
}
