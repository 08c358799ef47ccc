// Package configtree holds the configuration snapshot model shared by the
// form renderer, edit sessions, and the rig save protocol: a typed tree of
// strings, numbers, booleans, and nested objects, addressed by dotted field
// paths. Snapshots are immutable; writes return new trees that share
// untouched subtrees with the original.
package configtree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the value union.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindObject
	KindNull
)

// String returns the kind name used in error messages and descriptors.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindNull:
		return "null"
	default:
		return "unknown"
	}
}

// Value is one node of a configuration snapshot. The zero Value is the
// empty string.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	obj  *Object
}

// String constructs a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number constructs a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// ObjectValue wraps an Object as a Value.
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }

// Null constructs a null Value. Nulls carry no editable state; the filter
// drops them before rendering and before saving.
func Null() Value { return Value{kind: KindNull} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload. Meaningful only for KindString.
func (v Value) Str() string { return v.str }

// Num returns the numeric payload. Meaningful only for KindNumber.
func (v Value) Num() float64 { return v.num }

// Boolean returns the boolean payload. Meaningful only for KindBool.
func (v Value) Boolean() bool { return v.b }

// Obj returns the object payload, or nil for scalar kinds.
func (v Value) Obj() *Object { return v.obj }

// Interface converts the value back to plain Go data (string, float64,
// bool, map[string]any) for wire transmission.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindObject:
		m := make(map[string]any, v.obj.Len())
		for _, k := range v.obj.Keys() {
			child, _ := v.obj.Get(k)
			m[k] = child.Interface()
		}
		return m
	default:
		return nil
	}
}

// MarshalJSON emits the value with object keys in insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.obj.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			child, _ := v.obj.Get(k)
			cb, err := child.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(cb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// Equal reports whether two values are structurally equal, including object
// key order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return a.str == b.str
	case KindNumber:
		return a.num == b.num
	case KindBool:
		return a.b == b.b
	case KindObject:
		if a.obj.Len() != b.obj.Len() {
			return false
		}
		bk := b.obj.Keys()
		for i, k := range a.obj.Keys() {
			if k != bk[i] {
				return false
			}
			av, _ := a.obj.Get(k)
			bv, _ := b.obj.Get(k)
			if !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Object is an insertion-ordered string-keyed mapping of Values. Keys are
// unique; Set of an existing key replaces in place without reordering.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Len returns the number of entries.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns the keys in insertion order. The slice must not be mutated.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Get returns the value for key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Set inserts or replaces the value for key.
func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Delete removes key if present.
func (o *Object) Delete(key string) {
	if _, exists := o.values[key]; !exists {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// clone returns a shallow copy: fresh key slice and map, shared child
// Values.
func (o *Object) clone() *Object {
	c := &Object{
		keys:   make([]string, len(o.keys)),
		values: make(map[string]Value, len(o.values)),
	}
	copy(c.keys, o.keys)
	for k, v := range o.values {
		c.values[k] = v
	}
	return c
}

// ParseJSON ingests a raw JSON object from the rig channel, preserving the
// document's key order. The top level must be an object.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseToken(dec)
	if err != nil {
		return Value{}, err
	}
	if v.Kind() != KindObject {
		return Value{}, fmt.Errorf("configtree: top-level value is %s, want object", v.Kind())
	}
	return v, nil
}

func parseToken(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("configtree: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		if t != '{' {
			return Value{}, fmt.Errorf("configtree: unsupported delimiter %q (arrays are not part of the snapshot model)", t)
		}
		obj := NewObject()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return Value{}, fmt.Errorf("configtree: %w", err)
			}
			key := keyTok.(string)
			child, err := parseToken(dec)
			if err != nil {
				return Value{}, err
			}
			obj.Set(key, child)
		}
		if _, err := dec.Token(); err != nil { // closing brace
			return Value{}, fmt.Errorf("configtree: %w", err)
		}
		return ObjectValue(obj), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("configtree: number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("configtree: unsupported token %T", tok)
	}
}

// Parse ingests already-decoded JSON data (map[string]any and scalars).
// Map key order is not recoverable, so keys are sorted for a deterministic
// tree. Prefer ParseJSON for wire payloads.
func Parse(data any) (Value, error) {
	switch d := data.(type) {
	case map[string]any:
		obj := NewObject()
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := Parse(d[k])
			if err != nil {
				return Value{}, err
			}
			obj.Set(k, child)
		}
		return ObjectValue(obj), nil
	case string:
		return String(d), nil
	case float64:
		return Number(d), nil
	case int:
		return Number(float64(d)), nil
	case int64:
		return Number(float64(d)), nil
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("configtree: number %q: %w", d.String(), err)
		}
		return Number(f), nil
	case bool:
		return Bool(d), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("configtree: unsupported value type %T", data)
	}
}
