// Package value implements AgentValue, the tagged union payload type that
// travels across every edge in a flow, and AgentData, which pairs a value
// with the runtime "kind" name chosen by the agent that produced it.
package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind discriminates the variant held by a Value.
type Kind string

const (
	KindUnit    Kind = "unit"
	KindBoolean Kind = "boolean"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindString  Kind = "string"
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Image carries raw pixel bytes or a base64-encoded payload. Exactly one of
// Bytes or Base64 is expected to be set; Bytes takes precedence when both are.
type Image struct {
	Bytes    []byte `json:"-"`
	Base64   string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Value is the tagged union described by spec.md §3. Object and Array hold
// map/slice values, which are already reference types in Go, giving the same
// cheap-to-share-across-edges property the original reference-counted
// variants have without any explicit refcounting.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string // backs both String and Text
	img   *Image
	obj   map[string]Value
	elem  Kind // element kind hint for Array
	arr   []Value
}

func Unit() Value                 { return Value{kind: KindUnit} }
func Boolean(v bool) Value        { return Value{kind: KindBoolean, b: v} }
func Integer(v int64) Value       { return Value{kind: KindInteger, i: v} }
func Number(v float64) Value      { return Value{kind: KindNumber, f: v} }
func String(v string) Value       { return Value{kind: KindString, s: v} }
func Text(v string) Value         { return Value{kind: KindText, s: v} }
func ImageValue(img Image) Value  { return Value{kind: KindImage, img: &img} }
func Object(v map[string]Value) Value {
	if v == nil {
		v = map[string]Value{}
	}
	return Value{kind: KindObject, obj: v}
}
func Array(elem Kind, v []Value) Value {
	if v == nil {
		v = []Value{}
	}
	return Value{kind: KindArray, elem: elem, arr: v}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUnit() bool { return v.kind == KindUnit }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBoolean {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.f, true
}

// AsString returns the underlying text for both String and Text variants.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString && v.kind != KindText {
		return "", false
	}
	return v.s, true
}

func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsImage() (*Image, bool) {
	if v.kind != KindImage {
		return nil, false
	}
	return v.img, true
}

// Truthy mirrors original_source's is_truthy used by the $truthy_pass /
// $falsy_pass builtins: unit, false, zero, empty strings/arrays/objects and
// a nil image are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindUnit:
		return false
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i != 0
	case KindNumber:
		return v.f != 0
	case KindString, KindText:
		return v.s != ""
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return len(v.obj) > 0
	case KindImage:
		return v.img != nil
	default:
		return false
	}
}

// MarshalJSON writes the bare inner representation (no kind tag), matching
// the original Serialize impl: callers that need the kind alongside the
// value use Data, not Value, as the wire envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindUnit, "":
		return []byte("null"), nil
	case KindBoolean:
		return json.Marshal(v.b)
	case KindInteger:
		return json.Marshal(v.i)
	case KindNumber:
		return json.Marshal(v.f)
	case KindString, KindText:
		return json.Marshal(v.s)
	case KindObject:
		return json.Marshal(v.obj)
	case KindArray:
		return json.Marshal(v.arr)
	case KindImage:
		if v.img == nil {
			return []byte("null"), nil
		}
		if len(v.img.Bytes) > 0 && v.img.Base64 == "" {
			v.img.Base64 = base64.StdEncoding.EncodeToString(v.img.Bytes)
		}
		return json.Marshal(v.img)
	default:
		return nil, fmt.Errorf("value: unknown kind %q", v.kind)
	}
}

// UnmarshalJSON implements the kind-less decode path (from_json_value in
// original_source): a bare JSON value is classified by shape alone, so
// strings always become String (never Text) and arrays become Array with an
// unknown element kind recorded as object, since JSON alone cannot recover
// the original element-kind hint.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromGeneric(raw)
	return nil
}

func fromGeneric(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Unit()
	case bool:
		return Boolean(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Integer(i)
		}
		f, _ := t.Float64()
		return Number(f)
	case string:
		return String(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromGeneric(e)
		}
		return Array(KindObject, out)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = fromGeneric(e)
		}
		return Object(out)
	default:
		return Unit()
	}
}

// FromKindValue decodes raw JSON into a Value using an explicit kind hint,
// mirroring original_source's AgentValue::from_kind_value. Object and
// unknown kinds are decoded by JSON shape alone, through UnmarshalJSON.
func FromKindValue(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindUnit:
		return Unit(), nil
	case KindBoolean:
		var b bool
		_ = json.Unmarshal(raw, &b)
		return Boolean(b), nil
	case KindInteger:
		var i int64
		_ = json.Unmarshal(raw, &i)
		return Integer(i), nil
	case KindNumber:
		var f float64
		_ = json.Unmarshal(raw, &f)
		return Number(f), nil
	case KindString:
		var s string
		_ = json.Unmarshal(raw, &s)
		return String(s), nil
	case KindText:
		var s string
		_ = json.Unmarshal(raw, &s)
		return Text(s), nil
	case KindImage:
		var img Image
		if err := json.Unmarshal(raw, &img); err != nil {
			return Value{}, err
		}
		if img.Base64 != "" && len(img.Bytes) == 0 {
			b, err := base64.StdEncoding.DecodeString(img.Base64)
			if err == nil {
				img.Bytes = b
			}
		}
		return ImageValue(img), nil
	case KindArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Value{}, err
		}
		out := make([]Value, len(items))
		for i, item := range items {
			var v Value
			if err := json.Unmarshal(item, &v); err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return Array(KindObject, out), nil
	default:
		var v Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return Value{}, err
		}
		return v, nil
	}
}

