package model

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ExtraData is the schema-less enrichment bag attached to a lead. It holds
// either an ordered set of keyed values, a raw text blob, or nothing.
// Accessors never panic on unexpected shapes.
type ExtraData struct {
	keys   []string
	values map[string]any
	text   string
	isText bool
}

// NewExtraData builds a bag from alternating key/value arguments.
func NewExtraData(kv ...any) ExtraData {
	var e ExtraData
	for i := 0; i+1 < len(kv); i += 2 {
		e.Set(AsString(kv[i]), kv[i+1])
	}
	return e
}

// TextExtraData builds a bag holding only free text.
func TextExtraData(s string) ExtraData {
	if strings.TrimSpace(s) == "" {
		return ExtraData{}
	}
	return ExtraData{text: s, isText: true}
}

// Set stores v under key, keeping first-insertion order.
func (e *ExtraData) Set(key string, v any) {
	if e.isText {
		return
	}
	if e.values == nil {
		e.values = make(map[string]any)
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = v
}

// IsZero reports whether the bag was absent or empty.
func (e ExtraData) IsZero() bool {
	return !e.isText && len(e.keys) == 0
}

// IsText reports whether the bag arrived as a plain string.
func (e ExtraData) IsText() bool { return e.isText }

// Text returns the raw string of a text bag.
func (e ExtraData) Text() string { return e.text }

// Len returns the number of keys.
func (e ExtraData) Len() int { return len(e.keys) }

// Keys returns the keys in insertion order.
func (e ExtraData) Keys() []string {
	return append([]string(nil), e.keys...)
}

// Get returns the raw value stored under key.
func (e ExtraData) Get(key string) (any, bool) {
	if e.values == nil {
		return nil, false
	}
	v, ok := e.values[key]
	return v, ok
}

// String returns the scalar value under key as a trimmed string.
func (e ExtraData) String(key string) string {
	v, _ := e.Get(key)
	return strings.TrimSpace(AsString(v))
}

// Number returns the numeric value under key.
func (e ExtraData) Number(key string) (float64, bool) {
	v, _ := e.Get(key)
	return AsNumber(v)
}

// Nested walks a path of object keys and array indexes starting at the top
// level, e.g. Nested("organization", "name") or Nested("phone_numbers", "0", "number").
func (e ExtraData) Nested(path ...string) any {
	if len(path) == 0 {
		return nil
	}
	cur, ok := e.Get(path[0])
	if !ok {
		return nil
	}
	for _, seg := range path[1:] {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		case string:
			// Some vendors double-encode nested objects.
			var inner map[string]any
			if json.Unmarshal([]byte(node), &inner) != nil {
				return nil
			}
			cur = inner[seg]
		default:
			return nil
		}
	}
	return cur
}

// NonEmptyCount returns how many keys hold a non-empty value.
func (e ExtraData) NonEmptyCount() int {
	n := 0
	for _, k := range e.keys {
		if !isEmptyValue(e.values[k]) {
			n++
		}
	}
	return n
}

// Flatten concatenates every scalar value in the bag, recursively, into a
// single space-separated string. A text bag returns its text.
func (e ExtraData) Flatten() string {
	if e.isText {
		return e.text
	}
	var b strings.Builder
	for _, k := range e.keys {
		flattenInto(&b, e.values[k])
	}
	return strings.TrimSpace(b.String())
}

func flattenInto(b *strings.Builder, v any) {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(b, node[k])
		}
	case []any:
		for _, item := range node {
			flattenInto(b, item)
		}
	default:
		if s := strings.TrimSpace(AsString(v)); s != "" {
			b.WriteString(s)
			b.WriteByte(' ')
		}
	}
}

// MarshalJSON encodes the bag as null, a string, or an ordered object.
func (e ExtraData) MarshalJSON() ([]byte, error) {
	if e.isText {
		return json.Marshal(e.text)
	}
	if len(e.keys) == 0 {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(e.values[k])
		if err != nil {
			vb = []byte("null")
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts null, an object, or a string. A string that itself
// holds a JSON object is decoded as that object. Any other shape is kept
// as text. It never returns an error.
func (e *ExtraData) UnmarshalJSON(data []byte) error {
	*e = ExtraData{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '{':
		if parsed, ok := decodeOrdered(data); ok {
			*e = parsed
			return nil
		}
		*e = TextExtraData(string(data))
	case '"':
		var s string
		if json.Unmarshal(data, &s) != nil {
			return nil
		}
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") {
			if parsed, ok := decodeOrdered([]byte(trimmed)); ok {
				*e = parsed
				return nil
			}
		}
		*e = TextExtraData(s)
	default:
		*e = TextExtraData(string(data))
	}
	return nil
}

func decodeOrdered(data []byte) (ExtraData, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return ExtraData{}, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ExtraData{}, false
	}

	var e ExtraData
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ExtraData{}, false
		}
		key, ok := tok.(string)
		if !ok {
			return ExtraData{}, false
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return ExtraData{}, false
		}
		e.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return ExtraData{}, false
	}
	return e, true
}

// AsString renders a scalar as a string. Objects, arrays and nil render
// as "".
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// AsNumber converts a scalar to a finite float64. Numeric strings may
// contain thousands separators.
func AsNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return AsString(v) == ""
	}
}
