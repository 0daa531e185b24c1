package sidecar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Kind enumerates the closed set of document value variants.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindDocument
	KindList
)

// TimeLayout is the timestamp layout used in documents and scan indexes.
const TimeLayout = "2006-01-02T15:04:05"

// Value is one document field value.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	t    time.Time
	doc  *Document
	list []Value
}

func Null() Value                { return Value{kind: KindNull} }
func String(s string) Value      { return Value{kind: KindString, str: s} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value     { return Value{kind: KindTime, t: t} }
func Doc(d *Document) Value      { return Value{kind: KindDocument, doc: d} }
func List(values ...Value) Value { return Value{kind: KindList, list: values} }

// Number builds a numeric value from its textual form.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// Float builds a numeric value using the shortest round-trip representation.
func Float(f float64) Value {
	return Value{kind: KindNumber, num: json.Number(formatFloat(f))}
}

// Int builds an integral numeric value.
func Int(i int64) Value { return Value{kind: KindNumber, num: json.Number(fmt.Sprint(i))} }

// Strings builds a list of strings.
func Strings(values ...string) Value {
	list := make([]Value, len(values))
	for i, v := range values {
		list[i] = String(v)
	}
	return List(list...)
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the string content of string and time values.
func (v Value) Str() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindTime:
		return v.t.Format(TimeLayout), true
	}
	return "", false
}

// AsTime interprets string and time values as a timestamp.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindTime:
		return v.t, true
	case KindString:
		return ParseTime(v.str)
	}
	return time.Time{}, false
}

func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := v.num.Float64()
	return f, err == nil
}

func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) Document() (*Document, bool) { return v.doc, v.kind == KindDocument }

func (v Value) Items() ([]Value, bool) { return v.list, v.kind == KindList }

// StringItems returns the string entries of a list value.
func (v Value) StringItems() []string {
	if v.kind == KindString {
		return []string{v.str}
	}
	out := make([]string, 0, len(v.list))
	for _, item := range v.list {
		if s, ok := item.Str(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		a, aok := v.Str()
		b, bok := o.Str()
		return aok && bok && a == b
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	case KindDocument:
		return v.doc.Equal(o.doc)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) clone() Value {
	switch v.kind {
	case KindDocument:
		return Doc(v.doc.Clone())
	case KindList:
		list := make([]Value, len(v.list))
		for i := range v.list {
			list[i] = v.list[i].clone()
		}
		return List(list...)
	}
	return v
}

// Document is a keyed structure that preserves field order.
type Document struct {
	keys   []string
	values map[string]Value
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{values: map[string]Value{}}
}

func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns field names in document order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	v, ok := d.values[key]
	return v, ok
}

// GetString returns a string field or "".
func (d *Document) GetString(key string) string {
	v, ok := d.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.Str()
	return s
}

// Set stores a value, appending new keys at the end.
func (d *Document) Set(key string, v Value) {
	if d.values == nil {
		d.values = map[string]Value{}
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

func (d *Document) SetString(key, value string) { d.Set(key, String(value)) }

func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := NewDocument()
	for _, k := range d.keys {
		out.Set(k, d.values[k].clone())
	}
	return out
}

// Equal compares field sets and values, ignoring order.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	for _, k := range d.Keys() {
		ov, ok := o.Get(k)
		if !ok || !d.values[k].Equal(ov) {
			return false
		}
	}
	return true
}

// ParseTime accepts the document timestamp layout with optional fractional
// seconds. "n/a" and empty strings are unknown.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "n/a" {
		return time.Time{}, false
	}
	for _, layout := range []string{TimeLayout, "2006-01-02T15:04:05.999999999", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DecodeDocument parses a JSON object preserving key order.
func DecodeDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after document")
	}
	doc, ok := v.Document()
	if !ok {
		return nil, errors.New("document root is not an object")
	}
	return doc, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc := NewDocument()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected key token %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				doc.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Doc(doc), nil
		case '[':
			var list []Value
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				list = append(list, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(list...), nil
		}
		return Value{}, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// Encode renders the document as indented JSON with a trailing newline.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, Doc(d), 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

const indentUnit = "    "

func encodeValue(buf *bytes.Buffer, v Value, depth int) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		return writeJSONString(buf, v.str)
	case KindTime:
		return writeJSONString(buf, v.t.Format(TimeLayout))
	case KindNumber:
		if v.num == "" {
			buf.WriteString("0")
			return nil
		}
		buf.WriteString(string(v.num))
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindDocument:
		if v.doc.Len() == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{\n")
		for i, k := range v.doc.keys {
			buf.WriteString(strings.Repeat(indentUnit, depth+1))
			if err := writeJSONString(buf, k); err != nil {
				return err
			}
			buf.WriteString(": ")
			if err := encodeValue(buf, v.doc.values[k], depth+1); err != nil {
				return err
			}
			if i < len(v.doc.keys)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString(strings.Repeat(indentUnit, depth))
		buf.WriteByte('}')
	case KindList:
		if len(v.list) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, item := range v.list {
			buf.WriteString(strings.Repeat(indentUnit, depth+1))
			if err := encodeValue(buf, item, depth+1); err != nil {
				return err
			}
			if i < len(v.list)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString(strings.Repeat(indentUnit, depth))
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

func formatFloat(f float64) string {
	data, err := json.Marshal(f)
	if err != nil {
		return "0"
	}
	return string(data)
}

// LoadDocument reads a document file. A missing file yields (nil, false, nil).
func LoadDocument(path string) (*Document, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, true, nil
}
