package fhir

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// ValueKind identifies which value[x] element an Extension carries.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindBoolean
	KindInteger
	KindDecimal
	KindString
	KindCode
	KindMarkdown
	KindURI
	KindCoding
	KindCodeableConcept
	KindDate
	KindDateTime
	KindTime
	KindQuantity
	KindDistance
	KindDuration
	KindReference
	KindExpression
	// KindRaw holds a value[x] type the codec does not model. The member is
	// kept verbatim under its original key.
	KindRaw
)

// valueKeys is scanned in order when decoding; the first populated key wins.
var valueKeys = []struct {
	kind ValueKind
	key  string
}{
	{KindBoolean, "valueBoolean"},
	{KindInteger, "valueInteger"},
	{KindDecimal, "valueDecimal"},
	{KindString, "valueString"},
	{KindCode, "valueCode"},
	{KindMarkdown, "valueMarkdown"},
	{KindURI, "valueUri"},
	{KindCoding, "valueCoding"},
	{KindCodeableConcept, "valueCodeableConcept"},
	{KindDate, "valueDate"},
	{KindDateTime, "valueDateTime"},
	{KindTime, "valueTime"},
	{KindQuantity, "valueQuantity"},
	{KindDistance, "valueDistance"},
	{KindDuration, "valueDuration"},
	{KindReference, "valueReference"},
	{KindExpression, "valueExpression"},
}

// Key returns the JSON property name of the kind, or "" for KindNone and KindRaw.
func (k ValueKind) Key() string {
	for _, vk := range valueKeys {
		if vk.kind == k {
			return vk.key
		}
	}
	return ""
}

func (k ValueKind) String() string {
	if key := k.Key(); key != "" {
		return key
	}
	if k == KindRaw {
		return "raw"
	}
	return "none"
}

// IsText reports whether the kind stores its value as a plain string.
func (k ValueKind) IsText() bool {
	switch k {
	case KindString, KindCode, KindMarkdown, KindURI, KindDate, KindDateTime, KindTime:
		return true
	}
	return false
}

// Extension is a FHIR extension holding at most one value. The value is only
// set through the New*Extension constructors or by decoding, so Kind always
// matches the stored value.
type Extension struct {
	URL       string
	Extension []Extension

	kind   ValueKind
	value  interface{}
	rawKey string
}

func NewBooleanExtension(url string, v bool) Extension {
	return Extension{URL: url, kind: KindBoolean, value: v}
}

func NewIntegerExtension(url string, v int) Extension {
	return Extension{URL: url, kind: KindInteger, value: v}
}

func NewDecimalExtension(url string, v float64) Extension {
	return Extension{URL: url, kind: KindDecimal, value: v}
}

func NewStringExtension(url, v string) Extension {
	return Extension{URL: url, kind: KindString, value: v}
}

func NewCodeExtension(url, v string) Extension {
	return Extension{URL: url, kind: KindCode, value: v}
}

func NewMarkdownExtension(url, v string) Extension {
	return Extension{URL: url, kind: KindMarkdown, value: v}
}

func NewURIExtension(url, v string) Extension {
	return Extension{URL: url, kind: KindURI, value: v}
}

func NewCodingExtension(url string, v Coding) Extension {
	return Extension{URL: url, kind: KindCoding, value: v}
}

func NewCodeableConceptExtension(url string, v CodeableConcept) Extension {
	return Extension{URL: url, kind: KindCodeableConcept, value: v}
}

func NewDateExtension(url, v string) Extension {
	return Extension{URL: url, kind: KindDate, value: v}
}

func NewDateTimeExtension(url, v string) Extension {
	return Extension{URL: url, kind: KindDateTime, value: v}
}

func NewTimeExtension(url, v string) Extension {
	return Extension{URL: url, kind: KindTime, value: v}
}

func NewQuantityExtension(url string, v Quantity) Extension {
	return Extension{URL: url, kind: KindQuantity, value: v}
}

func NewDistanceExtension(url string, v Quantity) Extension {
	return Extension{URL: url, kind: KindDistance, value: v}
}

func NewDurationExtension(url string, v Quantity) Extension {
	return Extension{URL: url, kind: KindDuration, value: v}
}

func NewReferenceExtension(url string, v Reference) Extension {
	return Extension{URL: url, kind: KindReference, value: v}
}

func NewExpressionExtension(url string, v Expression) Extension {
	return Extension{URL: url, kind: KindExpression, value: v}
}

// NewComplexExtension builds a value-less extension made of nested extensions.
func NewComplexExtension(url string, children ...Extension) Extension {
	return Extension{URL: url, Extension: children}
}

func (e Extension) Kind() ValueKind { return e.kind }

// ValueKey returns the JSON property name of the stored value, or "" when
// the extension has none.
func (e Extension) ValueKey() string {
	if e.kind == KindRaw {
		return e.rawKey
	}
	return e.kind.Key()
}

// Raw returns the undecoded value of a KindRaw extension.
func (e Extension) Raw() (json.RawMessage, bool) {
	v, ok := e.value.(json.RawMessage)
	return v, ok && e.kind == KindRaw
}

// Value returns the single stored value, or nil for complex extensions.
func (e Extension) Value() interface{} { return e.value }

func (e Extension) Bool() (bool, bool) {
	v, ok := e.value.(bool)
	return v, ok && e.kind == KindBoolean
}

func (e Extension) Int() (int, bool) {
	v, ok := e.value.(int)
	return v, ok && e.kind == KindInteger
}

func (e Extension) Decimal() (float64, bool) {
	v, ok := e.value.(float64)
	return v, ok && e.kind == KindDecimal
}

// Text returns the value of string-like kinds (string, code, markdown, uri, date, dateTime, time).
func (e Extension) Text() (string, bool) {
	if !e.kind.IsText() {
		return "", false
	}
	v, ok := e.value.(string)
	return v, ok
}

func (e Extension) Coding() (Coding, bool) {
	v, ok := e.value.(Coding)
	return v, ok
}

func (e Extension) CodeableConcept() (CodeableConcept, bool) {
	v, ok := e.value.(CodeableConcept)
	return v, ok
}

// Quantity returns quantity, distance and duration values.
func (e Extension) Quantity() (Quantity, bool) {
	v, ok := e.value.(Quantity)
	return v, ok
}

func (e Extension) Reference() (Reference, bool) {
	v, ok := e.value.(Reference)
	return v, ok
}

func (e Extension) Expression() (Expression, bool) {
	v, ok := e.value.(Expression)
	return v, ok
}

// WithText returns a copy whose string-like value is replaced by v. Extensions
// of other kinds are returned unchanged.
func (e Extension) WithText(v string) Extension {
	if !e.kind.IsText() {
		return e
	}
	e.value = v
	return e
}

// Clone returns a deep copy of the extension and its nested extensions.
func (e Extension) Clone() Extension {
	out := e
	if e.Extension != nil {
		out.Extension = make([]Extension, len(e.Extension))
		for i, child := range e.Extension {
			out.Extension[i] = child.Clone()
		}
	}
	switch v := e.value.(type) {
	case CodeableConcept:
		v.Coding = append([]Coding(nil), v.Coding...)
		out.value = v
	case Quantity:
		if v.Value != nil {
			f := *v.Value
			v.Value = &f
		}
		out.value = v
	case json.RawMessage:
		out.value = append(json.RawMessage(nil), v...)
	}
	return out
}

func (e Extension) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	url, err := json.Marshal(e.URL)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"url":`)
	buf.Write(url)
	if e.kind != KindNone {
		val, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s of extension %s: %w", e.kind, e.URL, err)
		}
		key, err := json.Marshal(e.ValueKey())
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	if len(e.Extension) > 0 {
		children, err := json.Marshal(e.Extension)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"extension":`)
		buf.Write(children)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Extension) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode extension: %w", err)
	}

	*e = Extension{}
	if u, ok := raw["url"]; ok {
		if err := json.Unmarshal(u, &e.URL); err != nil {
			return fmt.Errorf("decode extension url: %w", err)
		}
	}
	if children, ok := raw["extension"]; ok {
		if err := json.Unmarshal(children, &e.Extension); err != nil {
			return fmt.Errorf("decode nested extensions of %s: %w", e.URL, err)
		}
	}

	for _, vk := range valueKeys {
		v, ok := raw[vk.key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		value, err := decodeValue(vk.kind, v)
		if err != nil {
			return fmt.Errorf("decode %s of extension %s: %w", vk.key, e.URL, err)
		}
		e.kind = vk.kind
		e.value = value
		return nil
	}

	// Unmodelled value[x] types survive as raw JSON.
	var unknown []string
	for key, v := range raw {
		if isValueKey(key) && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		e.kind = KindRaw
		e.rawKey = unknown[0]
		e.value = append(json.RawMessage(nil), raw[unknown[0]]...)
	}
	return nil
}

// isValueKey reports whether key names a value[x] member such as valueUrl.
func isValueKey(key string) bool {
	if !strings.HasPrefix(key, "value") || len(key) == len("value") {
		return false
	}
	c := key[len("value")]
	return c >= 'A' && c <= 'Z'
}

func decodeValue(kind ValueKind, data []byte) (interface{}, error) {
	switch kind {
	case KindBoolean:
		var v bool
		err := json.Unmarshal(data, &v)
		return v, err
	case KindInteger:
		var v int
		err := json.Unmarshal(data, &v)
		return v, err
	case KindDecimal:
		var v float64
		err := json.Unmarshal(data, &v)
		return v, err
	case KindCoding:
		var v Coding
		err := json.Unmarshal(data, &v)
		return v, err
	case KindCodeableConcept:
		var v CodeableConcept
		err := json.Unmarshal(data, &v)
		return v, err
	case KindQuantity, KindDistance, KindDuration:
		var v Quantity
		err := json.Unmarshal(data, &v)
		return v, err
	case KindReference:
		var v Reference
		err := json.Unmarshal(data, &v)
		return v, err
	case KindExpression:
		var v Expression
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		var v string
		err := json.Unmarshal(data, &v)
		return v, err
	}
}

// FindExtension returns the first extension with the given url.
func FindExtension(exts []Extension, url string) (Extension, bool) {
	for _, e := range exts {
		if e.URL == url {
			return e, true
		}
	}
	return Extension{}, false
}

// SetExtension replaces the first extension with the same url, or appends it.
func SetExtension(exts []Extension, ext Extension) []Extension {
	for i, e := range exts {
		if e.URL == ext.URL {
			out := append([]Extension(nil), exts...)
			out[i] = ext
			return out
		}
	}
	return append(append([]Extension(nil), exts...), ext)
}

// RemoveExtension drops every extension with the given url.
func RemoveExtension(exts []Extension, url string) []Extension {
	var out []Extension
	for _, e := range exts {
		if e.URL != url {
			out = append(out, e)
		}
	}
	return out
}
