package fhir

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrEmptyDocument       = errors.New("document is empty")
	ErrMissingResourceType = errors.New("resourceType is missing")
)

// Marshal serializes v as a FHIR JSON document with empty properties removed.
// Empty strings, nulls, empty arrays and empty objects are dropped bottom-up,
// so an object whose only member was an empty array disappears as well.
// Members keep the order in which v encodes them.
func Marshal(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	pruned, keep := Prune(generic)
	if !keep {
		return []byte("{}"), nil
	}
	return json.Marshal(pruned)
}

// MarshalIndent is Marshal with two-space indentation, used for downloads.
func MarshalIndent(v interface{}) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return nil, fmt.Errorf("indent document: %w", err)
	}
	return out.Bytes(), nil
}

// Prune removes empty members from a decoded JSON value. The second return
// value is false when the value itself is empty and should be dropped.
func Prune(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return t, t != ""
	case Object:
		out := make(Object, 0, len(t))
		for _, m := range t {
			if pruned, keep := Prune(m.Value); keep {
				out = append(out, Member{Key: m.Key, Value: pruned})
			}
		}
		return out, len(out) > 0
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			if pruned, keep := Prune(child); keep {
				out[k] = pruned
			}
		}
		return out, len(out) > 0
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, child := range t {
			if pruned, keep := Prune(child); keep {
				out = append(out, pruned)
			}
		}
		return out, len(out) > 0
	default:
		return t, true
	}
}

// ResourceTypeOf reads the resourceType discriminator of a JSON document.
func ResourceTypeOf(data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", ErrEmptyDocument
	}
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("decode resource: %w", err)
	}
	if head.ResourceType == "" {
		return "", ErrMissingResourceType
	}
	return head.ResourceType, nil
}

// Member is one name/value pair of an Object.
type Member struct {
	Key   string
	Value interface{}
}

// Object is a decoded JSON object that keeps its members in document order.
type Object []Member

func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", m.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// toGeneric re-decodes the encoding of v into Objects, slices and scalars.
func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	generic, err := decodeOrdered(dec)
	if err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return generic, nil
}

func decodeOrdered(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		obj := Object{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			val, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, Member{Key: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case json.Delim('['):
		arr := []interface{}{}
		for dec.More() {
			val, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	// Number tokens alias the decoder buffer.
	if n, ok := tok.(json.Number); ok {
		return json.Number(strings.Clone(string(n))), nil
	}
	return tok, nil
}
