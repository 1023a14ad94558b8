package translation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
)

var ErrInvalidKey = errors.New("invalid translation key")

// Field identifies which translatable property a key addresses.
type Field int

const (
	FieldMetadata Field = iota
	FieldValueSetConcept
	FieldItemText
	FieldItemMarkdown
	FieldSublabel
	FieldRepeatsText
	FieldValidationText
	FieldEntryFormat
	FieldInitialValue
	FieldPrefix
	FieldAnswerOption
	FieldCode
)

// itemFields are the per-item fields whose key is fully determined by the linkId.
var itemFields = []Field{
	FieldItemText, FieldItemMarkdown, FieldSublabel, FieldRepeatsText,
	FieldValidationText, FieldEntryFormat, FieldInitialValue, FieldPrefix,
}

// Key is one parsed row key.
type Key struct {
	Field      Field
	Name       string // metadata field name
	LinkID     string
	ValueSetID string
	System     string
	Code       string
}

func MetadataKey(field string) Key {
	return Key{Field: FieldMetadata, Name: field}
}

func ValueSetKey(id, system, code string) Key {
	return Key{Field: FieldValueSetConcept, ValueSetID: id, System: system, Code: code}
}

func ItemKey(field Field, linkID string) Key {
	return Key{Field: field, LinkID: linkID}
}

func AnswerOptionKey(linkID, code string) Key {
	return Key{Field: FieldAnswerOption, LinkID: linkID, Code: code}
}

func CodeKey(linkID, system, code string) Key {
	return Key{Field: FieldCode, LinkID: linkID, System: system, Code: code}
}

func (k Key) String() string {
	item := "item[" + k.LinkID + "]"
	switch k.Field {
	case FieldMetadata:
		return "metadata." + k.Name
	case FieldValueSetConcept:
		return fmt.Sprintf("valueSet[%s][%s][%s].display", k.ValueSetID, k.System, k.Code)
	case FieldItemText:
		return item + ".text"
	case FieldItemMarkdown:
		return item + "._text.extension[" + questionnaire.ExtMarkdown + "].valueMarkdown"
	case FieldSublabel:
		return item + ".extension[" + questionnaire.ExtSublabel + "].valueMarkdown"
	case FieldRepeatsText:
		return item + ".extension[" + questionnaire.ExtRepeatsText + "].valueString"
	case FieldValidationText:
		return item + ".extension[" + questionnaire.ExtValidationText + "].valueString"
	case FieldEntryFormat:
		return item + ".extension[" + questionnaire.ExtEntryFormat + "].valueString"
	case FieldInitialValue:
		return item + ".initial[0].valueString"
	case FieldPrefix:
		return item + ".prefix"
	case FieldAnswerOption:
		return item + ".answerOption[" + k.Code + "].valueCoding.display"
	case FieldCode:
		return item + ".code[" + k.System + "][" + k.Code + "].display"
	}
	return ""
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	switch {
	case strings.HasPrefix(s, "metadata."):
		name := strings.TrimPrefix(s, "metadata.")
		if name == "" {
			break
		}
		return MetadataKey(name), nil

	case strings.HasPrefix(s, "valueSet["):
		parts, rest, ok := brackets(strings.TrimPrefix(s, "valueSet"), 3)
		if !ok || rest != ".display" {
			break
		}
		return ValueSetKey(parts[0], parts[1], parts[2]), nil

	case strings.HasPrefix(s, "item["):
		parts, rest, ok := brackets(strings.TrimPrefix(s, "item"), 1)
		if !ok {
			break
		}
		if k, ok := parseItemKey(parts[0], rest, s); ok {
			return k, nil
		}
	}
	return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
}

func parseItemKey(linkID, rest, full string) (Key, bool) {
	for _, f := range itemFields {
		if k := ItemKey(f, linkID); k.String() == full {
			return k, true
		}
	}
	switch {
	case strings.HasPrefix(rest, ".answerOption["):
		parts, tail, ok := brackets(strings.TrimPrefix(rest, ".answerOption"), 1)
		if ok && tail == ".valueCoding.display" {
			return AnswerOptionKey(linkID, parts[0]), true
		}
	case strings.HasPrefix(rest, ".code["):
		parts, tail, ok := brackets(strings.TrimPrefix(rest, ".code"), 2)
		if ok && tail == ".display" {
			return CodeKey(linkID, parts[0], parts[1]), true
		}
	}
	return Key{}, false
}

// brackets reads n consecutive "[...]" groups from the start of s and returns
// their contents and the remainder.
func brackets(s string, n int) ([]string, string, bool) {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if !strings.HasPrefix(s, "[") {
			return nil, "", false
		}
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, "", false
		}
		parts = append(parts, s[1:end])
		s = s[end+1:]
	}
	return parts, s, true
}
