package translation

import (
	"fmt"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// ImportResult holds the overlays rebuilt from a sheet.
type ImportResult struct {
	Translations map[string]questionnaire.Translation
	Skipped      []string // keys that no longer match the document
}

// Import applies the language columns of a sheet on top of the existing
// overlays of s. Empty cells clear the value. Rows addressing items or value
// sets that no longer exist are reported in Skipped.
func Import(s *questionnaire.State, t *Table) (*ImportResult, error) {
	if t.MainLanguage != s.Metadata.Language {
		return nil, fmt.Errorf("%w: sheet main language %s, questionnaire %s",
			questionnaire.ErrMainLanguage, t.MainLanguage, s.Metadata.Language)
	}
	res := &ImportResult{Translations: map[string]questionnaire.Translation{}}
	for _, lang := range t.Languages {
		if !fhirmodels.IsSupportedLanguage(lang) {
			return nil, fmt.Errorf("%w: %s", questionnaire.ErrUnsupportedLanguage, lang)
		}
		if lang == s.Metadata.Language {
			return nil, fmt.Errorf("%w: %s", questionnaire.ErrMainLanguage, lang)
		}
		if existing, ok := s.Translations[lang]; ok {
			res.Translations[lang] = existing.Clone()
		} else {
			res.Translations[lang] = questionnaire.NewTranslation()
		}
	}

	for _, row := range t.Rows {
		key, err := ParseKey(row.Key)
		if err != nil {
			return nil, err
		}
		if len(row.Values) != len(t.Languages)+1 {
			return nil, fmt.Errorf("%w: row %s has %d values, want %d",
				ErrInvalidSheet, row.Key, len(row.Values), len(t.Languages)+1)
		}
		applied := true
		for i, lang := range t.Languages {
			if !apply(s, res.Translations[lang], key, row.Values[i+1]) {
				applied = false
			}
		}
		if !applied {
			res.Skipped = append(res.Skipped, row.Key)
		}
	}
	return res, nil
}

// apply writes one cell into the overlay t and reports whether the key
// addresses something that exists in s.
func apply(s *questionnaire.State, t questionnaire.Translation, key Key, value string) bool {
	switch key.Field {
	case FieldMetadata:
		if _, ok := s.Metadata.Field(key.Name); !ok {
			return false
		}
		setOrDelete(t.MetaData, key.Name, value)
		return true

	case FieldValueSetConcept:
		if _, ok := s.ValueSet(key.ValueSetID); !ok {
			return false
		}
		ct := t.Contained[key.ValueSetID]
		if ct.Concepts == nil {
			ct.Concepts = map[string]string{}
		}
		setOrDelete(ct.Concepts, key.Code, value)
		t.Contained[key.ValueSetID] = ct
		return true
	}

	item, ok := s.Items[key.LinkID]
	if !ok {
		return false
	}
	if key.Field == FieldItemMarkdown && questionnaire.IsSidebar(item) {
		t.SidebarItems[key.LinkID] = questionnaire.SidebarItemTranslation{Markdown: value}
		return true
	}

	it := t.Items[key.LinkID]
	switch key.Field {
	case FieldItemText, FieldItemMarkdown:
		it.Text = value
	case FieldSublabel:
		it.SublabelText = value
	case FieldRepeatsText:
		it.RepeatsText = value
	case FieldValidationText:
		it.ValidationText = value
	case FieldEntryFormat:
		it.EntryFormatText = value
	case FieldInitialValue:
		it.InitialValue = value
	case FieldPrefix:
		it.Prefix = value
	case FieldAnswerOption:
		opts := make(map[string]string, len(it.AnswerOptions)+1)
		for k, v := range it.AnswerOptions {
			opts[k] = v
		}
		setOrDelete(opts, key.Code, value)
		it.AnswerOptions = opts
	case FieldCode:
		it.Codes = setCodeDisplay(it.Codes, fhir.Coding{System: key.System, Code: key.Code}, value)
	default:
		return false
	}
	t.Items[key.LinkID] = it
	return true
}

func setOrDelete(m map[string]string, key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}

func setCodeDisplay(codes []fhir.Coding, target fhir.Coding, display string) []fhir.Coding {
	out := make([]fhir.Coding, 0, len(codes)+1)
	found := false
	for _, c := range codes {
		if c.SameCode(target) {
			found = true
			if display == "" {
				continue
			}
			c.Display = display
		}
		out = append(out, c)
	}
	if !found && display != "" {
		target.Display = display
		out = append(out, target)
	}
	return out
}
