package translation

import (
	"golang.org/x/exp/slices"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
)

// Row is one translatable value: the base-language value followed by one
// value per additional language, in Table.Languages order.
type Row struct {
	Key    string
	Values []string
}

// Table is the flattened translation sheet of a questionnaire.
type Table struct {
	MainLanguage string
	Languages    []string
	Rows         []Row
}

// Header returns the column names of the sheet.
func (t *Table) Header() []string {
	return append([]string{"key", t.MainLanguage}, t.Languages...)
}

// Export flattens every translatable value of s. languages selects and orders
// the additional-language columns; nil means all overlays sorted by code.
// Rows are only produced for values present in the main document.
func Export(s *questionnaire.State, languages []string) *Table {
	if languages == nil {
		languages = s.Languages()
		slices.Sort(languages)
	}
	e := &exporter{
		state: s,
		table: &Table{MainLanguage: s.Metadata.Language, Languages: languages},
	}
	e.metadata()
	e.valueSets()
	for _, id := range questionnaire.FlattenOrder(s.Order) {
		if item, ok := s.Items[id]; ok {
			e.item(item)
		}
	}
	return e.table
}

type exporter struct {
	state *questionnaire.State
	table *Table
}

// add appends a row when base is non-empty. translated returns the value of
// one overlay.
func (e *exporter) add(key Key, base string, translated func(questionnaire.Translation) string) {
	if base == "" {
		return
	}
	values := make([]string, 0, len(e.table.Languages)+1)
	values = append(values, base)
	for _, lang := range e.table.Languages {
		t, ok := e.state.Translations[lang]
		if !ok {
			values = append(values, "")
			continue
		}
		values = append(values, translated(t))
	}
	e.table.Rows = append(e.table.Rows, Row{Key: key.String(), Values: values})
}

func (e *exporter) metadata() {
	for _, field := range questionnaire.TranslatableMetadata {
		field := field
		base, _ := e.state.Metadata.Field(field)
		e.add(MetadataKey(field), base, func(t questionnaire.Translation) string {
			return t.MetaData[field]
		})
	}
}

// valueSets exports the concepts of the value sets items refer to.
func (e *exporter) valueSets() {
	for _, id := range questionnaire.ReferencedValueSets(e.state) {
		id := id
		vs, ok := e.state.ValueSet(id)
		if !ok {
			continue
		}
		for _, c := range vs.Concepts() {
			code := c.Code
			e.add(ValueSetKey(id, c.System, code), c.Display, func(t questionnaire.Translation) string {
				return t.Contained[id].Concepts[code]
			})
		}
	}
}

func (e *exporter) item(item questionnaire.Item) {
	id := item.LinkID
	overlay := func(get func(questionnaire.ItemTranslation) string) func(questionnaire.Translation) string {
		return func(t questionnaire.Translation) string {
			return get(t.Items[id])
		}
	}

	if questionnaire.IsSidebar(item) {
		md, _ := questionnaire.Markdown(item)
		e.add(ItemKey(FieldItemMarkdown, id), md, func(t questionnaire.Translation) string {
			return t.SidebarItems[id].Markdown
		})
		return
	}

	text := func(it questionnaire.ItemTranslation) string { return it.Text }
	if md, ok := questionnaire.Markdown(item); ok {
		e.add(ItemKey(FieldItemMarkdown, id), md, overlay(text))
	} else {
		e.add(ItemKey(FieldItemText, id), item.Text, overlay(text))
	}

	sublabel, _ := questionnaire.ExtensionText(item, questionnaire.ExtSublabel)
	e.add(ItemKey(FieldSublabel, id), sublabel, overlay(func(it questionnaire.ItemTranslation) string { return it.SublabelText }))
	repeats, _ := questionnaire.ExtensionText(item, questionnaire.ExtRepeatsText)
	e.add(ItemKey(FieldRepeatsText, id), repeats, overlay(func(it questionnaire.ItemTranslation) string { return it.RepeatsText }))
	validation, _ := questionnaire.ExtensionText(item, questionnaire.ExtValidationText)
	e.add(ItemKey(FieldValidationText, id), validation, overlay(func(it questionnaire.ItemTranslation) string { return it.ValidationText }))
	entryFormat, _ := questionnaire.ExtensionText(item, questionnaire.ExtEntryFormat)
	e.add(ItemKey(FieldEntryFormat, id), entryFormat, overlay(func(it questionnaire.ItemTranslation) string { return it.EntryFormatText }))
	initial, _ := questionnaire.InitialString(item)
	e.add(ItemKey(FieldInitialValue, id), initial, overlay(func(it questionnaire.ItemTranslation) string { return it.InitialValue }))
	e.add(ItemKey(FieldPrefix, id), item.Prefix, overlay(func(it questionnaire.ItemTranslation) string { return it.Prefix }))

	for _, opt := range item.AnswerOption {
		if opt.ValueCoding == nil {
			continue
		}
		code := opt.ValueCoding.Code
		e.add(AnswerOptionKey(id, code), opt.ValueCoding.Display, overlay(func(it questionnaire.ItemTranslation) string {
			return it.AnswerOptions[code]
		}))
	}

	for _, c := range item.Code {
		if !questionnaire.IsTranslatableCodeSystem(c.System) {
			continue
		}
		c := c
		e.add(CodeKey(id, c.System, c.Code), c.Display, overlay(func(it questionnaire.ItemTranslation) string {
			display, _ := it.CodeDisplay(c)
			return display
		}))
	}
}
