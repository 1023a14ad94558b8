package mapper

import (
	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/platform/fhir"
)

// ExtractTranslation diffs a translated document against the main state and
// returns the overlay. Only linkIds, value sets and fields present in s are
// captured; anything the translated document adds is ignored.
func ExtractTranslation(s *questionnaire.State, translated *questionnaire.Questionnaire) questionnaire.Translation {
	t := questionnaire.NewTranslation()

	byLinkID := map[string]questionnaire.Item{}
	indexItems(translated.Item, byLinkID)
	for _, id := range questionnaire.FlattenOrder(s.Order) {
		main, ok := s.Items[id]
		if !ok {
			continue
		}
		tItem, ok := byLinkID[id]
		if !ok {
			continue
		}
		if questionnaire.IsSidebar(main) {
			md, _ := questionnaire.Markdown(tItem)
			t.SidebarItems[id] = questionnaire.SidebarItemTranslation{Markdown: md}
			continue
		}
		t.Items[id] = itemTranslation(tItem)
	}

	for _, field := range questionnaire.TranslatableMetadata {
		if v, _ := translated.Metadata.Field(field); v != "" {
			t.MetaData[field] = v
		}
	}

	for _, url := range questionnaire.TranslatableSettings {
		if ext, ok := fhir.FindExtension(translated.Extension, url); ok {
			t.Settings[url] = ext
		}
	}

	for _, c := range s.Contained {
		if c.ValueSet == nil {
			continue
		}
		tvs := findValueSet(translated.Contained, c.ValueSet.ID)
		if tvs == nil {
			continue
		}
		concepts := map[string]string{}
		translatedConcepts := tvs.Concepts()
		for _, concept := range c.ValueSet.Concepts() {
			for _, tc := range translatedConcepts {
				if tc.System == concept.System && tc.Code == concept.Code {
					concepts[concept.Code] = tc.Display
					break
				}
			}
		}
		if len(concepts) > 0 {
			t.Contained[c.ValueSet.ID] = questionnaire.ContainedTranslation{Concepts: concepts}
		}
	}
	return t
}

func itemTranslation(item questionnaire.Item) questionnaire.ItemTranslation {
	text := item.Text
	if md, ok := questionnaire.Markdown(item); ok {
		text = md
	}
	entryFormat, _ := questionnaire.ExtensionText(item, questionnaire.ExtEntryFormat)
	validation, _ := questionnaire.ExtensionText(item, questionnaire.ExtValidationText)
	sublabel, _ := questionnaire.ExtensionText(item, questionnaire.ExtSublabel)
	repeats, _ := questionnaire.ExtensionText(item, questionnaire.ExtRepeatsText)
	initial, _ := questionnaire.InitialString(item)

	it := questionnaire.ItemTranslation{
		Text:            text,
		EntryFormatText: entryFormat,
		ValidationText:  validation,
		SublabelText:    sublabel,
		RepeatsText:     repeats,
		InitialValue:    initial,
		Prefix:          item.Prefix,
		Codes:           append([]fhir.Coding(nil), item.Code...),
	}
	for _, opt := range item.AnswerOption {
		if opt.ValueCoding == nil {
			continue
		}
		if it.AnswerOptions == nil {
			it.AnswerOptions = map[string]string{}
		}
		it.AnswerOptions[opt.ValueCoding.Code] = opt.ValueCoding.Display
	}
	return it
}

func indexItems(items []questionnaire.Item, into map[string]questionnaire.Item) {
	for _, item := range items {
		if _, seen := into[item.LinkID]; !seen {
			into[item.LinkID] = item
		}
		indexItems(item.Item, into)
	}
}

func findValueSet(contained []questionnaire.ContainedResource, id string) *questionnaire.ValueSet {
	for _, c := range contained {
		if c.ValueSet != nil && c.ValueSet.ID == id {
			return c.ValueSet
		}
	}
	return nil
}
