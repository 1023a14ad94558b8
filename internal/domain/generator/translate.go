package generator

import (
	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/platform/fhir"
)

func translateMetadata(m questionnaire.Metadata, t questionnaire.Translation, lang string) questionnaire.Metadata {
	m.Language = lang
	for _, field := range questionnaire.TranslatableMetadata {
		if v := t.MetaData[field]; v != "" {
			m.SetField(field, v)
		}
	}
	m.Extension = translateSettings(m.Extension, t.Settings)
	return m
}

// translateSettings substitutes the overlay extension for every translatable
// setting in exts, keeps everything else as is, then appends the overlay
// settings the main document lacks.
func translateSettings(exts []fhir.Extension, settings map[string]fhir.Extension) []fhir.Extension {
	out := make([]fhir.Extension, 0, len(exts)+len(settings))
	present := map[string]bool{}
	for _, ext := range exts {
		present[ext.URL] = true
		if override, ok := settings[ext.URL]; ok && questionnaire.IsTranslatableSetting(ext.URL) {
			out = append(out, override)
			continue
		}
		out = append(out, ext)
	}
	for _, url := range questionnaire.TranslatableSettings {
		if override, ok := settings[url]; ok && !present[url] {
			out = append(out, override)
		}
	}
	return out
}

func translateSidebarItem(item questionnaire.Item, t questionnaire.SidebarItemTranslation) questionnaire.Item {
	if questionnaire.HasMarkdown(item) {
		questionnaire.SetMarkdown(&item, t.Markdown)
	}
	return item
}

func translateItem(item questionnaire.Item, t questionnaire.ItemTranslation) questionnaire.Item {
	item.Text = t.Text
	if questionnaire.HasMarkdown(item) {
		questionnaire.SetMarkdown(&item, t.Text)
	}
	questionnaire.ReplaceExtensionText(&item, questionnaire.ExtValidationText, t.ValidationText)
	questionnaire.ReplaceExtensionText(&item, questionnaire.ExtEntryFormat, t.EntryFormatText)
	questionnaire.ReplaceExtensionText(&item, questionnaire.ExtSublabel, t.SublabelText)
	questionnaire.ReplaceExtensionText(&item, questionnaire.ExtRepeatsText, t.RepeatsText)

	if _, ok := questionnaire.InitialString(item); ok {
		initial := append([]questionnaire.Initial(nil), item.Initial...)
		initial[0].ValueString = t.InitialValue
		item.Initial = initial
	}

	if len(item.AnswerOption) > 0 {
		options := make([]questionnaire.AnswerOption, len(item.AnswerOption))
		for i, opt := range item.AnswerOption {
			if opt.ValueCoding != nil {
				coding := *opt.ValueCoding
				coding.Display = t.AnswerOptions[coding.Code]
				opt.ValueCoding = &coding
			}
			options[i] = opt
		}
		item.AnswerOption = options
	}

	if len(item.Code) > 0 {
		codes := make([]fhir.Coding, len(item.Code))
		for i, c := range item.Code {
			if display, ok := t.CodeDisplay(c); ok {
				c.Display = display
			}
			codes[i] = c
		}
		item.Code = codes
	}

	item.Prefix = t.Prefix
	return item
}

// translateContained copies the contained resources with value set concept
// displays replaced by the overlay where one exists.
func translateContained(contained []questionnaire.ContainedResource, t questionnaire.Translation) []questionnaire.ContainedResource {
	out := make([]questionnaire.ContainedResource, len(contained))
	for i, c := range contained {
		ct, ok := t.Contained[c.ID()]
		if c.ValueSet == nil || c.ValueSet.Compose == nil || !ok {
			out[i] = c
			continue
		}
		vs := *c.ValueSet
		compose := questionnaire.ValueSetCompose{Include: make([]questionnaire.ValueSetInclude, len(vs.Compose.Include))}
		for j, inc := range vs.Compose.Include {
			concepts := make([]questionnaire.ValueSetConcept, len(inc.Concept))
			for k, concept := range inc.Concept {
				if display, ok := ct.Concepts[concept.Code]; ok {
					concept.Display = display
				}
				concepts[k] = concept
			}
			compose.Include[j] = questionnaire.ValueSetInclude{System: inc.System, Concept: concepts}
		}
		vs.Compose = &compose
		out[i] = questionnaire.ContainedResource{ValueSet: &vs}
	}
	return out
}
