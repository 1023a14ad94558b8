package generator

import (
	"fmt"

	"github.com/goccy/go-json"
	"golang.org/x/exp/slices"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// Generate serializes the state. Without additional languages the result is
// the main Questionnaire; otherwise it is a searchset Bundle holding the main
// document followed by one translated document per language, sorted by
// language code. Empty properties are dropped from the output.
func Generate(s *questionnaire.State) ([]byte, error) {
	main := BuildMain(s)
	if len(s.Translations) == 0 {
		return fhir.Marshal(main)
	}

	entries := make([]json.RawMessage, 0, len(s.Translations)+1)
	raw, err := fhir.Marshal(main)
	if err != nil {
		return nil, fmt.Errorf("main document: %w", err)
	}
	entries = append(entries, raw)

	for _, lang := range Languages(s) {
		doc, err := BuildTranslated(s, lang)
		if err != nil {
			return nil, err
		}
		raw, err := fhir.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%s document: %w", lang, err)
		}
		entries = append(entries, raw)
	}
	return fhir.Marshal(fhir.NewSearchsetBundle(entries...))
}

// Languages returns the additional languages of s sorted by code.
func Languages(s *questionnaire.State) []string {
	langs := s.Languages()
	slices.Sort(langs)
	return langs
}

// BuildMain projects the state back into a nested Questionnaire without
// applying any translation.
func BuildMain(s *questionnaire.State) *questionnaire.Questionnaire {
	meta := s.Metadata
	meta.ResourceType = fhir.ResourceQuestionnaire
	if meta.Status == "" {
		meta.Status = fhirmodels.StatusDraft
	}
	return &questionnaire.Questionnaire{
		Metadata:  meta,
		Contained: referencedContained(s, s.Contained),
		Item:      buildTree(s.Order, s.Items, func(item questionnaire.Item) questionnaire.Item { return item }),
	}
}

// BuildTranslated projects the state with the overlay of lang applied.
func BuildTranslated(s *questionnaire.State, lang string) (*questionnaire.Questionnaire, error) {
	t, ok := s.Translations[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", questionnaire.ErrUnknownLanguage, lang)
	}
	doc := BuildMain(s)
	doc.Metadata = translateMetadata(doc.Metadata, t, lang)
	doc.Contained = referencedContained(s, translateContained(s.Contained, t))
	doc.Item = buildTree(s.Order, s.Items, func(item questionnaire.Item) questionnaire.Item {
		if questionnaire.IsSidebar(item) {
			return translateSidebarItem(item, t.SidebarItems[item.LinkID])
		}
		return translateItem(item, t.Items[item.LinkID])
	})
	return doc, nil
}

func buildTree(order []questionnaire.OrderItem, items map[string]questionnaire.Item, project func(questionnaire.Item) questionnaire.Item) []questionnaire.Item {
	out := make([]questionnaire.Item, 0, len(order))
	for _, node := range order {
		item, ok := items[node.LinkID]
		if !ok {
			continue
		}
		item = project(item)
		item.Item = buildTree(node.Items, items, project)
		out = append(out, item)
	}
	return out
}

// referencedContained keeps the value sets referenced through answerValueSet
// and the contained code systems those value sets include by "#id".
func referencedContained(s *questionnaire.State, contained []questionnaire.ContainedResource) []questionnaire.ContainedResource {
	refs := questionnaire.ReferencedValueSets(s)
	systems := map[string]bool{}
	for _, c := range contained {
		if c.ValueSet == nil || !slices.Contains(refs, c.ValueSet.ID) || c.ValueSet.Compose == nil {
			continue
		}
		for _, inc := range c.ValueSet.Compose.Include {
			if id, ok := questionnaire.LocalReference(inc.System); ok {
				systems[id] = true
			}
		}
	}

	out := make([]questionnaire.ContainedResource, 0, len(refs)+len(systems))
	for _, c := range contained {
		switch {
		case c.ValueSet != nil && slices.Contains(refs, c.ValueSet.ID):
			out = append(out, c)
		case c.CodeSystem != nil && systems[c.CodeSystem.ID]:
			out = append(out, c)
		}
	}
	return out
}
