package mapper

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

var (
	ErrUnsupportedResource = errors.New("unsupported resource type")
	ErrEmptyBundle         = errors.New("bundle has no entries")
)

// Mapper turns wire-format documents into normalized editor states.
type Mapper struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Mapper {
	return &Mapper{log: log.With().Str("component", "mapper").Logger()}
}

// Map reads a Questionnaire, or a Bundle whose first entry is the main
// Questionnaire and whose other entries are translations of it. Translations
// that cannot be used are logged and skipped.
func (m *Mapper) Map(data []byte) (*questionnaire.State, error) {
	rt, err := fhir.ResourceTypeOf(data)
	if err != nil {
		return nil, err
	}
	switch rt {
	case fhir.ResourceQuestionnaire:
		q, err := questionnaire.DecodeQuestionnaire(data)
		if err != nil {
			return nil, err
		}
		s := FromQuestionnaire(q)
		questionnaire.ApplyFixups(s)
		return s, nil
	case fhir.ResourceBundle:
		return m.mapBundle(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedResource, rt)
}

func (m *Mapper) mapBundle(data []byte) (*questionnaire.State, error) {
	bundle, err := fhir.DecodeBundle(data)
	if err != nil {
		return nil, err
	}
	if len(bundle.Entry) == 0 {
		return nil, ErrEmptyBundle
	}
	main, err := questionnaire.DecodeQuestionnaire(bundle.Entry[0].Resource)
	if err != nil {
		return nil, fmt.Errorf("main document: %w", err)
	}
	s := FromQuestionnaire(main)

	for i, entry := range bundle.Entry[1:] {
		index := i + 1
		translated, err := questionnaire.DecodeQuestionnaire(entry.Resource)
		if err != nil {
			m.log.Error().Err(err).Int("index", index).Msg("skipping malformed translation")
			continue
		}
		lang := translated.Language
		if err := checkTranslationLanguage(s, lang); err != nil {
			m.log.Warn().Str("lang", lang).Int("index", index).Err(err).Msg("skipping translation")
			continue
		}
		s.Translations[lang] = ExtractTranslation(s, translated)
	}

	questionnaire.ApplyFixups(s)
	return s, nil
}

// MapTranslation reads a translated Questionnaire for lang and returns its
// overlay on s. The document language must match lang when it is set.
func (m *Mapper) MapTranslation(s *questionnaire.State, lang string, data []byte) (questionnaire.Translation, error) {
	translated, err := questionnaire.DecodeQuestionnaire(data)
	if err != nil {
		return questionnaire.Translation{}, err
	}
	if translated.Language != "" && translated.Language != lang {
		return questionnaire.Translation{}, fmt.Errorf("document language %s does not match %s", translated.Language, lang)
	}
	if err := checkTranslationLanguage(s, lang); err != nil {
		return questionnaire.Translation{}, err
	}
	m.log.Debug().Str("lang", lang).Str("questionnaire", s.Metadata.ID).Msg("mapped translation")
	return ExtractTranslation(s, translated), nil
}

func checkTranslationLanguage(s *questionnaire.State, lang string) error {
	switch {
	case lang == "":
		return fmt.Errorf("%w: language is missing", questionnaire.ErrUnsupportedLanguage)
	case !fhirmodels.IsSupportedLanguage(lang):
		return fmt.Errorf("%w: %s", questionnaire.ErrUnsupportedLanguage, lang)
	case lang == s.Metadata.Language:
		return fmt.Errorf("%w: %s", questionnaire.ErrMainLanguage, lang)
	}
	if _, dup := s.Translations[lang]; dup {
		return fmt.Errorf("language %s appears twice", lang)
	}
	return nil
}

// FromQuestionnaire normalizes a wire Questionnaire without translations or fixups.
func FromQuestionnaire(q *questionnaire.Questionnaire) *questionnaire.State {
	items := map[string]questionnaire.Item{}
	order := questionnaire.SplitItems(q.Item, items)
	meta := q.Metadata
	meta.ResourceType = fhir.ResourceQuestionnaire
	return &questionnaire.State{
		Metadata:     meta,
		Items:        items,
		Order:        order,
		Contained:    q.Contained,
		Translations: map[string]questionnaire.Translation{},
	}
}
