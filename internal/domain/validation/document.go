package validation

import (
	"regexp"

	"golang.org/x/exp/slices"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

var (
	namePattern = regexp.MustCompile(`^[A-Z]([A-Za-z0-9_]){0,254}$`)
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9\-\.]{1,64}$`)
)

// Validator runs every document rule and reports messages in one language.
type Validator struct {
	engine  *Engine
	catalog Catalog
}

// New creates a Validator reporting in lang.
func New(lang string) *Validator {
	return &Validator{engine: NewEngine(lang), catalog: CatalogFor(lang)}
}

// ValidateDocument runs every rule against s using messages in lang.
func ValidateDocument(s *questionnaire.State, lang string) []Error {
	return New(lang).ValidateDocument(s)
}

// ValidateDocument aggregates the structural, item, metadata and translation
// findings of s. An empty result means the document is valid.
func (v *Validator) ValidateDocument(s *questionnaire.State) []Error {
	var errs []Error
	errs = append(errs, v.validateStructure(s)...)

	p := newPass(s)
	for _, id := range distinctIDs(s.Order) {
		item, ok := s.Items[id]
		if !ok {
			continue
		}
		errs = append(errs, v.validateItem(s, item)...)
		errs = append(errs, v.engine.validateItem(item, p)...)
	}

	errs = append(errs, v.validateMetadata(s.Metadata)...)
	errs = append(errs, v.validateTranslations(s)...)
	return errs
}

func (v *Validator) validateStructure(s *questionnaire.State) []Error {
	var errs []Error
	for _, id := range questionnaire.GetDuplicateLinkIDs(s.Order) {
		errs = append(errs, v.newError(id, PropertyLinkID, v.catalog.Format(MsgDuplicateLinkID, id)))
	}
	c := questionnaire.CheckConsistency(s)
	for _, id := range c.MissingItems {
		errs = append(errs, v.newError(id, PropertyLinkID, v.catalog.Format(MsgMissingItem, id)))
	}
	unordered := append([]string(nil), c.UnorderedItems...)
	slices.Sort(unordered)
	for _, id := range unordered {
		errs = append(errs, v.newError(id, PropertyLinkID, v.catalog.Format(MsgUnorderedItem, id)))
	}
	return errs
}

func (v *Validator) validateItem(s *questionnaire.State, item questionnaire.Item) []Error {
	var errs []Error
	if item.LinkID == "" {
		errs = append(errs, v.newError("", PropertyLinkID, v.catalog.Format(MsgEmptyLinkID)))
	}
	switch item.Type {
	case fhirmodels.ItemTypeChoice, fhirmodels.ItemTypeOpenChoice:
		if len(item.AnswerOption) == 0 && item.AnswerValueSet == "" {
			e := v.newError(item.LinkID, PropertyAnswerOption, v.catalog.Format(MsgChoiceWithoutOptions, item.LinkID))
			if item.Type == fhirmodels.ItemTypeOpenChoice {
				e.ErrorLevel = LevelWarning
			}
			errs = append(errs, e)
		}
	}
	if ref, ok := questionnaire.LocalReference(item.AnswerValueSet); ok {
		if _, found := s.ValueSet(ref); !found {
			errs = append(errs, v.newError(item.LinkID, PropertyAnswerValueSet,
				v.catalog.Format(MsgMissingValueSet, item.LinkID, ref)))
		}
	}
	return errs
}

func (v *Validator) validateMetadata(m questionnaire.Metadata) []Error {
	var errs []Error
	if !namePattern.MatchString(m.Name) {
		errs = append(errs, v.newError("", PropertyName, v.catalog.Format(MsgInvalidName, m.Name)))
	}
	if m.ID != "" && !idPattern.MatchString(m.ID) {
		errs = append(errs, v.newError("", PropertyID, v.catalog.Format(MsgInvalidID, m.ID)))
	}
	if m.Title == "" {
		errs = append(errs, v.newError("", PropertyTitle, v.catalog.Format(MsgMissingTitle)))
	}
	if !fhirmodels.IsSupportedLanguage(m.Language) {
		errs = append(errs, v.newError("", PropertyLanguage, v.catalog.Format(MsgUnsupportedLanguage, m.Language)))
	}
	return errs
}

// distinctIDs flattens order keeping the first occurrence of each linkId.
// Duplicates are reported once by validateStructure.
func distinctIDs(order []questionnaire.OrderItem) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range questionnaire.FlattenOrder(order) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (v *Validator) validateTranslations(s *questionnaire.State) []Error {
	langs := s.Languages()
	slices.Sort(langs)
	order := distinctIDs(s.Order)

	var errs []Error
	for _, lang := range langs {
		t := s.Translations[lang]
		if s.Metadata.Title != "" && t.MetaData[questionnaire.MetaTitle] == "" {
			e := v.newError("", PropertyTitle, v.catalog.Format(MsgMissingTitleTranslation, lang))
			e.LanguageCode = lang
			errs = append(errs, e)
		}
		for _, id := range order {
			item, ok := s.Items[id]
			if !ok {
				continue
			}
			errs = append(errs, v.validateItemTranslation(item, t, lang)...)
		}
	}
	return errs
}

func (v *Validator) validateItemTranslation(item questionnaire.Item, t questionnaire.Translation, lang string) []Error {
	var errs []Error
	if questionnaire.IsSidebar(item) {
		if _, ok := questionnaire.Markdown(item); ok && t.SidebarItems[item.LinkID].Markdown == "" {
			e := v.newError(item.LinkID, PropertyText, v.catalog.Format(MsgMissingItemTranslation, item.LinkID, lang))
			e.LanguageCode = lang
			errs = append(errs, e)
		}
		return errs
	}

	it := t.Items[item.LinkID]
	if item.Text != "" && it.Text == "" {
		e := v.newError(item.LinkID, PropertyText, v.catalog.Format(MsgMissingItemTranslation, item.LinkID, lang))
		e.LanguageCode = lang
		errs = append(errs, e)
	}
	for _, opt := range item.AnswerOption {
		if opt.ValueCoding == nil || opt.ValueCoding.Display == "" {
			continue
		}
		if it.AnswerOptions[opt.Code()] == "" {
			e := v.newError(item.LinkID, PropertyAnswerOption,
				v.catalog.Format(MsgMissingOptionTranslation, item.LinkID, opt.Code(), lang))
			e.LanguageCode = lang
			errs = append(errs, e)
		}
	}
	return errs
}

func (v *Validator) newError(linkID, property, msg string) Error {
	return Error{
		LinkID:        linkID,
		ErrorProperty: property,
		ErrorLevel:    LevelError,
		Message:       msg,
	}
}
