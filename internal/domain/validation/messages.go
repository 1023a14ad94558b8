package validation

import (
	"strconv"
	"strings"

	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// MessageKey names a message template.
type MessageKey string

const (
	MsgExtractionContextMissing   MessageKey = "extractionContextMissing"
	MsgExtractionContextNotParent MessageKey = "extractionContextNotParent"
	MsgTypeOnResourceOrCode       MessageKey = "typeOnResourceOrCode"
	MsgTypeOnResource             MessageKey = "typeOnResource"
	MsgTypeOrCode                 MessageKey = "typeOrCode"
	MsgType                       MessageKey = "type"
	MsgDuplicateLinkID            MessageKey = "duplicateLinkId"
	MsgMissingItem                MessageKey = "missingItem"
	MsgUnorderedItem              MessageKey = "unorderedItem"
	MsgEmptyLinkID                MessageKey = "emptyLinkId"
	MsgChoiceWithoutOptions       MessageKey = "choiceWithoutOptions"
	MsgMissingValueSet            MessageKey = "missingValueSet"
	MsgInvalidName                MessageKey = "invalidName"
	MsgInvalidID                  MessageKey = "invalidId"
	MsgMissingTitle               MessageKey = "missingTitle"
	MsgUnsupportedLanguage        MessageKey = "unsupportedLanguage"
	MsgMissingItemTranslation     MessageKey = "missingItemTranslation"
	MsgMissingTitleTranslation    MessageKey = "missingTitleTranslation"
	MsgMissingOptionTranslation   MessageKey = "missingOptionTranslation"
)

// Catalog maps message keys to templates for one language.
type Catalog map[MessageKey]string

var catalogs = map[string]Catalog{
	fhirmodels.LanguageEnglish: {
		MsgExtractionContextMissing:   "There is no item with extension '{0}' ({1}) found in the questionnaire",
		MsgExtractionContextNotParent: "There is no item with this extraction-context found as parent to '{0}'",
		MsgTypeOnResourceOrCode:       "Expected one of [{0}] on '{1}' or a code.",
		MsgTypeOnResource:             "Expected one of [{0}] on '{1}'.",
		MsgTypeOrCode:                 "Expected one of [{0}] or a code.",
		MsgType:                       "Expected one of [{0}].",
		MsgDuplicateLinkID:            "The linkId '{0}' is used by more than one item",
		MsgMissingItem:                "The order refers to '{0}' but there is no such item",
		MsgUnorderedItem:              "The item '{0}' is not placed in the questionnaire",
		MsgEmptyLinkID:                "An item is missing a linkId",
		MsgChoiceWithoutOptions:       "The item '{0}' has no answer options",
		MsgMissingValueSet:            "The item '{0}' refers to the value set '{1}' which is not in the questionnaire",
		MsgInvalidName:                "The technical name '{0}' must start with an upper case letter and contain only letters, digits and underscore",
		MsgInvalidID:                  "The id '{0}' may contain letters, digits, '-' and '.' and be at most 64 characters",
		MsgMissingTitle:               "The questionnaire has no title",
		MsgUnsupportedLanguage:        "The language '{0}' is not supported",
		MsgMissingItemTranslation:     "The item '{0}' has no translation to {1}",
		MsgMissingTitleTranslation:    "The title has no translation to {0}",
		MsgMissingOptionTranslation:   "The answer option '{1}' of '{0}' has no translation to {2}",
	},
	fhirmodels.LanguageBokmal: {
		MsgExtractionContextMissing:   "Det finnes ikke noe element med utvidelsen '{0}' ({1}) i skjemaet",
		MsgExtractionContextNotParent: "Det finnes ikke noe element med denne extraction-context som forelder til '{0}'",
		MsgTypeOnResourceOrCode:       "Forventet en av [{0}] på '{1}' eller en kode.",
		MsgTypeOnResource:             "Forventet en av [{0}] på '{1}'.",
		MsgTypeOrCode:                 "Forventet en av [{0}] eller en kode.",
		MsgType:                       "Forventet en av [{0}].",
		MsgDuplicateLinkID:            "LinkId '{0}' brukes av flere elementer",
		MsgMissingItem:                "Rekkefølgen viser til '{0}', men elementet finnes ikke",
		MsgUnorderedItem:              "Elementet '{0}' er ikke plassert i skjemaet",
		MsgEmptyLinkID:                "Et element mangler linkId",
		MsgChoiceWithoutOptions:       "Elementet '{0}' har ingen svaralternativer",
		MsgMissingValueSet:            "Elementet '{0}' viser til verdisettet '{1}' som ikke finnes i skjemaet",
		MsgInvalidName:                "Teknisk navn '{0}' må starte med stor bokstav og kan bare inneholde bokstaver, tall og understrek",
		MsgInvalidID:                  "Id '{0}' kan inneholde bokstaver, tall, '-' og '.' og være maks 64 tegn",
		MsgMissingTitle:               "Skjemaet mangler tittel",
		MsgUnsupportedLanguage:        "Språket '{0}' støttes ikke",
		MsgMissingItemTranslation:     "Elementet '{0}' mangler oversettelse til {1}",
		MsgMissingTitleTranslation:    "Tittelen mangler oversettelse til {0}",
		MsgMissingOptionTranslation:   "Svaralternativet '{1}' i '{0}' mangler oversettelse til {2}",
	},
}

// DefaultLanguage is used for languages without a catalog.
const DefaultLanguage = fhirmodels.LanguageEnglish

// CatalogFor returns the catalog of lang, falling back to DefaultLanguage.
func CatalogFor(lang string) Catalog {
	if c, ok := catalogs[lang]; ok {
		return c
	}
	return catalogs[DefaultLanguage]
}

// Format renders key with positional arguments substituted for {0}, {1}, ...
// Keys missing from c fall back to the default catalog.
func (c Catalog) Format(key MessageKey, args ...string) string {
	tmpl, ok := c[key]
	if !ok {
		tmpl, ok = catalogs[DefaultLanguage][key]
		if !ok {
			tmpl = string(key)
		}
	}
	return Substitute(tmpl, args...)
}

// Substitute replaces {n} placeholders in tmpl with args[n]. Placeholders
// without a matching argument are left as they are.
func Substitute(tmpl string, args ...string) string {
	if len(args) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(args))
	for i, a := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", a)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
