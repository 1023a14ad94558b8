package fhirmodels

// Common FHIR value set constants used across the editor.

// QuestionnaireItemType values per FHIR R4.
const (
	ItemTypeGroup      = "group"
	ItemTypeDisplay    = "display"
	ItemTypeQuestion   = "question"
	ItemTypeBoolean    = "boolean"
	ItemTypeDecimal    = "decimal"
	ItemTypeInteger    = "integer"
	ItemTypeDate       = "date"
	ItemTypeDateTime   = "dateTime"
	ItemTypeTime       = "time"
	ItemTypeString     = "string"
	ItemTypeText       = "text"
	ItemTypeURL        = "url"
	ItemTypeChoice     = "choice"
	ItemTypeOpenChoice = "open-choice"
	ItemTypeAttachment = "attachment"
	ItemTypeReference  = "reference"
	ItemTypeQuantity   = "quantity"
)

var itemTypes = map[string]bool{
	ItemTypeGroup: true, ItemTypeDisplay: true, ItemTypeQuestion: true,
	ItemTypeBoolean: true, ItemTypeDecimal: true, ItemTypeInteger: true,
	ItemTypeDate: true, ItemTypeDateTime: true, ItemTypeTime: true,
	ItemTypeString: true, ItemTypeText: true, ItemTypeURL: true,
	ItemTypeChoice: true, ItemTypeOpenChoice: true, ItemTypeAttachment: true,
	ItemTypeReference: true, ItemTypeQuantity: true,
}

// IsItemType reports whether t is a known questionnaire item type.
func IsItemType(t string) bool {
	return itemTypes[t]
}

// PublicationStatus codes.
const (
	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusRetired = "retired"
	StatusUnknown = "unknown"
)

// IsPublicationStatus reports whether s is a valid publication status.
func IsPublicationStatus(s string) bool {
	switch s {
	case StatusDraft, StatusActive, StatusRetired, StatusUnknown:
		return true
	}
	return false
}

// Languages the editor can author and translate into.
const (
	LanguageBokmal  = "nb-NO"
	LanguageNynorsk = "nn-NO"
	LanguageEnglish = "en-GB"
	LanguageSami    = "se-NO"
)

// SupportedLanguages lists every authoring language in display order.
var SupportedLanguages = []string{LanguageBokmal, LanguageNynorsk, LanguageEnglish, LanguageSami}

// IsSupportedLanguage reports whether lang is one of SupportedLanguages.
func IsSupportedLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}
