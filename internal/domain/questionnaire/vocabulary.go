package questionnaire

import "golang.org/x/exp/slices"

// Extension URLs understood by the editor. Behavior keys off exact equality.
const (
	ExtMarkdown              = "http://hl7.org/fhir/StructureDefinition/rendering-markdown"
	ExtItemControl           = "http://hl7.org/fhir/StructureDefinition/questionnaire-itemControl"
	ExtValidationText        = "http://ehelse.no/fhir/StructureDefinition/validationtext"
	ExtEntryFormat           = "http://hl7.org/fhir/StructureDefinition/entryFormat"
	ExtSublabel              = "http://helsenorge.no/fhir/StructureDefinition/sdf-sublabel"
	ExtRepeatsText           = "http://helsenorge.no/fhir/StructureDefinition/repeatstext"
	ExtMinLength             = "http://hl7.org/fhir/StructureDefinition/minLength"
	ExtRegex                 = "http://hl7.org/fhir/StructureDefinition/regex"
	ExtMinValue              = "http://hl7.org/fhir/StructureDefinition/minValue"
	ExtMaxValue              = "http://hl7.org/fhir/StructureDefinition/maxValue"
	ExtMaxDecimalPlaces      = "http://hl7.org/fhir/StructureDefinition/maxDecimalPlaces"
	ExtHidden                = "http://hl7.org/fhir/StructureDefinition/questionnaire-hidden"
	ExtOrdinalValue          = "http://hl7.org/fhir/StructureDefinition/ordinalValue"
	ExtCalculatedExpression  = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-calculatedExpression"
	ExtItemExtractionContext = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-itemExtractionContext"
	ExtSaveCapability        = "http://helsenorge.no/fhir/StructureDefinition/sdf-save-capability"
	ExtGuidanceAction        = "http://helsenorge.no/fhir/StructureDefinition/sdf-guidanceaction"
	ExtGuidanceParameter     = "http://helsenorge.no/fhir/StructureDefinition/sdf-guidanceparameter"
	ExtNavigator             = "http://helsenorge.no/fhir/StructureDefinition/sdf-navigator"
	ExtPrintVersion          = "http://helsenorge.no/fhir/StructureDefinition/sdf-questionnaire-print-version"
	ExtPresentationButtons   = "http://helsenorge.no/fhir/StructureDefinition/sdf-presentationbuttons"
	ExtEndpoint              = "http://helsenorge.no/fhir/StructureDefinition/sdf-endpoint"
	ExtAuthRequirement       = "http://helsenorge.no/fhir/StructureDefinition/sdf-authenticationrequirement"
	ExtOptionReference       = "http://helsenorge.no/fhir/StructureDefinition/sdf-optionReference"
)

// Item control codes carried by ExtItemControl.
const (
	ItemControlSystem    = "http://hl7.org/fhir/ValueSet/questionnaire-item-control"
	ItemControlSidebar   = "sidebar"
	ItemControlHelp      = "help"
	ItemControlInline    = "inline"
	ItemControlHighlight = "highlight"
	ItemControlCheckBox  = "check-box"
	ItemControlDropDown  = "drop-down"
	ItemControlRadio     = "radio-button"
)

// Security tag systems reconciled on every load.
const (
	AccessControlSystem         = "urn:oid:2.16.578.1.12.4.1.1.7618"
	AccessControlDefaultCode    = "3"
	AccessControlDefaultDisplay = "Helsehjelp (Full)"

	CanBePerformedBySystem         = "http://helsenorge.no/fhir/CodeSystem/CanBePerformedBy"
	CanBePerformedByDefaultCode    = "1"
	CanBePerformedByDefaultDisplay = "Yes"
)

// Code systems whose code displays are exported for translation.
const (
	ScoringFormulaSystem = "http://helsenorge.no/fhir/CodeSystem/ScoringFormulas"
	ChoiceScoreSystem    = "http://helsenorge.no/fhir/CodeSystem/sdf-choice-score"
)

// TranslatableCodeSystems lists the code systems of item.code whose displays are translated.
var TranslatableCodeSystems = []string{ScoringFormulaSystem, ChoiceScoreSystem}

// TranslatableSettings lists top-level extension URLs replaced wholesale in translated documents.
var TranslatableSettings = []string{ExtGuidanceAction, ExtGuidanceParameter, ExtPrintVersion}

// Metadata fields that carry translatable text.
const (
	MetaTitle       = "title"
	MetaDescription = "description"
	MetaPurpose     = "purpose"
	MetaCopyright   = "copyright"
	MetaPublisher   = "publisher"
)

// TranslatableMetadata lists the metadata fields in export order.
var TranslatableMetadata = []string{MetaTitle, MetaDescription, MetaPurpose, MetaCopyright, MetaPublisher}

// IsTranslatableCodeSystem reports whether item codes in system are exported for translation.
func IsTranslatableCodeSystem(system string) bool {
	return slices.Contains(TranslatableCodeSystems, system)
}

// IsTranslatableSetting reports whether a top-level extension is overridden per language.
func IsTranslatableSetting(url string) bool {
	return slices.Contains(TranslatableSettings, url)
}
