package validation

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// Family is an external resource an item can be extracted into.
type Family string

const (
	FamilyCondition      Family = "Condition"
	FamilyObservation    Family = "Observation"
	FamilyServiceRequest Family = "ServiceRequest"
)

// ContextURI is the itemExtractionContext valueUri that marks an ancestor
// group as the extraction context of the family.
func (f Family) ContextURI() string {
	return "http://hl7.org/fhir/StructureDefinition/" + string(f)
}

// Anchor is a definition fragment that ties an item to a family.
type Anchor string

const (
	AnchorConditionEvidence     Anchor = "Condition#Evidence"
	AnchorConditionRecordedDate Anchor = "Condition#RecordedDate"
	AnchorConditionCode         Anchor = "Condition#Code"

	AnchorObservationComponent         Anchor = "Observation#component"
	AnchorObservationDerivedFrom       Anchor = "Observation#derivedFrom"
	AnchorObservationEffectiveDateTime Anchor = "Observation#effectiveDateTime"
	AnchorObservationCode              Anchor = "Observation#code"
	AnchorObservationCategory          Anchor = "Observation#Category"

	AnchorServiceRequestReasonReference Anchor = "ServiceRequest#reasonReference"
	AnchorServiceRequestSupportingInfo  Anchor = "ServiceRequest#supportingInfo"
)

// FamilyAnchors lists the anchors of every family.
var FamilyAnchors = map[Family][]Anchor{
	FamilyCondition: {
		AnchorConditionEvidence, AnchorConditionRecordedDate, AnchorConditionCode,
	},
	FamilyObservation: {
		AnchorObservationComponent, AnchorObservationDerivedFrom, AnchorObservationEffectiveDateTime,
		AnchorObservationCode, AnchorObservationCategory,
	},
	FamilyServiceRequest: {
		AnchorServiceRequestReasonReference, AnchorServiceRequestSupportingInfo,
	},
}

// families is the evaluation order of FamilyAnchors.
var families = []Family{FamilyCondition, FamilyObservation, FamilyServiceRequest}

// Fallback selects how item codes can stand in for a wrong item type.
type Fallback struct {
	AnyCode bool   // any code satisfies the rule
	System  string // a code of this system satisfies the rule
}

func (f Fallback) configured() bool {
	return f.AnyCode || f.System != ""
}

func (f Fallback) satisfiedBy(item questionnaire.Item) bool {
	if f.AnyCode {
		return len(item.Code) > 0
	}
	if f.System == "" {
		return false
	}
	for _, c := range item.Code {
		if c.System == f.System {
			return true
		}
	}
	return false
}

// AnyCode accepts any code as a substitute for the item type.
var AnyCode = Fallback{AnyCode: true}

// CodeOf accepts codes of system as a substitute for the item type.
func CodeOf(system string) Fallback {
	return Fallback{System: system}
}

// Rule constrains the type of items whose definition matches Anchor, or
// Anchor.Resource when Resource is set.
type Rule struct {
	Anchor   Anchor
	Resource string
	Types    []string
	Fallback Fallback
}

// Matches reports whether definition is governed by the rule.
func (r Rule) Matches(definition string) bool {
	if r.Resource == "" {
		return strings.HasSuffix(definition, string(r.Anchor))
	}
	return strings.Contains(definition, string(r.Anchor)+"."+r.Resource)
}

// ObservationCategorySystem is the code system of Observation.category.
const ObservationCategorySystem = "http://terminology.hl7.org/CodeSystem/observation-category"

// ResourceTypesSystem is the code system ServiceRequest reference types and
// identifiers fall back to.
const ResourceTypesSystem = "http://hl7.org/fhir/resource-types"

var (
	choiceTypes    = []string{fhirmodels.ItemTypeChoice, fhirmodels.ItemTypeOpenChoice}
	textTypes      = []string{fhirmodels.ItemTypeString, fhirmodels.ItemTypeText}
	dateTypes      = []string{fhirmodels.ItemTypeDate, fhirmodels.ItemTypeDateTime}
	referenceTypes = []string{fhirmodels.ItemTypeString, fhirmodels.ItemTypeText, fhirmodels.ItemTypeURL, fhirmodels.ItemTypeReference}
	valueTypes     = []string{
		fhirmodels.ItemTypeBoolean, fhirmodels.ItemTypeDecimal, fhirmodels.ItemTypeInteger,
		fhirmodels.ItemTypeDate, fhirmodels.ItemTypeDateTime, fhirmodels.ItemTypeTime,
		fhirmodels.ItemTypeString, fhirmodels.ItemTypeText, fhirmodels.ItemTypeQuantity,
		fhirmodels.ItemTypeChoice, fhirmodels.ItemTypeOpenChoice,
	}
)

// referenceRules builds the rules shared by ServiceRequest reference fields.
// Type and identifier fall back to ResourceTypesSystem; display and reference
// have no fallback.
func referenceRules(anchor Anchor) []Rule {
	return []Rule{
		{Anchor: anchor, Resource: "type", Types: choiceTypes, Fallback: CodeOf(ResourceTypesSystem)},
		{Anchor: anchor, Resource: "identifier", Types: []string{fhirmodels.ItemTypeString, fhirmodels.ItemTypeText, fhirmodels.ItemTypeChoice}, Fallback: CodeOf(ResourceTypesSystem)},
		{Anchor: anchor, Resource: "display", Types: textTypes},
		{Anchor: anchor, Resource: "reference", Types: referenceTypes},
	}
}

// Rules is the type rule table per family.
var Rules = map[Family][]Rule{
	FamilyCondition: {
		{Anchor: AnchorConditionEvidence, Resource: "code", Types: choiceTypes, Fallback: AnyCode},
		{Anchor: AnchorConditionEvidence, Resource: "detail.type", Types: []string{fhirmodels.ItemTypeString, fhirmodels.ItemTypeText, fhirmodels.ItemTypeURL}},
		{Anchor: AnchorConditionEvidence, Resource: "detail.display", Types: textTypes},
		{Anchor: AnchorConditionEvidence, Resource: "detail.reference", Types: referenceTypes},
		{Anchor: AnchorConditionRecordedDate, Types: dateTypes},
		{Anchor: AnchorConditionCode, Types: choiceTypes, Fallback: AnyCode},
	},
	FamilyObservation: {
		{Anchor: AnchorObservationComponent, Resource: "value[x]", Types: valueTypes, Fallback: AnyCode},
		{Anchor: AnchorObservationComponent, Resource: "code", Types: []string{fhirmodels.ItemTypeChoice}, Fallback: AnyCode},
		{Anchor: AnchorObservationDerivedFrom, Types: []string{fhirmodels.ItemTypeReference, fhirmodels.ItemTypeString, fhirmodels.ItemTypeURL}},
		{Anchor: AnchorObservationEffectiveDateTime, Types: dateTypes},
		{Anchor: AnchorObservationCode, Types: []string{fhirmodels.ItemTypeChoice}, Fallback: AnyCode},
		{Anchor: AnchorObservationCategory, Types: []string{fhirmodels.ItemTypeChoice}, Fallback: CodeOf(ObservationCategorySystem)},
	},
	FamilyServiceRequest: append(
		referenceRules(AnchorServiceRequestReasonReference),
		referenceRules(AnchorServiceRequestSupportingInfo)...,
	),
}

// Engine checks items against the extraction-context rules. The zero value
// is not usable; build one with NewEngine.
type Engine struct {
	catalog Catalog
}

// NewEngine returns an engine that reports messages in lang.
func NewEngine(lang string) *Engine {
	return &Engine{catalog: CatalogFor(lang)}
}

// pass holds the tree indexes shared by every item of one validation run.
type pass struct {
	items    map[string]questionnaire.Item
	parents  map[string]string
	contexts map[Family]map[string]bool
}

func newPass(s *questionnaire.State) *pass {
	p := &pass{
		items:    s.Items,
		parents:  questionnaire.ParentIndex(s.Order),
		contexts: map[Family]map[string]bool{},
	}
	for _, id := range questionnaire.FlattenOrder(s.Order) {
		item, ok := s.Items[id]
		if !ok {
			continue
		}
		uri, ok := questionnaire.ExtractionContext(item)
		if !ok {
			continue
		}
		for _, f := range families {
			if uri == f.ContextURI() {
				if p.contexts[f] == nil {
					p.contexts[f] = map[string]bool{}
				}
				p.contexts[f][id] = true
			}
		}
	}
	return p
}

// hasContextAncestor walks from the parent of linkID to the root.
func (p *pass) hasContextAncestor(f Family, linkID string) bool {
	seen := map[string]bool{linkID: true}
	id, ok := p.parents[linkID]
	for ok && id != "" && !seen[id] {
		if p.contexts[f][id] {
			return true
		}
		seen[id] = true
		id, ok = p.parents[id]
	}
	return false
}

// ValidateItem checks one item of s.
func (e *Engine) ValidateItem(item questionnaire.Item, s *questionnaire.State) []Error {
	return e.validateItem(item, newPass(s))
}

func (e *Engine) validateItem(item questionnaire.Item, p *pass) []Error {
	if item.Definition == "" {
		return nil
	}
	var errs []Error
	for _, f := range families {
		if !definesFamily(item.Definition, f) {
			continue
		}
		errs = append(errs, e.checkAncestor(f, item, p)...)
		errs = append(errs, e.checkTypes(f, item)...)
	}
	return errs
}

func definesFamily(definition string, f Family) bool {
	for _, a := range FamilyAnchors[f] {
		if strings.Contains(definition, string(a)) {
			return true
		}
	}
	return false
}

func (e *Engine) checkAncestor(f Family, item questionnaire.Item, p *pass) []Error {
	if len(p.contexts[f]) == 0 {
		return []Error{e.newError(item.LinkID, PropertySystem,
			e.catalog.Format(MsgExtractionContextMissing, questionnaire.ExtItemExtractionContext, f.ContextURI()))}
	}
	if !p.hasContextAncestor(f, item.LinkID) {
		return []Error{e.newError(item.LinkID, PropertySystem,
			e.catalog.Format(MsgExtractionContextNotParent, item.LinkID))}
	}
	return nil
}

func (e *Engine) checkTypes(f Family, item questionnaire.Item) []Error {
	var errs []Error
	for _, r := range Rules[f] {
		if !r.Matches(item.Definition) {
			continue
		}
		if slices.Contains(r.Types, item.Type) || r.Fallback.satisfiedBy(item) {
			continue
		}
		errs = append(errs, e.newError(item.LinkID, PropertyType, e.typeMessage(r)))
	}
	return errs
}

func (e *Engine) typeMessage(r Rule) string {
	types := make([]string, 0, len(r.Types))
	for _, t := range r.Types {
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	list := strings.Join(types, ", ")
	switch {
	case r.Resource != "" && r.Fallback.configured():
		return e.catalog.Format(MsgTypeOnResourceOrCode, list, r.Resource)
	case r.Resource != "":
		return e.catalog.Format(MsgTypeOnResource, list, r.Resource)
	case r.Fallback.configured():
		return e.catalog.Format(MsgTypeOrCode, list)
	default:
		return e.catalog.Format(MsgType, list)
	}
}

func (e *Engine) newError(linkID, property, msg string) Error {
	return Error{
		LinkID:        linkID,
		ErrorProperty: property,
		ErrorLevel:    LevelError,
		Message:       msg,
	}
}
