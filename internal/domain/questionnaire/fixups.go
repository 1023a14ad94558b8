package questionnaire

import (
	"github.com/ehr/qeditor/internal/platform/fhir"
)

const predefinedSystem = "urn:oid:2.16.578.1.12.4.1.1101"

// PredefinedValueSets returns the baseline answer sets every questionnaire carries.
func PredefinedValueSets() []ValueSet {
	yes := ValueSetConcept{Code: "1", Display: "Ja"}
	no := ValueSetConcept{Code: "2", Display: "Nei"}
	unknown := ValueSetConcept{Code: "3", Display: "Vet ikke"}
	return []ValueSet{
		predefined("pre-1", "Ja / Nei", yes, no),
		predefined("pre-2", "Ja / Nei / Vet ikke", yes, no, unknown),
	}
}

func predefined(id, title string, concepts ...ValueSetConcept) ValueSet {
	return ValueSet{
		ResourceType: fhir.ResourceValueSet,
		ID:           id,
		Name:         id,
		Title:        title,
		Status:       "active",
		Publisher:    "NHN",
		Compose: &ValueSetCompose{
			Include: []ValueSetInclude{{System: predefinedSystem, Concept: concepts}},
		},
	}
}

// EnsurePredefinedValueSets appends the predefined value sets whose ids are missing.
func EnsurePredefinedValueSets(contained []ContainedResource) []ContainedResource {
	present := map[string]bool{}
	for _, c := range contained {
		present[c.ID()] = true
	}
	out := contained
	for _, vs := range PredefinedValueSets() {
		if present[vs.ID] {
			continue
		}
		vs := vs
		out = append(out, ContainedResource{ValueSet: &vs})
	}
	return out
}

// ApplySecurityPolicies makes sure the document carries an access-control
// tag and exactly one "can be performed by" tag.
func ApplySecurityPolicies(m *Metadata) {
	if m.Meta == nil {
		m.Meta = &fhir.Meta{}
	}
	ensureAccessControl(m.Meta)
	reconcileCanBePerformedBy(m.Meta)
}

func ensureAccessControl(meta *fhir.Meta) {
	for _, c := range meta.Security {
		if c.System == AccessControlSystem {
			return
		}
	}
	meta.Security = append(meta.Security, fhir.Coding{
		System:  AccessControlSystem,
		Code:    AccessControlDefaultCode,
		Display: AccessControlDefaultDisplay,
	})
}

// reconcileCanBePerformedBy keeps the first CanBePerformedBy coding, or adds
// the default one, and drops any others.
func reconcileCanBePerformedBy(meta *fhir.Meta) {
	var kept *fhir.Coding
	out := make([]fhir.Coding, 0, len(meta.Security)+1)
	for _, c := range meta.Security {
		if c.System != CanBePerformedBySystem {
			out = append(out, c)
			continue
		}
		if kept == nil {
			c := c
			kept = &c
		}
	}
	if kept == nil {
		kept = &fhir.Coding{
			System:  CanBePerformedBySystem,
			Code:    CanBePerformedByDefaultCode,
			Display: CanBePerformedByDefaultDisplay,
		}
	}
	meta.Security = append(out, *kept)
}
