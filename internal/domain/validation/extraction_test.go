package validation

import (
	"strings"
	"testing"

	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

const definitionBase = "http://ehelse.no/fhir/StructureDefinition/sdf-"

// contextGroup returns a group marked as extraction context of f.
func contextGroup(linkID string, f Family) questionnaire.Item {
	return questionnaire.Item{
		LinkID: linkID,
		Type:   fhirmodels.ItemTypeGroup,
		Text:   "Context",
		Extension: []fhir.Extension{
			fhir.NewURIExtension(questionnaire.ExtItemExtractionContext, f.ContextURI()),
		},
	}
}

// stateWith places items under the given parents; "" is the root.
func stateWith(items []questionnaire.Item, parents map[string]string) *questionnaire.State {
	s := questionnaire.NewState("q-1", fhirmodels.LanguageBokmal)
	s.Metadata.Name = "Skjema"
	s.Metadata.Title = "Skjema"
	for _, item := range items {
		s.Items[item.LinkID] = item
	}
	var attach func(parent string) []questionnaire.OrderItem
	attach = func(parent string) []questionnaire.OrderItem {
		out := []questionnaire.OrderItem{}
		for _, item := range items {
			if parents[item.LinkID] == parent {
				out = append(out, questionnaire.OrderItem{LinkID: item.LinkID, Items: attach(item.LinkID)})
			}
		}
		return out
	}
	s.Order = attach("")
	return s
}

func messages(errs []Error) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

func TestAncestorMissing(t *testing.T) {
	item := questionnaire.Item{LinkID: "type", Type: fhirmodels.ItemTypeString, Definition: definitionBase + "Condition#Evidence.detail.type"}
	s := stateWith([]questionnaire.Item{item}, nil)

	errs := NewEngine(fhirmodels.LanguageEnglish).ValidateItem(item, s)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", messages(errs))
	}
	msg := errs[0].Message
	if !strings.Contains(msg, "There is no item with extension '"+questionnaire.ExtItemExtractionContext+"'") ||
		!strings.Contains(msg, "found in the questionnaire") ||
		!strings.Contains(msg, FamilyCondition.ContextURI()) {
		t.Errorf("unexpected message %q", msg)
	}
	if errs[0].LinkID != "type" || errs[0].ErrorProperty != PropertySystem || errs[0].ErrorLevel != LevelError {
		t.Errorf("unexpected error %+v", errs[0])
	}
}

func TestAncestorNotParent(t *testing.T) {
	ctx := contextGroup("ctx", FamilyCondition)
	item := questionnaire.Item{LinkID: "date", Type: fhirmodels.ItemTypeDate, Definition: definitionBase + "Condition#RecordedDate"}
	s := stateWith([]questionnaire.Item{ctx, item}, nil)

	errs := NewEngine(fhirmodels.LanguageEnglish).ValidateItem(item, s)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", messages(errs))
	}
	if want := "There is no item with this extraction-context found as parent to 'date'"; errs[0].Message != want {
		t.Errorf("message = %q, want %q", errs[0].Message, want)
	}
}

func TestAncestorAnywhereAbove(t *testing.T) {
	ctx := contextGroup("ctx", FamilyCondition)
	mid := questionnaire.Item{LinkID: "mid", Type: fhirmodels.ItemTypeGroup, Text: "Mid"}
	item := questionnaire.Item{LinkID: "date", Type: fhirmodels.ItemTypeDate, Definition: definitionBase + "Condition#RecordedDate"}
	s := stateWith([]questionnaire.Item{ctx, mid, item}, map[string]string{"mid": "ctx", "date": "mid"})

	if errs := NewEngine(fhirmodels.LanguageEnglish).ValidateItem(item, s); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", messages(errs))
	}
}

func TestAncestorOfOtherFamilyDoesNotCount(t *testing.T) {
	ctx := contextGroup("ctx", FamilyObservation)
	item := questionnaire.Item{LinkID: "date", Type: fhirmodels.ItemTypeDate, Definition: definitionBase + "Condition#RecordedDate"}
	s := stateWith([]questionnaire.Item{ctx, item}, map[string]string{"date": "ctx"})

	errs := NewEngine(fhirmodels.LanguageEnglish).ValidateItem(item, s)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "found in the questionnaire") {
		t.Errorf("expected missing-extension error, got %v", messages(errs))
	}
}

func TestTypeMismatchWithCodeFallback(t *testing.T) {
	ctx := contextGroup("ctx", FamilyObservation)
	item := questionnaire.Item{LinkID: "value", Type: fhirmodels.ItemTypeDisplay, Definition: definitionBase + "Observation#component.value[x]"}
	s := stateWith([]questionnaire.Item{ctx, item}, map[string]string{"value": "ctx"})
	engine := NewEngine(fhirmodels.LanguageEnglish)

	errs := engine.ValidateItem(item, s)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", messages(errs))
	}
	msg := errs[0].Message
	if !strings.HasPrefix(msg, "Expected one of [") || !strings.HasSuffix(msg, "or a code.") {
		t.Errorf("unexpected message %q", msg)
	}
	if !strings.Contains(msg, "on 'value[x]'") {
		t.Errorf("message should name the sub-field: %q", msg)
	}
	if errs[0].ErrorProperty != PropertyType {
		t.Errorf("property = %s", errs[0].ErrorProperty)
	}

	item.Code = []fhir.Coding{{System: "http://loinc.org", Code: "8480-6"}}
	s.Items["value"] = item
	if errs := engine.ValidateItem(item, s); len(errs) != 0 {
		t.Errorf("a code should satisfy the rule, got %v", messages(errs))
	}
}

func TestTypeMessages(t *testing.T) {
	tests := []struct {
		name       string
		family     Family
		definition string
		itemType   string
		want       string
	}{
		{
			"suffix rule without fallback", FamilyCondition, "Condition#RecordedDate", fhirmodels.ItemTypeString,
			"Expected one of [date, dateTime].",
		},
		{
			"suffix rule with code fallback", FamilyCondition, "Condition#Code", fhirmodels.ItemTypeString,
			"Expected one of [choice, open-choice] or a code.",
		},
		{
			"sub-field rule without fallback", FamilyCondition, "Condition#Evidence.detail.display", fhirmodels.ItemTypeBoolean,
			"Expected one of [string, text] on 'detail.display'.",
		},
		{
			"sub-field rule with code fallback", FamilyCondition, "Condition#Evidence.code", fhirmodels.ItemTypeString,
			"Expected one of [choice, open-choice] on 'code' or a code.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := contextGroup("ctx", tt.family)
			item := questionnaire.Item{LinkID: "x", Type: tt.itemType, Definition: definitionBase + tt.definition}
			s := stateWith([]questionnaire.Item{ctx, item}, map[string]string{"x": "ctx"})
			errs := NewEngine(fhirmodels.LanguageEnglish).ValidateItem(item, s)
			if len(errs) != 1 || errs[0].Message != tt.want {
				t.Errorf("got %v, want [%s]", messages(errs), tt.want)
			}
		})
	}
}

func TestTypeListIsDeduplicated(t *testing.T) {
	r := Rule{Anchor: AnchorConditionRecordedDate, Types: []string{"date", "dateTime", "date"}}
	got := NewEngine(fhirmodels.LanguageEnglish).typeMessage(r)
	if got != "Expected one of [date, dateTime]." {
		t.Errorf("message = %q", got)
	}
}

func TestServiceRequestFallbackSystem(t *testing.T) {
	ctx := contextGroup("ctx", FamilyServiceRequest)
	engine := NewEngine(fhirmodels.LanguageEnglish)

	tests := []struct {
		name       string
		definition string
		codes      []fhir.Coding
		wantErrors int
	}{
		{"type with resource-types code", "ServiceRequest#reasonReference.type", []fhir.Coding{{System: ResourceTypesSystem, Code: "Condition"}}, 0},
		{"type with other code", "ServiceRequest#reasonReference.type", []fhir.Coding{{System: "http://loinc.org", Code: "1"}}, 1},
		{"identifier without code", "ServiceRequest#supportingInfo.identifier", nil, 1},
		{"identifier with resource-types code", "ServiceRequest#supportingInfo.identifier", []fhir.Coding{{System: ResourceTypesSystem, Code: "Observation"}}, 0},
		{"display ignores codes", "ServiceRequest#reasonReference.display", []fhir.Coding{{System: ResourceTypesSystem, Code: "Condition"}}, 1},
		{"reference ignores codes", "ServiceRequest#supportingInfo.reference", []fhir.Coding{{System: ResourceTypesSystem, Code: "Condition"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := questionnaire.Item{LinkID: "x", Type: fhirmodels.ItemTypeBoolean, Definition: definitionBase + tt.definition, Code: tt.codes}
			s := stateWith([]questionnaire.Item{ctx, item}, map[string]string{"x": "ctx"})
			if errs := engine.ValidateItem(item, s); len(errs) != tt.wantErrors {
				t.Errorf("expected %d errors, got %v", tt.wantErrors, messages(errs))
			}
		})
	}
}

func TestObservationCategoryNeedsCategorySystem(t *testing.T) {
	ctx := contextGroup("ctx", FamilyObservation)
	item := questionnaire.Item{
		LinkID: "cat", Type: fhirmodels.ItemTypeString, Definition: definitionBase + "Observation#Category",
		Code: []fhir.Coding{{System: "http://loinc.org", Code: "1"}},
	}
	s := stateWith([]questionnaire.Item{ctx, item}, map[string]string{"cat": "ctx"})
	engine := NewEngine(fhirmodels.LanguageEnglish)
	if errs := engine.ValidateItem(item, s); len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", messages(errs))
	}

	item.Code = append(item.Code, fhir.Coding{System: ObservationCategorySystem, Code: "survey"})
	if errs := engine.ValidateItem(item, s); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", messages(errs))
	}
}

func TestItemsWithoutAnchorsAreIgnored(t *testing.T) {
	for _, def := range []string{"", "http://example.org/Patient#name", definitionBase + "Observation#status"} {
		item := questionnaire.Item{LinkID: "x", Type: fhirmodels.ItemTypeDisplay, Definition: def}
		s := stateWith([]questionnaire.Item{item}, nil)
		if errs := NewEngine(fhirmodels.LanguageEnglish).ValidateItem(item, s); len(errs) != 0 {
			t.Errorf("definition %q: expected no errors, got %v", def, messages(errs))
		}
	}
}

func TestRuleMatching(t *testing.T) {
	tests := []struct {
		rule       Rule
		definition string
		want       bool
	}{
		{Rule{Anchor: AnchorObservationCode}, "x/Observation#code", true},
		{Rule{Anchor: AnchorObservationCode}, "x/Observation#component.code", false},
		{Rule{Anchor: AnchorObservationCode}, "x/Observation#code.text", false},
		{Rule{Anchor: AnchorObservationComponent, Resource: "code"}, "x/Observation#component.code", true},
		{Rule{Anchor: AnchorConditionEvidence, Resource: "detail.type"}, "x/Condition#Evidence.detail.type", true},
		{Rule{Anchor: AnchorConditionEvidence, Resource: "detail.type"}, "x/Condition#Evidence.detail.display", false},
	}
	for _, tt := range tests {
		if got := tt.rule.Matches(tt.definition); got != tt.want {
			t.Errorf("%+v.Matches(%q) = %v, want %v", tt.rule, tt.definition, got, tt.want)
		}
	}
}

func TestLocalizedMessages(t *testing.T) {
	item := questionnaire.Item{LinkID: "x", Type: fhirmodels.ItemTypeString, Definition: definitionBase + "Condition#RecordedDate"}
	ctx := contextGroup("ctx", FamilyCondition)
	s := stateWith([]questionnaire.Item{ctx, item}, map[string]string{"x": "ctx"})
	errs := NewEngine(fhirmodels.LanguageBokmal).ValidateItem(item, s)
	if len(errs) != 1 || errs[0].Message != "Forventet en av [date, dateTime]." {
		t.Errorf("got %v", messages(errs))
	}
}
