package questionnaire

import (
	"testing"

	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// ── Fixtures ──

func sampleState() *State {
	s := NewState("q-1", fhirmodels.LanguageBokmal)
	s.Items["group"] = Item{LinkID: "group", Type: fhirmodels.ItemTypeGroup, Text: "Group"}
	s.Items["name"] = Item{LinkID: "name", Type: fhirmodels.ItemTypeString, Text: "Name"}
	s.Items["smoker"] = Item{LinkID: "smoker", Type: fhirmodels.ItemTypeChoice, Text: "Smoker?", AnswerValueSet: "#pre-1"}
	s.Items["info"] = Item{LinkID: "info", Type: fhirmodels.ItemTypeDisplay, Text: "Info"}
	s.Order = []OrderItem{
		{LinkID: "group", Items: []OrderItem{
			{LinkID: "name", Items: []OrderItem{}},
			{LinkID: "smoker", Items: []OrderItem{}},
		}},
		{LinkID: "info", Items: []OrderItem{}},
	}
	return s
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ── Order tree ──

func TestFlattenOrder(t *testing.T) {
	got := FlattenOrder(sampleState().Order)
	want := []string{"group", "name", "smoker", "info"}
	if !equalStrings(got, want) {
		t.Errorf("FlattenOrder = %v, want %v", got, want)
	}
}

func TestFindPath(t *testing.T) {
	order := sampleState().Order
	path, ok := FindPath(order, "smoker")
	if !ok || !equalStrings(path, []string{"group", "smoker"}) {
		t.Errorf("FindPath(smoker) = %v, %v", path, ok)
	}
	if _, ok := FindPath(order, "missing"); ok {
		t.Error("expected missing item to have no path")
	}
}

func TestParentAndDescendants(t *testing.T) {
	order := sampleState().Order
	if p, ok := Parent(order, "name"); !ok || p != "group" {
		t.Errorf("Parent(name) = %q, %v", p, ok)
	}
	if p, ok := Parent(order, "info"); !ok || p != "" {
		t.Errorf("Parent(info) = %q, %v", p, ok)
	}
	if d := Descendants(order, "group"); !equalStrings(d, []string{"name", "smoker"}) {
		t.Errorf("Descendants(group) = %v", d)
	}
	idx := ParentIndex(order)
	if idx["smoker"] != "group" || idx["group"] != "" {
		t.Errorf("unexpected parent index %v", idx)
	}
}

func TestGetDuplicateLinkIDs(t *testing.T) {
	s := sampleState()
	if dups := GetDuplicateLinkIDs(s.Order); len(dups) != 0 {
		t.Fatalf("expected no duplicates, got %v", dups)
	}
	s.Order[1].Items = append(s.Order[1].Items, OrderItem{LinkID: "name"}, OrderItem{LinkID: "name"})
	dups := GetDuplicateLinkIDs(s.Order)
	if !equalStrings(dups, []string{"name"}) {
		t.Errorf("duplicates = %v, want [name]", dups)
	}
}

func TestCheckConsistency(t *testing.T) {
	s := sampleState()
	if c := CheckConsistency(s); !c.OK() {
		t.Fatalf("expected consistent state, got %+v", c)
	}
	s.Items["orphan"] = Item{LinkID: "orphan", Type: fhirmodels.ItemTypeString}
	s.Order = append(s.Order, OrderItem{LinkID: "ghost"})
	c := CheckConsistency(s)
	if !equalStrings(c.MissingItems, []string{"ghost"}) {
		t.Errorf("MissingItems = %v", c.MissingItems)
	}
	if !equalStrings(c.UnorderedItems, []string{"orphan"}) {
		t.Errorf("UnorderedItems = %v", c.UnorderedItems)
	}
}

func TestReferencedValueSets(t *testing.T) {
	s := sampleState()
	s.Items["info"] = Item{LinkID: "info", Type: fhirmodels.ItemTypeChoice, AnswerValueSet: "#pre-1"}
	got := ReferencedValueSets(s)
	if !equalStrings(got, []string{"pre-1"}) {
		t.Errorf("ReferencedValueSets = %v", got)
	}
}

func TestSplitItems(t *testing.T) {
	items := []Item{{
		LinkID: "1", Type: fhirmodels.ItemTypeGroup,
		Item: []Item{{LinkID: "1.1", Type: fhirmodels.ItemTypeString}, {Type: fhirmodels.ItemTypeDisplay}},
	}}
	into := map[string]Item{}
	order := SplitItems(items, into)
	if len(into) != 3 {
		t.Fatalf("expected 3 items, got %d", len(into))
	}
	if into["1"].Item != nil {
		t.Error("expected children to be removed from stored item")
	}
	if len(order) != 1 || len(order[0].Items) != 2 {
		t.Fatalf("unexpected order %+v", order)
	}
	if order[0].Items[1].LinkID == "" {
		t.Error("expected a generated linkId for the item without one")
	}
}

// ── Fixups ──

func TestNewStateAppliesFixups(t *testing.T) {
	s := NewState("q", fhirmodels.LanguageBokmal)
	if _, ok := s.ValueSet("pre-1"); !ok {
		t.Error("expected predefined value set pre-1")
	}
	if _, ok := s.ValueSet("pre-2"); !ok {
		t.Error("expected predefined value set pre-2")
	}
	var access, performer int
	for _, c := range s.Metadata.Meta.Security {
		switch c.System {
		case AccessControlSystem:
			access++
		case CanBePerformedBySystem:
			performer++
		}
	}
	if access != 1 || performer != 1 {
		t.Errorf("security tags: access=%d performer=%d", access, performer)
	}
}

func TestApplyFixupsIdempotent(t *testing.T) {
	s := NewState("q", fhirmodels.LanguageBokmal)
	s.Metadata.Meta.Security = append(s.Metadata.Meta.Security,
		fhir.Coding{System: CanBePerformedBySystem, Code: "2"})
	ApplyFixups(s)
	ApplyFixups(s)
	if len(s.Contained) != 2 {
		t.Errorf("expected 2 contained value sets, got %d", len(s.Contained))
	}
	var codes []string
	for _, c := range s.Metadata.Meta.Security {
		if c.System == CanBePerformedBySystem {
			codes = append(codes, c.Code)
		}
	}
	if !equalStrings(codes, []string{CanBePerformedByDefaultCode}) {
		t.Errorf("expected the first performer tag to win, got %v", codes)
	}
}

// ── Clone ──

func TestCloneIsDeep(t *testing.T) {
	s := sampleState()
	s.Translations[fhirmodels.LanguageEnglish] = NewTranslation()
	s.Translations[fhirmodels.LanguageEnglish].Items["name"] = ItemTranslation{Text: "Name"}

	c := s.Clone()
	c.Order[0].Items[0].LinkID = "changed"
	c.Translations[fhirmodels.LanguageEnglish].Items["name"] = ItemTranslation{Text: "Changed"}
	c.Metadata.Meta.Security[0].Code = "9"
	vs, _ := c.ValueSet("pre-1")
	vs.Compose.Include[0].Concept[0].Display = "Yes"

	if s.Order[0].Items[0].LinkID != "name" {
		t.Error("order tree shared with clone")
	}
	if s.Translations[fhirmodels.LanguageEnglish].Items["name"].Text != "Name" {
		t.Error("translations shared with clone")
	}
	if s.Metadata.Meta.Security[0].Code == "9" {
		t.Error("meta shared with clone")
	}
	orig, _ := s.ValueSet("pre-1")
	if orig.Compose.Include[0].Concept[0].Display != "Ja" {
		t.Error("contained value sets shared with clone")
	}
}

// ── Item helpers ──

func TestSidebarAndMarkdown(t *testing.T) {
	item := Item{
		LinkID: "sb",
		Type:   fhirmodels.ItemTypeText,
		Extension: []fhir.Extension{fhir.NewCodeableConceptExtension(ExtItemControl, fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: ItemControlSystem, Code: ItemControlSidebar}},
		})},
	}
	if !IsSidebar(item) {
		t.Error("expected sidebar item")
	}
	if HasMarkdown(item) {
		t.Error("expected no markdown before SetMarkdown")
	}
	SetMarkdown(&item, "**bold**")
	md, ok := Markdown(item)
	if !ok || md != "**bold**" {
		t.Errorf("Markdown = %q, %v", md, ok)
	}
}

func TestReplaceExtensionTextKeepsKind(t *testing.T) {
	item := Item{Extension: []fhir.Extension{fhir.NewMarkdownExtension(ExtSublabel, "under")}}
	orig := item.Extension
	ReplaceExtensionText(&item, ExtSublabel, "below")
	got, _ := ExtensionText(item, ExtSublabel)
	if got != "below" || item.Extension[0].Kind() != fhir.KindMarkdown {
		t.Errorf("got %q kind %s", got, item.Extension[0].Kind())
	}
	if v, _ := orig[0].Text(); v != "under" {
		t.Error("expected the original extension slice to be untouched")
	}
	ReplaceExtensionText(&item, ExtRepeatsText, "again")
	if HasExtension(item, ExtRepeatsText) {
		t.Error("expected missing extension to stay absent")
	}
}

func TestDecodeStateAllocatesOverlayMaps(t *testing.T) {
	s, err := DecodeState([]byte(`{"qMetadata":{"resourceType":"Questionnaire"},"qAdditionalLanguages":{"en-GB":{}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := s.Translations["en-GB"]
	if tr.Items == nil || tr.Contained == nil || tr.Settings == nil {
		t.Error("expected overlay maps to be allocated")
	}
	if s.Items == nil {
		t.Error("expected items map to be allocated")
	}
}

func TestContainedResourceDecodesByType(t *testing.T) {
	q, err := DecodeQuestionnaire([]byte(`{
		"resourceType":"Questionnaire",
		"contained":[
			{"resourceType":"ValueSet","id":"vs","compose":{"include":[{"system":"s","concept":[{"code":"a","display":"A"}]}]}},
			{"resourceType":"CodeSystem","id":"cs","content":"complete"},
			{"resourceType":"Binary","id":"bin"}
		]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.Contained) != 3 {
		t.Fatalf("expected 3 contained resources, got %d", len(q.Contained))
	}
	if q.Contained[0].ValueSet == nil || q.Contained[1].CodeSystem == nil || q.Contained[2].Raw == nil {
		t.Errorf("unexpected contained decoding %+v", q.Contained)
	}
	if q.Contained[2].ID() != "bin" {
		t.Errorf("raw id = %q", q.Contained[2].ID())
	}
	concepts := q.Contained[0].ValueSet.Concepts()
	if len(concepts) != 1 || concepts[0].System != "s" || concepts[0].Code != "a" {
		t.Errorf("unexpected concepts %+v", concepts)
	}
}

func TestTranslatableVocabulary(t *testing.T) {
	if !IsTranslatableCodeSystem(ScoringFormulaSystem) || IsTranslatableCodeSystem("urn:other") {
		t.Error("unexpected translatable code systems")
	}
	if !IsTranslatableSetting(ExtPrintVersion) || IsTranslatableSetting(ExtSaveCapability) {
		t.Error("unexpected translatable settings")
	}
}
