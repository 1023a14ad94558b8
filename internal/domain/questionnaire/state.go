package questionnaire

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// ProfileQuestionnaire is the profile new questionnaires declare.
const ProfileQuestionnaire = "http://ehelse.no/fhir/StructureDefinition/sdf-Questionnaire"

// NewState returns an empty draft questionnaire in lang with the baseline
// value sets and security tags in place.
func NewState(id, lang string) *State {
	s := &State{
		Metadata: Metadata{
			ResourceType: fhir.ResourceQuestionnaire,
			ID:           id,
			Language:     lang,
			Status:       fhirmodels.StatusDraft,
			Meta:         &fhir.Meta{Profile: []string{ProfileQuestionnaire}},
			SubjectType:  []string{"Patient"},
		},
		Items:        map[string]Item{},
		Order:        []OrderItem{},
		Translations: map[string]Translation{},
	}
	ApplyFixups(s)
	return s
}

// ApplyFixups appends missing predefined value sets and re-applies the
// security tag policies. It is idempotent.
func ApplyFixups(s *State) {
	s.Contained = EnsurePredefinedValueSets(s.Contained)
	ApplySecurityPolicies(&s.Metadata)
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := &State{
		Metadata:     cloneMetadata(s.Metadata),
		Items:        make(map[string]Item, len(s.Items)),
		Order:        cloneOrder(s.Order),
		Contained:    cloneContained(s.Contained),
		Translations: make(map[string]Translation, len(s.Translations)),
	}
	for id, item := range s.Items {
		out.Items[id] = CloneItem(item)
	}
	for lang, t := range s.Translations {
		out.Translations[lang] = cloneTranslation(t)
	}
	return out
}

func cloneMetadata(m Metadata) Metadata {
	out := m
	if m.Meta != nil {
		meta := *m.Meta
		meta.Profile = append([]string(nil), m.Meta.Profile...)
		meta.Security = append([]fhir.Coding(nil), m.Meta.Security...)
		meta.Tag = append([]fhir.Coding(nil), m.Meta.Tag...)
		out.Meta = &meta
	}
	out.Extension = cloneExtensions(m.Extension)
	out.Identifier = append([]fhir.Identifier(nil), m.Identifier...)
	out.SubjectType = append([]string(nil), m.SubjectType...)
	out.Contact = append([]fhir.ContactDetail(nil), m.Contact...)
	out.UseContext = append([]fhir.UsageContext(nil), m.UseContext...)
	out.Code = append([]fhir.Coding(nil), m.Code...)
	return out
}

func cloneOrder(order []OrderItem) []OrderItem {
	if order == nil {
		return nil
	}
	out := make([]OrderItem, len(order))
	for i, node := range order {
		out[i] = OrderItem{LinkID: node.LinkID, Items: cloneOrder(node.Items)}
		if out[i].Items == nil {
			out[i].Items = []OrderItem{}
		}
	}
	return out
}

func cloneContained(contained []ContainedResource) []ContainedResource {
	if contained == nil {
		return nil
	}
	out := make([]ContainedResource, len(contained))
	for i, c := range contained {
		switch {
		case c.ValueSet != nil:
			out[i] = ContainedResource{ValueSet: cloneValueSet(c.ValueSet)}
		case c.CodeSystem != nil:
			cs := *c.CodeSystem
			cs.Concept = append([]CodeSystemConcept(nil), c.CodeSystem.Concept...)
			out[i] = ContainedResource{CodeSystem: &cs}
		default:
			out[i] = ContainedResource{Raw: append(json.RawMessage(nil), c.Raw...)}
		}
	}
	return out
}

func cloneValueSet(vs *ValueSet) *ValueSet {
	out := *vs
	if vs.Compose != nil {
		compose := ValueSetCompose{Include: make([]ValueSetInclude, len(vs.Compose.Include))}
		for i, inc := range vs.Compose.Include {
			concepts := make([]ValueSetConcept, len(inc.Concept))
			for j, c := range inc.Concept {
				c.Extension = cloneExtensions(c.Extension)
				concepts[j] = c
			}
			compose.Include[i] = ValueSetInclude{System: inc.System, Concept: concepts}
		}
		out.Compose = &compose
	}
	return &out
}

// Clone returns a deep copy of the overlay.
func (t Translation) Clone() Translation {
	return cloneTranslation(t)
}

func cloneTranslation(t Translation) Translation {
	out := NewTranslation()
	for id, it := range t.Items {
		if it.AnswerOptions != nil {
			opts := make(map[string]string, len(it.AnswerOptions))
			for k, v := range it.AnswerOptions {
				opts[k] = v
			}
			it.AnswerOptions = opts
		}
		it.Codes = append([]fhir.Coding(nil), it.Codes...)
		out.Items[id] = it
	}
	for id, sb := range t.SidebarItems {
		out.SidebarItems[id] = sb
	}
	for k, v := range t.MetaData {
		out.MetaData[k] = v
	}
	for id, ct := range t.Contained {
		concepts := make(map[string]string, len(ct.Concepts))
		for k, v := range ct.Concepts {
			concepts[k] = v
		}
		out.Contained[id] = ContainedTranslation{Concepts: concepts}
	}
	for url, ext := range t.Settings {
		out.Settings[url] = ext.Clone()
	}
	return out
}

// FlattenOrder lists every linkId of the order tree depth-first.
func FlattenOrder(order []OrderItem) []string {
	var out []string
	var walk func(nodes []OrderItem)
	walk = func(nodes []OrderItem) {
		for _, n := range nodes {
			out = append(out, n.LinkID)
			walk(n.Items)
		}
	}
	walk(order)
	return out
}

// FindPath returns the linkIds from the root down to and including linkID.
func FindPath(order []OrderItem, linkID string) ([]string, bool) {
	for _, n := range order {
		if n.LinkID == linkID {
			return []string{linkID}, true
		}
		if sub, ok := FindPath(n.Items, linkID); ok {
			return append([]string{n.LinkID}, sub...), true
		}
	}
	return nil, false
}

// GetDuplicateLinkIDs returns every linkId that appears more than once in the
// order tree, in order of first repetition.
func GetDuplicateLinkIDs(order []OrderItem) []string {
	seen := map[string]int{}
	var dups []string
	for _, id := range FlattenOrder(order) {
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

// Consistency lists the mismatches between the order tree and the items map.
type Consistency struct {
	MissingItems   []string // in the order tree but not in items
	UnorderedItems []string // in items but not in the order tree
}

func (c Consistency) OK() bool {
	return len(c.MissingItems) == 0 && len(c.UnorderedItems) == 0
}

// CheckConsistency compares the order tree with the items map.
func CheckConsistency(s *State) Consistency {
	var c Consistency
	ordered := map[string]bool{}
	for _, id := range FlattenOrder(s.Order) {
		if ordered[id] {
			continue
		}
		ordered[id] = true
		if _, ok := s.Items[id]; !ok {
			c.MissingItems = append(c.MissingItems, id)
		}
	}
	for id := range s.Items {
		if !ordered[id] {
			c.UnorderedItems = append(c.UnorderedItems, id)
		}
	}
	return c
}

// FindNode returns the order node of linkID.
func FindNode(order []OrderItem, linkID string) (*OrderItem, bool) {
	for i := range order {
		if order[i].LinkID == linkID {
			return &order[i], true
		}
		if n, ok := FindNode(order[i].Items, linkID); ok {
			return n, true
		}
	}
	return nil, false
}

// Descendants lists the linkIds below linkID depth-first, excluding linkID.
func Descendants(order []OrderItem, linkID string) []string {
	n, ok := FindNode(order, linkID)
	if !ok {
		return nil
	}
	return FlattenOrder(n.Items)
}

// Parent returns the linkId of the parent of linkID; root items have parent "".
func Parent(order []OrderItem, linkID string) (string, bool) {
	path, ok := FindPath(order, linkID)
	if !ok {
		return "", false
	}
	if len(path) == 1 {
		return "", true
	}
	return path[len(path)-2], true
}

// ParentIndex maps every linkId to its parent linkId, "" for root items.
func ParentIndex(order []OrderItem) map[string]string {
	out := map[string]string{}
	var walk func(parent string, nodes []OrderItem)
	walk = func(parent string, nodes []OrderItem) {
		for _, n := range nodes {
			if _, seen := out[n.LinkID]; !seen {
				out[n.LinkID] = parent
			}
			walk(n.LinkID, n.Items)
		}
	}
	walk("", order)
	return out
}

// ReferencedValueSets lists the ids of contained resources referenced via
// answerValueSet "#id", in document order and without repeats.
func ReferencedValueSets(s *State) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range FlattenOrder(s.Order) {
		item, ok := s.Items[id]
		if !ok {
			continue
		}
		ref, ok := LocalReference(item.AnswerValueSet)
		if !ok || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// LocalReference strips the "#" of a contained reference.
func LocalReference(ref string) (string, bool) {
	if !strings.HasPrefix(ref, "#") || len(ref) == 1 {
		return "", false
	}
	return ref[1:], true
}
