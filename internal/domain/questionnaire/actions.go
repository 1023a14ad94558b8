package questionnaire

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// Action kinds as sent by clients.
const (
	KindNewQuestionnaire           = "newQuestionnaire"
	KindResetState                 = "resetState"
	KindAddItem                    = "addItem"
	KindUpdateItem                 = "updateItem"
	KindRemoveItem                 = "removeItem"
	KindMoveItem                   = "moveItem"
	KindDuplicateItem              = "duplicateItem"
	KindUpdateMetadata             = "updateMetadata"
	KindAddLanguage                = "addLanguage"
	KindRemoveLanguage             = "removeLanguage"
	KindImportTranslation          = "importTranslation"
	KindUpdateItemTranslation      = "updateItemTranslation"
	KindUpdateSidebarTranslation   = "updateSidebarTranslation"
	KindUpdateMetadataTranslation  = "updateMetadataTranslation"
	KindUpdateContainedTranslation = "updateContainedTranslation"
	KindUpdateSettingTranslation   = "updateSettingTranslation"
	KindImportValueSets            = "importValueSets"
	KindRemoveValueSet             = "removeValueSet"
)

var actionFactories = map[string]func() Action{
	KindNewQuestionnaire:           func() Action { return &NewQuestionnaire{} },
	KindResetState:                 func() Action { return &ResetState{} },
	KindAddItem:                    func() Action { return &AddItem{} },
	KindUpdateItem:                 func() Action { return &UpdateItem{} },
	KindRemoveItem:                 func() Action { return &RemoveItem{} },
	KindMoveItem:                   func() Action { return &MoveItem{} },
	KindDuplicateItem:              func() Action { return &DuplicateItem{} },
	KindUpdateMetadata:             func() Action { return &UpdateMetadata{} },
	KindAddLanguage:                func() Action { return &AddLanguage{} },
	KindRemoveLanguage:             func() Action { return &RemoveLanguage{} },
	KindImportTranslation:          func() Action { return &ImportTranslation{} },
	KindUpdateItemTranslation:      func() Action { return &UpdateItemTranslation{} },
	KindUpdateSidebarTranslation:   func() Action { return &UpdateSidebarTranslation{} },
	KindUpdateMetadataTranslation:  func() Action { return &UpdateMetadataTranslation{} },
	KindUpdateContainedTranslation: func() Action { return &UpdateContainedTranslation{} },
	KindUpdateSettingTranslation:   func() Action { return &UpdateSettingTranslation{} },
	KindImportValueSets:            func() Action { return &ImportValueSets{} },
	KindRemoveValueSet:             func() Action { return &RemoveValueSet{} },
}

// DecodeAction builds the action of the given kind from its JSON payload.
func DecodeAction(kind string, payload []byte) (Action, error) {
	factory, ok := actionFactories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	a := factory()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, a); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return a, nil
}

// ActionKind returns the wire name of an action.
func ActionKind(a Action) string {
	switch a.(type) {
	case *NewQuestionnaire:
		return KindNewQuestionnaire
	case *ResetState:
		return KindResetState
	case *AddItem:
		return KindAddItem
	case *UpdateItem:
		return KindUpdateItem
	case *RemoveItem:
		return KindRemoveItem
	case *MoveItem:
		return KindMoveItem
	case *DuplicateItem:
		return KindDuplicateItem
	case *UpdateMetadata:
		return KindUpdateMetadata
	case *AddLanguage:
		return KindAddLanguage
	case *RemoveLanguage:
		return KindRemoveLanguage
	case *ImportTranslation:
		return KindImportTranslation
	case *UpdateItemTranslation:
		return KindUpdateItemTranslation
	case *UpdateSidebarTranslation:
		return KindUpdateSidebarTranslation
	case *UpdateMetadataTranslation:
		return KindUpdateMetadataTranslation
	case *UpdateContainedTranslation:
		return KindUpdateContainedTranslation
	case *UpdateSettingTranslation:
		return KindUpdateSettingTranslation
	case *ImportValueSets:
		return KindImportValueSets
	case *RemoveValueSet:
		return KindRemoveValueSet
	}
	return fmt.Sprintf("%T", a)
}

// -- Document lifecycle --

type NewQuestionnaire struct {
	ID       string `json:"id"`
	Language string `json:"language"`
}

func (a *NewQuestionnaire) Apply(s *State) error {
	lang := a.Language
	if lang == "" {
		lang = fhirmodels.LanguageBokmal
	}
	if !fhirmodels.IsSupportedLanguage(lang) {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	*s = *NewState(id, lang)
	return nil
}

// ResetState replaces the document with an already mapped state.
type ResetState struct {
	State *State `json:"state"`
}

func (a *ResetState) Apply(s *State) error {
	if a.State == nil {
		return fmt.Errorf("reset: state is required")
	}
	next := a.State.Clone()
	ApplyFixups(next)
	*s = *next
	return nil
}

// -- Items --

// AddItem inserts Item below the parent identified by Path (linkIds from the
// root). Nested children of Item are normalized into the order tree.
type AddItem struct {
	Path  []string `json:"path"`
	Index *int     `json:"index,omitempty"`
	Item  Item     `json:"item"`
}

func (a *AddItem) Apply(s *State) error {
	added := map[string]Item{}
	nodes := SplitItems([]Item{a.Item}, added)
	for id := range added {
		if _, exists := s.Items[id]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateLinkID, id)
		}
	}
	if len(added) != len(FlattenOrder(nodes)) {
		return fmt.Errorf("%w: within added item", ErrDuplicateLinkID)
	}
	siblings, err := children(s, a.Path)
	if err != nil {
		return fmt.Errorf("parent %v: %w", a.Path, err)
	}
	insertNode(siblings, a.Index, nodes[0])
	for id, item := range added {
		s.Items[id] = item
	}
	return nil
}

// UpdateItem replaces the item stored under LinkID. A different Item.LinkID
// renames the item everywhere it is referenced.
type UpdateItem struct {
	LinkID string `json:"linkId"`
	Item   Item   `json:"item"`
}

func (a *UpdateItem) Apply(s *State) error {
	if _, ok := s.Items[a.LinkID]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.LinkID)
	}
	item := a.Item
	item.Item = nil
	if item.LinkID == "" {
		item.LinkID = a.LinkID
	}
	if item.LinkID != a.LinkID {
		if err := renameItem(s, a.LinkID, item.LinkID); err != nil {
			return err
		}
	}
	s.Items[item.LinkID] = item
	return nil
}

func renameItem(s *State, from, to string) error {
	if _, exists := s.Items[to]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateLinkID, to)
	}
	node, ok := FindNode(s.Order, from)
	if !ok {
		return fmt.Errorf("%w: %s is not in the order tree", ErrItemNotFound, from)
	}
	node.LinkID = to
	delete(s.Items, from)
	for id, item := range s.Items {
		if retargetEnableWhen(&item, map[string]string{from: to}) {
			s.Items[id] = item
		}
	}
	for _, t := range s.Translations {
		if it, ok := t.Items[from]; ok {
			t.Items[to] = it
			delete(t.Items, from)
		}
		if sb, ok := t.SidebarItems[from]; ok {
			t.SidebarItems[to] = sb
			delete(t.SidebarItems, from)
		}
	}
	return nil
}

// retargetEnableWhen rewrites enableWhen questions through ids and reports
// whether anything changed.
func retargetEnableWhen(item *Item, ids map[string]string) bool {
	changed := false
	for i, ew := range item.EnableWhen {
		if to, ok := ids[ew.Question]; ok {
			if !changed {
				item.EnableWhen = append([]EnableWhen(nil), item.EnableWhen...)
				changed = true
			}
			item.EnableWhen[i].Question = to
		}
	}
	return changed
}

// RemoveItem removes an item, its descendants and their overlay entries.
type RemoveItem struct {
	LinkID string `json:"linkId"`
}

func (a *RemoveItem) Apply(s *State) error {
	node, ok := detachNode(&s.Order, a.LinkID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.LinkID)
	}
	removed := append([]string{a.LinkID}, FlattenOrder(node.Items)...)
	for _, id := range removed {
		delete(s.Items, id)
		for _, t := range s.Translations {
			delete(t.Items, id)
			delete(t.SidebarItems, id)
		}
	}
	return nil
}

// MoveItem moves an item with its subtree below the parent at Path.
type MoveItem struct {
	LinkID string   `json:"linkId"`
	Path   []string `json:"path"`
	Index  *int     `json:"index,omitempty"`
}

func (a *MoveItem) Apply(s *State) error {
	if slices.Contains(a.Path, a.LinkID) {
		return fmt.Errorf("%w: %s", ErrInvalidMove, a.LinkID)
	}
	if _, err := children(s, a.Path); err != nil {
		return fmt.Errorf("parent %v: %w", a.Path, err)
	}
	node, ok := detachNode(&s.Order, a.LinkID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.LinkID)
	}
	siblings, err := children(s, a.Path)
	if err != nil {
		return fmt.Errorf("parent %v: %w", a.Path, err)
	}
	insertNode(siblings, a.Index, node)
	return nil
}

// DuplicateItem copies an item and its subtree with fresh linkIds and inserts
// the copy right after the original. The overlays are copied along.
type DuplicateItem struct {
	LinkID string `json:"linkId"`
}

func (a *DuplicateItem) Apply(s *State) error {
	path, ok := FindPath(s.Order, a.LinkID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.LinkID)
	}
	src, _ := FindNode(s.Order, a.LinkID)

	ids := map[string]string{}
	for _, id := range append([]string{a.LinkID}, FlattenOrder(src.Items)...) {
		ids[id] = uuid.NewString()
	}
	copied := renumber(*src, ids)

	for from, to := range ids {
		item := CloneItem(s.Items[from])
		item.LinkID = to
		retargetEnableWhen(&item, ids)
		s.Items[to] = item
		for _, t := range s.Translations {
			if it, ok := t.Items[from]; ok {
				t.Items[to] = it
			}
			if sb, ok := t.SidebarItems[from]; ok {
				t.SidebarItems[to] = sb
			}
		}
	}

	siblings, err := children(s, path[:len(path)-1])
	if err != nil {
		return err
	}
	at := slices.IndexFunc(*siblings, func(n OrderItem) bool { return n.LinkID == a.LinkID }) + 1
	insertNode(siblings, &at, copied)
	return nil
}

func renumber(node OrderItem, ids map[string]string) OrderItem {
	out := OrderItem{LinkID: ids[node.LinkID], Items: make([]OrderItem, len(node.Items))}
	for i, child := range node.Items {
		out.Items[i] = renumber(child, ids)
	}
	return out
}

// -- Metadata and languages --

// UpdateMetadata replaces the questionnaire metadata. The security tag
// policies are re-applied afterwards.
type UpdateMetadata struct {
	Metadata Metadata `json:"metadata"`
}

func (a *UpdateMetadata) Apply(s *State) error {
	m := cloneMetadata(a.Metadata)
	m.ResourceType = fhir.ResourceQuestionnaire
	if m.Language == "" {
		m.Language = s.Metadata.Language
	}
	if !fhirmodels.IsSupportedLanguage(m.Language) {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, m.Language)
	}
	if _, ok := s.Translations[m.Language]; ok {
		return fmt.Errorf("%w: %s is already a translation", ErrMainLanguage, m.Language)
	}
	ApplySecurityPolicies(&m)
	s.Metadata = m
	return nil
}

type AddLanguage struct {
	Language string `json:"language"`
}

func (a *AddLanguage) Apply(s *State) error {
	if !fhirmodels.IsSupportedLanguage(a.Language) {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, a.Language)
	}
	if a.Language == s.Metadata.Language {
		return fmt.Errorf("%w: %s", ErrMainLanguage, a.Language)
	}
	if _, ok := s.Translations[a.Language]; !ok {
		s.Translations[a.Language] = NewTranslation()
	}
	return nil
}

type RemoveLanguage struct {
	Language string `json:"language"`
}

func (a *RemoveLanguage) Apply(s *State) error {
	if _, ok := s.Translations[a.Language]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLanguage, a.Language)
	}
	delete(s.Translations, a.Language)
	return nil
}

// ImportTranslation sets the whole overlay of a language, adding the language
// when needed. Entries for unknown linkIds or value sets are dropped.
type ImportTranslation struct {
	Language    string      `json:"language"`
	Translation Translation `json:"translation"`
}

func (a *ImportTranslation) Apply(s *State) error {
	if err := (&AddLanguage{Language: a.Language}).Apply(s); err != nil {
		return err
	}
	t := cloneTranslation(a.Translation)
	for id := range t.Items {
		if _, ok := s.Items[id]; !ok {
			delete(t.Items, id)
		}
	}
	for id := range t.SidebarItems {
		if _, ok := s.Items[id]; !ok {
			delete(t.SidebarItems, id)
		}
	}
	for id := range t.Contained {
		if _, ok := s.ValueSet(id); !ok {
			delete(t.Contained, id)
		}
	}
	for field := range t.MetaData {
		if !slices.Contains(TranslatableMetadata, field) {
			delete(t.MetaData, field)
		}
	}
	for url := range t.Settings {
		if !IsTranslatableSetting(url) {
			delete(t.Settings, url)
		}
	}
	s.Translations[a.Language] = t
	return nil
}

func overlay(s *State, lang string) (Translation, error) {
	t, ok := s.Translations[lang]
	if !ok {
		return Translation{}, fmt.Errorf("%w: %s", ErrUnknownLanguage, lang)
	}
	return t, nil
}

// -- Translations --

type UpdateItemTranslation struct {
	Language    string          `json:"language"`
	LinkID      string          `json:"linkId"`
	Translation ItemTranslation `json:"translation"`
}

func (a *UpdateItemTranslation) Apply(s *State) error {
	t, err := overlay(s, a.Language)
	if err != nil {
		return err
	}
	if _, ok := s.Items[a.LinkID]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.LinkID)
	}
	t.Items[a.LinkID] = a.Translation
	return nil
}

type UpdateSidebarTranslation struct {
	Language string `json:"language"`
	LinkID   string `json:"linkId"`
	Markdown string `json:"markdown"`
}

func (a *UpdateSidebarTranslation) Apply(s *State) error {
	t, err := overlay(s, a.Language)
	if err != nil {
		return err
	}
	if _, ok := s.Items[a.LinkID]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, a.LinkID)
	}
	t.SidebarItems[a.LinkID] = SidebarItemTranslation{Markdown: a.Markdown}
	return nil
}

type UpdateMetadataTranslation struct {
	Language string `json:"language"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

func (a *UpdateMetadataTranslation) Apply(s *State) error {
	t, err := overlay(s, a.Language)
	if err != nil {
		return err
	}
	if !slices.Contains(TranslatableMetadata, a.Field) {
		return fmt.Errorf("%w: metadata.%s", ErrNotTranslatable, a.Field)
	}
	t.MetaData[a.Field] = a.Value
	return nil
}

type UpdateContainedTranslation struct {
	Language   string `json:"language"`
	ValueSetID string `json:"valueSetId"`
	Code       string `json:"code"`
	Display    string `json:"display"`
}

func (a *UpdateContainedTranslation) Apply(s *State) error {
	t, err := overlay(s, a.Language)
	if err != nil {
		return err
	}
	if _, ok := s.ValueSet(a.ValueSetID); !ok {
		return fmt.Errorf("%w: %s", ErrValueSetNotFound, a.ValueSetID)
	}
	ct, ok := t.Contained[a.ValueSetID]
	if !ok || ct.Concepts == nil {
		ct = ContainedTranslation{Concepts: map[string]string{}}
	}
	ct.Concepts[a.Code] = a.Display
	t.Contained[a.ValueSetID] = ct
	return nil
}

type UpdateSettingTranslation struct {
	Language  string         `json:"language"`
	Extension fhir.Extension `json:"extension"`
}

func (a *UpdateSettingTranslation) Apply(s *State) error {
	t, err := overlay(s, a.Language)
	if err != nil {
		return err
	}
	if !IsTranslatableSetting(a.Extension.URL) {
		return fmt.Errorf("%w: %s", ErrNotTranslatable, a.Extension.URL)
	}
	t.Settings[a.Extension.URL] = a.Extension.Clone()
	return nil
}

// -- Contained value sets --

// ImportValueSets adds value sets, replacing contained ones with the same id.
type ImportValueSets struct {
	ValueSets []ValueSet `json:"valueSets"`
}

func (a *ImportValueSets) Apply(s *State) error {
	for _, vs := range a.ValueSets {
		vs := *cloneValueSet(&vs)
		vs.ResourceType = fhir.ResourceValueSet
		if vs.ID == "" {
			vs.ID = uuid.NewString()
		}
		replaced := false
		for i, c := range s.Contained {
			if c.ID() == vs.ID {
				s.Contained[i] = ContainedResource{ValueSet: &vs}
				replaced = true
				break
			}
		}
		if !replaced {
			s.Contained = append(s.Contained, ContainedResource{ValueSet: &vs})
		}
	}
	return nil
}

type RemoveValueSet struct {
	ID string `json:"id"`
}

func (a *RemoveValueSet) Apply(s *State) error {
	idx := slices.IndexFunc(s.Contained, func(c ContainedResource) bool {
		return c.ValueSet != nil && c.ValueSet.ID == a.ID
	})
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrValueSetNotFound, a.ID)
	}
	if slices.Contains(ReferencedValueSets(s), a.ID) {
		return fmt.Errorf("%w: %s", ErrValueSetInUse, a.ID)
	}
	s.Contained = slices.Delete(s.Contained, idx, idx+1)
	for _, t := range s.Translations {
		delete(t.Contained, a.ID)
	}
	return nil
}
