package questionnaire

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ehr/qeditor/internal/platform/fhir"
)

// Item is a questionnaire item. In the wire format Item carries its children;
// once normalized into a State the children live in the order tree and Item
// is always nil. Pointer fields are treated as immutable once set.
type Item struct {
	LinkID         string           `json:"linkId"`
	Definition     string           `json:"definition,omitempty"`
	Code           []fhir.Coding    `json:"code,omitempty"`
	Prefix         string           `json:"prefix,omitempty"`
	Text           string           `json:"text,omitempty"`
	TextElement    *Element         `json:"_text,omitempty"`
	Type           string           `json:"type"`
	EnableWhen     []EnableWhen     `json:"enableWhen,omitempty"`
	EnableBehavior string           `json:"enableBehavior,omitempty"`
	Required       *bool            `json:"required,omitempty"`
	Repeats        *bool            `json:"repeats,omitempty"`
	ReadOnly       *bool            `json:"readOnly,omitempty"`
	MaxLength      *int             `json:"maxLength,omitempty"`
	AnswerValueSet string           `json:"answerValueSet,omitempty"`
	AnswerOption   []AnswerOption   `json:"answerOption,omitempty"`
	Initial        []Initial        `json:"initial,omitempty"`
	Extension      []fhir.Extension `json:"extension,omitempty"`
	Item           []Item           `json:"item,omitempty"`
}

// Element is the primitive extension holder used for _text.
type Element struct {
	Extension []fhir.Extension `json:"extension,omitempty"`
}

type AnswerOption struct {
	ValueCoding     *fhir.Coding     `json:"valueCoding,omitempty"`
	ValueString     string           `json:"valueString,omitempty"`
	ValueInteger    *int             `json:"valueInteger,omitempty"`
	ValueDate       string           `json:"valueDate,omitempty"`
	ValueTime       string           `json:"valueTime,omitempty"`
	ValueReference  *fhir.Reference  `json:"valueReference,omitempty"`
	InitialSelected *bool            `json:"initialSelected,omitempty"`
	Extension       []fhir.Extension `json:"extension,omitempty"`
}

// Code returns the coding code of the option, or "" for non-coding options.
func (o AnswerOption) Code() string {
	if o.ValueCoding == nil {
		return ""
	}
	return o.ValueCoding.Code
}

type Initial struct {
	ValueBoolean   *bool           `json:"valueBoolean,omitempty"`
	ValueDecimal   *float64        `json:"valueDecimal,omitempty"`
	ValueInteger   *int            `json:"valueInteger,omitempty"`
	ValueDate      string          `json:"valueDate,omitempty"`
	ValueDateTime  string          `json:"valueDateTime,omitempty"`
	ValueTime      string          `json:"valueTime,omitempty"`
	ValueString    string          `json:"valueString,omitempty"`
	ValueURI       string          `json:"valueUri,omitempty"`
	ValueCoding    *fhir.Coding    `json:"valueCoding,omitempty"`
	ValueQuantity  *fhir.Quantity  `json:"valueQuantity,omitempty"`
	ValueReference *fhir.Reference `json:"valueReference,omitempty"`
}

type EnableWhen struct {
	Question        string          `json:"question"`
	Operator        string          `json:"operator"`
	AnswerBoolean   *bool           `json:"answerBoolean,omitempty"`
	AnswerDecimal   *float64        `json:"answerDecimal,omitempty"`
	AnswerInteger   *int            `json:"answerInteger,omitempty"`
	AnswerDate      string          `json:"answerDate,omitempty"`
	AnswerDateTime  string          `json:"answerDateTime,omitempty"`
	AnswerTime      string          `json:"answerTime,omitempty"`
	AnswerString    string          `json:"answerString,omitempty"`
	AnswerCoding    *fhir.Coding    `json:"answerCoding,omitempty"`
	AnswerQuantity  *fhir.Quantity  `json:"answerQuantity,omitempty"`
	AnswerReference *fhir.Reference `json:"answerReference,omitempty"`
}

// Metadata holds the questionnaire-level fields, everything except
// contained resources and items.
type Metadata struct {
	ResourceType string               `json:"resourceType"`
	ID           string               `json:"id,omitempty"`
	Meta         *fhir.Meta           `json:"meta,omitempty"`
	Language     string               `json:"language,omitempty"`
	Extension    []fhir.Extension     `json:"extension,omitempty"`
	URL          string               `json:"url,omitempty"`
	Identifier   []fhir.Identifier    `json:"identifier,omitempty"`
	Version      string               `json:"version,omitempty"`
	Name         string               `json:"name,omitempty"`
	Title        string               `json:"title,omitempty"`
	Status       string               `json:"status,omitempty"`
	SubjectType  []string             `json:"subjectType,omitempty"`
	Date         string               `json:"date,omitempty"`
	Publisher    string               `json:"publisher,omitempty"`
	Contact      []fhir.ContactDetail `json:"contact,omitempty"`
	Description  string               `json:"description,omitempty"`
	UseContext   []fhir.UsageContext  `json:"useContext,omitempty"`
	Purpose      string               `json:"purpose,omitempty"`
	Copyright    string               `json:"copyright,omitempty"`
	Code         []fhir.Coding        `json:"code,omitempty"`
}

// Field returns a translatable metadata field by name.
func (m Metadata) Field(name string) (string, bool) {
	switch name {
	case MetaTitle:
		return m.Title, true
	case MetaDescription:
		return m.Description, true
	case MetaPurpose:
		return m.Purpose, true
	case MetaCopyright:
		return m.Copyright, true
	case MetaPublisher:
		return m.Publisher, true
	}
	return "", false
}

// SetField sets a translatable metadata field by name.
func (m *Metadata) SetField(name, value string) bool {
	switch name {
	case MetaTitle:
		m.Title = value
	case MetaDescription:
		m.Description = value
	case MetaPurpose:
		m.Purpose = value
	case MetaCopyright:
		m.Copyright = value
	case MetaPublisher:
		m.Publisher = value
	default:
		return false
	}
	return true
}

// Questionnaire is the wire-format document.
type Questionnaire struct {
	Metadata
	Contained []ContainedResource `json:"contained,omitempty"`
	Item      []Item              `json:"item,omitempty"`
}

// DecodeQuestionnaire parses a wire-format Questionnaire.
func DecodeQuestionnaire(data []byte) (*Questionnaire, error) {
	var q Questionnaire
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode questionnaire: %w", err)
	}
	if q.ResourceType != fhir.ResourceQuestionnaire {
		return nil, fmt.Errorf("expected resourceType %s, got %q", fhir.ResourceQuestionnaire, q.ResourceType)
	}
	return &q, nil
}

// ContainedResource is one embedded resource. Value sets and code systems are
// decoded; anything else is carried through untouched in Raw.
type ContainedResource struct {
	ValueSet   *ValueSet
	CodeSystem *CodeSystem
	Raw        json.RawMessage
}

// ID returns the local id referenced through "#id".
func (c ContainedResource) ID() string {
	switch {
	case c.ValueSet != nil:
		return c.ValueSet.ID
	case c.CodeSystem != nil:
		return c.CodeSystem.ID
	}
	var head struct {
		ID string `json:"id"`
	}
	if len(c.Raw) > 0 && json.Unmarshal(c.Raw, &head) == nil {
		return head.ID
	}
	return ""
}

func (c ContainedResource) MarshalJSON() ([]byte, error) {
	switch {
	case c.ValueSet != nil:
		return json.Marshal(c.ValueSet)
	case c.CodeSystem != nil:
		return json.Marshal(c.CodeSystem)
	case len(c.Raw) > 0:
		return c.Raw, nil
	}
	return []byte("null"), nil
}

func (c *ContainedResource) UnmarshalJSON(data []byte) error {
	*c = ContainedResource{}
	rt, err := fhir.ResourceTypeOf(data)
	if err != nil {
		return fmt.Errorf("decode contained resource: %w", err)
	}
	switch rt {
	case fhir.ResourceValueSet:
		var vs ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("decode contained value set: %w", err)
		}
		c.ValueSet = &vs
	case fhir.ResourceCodeSystem:
		var cs CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("decode contained code system: %w", err)
		}
		c.CodeSystem = &cs
	default:
		c.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

type ValueSet struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	URL          string           `json:"url,omitempty"`
	Version      string           `json:"version,omitempty"`
	Name         string           `json:"name,omitempty"`
	Title        string           `json:"title,omitempty"`
	Status       string           `json:"status,omitempty"`
	Publisher    string           `json:"publisher,omitempty"`
	Compose      *ValueSetCompose `json:"compose,omitempty"`
}

type ValueSetCompose struct {
	Include []ValueSetInclude `json:"include"`
}

type ValueSetInclude struct {
	System  string            `json:"system,omitempty"`
	Concept []ValueSetConcept `json:"concept,omitempty"`
}

type ValueSetConcept struct {
	Code      string           `json:"code"`
	Display   string           `json:"display,omitempty"`
	Extension []fhir.Extension `json:"extension,omitempty"`
}

// Concepts lists every concept with the system of its include block.
func (vs *ValueSet) Concepts() []SystemConcept {
	if vs == nil || vs.Compose == nil {
		return nil
	}
	var out []SystemConcept
	for _, inc := range vs.Compose.Include {
		for _, c := range inc.Concept {
			out = append(out, SystemConcept{System: inc.System, ValueSetConcept: c})
		}
	}
	return out
}

type SystemConcept struct {
	System string
	ValueSetConcept
}

type CodeSystem struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id,omitempty"`
	URL          string              `json:"url,omitempty"`
	Version      string              `json:"version,omitempty"`
	Name         string              `json:"name,omitempty"`
	Title        string              `json:"title,omitempty"`
	Status       string              `json:"status,omitempty"`
	Content      string              `json:"content,omitempty"`
	Concept      []CodeSystemConcept `json:"concept,omitempty"`
}

type CodeSystemConcept struct {
	Code       string `json:"code"`
	Display    string `json:"display,omitempty"`
	Definition string `json:"definition,omitempty"`
}

// Translation is the overlay of one additional language. Keys always refer to
// linkIds, value set ids and field names that exist in the main document.
type Translation struct {
	Items        map[string]ItemTranslation        `json:"items"`
	SidebarItems map[string]SidebarItemTranslation `json:"sidebarItems"`
	MetaData     map[string]string                 `json:"metaData"`
	Contained    map[string]ContainedTranslation   `json:"contained"`
	Settings     map[string]fhir.Extension         `json:"settings"`
}

// NewTranslation returns an overlay with all maps allocated.
func NewTranslation() Translation {
	return Translation{
		Items:        map[string]ItemTranslation{},
		SidebarItems: map[string]SidebarItemTranslation{},
		MetaData:     map[string]string{},
		Contained:    map[string]ContainedTranslation{},
		Settings:     map[string]fhir.Extension{},
	}
}

func (t Translation) allocated() Translation {
	if t.Items == nil {
		t.Items = map[string]ItemTranslation{}
	}
	if t.SidebarItems == nil {
		t.SidebarItems = map[string]SidebarItemTranslation{}
	}
	if t.MetaData == nil {
		t.MetaData = map[string]string{}
	}
	if t.Contained == nil {
		t.Contained = map[string]ContainedTranslation{}
	}
	if t.Settings == nil {
		t.Settings = map[string]fhir.Extension{}
	}
	return t
}

type ItemTranslation struct {
	Text            string            `json:"text,omitempty"`
	ValidationText  string            `json:"validationText,omitempty"`
	EntryFormatText string            `json:"entryFormatText,omitempty"`
	SublabelText    string            `json:"sublabel,omitempty"`
	RepeatsText     string            `json:"repeatsText,omitempty"`
	InitialValue    string            `json:"initialValue,omitempty"`
	Prefix          string            `json:"prefix,omitempty"`
	AnswerOptions   map[string]string `json:"answerOptions,omitempty"`
	Codes           []fhir.Coding     `json:"code,omitempty"`
}

// CodeDisplay returns the translated display of the code with the same system and code.
func (t ItemTranslation) CodeDisplay(c fhir.Coding) (string, bool) {
	for _, tc := range t.Codes {
		if tc.SameCode(c) {
			return tc.Display, true
		}
	}
	return "", false
}

type SidebarItemTranslation struct {
	Markdown string `json:"markdown"`
}

// ContainedTranslation maps concept codes of one value set to translated displays.
type ContainedTranslation struct {
	Concepts map[string]string `json:"concepts"`
}

// OrderItem is one node of the order tree.
type OrderItem struct {
	LinkID string      `json:"linkId"`
	Items  []OrderItem `json:"items"`
}

// State is the normalized document. Items are stored flat by linkId and the
// nesting lives in Order.
type State struct {
	Metadata     Metadata               `json:"qMetadata"`
	Items        map[string]Item        `json:"qItems"`
	Order        []OrderItem            `json:"qOrder"`
	Contained    []ContainedResource    `json:"qContained"`
	Translations map[string]Translation `json:"qAdditionalLanguages"`
}

// Languages returns the additional languages of the state in no particular order.
func (s *State) Languages() []string {
	out := make([]string, 0, len(s.Translations))
	for lang := range s.Translations {
		out = append(out, lang)
	}
	return out
}

// ValueSet returns the contained value set with the given id.
func (s *State) ValueSet(id string) (*ValueSet, bool) {
	for _, c := range s.Contained {
		if c.ValueSet != nil && c.ValueSet.ID == id {
			return c.ValueSet, true
		}
	}
	return nil, false
}

// DecodeState parses a serialized snapshot.
func DecodeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if s.Items == nil {
		s.Items = map[string]Item{}
	}
	if s.Translations == nil {
		s.Translations = map[string]Translation{}
	}
	for lang, t := range s.Translations {
		s.Translations[lang] = t.allocated()
	}
	return &s, nil
}
