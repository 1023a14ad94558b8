package questionnaire

import (
	"github.com/ehr/qeditor/internal/platform/fhir"
)

// IsSidebar reports whether the item is sidebar content, marked by the
// itemControl extension with code "sidebar".
func IsSidebar(item Item) bool {
	return HasItemControl(item, ItemControlSidebar)
}

// HasItemControl reports whether the item's itemControl carries code.
func HasItemControl(item Item, code string) bool {
	ext, ok := fhir.FindExtension(item.Extension, ExtItemControl)
	if !ok {
		return false
	}
	cc, ok := ext.CodeableConcept()
	if !ok {
		return false
	}
	for _, c := range cc.Coding {
		if c.System == ItemControlSystem && c.Code == code {
			return true
		}
	}
	return false
}

// HasMarkdown reports whether the item label carries a markdown extension in _text.
func HasMarkdown(item Item) bool {
	_, ok := Markdown(item)
	return ok
}

// Markdown returns the markdown label stored in _text.
func Markdown(item Item) (string, bool) {
	if item.TextElement == nil {
		return "", false
	}
	ext, ok := fhir.FindExtension(item.TextElement.Extension, ExtMarkdown)
	if !ok {
		return "", false
	}
	return ext.Text()
}

// SetMarkdown replaces the markdown label, adding the _text element if needed.
func SetMarkdown(item *Item, markdown string) {
	var exts []fhir.Extension
	if item.TextElement != nil {
		exts = item.TextElement.Extension
	}
	item.TextElement = &Element{
		Extension: fhir.SetExtension(exts, fhir.NewMarkdownExtension(ExtMarkdown, markdown)),
	}
}

// ExtensionText returns the string-like value of the item extension with url.
func ExtensionText(item Item, url string) (string, bool) {
	ext, ok := fhir.FindExtension(item.Extension, url)
	if !ok {
		return "", false
	}
	return ext.Text()
}

// ReplaceExtensionText overwrites the value of an existing string-like
// extension, keeping its kind. Missing extensions are left absent.
func ReplaceExtensionText(item *Item, url, value string) {
	for i, ext := range item.Extension {
		if ext.URL == url {
			out := append([]fhir.Extension(nil), item.Extension...)
			out[i] = ext.WithText(value)
			item.Extension = out
			return
		}
	}
}

// HasExtension reports whether the item carries an extension with url.
func HasExtension(item Item, url string) bool {
	_, ok := fhir.FindExtension(item.Extension, url)
	return ok
}

// ExtractionContext returns the valueUri of the item's itemExtractionContext extension.
func ExtractionContext(item Item) (string, bool) {
	ext, ok := fhir.FindExtension(item.Extension, ExtItemExtractionContext)
	if !ok {
		return "", false
	}
	return ext.Text()
}

// InitialString returns the first initial valueString.
func InitialString(item Item) (string, bool) {
	if len(item.Initial) == 0 || item.Initial[0].ValueString == "" {
		return "", false
	}
	return item.Initial[0].ValueString, true
}

// CloneItem deep-copies the slices of an item. Pointer fields are shared.
func CloneItem(item Item) Item {
	out := item
	out.Code = append([]fhir.Coding(nil), item.Code...)
	if item.TextElement != nil {
		out.TextElement = &Element{Extension: cloneExtensions(item.TextElement.Extension)}
	}
	out.EnableWhen = append([]EnableWhen(nil), item.EnableWhen...)
	if item.AnswerOption != nil {
		out.AnswerOption = make([]AnswerOption, len(item.AnswerOption))
		for i, o := range item.AnswerOption {
			o.Extension = cloneExtensions(o.Extension)
			out.AnswerOption[i] = o
		}
	}
	out.Initial = append([]Initial(nil), item.Initial...)
	out.Extension = cloneExtensions(item.Extension)
	if item.Item != nil {
		out.Item = make([]Item, len(item.Item))
		for i, child := range item.Item {
			out.Item[i] = CloneItem(child)
		}
	}
	return out
}

func cloneExtensions(exts []fhir.Extension) []fhir.Extension {
	if exts == nil {
		return nil
	}
	out := make([]fhir.Extension, len(exts))
	for i, e := range exts {
		out[i] = e.Clone()
	}
	return out
}
