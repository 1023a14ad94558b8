package fhir

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

const BundleTypeSearchset = "searchset"

// NewSearchsetBundle wraps already serialized resources in a searchset Bundle
// whose total equals the number of entries.
func NewSearchsetBundle(resources ...json.RawMessage) *Bundle {
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		entries[i] = BundleEntry{Resource: r}
	}
	total := len(entries)
	return &Bundle{
		ResourceType: ResourceBundle,
		Type:         BundleTypeSearchset,
		Total:        &total,
		Entry:        entries,
	}
}

// DecodeBundle parses a Bundle and checks its discriminator.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.ResourceType != ResourceBundle {
		return nil, fmt.Errorf("expected resourceType %s, got %q", ResourceBundle, b.ResourceType)
	}
	return &b, nil
}

// EntryResourceTypes lists the resourceType of every entry, "" for unreadable ones.
func (b *Bundle) EntryResourceTypes() []string {
	out := make([]string, len(b.Entry))
	for i, e := range b.Entry {
		rt, err := ResourceTypeOf(e.Resource)
		if err == nil {
			out[i] = rt
		}
	}
	return out
}

// FormatReference creates a FHIR reference string in the format "ResourceType/id".
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}
