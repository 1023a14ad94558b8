package fhir

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// ValidationResult holds the results of a wire-format shape check.
type ValidationResult struct {
	Valid  bool
	Issues []OperationOutcomeIssue
}

// ToOperationOutcome converts a ValidationResult into an OperationOutcome.
func (vr *ValidationResult) ToOperationOutcome() *OperationOutcome {
	return &OperationOutcome{
		ResourceType: ResourceOperationOutcome,
		Issue:        vr.Issues,
	}
}

func (vr *ValidationResult) add(code, diagnostics, expression string) {
	vr.Valid = false
	issue := OperationOutcomeIssue{
		Severity:    IssueSeverityError,
		Code:        code,
		Diagnostics: diagnostics,
	}
	if expression != "" {
		issue.Expression = []string{expression}
	}
	vr.Issues = append(vr.Issues, issue)
}

// Validator checks that an uploaded document has the Questionnaire shape the
// mapper understands. It is not a profile validator.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateUpload validates a raw Questionnaire or Bundle of Questionnaires.
func (v *Validator) ValidateUpload(data []byte) *ValidationResult {
	result := &ValidationResult{Valid: true}

	var resource map[string]interface{}
	if err := json.Unmarshal(data, &resource); err != nil {
		result.add(IssueTypeStructure, "invalid JSON: "+err.Error(), "")
		return result
	}

	rt, _ := resource["resourceType"].(string)
	switch rt {
	case ResourceQuestionnaire:
		v.validateQuestionnaire(resource, "Questionnaire", result)
	case ResourceBundle:
		v.validateBundle(resource, result)
	case "":
		result.add(IssueTypeRequired, "resourceType is required", "resourceType")
	default:
		result.add(IssueTypeNotSupported, fmt.Sprintf("unsupported resourceType: %s", rt), "resourceType")
	}
	return result
}

func (v *Validator) validateBundle(bundle map[string]interface{}, result *ValidationResult) {
	entries, _ := bundle["entry"].([]interface{})
	if len(entries) == 0 {
		result.add(IssueTypeRequired, "bundle must contain at least one entry", "entry")
		return
	}
	for i, e := range entries {
		path := fmt.Sprintf("entry[%d].resource", i)
		entry, _ := e.(map[string]interface{})
		res, ok := entry["resource"].(map[string]interface{})
		if !ok {
			result.add(IssueTypeRequired, path+" is required", path)
			continue
		}
		if rt, _ := res["resourceType"].(string); rt != ResourceQuestionnaire {
			result.add(IssueTypeValue, fmt.Sprintf("%s must be a Questionnaire, got %q", path, rt), path+".resourceType")
			continue
		}
		v.validateQuestionnaire(res, path, result)
	}
}

func (v *Validator) validateQuestionnaire(q map[string]interface{}, path string, result *ValidationResult) {
	if status, ok := q["status"].(string); ok && !fhirmodels.IsPublicationStatus(status) {
		result.add(IssueTypeCodeInvalid, fmt.Sprintf("invalid status '%s'", status), path+".status")
	}
	if items, ok := q["item"].([]interface{}); ok {
		v.walkItems(items, path+".item", result)
	}
}

// walkItems recursively checks linkId and type on every item.
func (v *Validator) walkItems(items []interface{}, path string, result *ValidationResult) {
	for i, raw := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		item, ok := raw.(map[string]interface{})
		if !ok {
			result.add(IssueTypeStructure, itemPath+" must be an object", itemPath)
			continue
		}
		if linkID, _ := item["linkId"].(string); linkID == "" {
			result.add(IssueTypeRequired, itemPath+".linkId is required", itemPath+".linkId")
		}
		typ, _ := item["type"].(string)
		if !fhirmodels.IsItemType(typ) {
			result.add(IssueTypeCodeInvalid, fmt.Sprintf("%s.type '%s' is not a questionnaire item type", itemPath, typ), itemPath+".type")
		}
		if children, ok := item["item"].([]interface{}); ok {
			v.walkItems(children, itemPath+".item", result)
		}
	}
}
