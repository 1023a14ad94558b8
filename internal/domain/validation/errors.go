package validation

import (
	"github.com/ehr/qeditor/internal/platform/fhir"
)

// Error levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// Error properties. They tell the editor which part of an item to highlight.
const (
	PropertySystem         = "system"
	PropertyLinkID         = "linkId"
	PropertyType           = "type"
	PropertyAnswerOption   = "answerOption"
	PropertyAnswerValueSet = "answerValueSet"
	PropertyText           = "text"
	PropertyName           = "name"
	PropertyID             = "id"
	PropertyTitle          = "title"
	PropertyLanguage       = "language"
)

// Error is a validation finding. It is a value, not a Go error.
type Error struct {
	LinkID        string `json:"linkId"`
	ErrorProperty string `json:"errorProperty"`
	ErrorLevel    string `json:"errorLevel"`
	Message       string `json:"errorReadableText"`
	LanguageCode  string `json:"languageCode,omitempty"`
}

// HasErrors reports whether any finding has LevelError.
func HasErrors(errs []Error) bool {
	for _, e := range errs {
		if e.ErrorLevel == LevelError {
			return true
		}
	}
	return false
}

// Issues converts findings to OperationOutcome issues.
func Issues(errs []Error) []fhir.OperationOutcomeIssue {
	issues := make([]fhir.OperationOutcomeIssue, 0, len(errs))
	for _, e := range errs {
		issue := fhir.OperationOutcomeIssue{
			Severity:    severity(e.ErrorLevel),
			Code:        fhir.IssueTypeBusinessRule,
			Diagnostics: e.Message,
		}
		if e.LinkID != "" {
			expr := "Questionnaire.item.where(linkId='" + e.LinkID + "')"
			if e.ErrorProperty != "" && e.ErrorProperty != PropertySystem {
				expr += "." + e.ErrorProperty
			}
			issue.Expression = []string{expr}
		}
		issues = append(issues, issue)
	}
	return issues
}

// Outcome wraps findings in an OperationOutcome.
func Outcome(errs []Error) *fhir.OperationOutcome {
	return fhir.MultiValidationOutcome(Issues(errs))
}

func severity(level string) string {
	switch level {
	case LevelWarning:
		return fhir.IssueSeverityWarning
	case LevelInfo:
		return fhir.IssueSeverityInformation
	default:
		return fhir.IssueSeverityError
	}
}
