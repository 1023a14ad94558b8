package fhir

// OperationOutcome is the error and validation report of every endpoint.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: ResourceOperationOutcome,
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

// NotFoundOutcome reports a missing questionnaire snapshot or resource.
func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, FormatReference(resourceType, id)+" not found")
}

// OperationOutcome severity levels per FHIR R4 spec.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4 spec.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeConflict     = "conflict"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeLogin        = "login"
	IssueTypeThrottled    = "throttled"
	IssueTypeNotSupported = "not-supported"
	IssueTypeBusinessRule = "business-rule"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
	IssueTypeDuplicate    = "duplicate"
	IssueTypeDeleted      = "deleted"
	IssueTypeCodeInvalid  = "code-invalid"
)

// MultiValidationOutcome collects several validation findings into one
// outcome. With no findings it reports a single informational issue.
func MultiValidationOutcome(issues []OperationOutcomeIssue) *OperationOutcome {
	if len(issues) == 0 {
		return SuccessOutcome("no validation issues")
	}
	return &OperationOutcome{
		ResourceType: ResourceOperationOutcome,
		Issue:        issues,
	}
}

// InternalErrorOutcome creates an OperationOutcome for internal server errors.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, diagnostics)
}

