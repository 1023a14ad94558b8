package fhir

// SuccessOutcome creates a success OperationOutcome with severity=information.
// The validate endpoint returns it when a questionnaire has no findings.
func SuccessOutcome(message string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityInformation, IssueTypeProcessing, message)
}

// ThrottleOutcome creates a 429-style OperationOutcome indicating the server is
// rate-limiting the client. The FHIR spec uses issue type "throttled".
func ThrottleOutcome() *OperationOutcome {
	return NewOperationOutcome(
		IssueSeverityError,
		IssueTypeThrottled,
		"Rate limit exceeded. Please retry after a delay.",
	)
}
