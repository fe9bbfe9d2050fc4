package fhir

import "fmt"

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes used by this server.
const (
	IssueTypeInformational   = "informational"
	IssueTypeInvalid         = "invalid"
	IssueTypeNotFound        = "not-found"
	IssueTypeNotSupported    = "not-supported"
	IssueTypeMultipleMatches = "multiple-matches"
	IssueTypeException       = "exception"
)

// OperationOutcome is the structured result document returned by every
// operation, success or failure.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) OperationOutcome {
	return OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// InformationOutcome creates an informational OperationOutcome, used on
// successful writes.
func InformationOutcome(diagnostics string) OperationOutcome {
	return NewOperationOutcome(IssueSeverityInformation, IssueTypeInformational, diagnostics)
}

// ErrorOutcome creates an error OperationOutcome with the given issue code.
func ErrorOutcome(code, diagnostics string) OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, code, diagnostics)
}

// NotFoundOutcome creates the outcome returned when a read or update target
// is absent.
func NotFoundOutcome(kind, id string) OperationOutcome {
	return ErrorOutcome(IssueTypeNotFound, fmt.Sprintf("Resource %s/%s not found", kind, id))
}
