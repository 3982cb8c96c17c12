package fhir

import (
	"github.com/ehr/fhirconverter/internal/platform/fault"
)

// OperationOutcome severity levels per FHIR R4 spec.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes used by the converter.
const (
	IssueTypeRequired   = "required"
	IssueTypeStructure  = "structure"
	IssueTypeNotFound   = "not-found"
	IssueTypeProcessing = "processing"
	IssueTypeSecurity   = "security"
	IssueTypeForbidden  = "forbidden"
	IssueTypeTooLong    = "too-long"
	IssueTypeException  = "exception"
	IssueTypeTimeout    = "timeout"
	IssueTypeTooCostly  = "too-costly"
	IssueTypeThrottled  = "throttled"
)

// ErrorKindSystem is the coding system carrying fault kinds in
// OperationOutcome.issue.details.
const ErrorKindSystem = "urn:fhir-converter:error-kind"

// OutcomeFromError converts err into the HTTP status and OperationOutcome an
// API should answer with. Errors without a kind map to a fatal exception.
func OutcomeFromError(err error) (int, *OperationOutcome) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)

	severity := IssueSeverityError
	if kind == "" {
		severity = IssueSeverityFatal
	}

	oo := NewOperationOutcome(severity, fault.IssueCode(kind), err.Error())
	if kind != "" {
		oo.Issue[0].Details = &CodeableConcept{
			Coding: []Coding{{System: ErrorKindSystem, Code: string(kind)}},
			Text:   string(kind),
		}
	}
	return status, oo
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// TimeoutOutcome creates an OperationOutcome for a request that ran past its
// deadline.
func TimeoutOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeTimeout, diagnostics)
}

// InternalErrorOutcome creates an OperationOutcome for internal server errors.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, diagnostics)
}
