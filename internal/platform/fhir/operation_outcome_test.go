package fhir

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

func TestNewOperationOutcome(t *testing.T) {
	oo := NewOperationOutcome("error", "processing", "something went wrong")

	if oo.ResourceType != "OperationOutcome" {
		t.Errorf("expected resourceType OperationOutcome, got %s", oo.ResourceType)
	}
	if len(oo.Issue) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(oo.Issue))
	}
	if oo.Issue[0].Severity != "error" {
		t.Errorf("expected severity error, got %s", oo.Issue[0].Severity)
	}
	if oo.Issue[0].Code != "processing" {
		t.Errorf("expected code processing, got %s", oo.Issue[0].Code)
	}
	if oo.Issue[0].Diagnostics != "something went wrong" {
		t.Errorf("expected diagnostics 'something went wrong', got %s", oo.Issue[0].Diagnostics)
	}
}

func TestErrorOutcome(t *testing.T) {
	oo := ErrorOutcome("test error")
	if oo.Issue[0].Severity != "error" {
		t.Error("expected error severity")
	}
	if !oo.HasErrors() {
		t.Error("expected HasErrors to be true")
	}
}

func TestOutcomeFromError_Kinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
		kind   string
	}{
		{fault.New(fault.NullOrEmptyInput, "empty"), http.StatusBadRequest, IssueTypeRequired, "NullOrEmptyInput"},
		{fault.New(fault.InvalidMessage, "bad"), http.StatusBadRequest, IssueTypeStructure, "InvalidMessage"},
		{fault.New(fault.TemplateNotFound, "missing"), http.StatusNotFound, IssueTypeNotFound, "TemplateNotFound"},
		{fault.New(fault.JSONParsingError, "bad json"), http.StatusUnprocessableEntity, IssueTypeStructure, "JsonParsingError"},
		{fault.New(fault.TimeoutError, "slow"), http.StatusGatewayTimeout, IssueTypeTimeout, "TimeoutError"},
	}

	for _, tt := range tests {
		status, oo := OutcomeFromError(tt.err)
		if status != tt.status {
			t.Errorf("%s: expected status %d, got %d", tt.kind, tt.status, status)
		}
		if oo.Issue[0].Code != tt.code {
			t.Errorf("%s: expected code %s, got %s", tt.kind, tt.code, oo.Issue[0].Code)
		}
		if oo.Issue[0].Details == nil || oo.Issue[0].Details.Coding[0].Code != tt.kind {
			t.Errorf("%s: expected details coding with kind", tt.kind)
		}
		if oo.Issue[0].Severity != IssueSeverityError {
			t.Errorf("%s: expected error severity, got %s", tt.kind, oo.Issue[0].Severity)
		}
	}
}

func TestOutcomeFromError_Untyped(t *testing.T) {
	status, oo := OutcomeFromError(errors.New("boom"))
	if status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", status)
	}
	if oo.Issue[0].Severity != IssueSeverityFatal {
		t.Errorf("expected fatal severity, got %s", oo.Issue[0].Severity)
	}
	if oo.Issue[0].Details != nil {
		t.Error("expected no details for untyped error")
	}
}

func TestOperationOutcome_JSONShape(t *testing.T) {
	_, oo := OutcomeFromError(fault.New(fault.InvalidHexadecimalNumber, "odd hex"))
	data, err := json.Marshal(oo)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["resourceType"] != "OperationOutcome" {
		t.Errorf("expected resourceType OperationOutcome, got %v", raw["resourceType"])
	}
	issues, ok := raw["issue"].([]interface{})
	if !ok || len(issues) != 1 {
		t.Fatalf("expected one issue, got %v", raw["issue"])
	}
	issue := issues[0].(map[string]interface{})
	if _, ok := issue["expression"]; ok {
		t.Error("expected expression to be omitted")
	}
}

func TestTimeoutOutcome(t *testing.T) {
	oo := TimeoutOutcome("request timed out")
	if oo.Issue[0].Code != IssueTypeTimeout {
		t.Errorf("expected timeout code, got %s", oo.Issue[0].Code)
	}
	if oo.Issue[0].Severity != IssueSeverityFatal {
		t.Errorf("expected fatal severity, got %s", oo.Issue[0].Severity)
	}
}
