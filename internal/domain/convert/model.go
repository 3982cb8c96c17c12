package convert

import (
	"strings"
	"time"

	"github.com/ehr/fhirconverter/internal/platform/fault"
	"github.com/ehr/fhirconverter/internal/platform/hl7v2"
	"github.com/ehr/fhirconverter/internal/platform/templatestore"
)

// DataType names an input format.
type DataType string

const (
	HL7v2 DataType = templatestore.DataTypeHL7v2
	CCDA  DataType = templatestore.DataTypeCCDA
	JSON  DataType = templatestore.DataTypeJSON
)

// ParseDataType accepts the data type names used in URLs and flags,
// case-insensitively.
func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(strings.ToLower(strings.TrimSpace(s))); dt {
	case HL7v2, CCDA, JSON:
		return dt, nil
	}
	return "", fault.Newf(fault.UnsupportedDataType, "unsupported data type %q", s)
}

// Request is one conversion.
type Request struct {
	DataType DataType
	// RootTemplate is the template to render. When empty it is resolved
	// from the template manifest.
	RootTemplate string
	Input        string
	// Message, when set for HL7v2, is used instead of parsing Input. Its
	// access flags are updated by the render.
	Message *hl7v2.Message
	// Timeout overrides the converter's render timeout when non-zero.
	Timeout time.Duration
	Trace   bool
}

// Result is a converted FHIR bundle and, for HL7v2 input with tracing
// requested, the report of unused message elements.
type Result struct {
	Bundle    map[string]interface{}
	Template  string
	TraceInfo *hl7v2.TraceInfo
}
