package hl7v2

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

// =========== Sample Messages ===========

const sampleADT = "MSH|^~\\&|SendingApp|SendingFac|ReceivingApp|ReceivingFac|20240115143025||ADT^A01|MSG00001|P|2.5.1\rEVN|A01|20240115143025\rPID|1||MRN12345^^^MRNAuth||Doe^John^A||19800515|M|||123 Main St^^Springfield^IL^62701||555-555-1234~555-555-9999\rPV1|1|I|ICU^101^A||||1234^Smith^Robert"

const sampleORU = "MSH|^~\\&|LabSystem|LabFac|EHR|EHRFac|20240115150000||ORU^R01|MSG00002|P|2.5.1\rPID|1||MRN12345^^^MRNAuth||Doe^John||19800515|M\rOBR|1|ORD001|LAB001|85025^CBC^LN\rOBX|1|NM|718-7^Hemoglobin^LN||13.5|g/dL|12.0-17.5|N|||F\rOBX|2|NM|4544-3^Hematocrit^LN||40.1|%|36.0-53.0|N|||F"

// =========== Parser Tests ===========

func TestParse_Header(t *testing.T) {
	msg := parseTestMessage(t, sampleADT)

	if msg.Type() != "ADT^A01" {
		t.Errorf("expected Type 'ADT^A01', got %q", msg.Type())
	}
	if msg.ControlID() != "MSG00001" {
		t.Errorf("expected ControlID 'MSG00001', got %q", msg.ControlID())
	}
	if msg.Version() != "2.5.1" {
		t.Errorf("expected Version '2.5.1', got %q", msg.Version())
	}
	if len(msg.Meta) != len(msg.Segments) {
		t.Fatalf("Meta and Segments differ in length: %d vs %d", len(msg.Meta), len(msg.Segments))
	}
	if msg.Segments[0].Type() != "MSH" {
		t.Errorf("expected segment 0 to be MSH, got %q", msg.Segments[0].Type())
	}

	h := msg.Header()
	if h.Fields[1].Value != "^~\\&" {
		t.Errorf("expected MSH-2 to be the raw encoding characters, got %q", h.Fields[1].Value)
	}
	if h.Fields[2].Value != "SendingApp" {
		t.Errorf("expected MSH-3 'SendingApp', got %q", h.Fields[2].Value)
	}
}

func TestParse_Structure(t *testing.T) {
	msg := parseTestMessage(t, sampleADT)

	pid := msg.Segment("PID")
	if pid.Type() != "PID" {
		t.Fatal("expected PID segment")
	}

	id := pid.Fields[3]
	if id.Value != "MRN12345^^^MRNAuth" {
		t.Errorf("expected raw PID-3, got %q", id.Value)
	}
	if len(id.Components) != 4 {
		t.Fatalf("expected 4 components, got %d", len(id.Components))
	}
	if id.Components[0].Value != "MRN12345" || id.Components[3].Value != "MRNAuth" {
		t.Errorf("unexpected components: %q, %q", id.Components[0].Value, id.Components[3].Value)
	}
	if len(id.Repeats) != 0 {
		t.Errorf("expected no repeats for a non-repeating field, got %d", len(id.Repeats))
	}

	phone := pid.Fields[13]
	if len(phone.Repeats) != 2 {
		t.Fatalf("expected 2 repeats, got %d", len(phone.Repeats))
	}
	if phone.Repeats[1].Value != "555-555-9999" {
		t.Errorf("expected second repeat, got %q", phone.Repeats[1].Value)
	}
	if phone.Components[0] != phone.Repeats[0].Components[0] {
		t.Error("expected field components to be the first repeat's components")
	}
}

func TestParse_Subcomponents(t *testing.T) {
	msg := parseTestMessage(t, "MSH|^~\\&|A\rPID|1||id&sys&ver^next")
	c := msg.Segment("PID").Fields[3].Components[0]
	if c.Value != "id&sys&ver" {
		t.Errorf("expected component value to keep subcomponent separators, got %q", c.Value)
	}
	if want := []string{"id", "sys", "ver"}; !reflect.DeepEqual(c.Subcomponents, want) {
		t.Errorf("expected subcomponents %v, got %v", want, c.Subcomponents)
	}
	if c.Subcomponent(5) != "" {
		t.Error("expected empty subcomponent beyond the end")
	}
}

func TestParse_EscapesAfterSplitting(t *testing.T) {
	msg := parseTestMessage(t, "MSH|^~\\&|A\rNTE|1|L|one\\S\\two\\F\\three^four")
	f := msg.Segment("NTE").Fields[3]
	if len(f.Components) != 2 {
		t.Fatalf("expected escaped delimiters not to split, got %d components", len(f.Components))
	}
	if f.Components[0].Value != "one^two|three" {
		t.Errorf("expected decoded component, got %q", f.Components[0].Value)
	}
	if f.Value != "one\\S\\two\\F\\three^four" {
		t.Errorf("expected raw field value, got %q", f.Value)
	}
}

func TestParse_LineBreaks(t *testing.T) {
	segments := []string{"MSH|^~\\&|A|B", "PID|1||123", "PV1|1|I"}
	for _, sep := range []string{"\r\n", "\r", "\n", "\n\n", "\r\r\n"} {
		raw := sep + strings.Join(segments, sep) + sep
		msg, err := Parse(raw)
		if err != nil {
			t.Fatalf("separator %q: unexpected error: %v", sep, err)
		}
		if !reflect.DeepEqual(msg.Meta, segments) {
			t.Errorf("separator %q: got segments %q", sep, msg.Meta)
		}
		if rejoined := strings.Join(SplitSegments(raw), "\r\n"); rejoined != strings.Join(segments, "\r\n") {
			t.Errorf("separator %q: rejoined %q", sep, rejoined)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  fault.Kind
		cause fault.Kind
	}{
		{"empty", "", fault.NullOrEmptyInput, ""},
		{"only line breaks", "\r\n\r\n", fault.InputParsingError, ""},
		{"not hl7", "THIS IS NOT HL7", fault.InputParsingError, fault.InvalidMessage},
		{"short header", "MSH|^", fault.InputParsingError, fault.MissingSeparators},
		{"bad escape char", "MSH|^~/&|A", fault.InputParsingError, fault.InvalidEscapeCharacter},
		{"odd hex", "MSH|^~\\&|A\rPID|1||\\X656\\", fault.InputParsingError, fault.InvalidHexadecimalNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := fault.KindOf(err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if tt.cause != "" && !fault.Has(err, tt.cause) {
				t.Errorf("expected cause %s in %v", tt.cause, err)
			}
		})
	}
}

func TestParse_SegmentErrorNamesSegment(t *testing.T) {
	_, err := Parse("MSH|^~\\&|A\rPID|1||\\X656\\")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "PID") || !strings.Contains(err.Error(), "656") {
		t.Errorf("expected segment id and payload in %q", err.Error())
	}
}

func TestMessage_SegmentsByType(t *testing.T) {
	msg := parseTestMessage(t, sampleORU)

	obx := msg.SegmentsByType("OBX")
	if len(obx) != 2 {
		t.Fatalf("expected 2 OBX segments, got %d", len(obx))
	}
	if obx[1].Fields[3].Components[1].Value != "Hematocrit" {
		t.Errorf("unexpected OBX-3.2, got %q", obx[1].Fields[3].Components[1].Value)
	}

	if missing := msg.Segment("ZZZ"); missing.Type() != "" || len(missing.Fields) != 0 {
		t.Error("expected empty placeholder for missing segment")
	}
}

// =========== Access Tests ===========

func TestAccess_MarksComponent(t *testing.T) {
	msg := parseTestMessage(t, sampleADT)
	name := msg.Segment("PID").Field(5)

	if name.Components[0].IsAccessed {
		t.Fatal("expected component to start unaccessed")
	}
	if got := name.Component(0).Value; got != "Doe" {
		t.Errorf("expected 'Doe', got %q", got)
	}
	if !name.Components[0].IsAccessed {
		t.Error("expected component to be marked accessed")
	}
	if name.Components[1].IsAccessed {
		t.Error("expected sibling component to stay unaccessed")
	}
}

func TestAccess_ValueByNameDoesNotMark(t *testing.T) {
	msg := parseTestMessage(t, sampleADT)
	f := msg.Segment("PID").Field(5)

	v, err := f.Get("Value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "Doe^John^A" {
		t.Errorf("expected raw value, got %v", v)
	}
	for i, c := range f.Components {
		if c.IsAccessed {
			t.Errorf("component %d marked accessed by name lookup", i)
		}
	}
}

func TestAccess_OutOfRange(t *testing.T) {
	msg := parseTestMessage(t, sampleADT)
	pid := msg.Segment("PID")
	fieldCount := len(pid.Fields)

	l := pid.ByIndex(99)
	if l.Status != Absent {
		t.Errorf("expected Absent, got %v", l.Status)
	}
	if f := l.Value.(*Field); f.Value != "" {
		t.Errorf("expected empty placeholder, got %q", f.Value)
	}
	if len(pid.Fields) != fieldCount {
		t.Error("out of range access must not extend the field list")
	}

	f := pid.Field(5)
	componentCount := len(f.Components)
	if c := f.Component(10); c.Value != "" {
		t.Errorf("expected empty placeholder component, got %q", c.Value)
	}
	if len(f.Components) != componentCount {
		t.Error("out of range access must not extend the component list")
	}
	for i, c := range f.Components {
		if c.IsAccessed {
			t.Errorf("component %d marked by out of range access", i)
		}
	}
}

func TestAccess_DynamicKeys(t *testing.T) {
	msg := parseTestMessage(t, sampleADT)
	pid := msg.Segment("PID")

	v, err := pid.Get("5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, ok := v.(*Field)
	if !ok || f.Value != "Doe^John^A" {
		t.Fatalf("expected PID-5 via numeric string, got %v", v)
	}

	c, err := f.Get(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.(*Component).Value != "John" {
		t.Errorf("expected 'John', got %v", c)
	}

	if _, err := pid.Get("FIELDS"); err != nil {
		t.Errorf("expected case-insensitive name lookup, got %v", err)
	}
	if _, err := f.Get("repeats"); err != nil {
		t.Errorf("expected Repeats lookup, got %v", err)
	}

	_, err = pid.Get("nonsense")
	if fault.KindOf(err) != fault.PropertyNotFound {
		t.Errorf("expected PropertyNotFound, got %v", err)
	}
	_, err = f.Get(3.5)
	if fault.KindOf(err) != fault.PropertyNotFound {
		t.Errorf("expected PropertyNotFound for float key, got %v", err)
	}
}

func TestAccess_Repetitions(t *testing.T) {
	msg := parseTestMessage(t, sampleADT)
	pid := msg.Segment("PID")

	phones := pid.Field(13).Repetitions()
	if len(phones) != 2 {
		t.Fatalf("expected 2 repetitions, got %d", len(phones))
	}
	if phones[1].Component(0).Value != "555-555-9999" {
		t.Errorf("unexpected second phone %q", phones[1].Component(0).Value)
	}

	single := pid.Field(3).Repetitions()
	if len(single) != 1 || single[0] != pid.Field(3) {
		t.Error("expected a non-repeating field to be its own repetition")
	}
	if pid.Field(2).Repetitions() != nil {
		t.Error("expected no repetitions for an empty field")
	}
	if pid.Field(3).Repeat(1).Value != "" {
		t.Error("expected placeholder for missing repeat")
	}
}

// =========== Helpers ===========

// parseTestMessage is a test helper that parses an HL7v2 string and fails
// the test on error.
func parseTestMessage(t *testing.T, raw string) *Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse test message: %v", err)
	}
	return msg
}
