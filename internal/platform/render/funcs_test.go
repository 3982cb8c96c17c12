package render

import (
	"testing"

	"github.com/ehr/fhirconverter/internal/platform/hl7v2"
)

func TestHL7Date(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"2005", "2005"},
		{"200501", "2005-01"},
		{"20050110", "2005-01-10"},
		{"200501100455", "2005-01-10T04:55:00Z"},
		{"20050110045504", "2005-01-10T04:55:04Z"},
		{"20050110045504.123", "2005-01-10T04:55:04.123Z"},
		{"20050110045504-0500", "2005-01-10T04:55:04-05:00"},
		{"2005011004+0130", "2005-01-10T04:00:00+01:30"},
		{"", ""},
		{"2005011", ""},
		{"2005ab10", ""},
		{"20050110045504-05", ""},
		{"20050110045504.", ""},
		{&hl7v2.Component{Value: "19241010"}, "1924-10-10"},
		{20050110, "2005-01-10"},
	}
	for _, tt := range tests {
		if got := hl7Date(tt.in); got != tt.want {
			t.Errorf("hl7Date(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToJSON(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"plain", `"plain"`},
		{"quote \" and \\ and \n", `"quote \" and \\ and \n"`},
		{&hl7v2.Component{Value: "DUCK"}, `"DUCK"`},
		{&hl7v2.Field{Value: "A^B"}, `"A^B"`},
		{42, `42`},
		{nil, `null`},
		{map[string]interface{}{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		got, err := toJSON(tt.in)
		if err != nil {
			t.Fatalf("toJSON(%v): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("toJSON(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := toJSON(make(chan int)); err == nil {
		t.Error("expected error for unencodable value")
	}
}

func TestSelectFunc(t *testing.T) {
	got, err := selectFunc(nil, "a", "x")
	if err != nil || len(got) != 0 {
		t.Errorf("selectFunc(nil) = %v, %v", got, err)
	}
	if _, err := selectFunc(3, "a"); err == nil {
		t.Error("expected error for non-list input")
	}
	items := []map[string]interface{}{{"a": "x"}, {"a": "y"}}
	got, err = selectFunc(items, "a", "y")
	if err != nil || len(got) != 1 {
		t.Errorf("selectFunc = %v, %v", got, err)
	}
}
