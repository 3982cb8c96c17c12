package jsonrepair

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"stray commas", `{,"a":"b",,"c":"d",}`, `{"a":"b","c":"d"}`},
		{"empty arrays collapse", `{"a":[,],"b":[,]}`, `{}`},
		{"empty string dropped", `{"a":"","b":"x"}`, `{"b":"x"}`},
		{"nested empties collapse", `{"a":{"b":{"c":""},"d":[{}, [], ""]},"e":1}`, `{"e":1}`},
		{"top level array", `[1]`, ""},
		{"array stray commas", `{"a":[,1,,2,]}`, `{"a":[1,2]}`},
		{"empty top level", `{}`, `{}`},
		{"whitespace kept out", " {\n  \"a\" : true ,\n  \"b\" : null\n} ", `{"a":true,"b":null}`},
		{"escaped quotes and delimiters", `{"a":"say \"hi\", {ok}"}`, `{"a":"say \"hi\", {ok}"}`},
		{"numbers verbatim", `{"a":1.50,"b":-2e10,"c":0}`, `{"a":1.50,"b":-2e10,"c":0}`},
		{"raw control characters", "{\"a\":\"line1\nline2\ttab\"}", `{"a":"line1\nline2\ttab"}`},
		{"unicode escape", `{"a":"\u00e9"}`, `{"a":"\u00e9"}`},
		{"byte order mark", "\ufeff{\"a\":1}", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.in)
			if tt.want == "" {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Repair(%q) = %s, want %s", tt.in, got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("output is not valid JSON: %s", got)
			}
		})
	}
}

func TestRepair_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line int
		col  int
	}{
		{"missing comma", `{"a":"1""b":"2"}`, 1, 9},
		{"dangling value", `{"a"}`, 1, 5},
		{"mismatched brace", `{"a":[1}`, 1, 8},
		{"unterminated object", `{"a":1`, 1, 7},
		{"unquoted token", `{"a":abc}`, 1, 6},
		{"unterminated string", `{"a":"abc}`, 1, 6},
		{"trailing content", `{"a":1} {"b":2}`, 1, 9},
		{"not an object", `["a"]`, 1, 1},
		{"empty input", ``, 1, 1},
		{"bad number", `{"a":01}`, 1, 6},
		{"bad escape", `{"a":"\q"}`, 1, 7},
		{"second line", "{\"a\":1,\n\"b\" 2}", 2, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Repair(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if fault.KindOf(err) != fault.JSONParsingError {
				t.Errorf("expected JsonParsingError, got %s", fault.KindOf(err))
			}
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("expected SyntaxError in chain, got %v", err)
			}
			if se.Line != tt.line || se.Column != tt.col {
				t.Errorf("expected position %d:%d, got %d:%d (%s)", tt.line, tt.col, se.Line, se.Column, se.Msg)
			}
		})
	}
}

func TestRepair_MissingCommaMessage(t *testing.T) {
	_, err := Repair(`{"a":"1""b":"2"}`)
	if err == nil || !strings.Contains(err.Error(), "missing comma") {
		t.Errorf("expected missing comma message, got %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	got, err := ParseJSON(`{,"resourceType":"Bundle","entry":[{"resource":{"id":"","value":12.50}},{}],}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["resourceType"] != "Bundle" {
		t.Errorf("expected Bundle, got %v", got["resourceType"])
	}

	entries := got["entry"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("expected empty entry dropped, got %d entries", len(entries))
	}
	res := entries[0].(map[string]interface{})["resource"].(map[string]interface{})
	if _, ok := res["id"]; ok {
		t.Error("expected empty id to be dropped")
	}
	n, ok := res["value"].(json.Number)
	if !ok || n.String() != "12.50" {
		t.Errorf("expected json.Number 12.50, got %#v", res["value"])
	}
}

func TestParseJSON_EmptyObject(t *testing.T) {
	got, err := ParseJSON(`{"a":{"b":""}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil map, got %#v", got)
	}
}

func TestParseJSON_DeepNesting(t *testing.T) {
	in := strings.Repeat(`{"a":`, maxDepth+1) + "1" + strings.Repeat("}", maxDepth+1)
	if _, err := ParseJSON(in); fault.KindOf(err) != fault.JSONParsingError {
		t.Errorf("expected JsonParsingError for excessive nesting, got %v", err)
	}
}
