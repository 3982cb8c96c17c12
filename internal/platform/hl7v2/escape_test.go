package hl7v2

import (
	"testing"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

func TestUnescape(t *testing.T) {
	enc := DefaultEncodingCharacters()
	tests := []struct {
		in   string
		want string
	}{
		{`\F\n`, "|n"},
		{`\S\n`, "^n"},
		{`\T\n`, "&n"},
		{`\R\n`, "~n"},
		{`\E\n`, `\n`},
		{`\.br\n`, `\nn`},
		{`\X6566\n`, "efn"},
		{`\XC3A9\`, "é"},
		{`\XE9\`, "é"},
		{`\X\`, `\X\`},
		{`plain text`, "plain text"},
		{`a\F\b\S\c`, "a|b^c"},
		{`\Q\`, `\Q\`},
	}

	for _, tt := range tests {
		got, err := Unescape(tt.in, enc)
		if err != nil {
			t.Errorf("Unescape(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Unescape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnescape_CustomDelimiters(t *testing.T) {
	enc, err := EncodingFromHeader("MSH#$%\\*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Unescape(`\F\\S\\T\\R\`, enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "#$*%" {
		t.Errorf("got %q, want %q", got, "#$*%")
	}
}

func TestUnescape_OddHex(t *testing.T) {
	_, err := Unescape(`\X656\n`, DefaultEncodingCharacters())
	if err == nil {
		t.Fatal("expected error for odd hex payload")
	}
	if fault.KindOf(err) != fault.InvalidHexadecimalNumber {
		t.Errorf("expected InvalidHexadecimalNumber, got %s", fault.KindOf(err))
	}
}

func TestEscape_RoundTrip(t *testing.T) {
	enc := DefaultEncodingCharacters()
	in := `a|b^c~d&e\f`
	escaped := Escape(in, enc)
	if escaped != `a\F\b\S\c\R\d\T\e\E\f` {
		t.Errorf("Escape = %q", escaped)
	}
	back, err := Unescape(escaped, enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != in {
		t.Errorf("round trip = %q, want %q", back, in)
	}
}
