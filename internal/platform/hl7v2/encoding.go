package hl7v2

import (
	"github.com/ehr/fhirconverter/internal/platform/fault"
)

const (
	// HeaderSegmentID is the segment id every message must start with.
	HeaderSegmentID = "MSH"

	// headerSeparatorsEnd is the minimum header length holding all five
	// delimiters (MSH plus positions 3 through 7).
	headerSeparatorsEnd = 8

	escapeCharacter = '\\'
)

// EncodingCharacters are the five delimiters declared by a message header.
// They are derived once from MSH positions 3-7 and shared by every segment.
type EncodingCharacters struct {
	FieldSeparator        byte
	ComponentSeparator    byte
	RepetitionSeparator   byte
	EscapeCharacter       byte
	SubcomponentSeparator byte
}

// DefaultEncodingCharacters returns the conventional |^~\& delimiters.
func DefaultEncodingCharacters() EncodingCharacters {
	return EncodingCharacters{
		FieldSeparator:        '|',
		ComponentSeparator:    '^',
		RepetitionSeparator:   '~',
		EscapeCharacter:       '\\',
		SubcomponentSeparator: '&',
	}
}

// EncodingFromHeader validates header and extracts its delimiters.
func EncodingFromHeader(header string) (EncodingCharacters, error) {
	if err := ValidateHeader(header); err != nil {
		return EncodingCharacters{}, err
	}
	return EncodingCharacters{
		FieldSeparator:        header[3],
		ComponentSeparator:    header[4],
		RepetitionSeparator:   header[5],
		EscapeCharacter:       header[6],
		SubcomponentSeparator: header[7],
	}, nil
}

// String returns the delimiters as they appear in MSH-2, prefixed by the
// field separator.
func (e EncodingCharacters) String() string {
	return string([]byte{
		e.FieldSeparator,
		e.ComponentSeparator,
		e.RepetitionSeparator,
		e.EscapeCharacter,
		e.SubcomponentSeparator,
	})
}

// ValidateHeader checks the structural prerequisites of an MSH segment. The
// checks run in a fixed order so a malformed header always reports the same
// kind: length, segment id, separator length, distinctness, escape character.
func ValidateHeader(header string) error {
	if isBlank(header) || len(header) < len(HeaderSegmentID) {
		return fault.New(fault.InvalidMessage, "message header is empty or too short")
	}
	if !equalFoldASCII(header[:len(HeaderSegmentID)], HeaderSegmentID) {
		return fault.Newf(fault.InvalidMessage, "message must start with %s, got %q", HeaderSegmentID, header[:len(HeaderSegmentID)])
	}
	if len(header) < headerSeparatorsEnd {
		return fault.Newf(fault.MissingSeparators, "header %q does not declare all five separators", header)
	}

	seps := header[3:headerSeparatorsEnd]
	for i := 0; i < len(seps); i++ {
		for j := i + 1; j < len(seps); j++ {
			if seps[i] == seps[j] {
				return fault.Newf(fault.DuplicateSeparators, "separator %q is declared more than once in %q", seps[i], seps)
			}
		}
	}

	if header[6] != escapeCharacter {
		return fault.Newf(fault.InvalidEscapeCharacter, "escape character must be a backslash, got %q", header[6])
	}
	return nil
}

func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n', '\v', '\f':
		default:
			return false
		}
	}
	return true
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
