package hl7v2

import (
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

var escapeSequence = regexp.MustCompile(`\\(F|S|E|T|R|\.br|X[0-9A-F]+)\\`)

// Unescape decodes the escape sequences of a leaf value in a single
// left-to-right pass. A \.br\ line break stays the two characters `\n`;
// an empty \X\ payload does not match and is left as is.
func Unescape(text string, enc EncodingCharacters) (string, error) {
	if strings.IndexByte(text, '\\') < 0 {
		return text, nil
	}

	var decodeErr error
	out := escapeSequence.ReplaceAllStringFunc(text, func(token string) string {
		body := token[1 : len(token)-1]
		switch body {
		case "F":
			return string([]byte{enc.FieldSeparator})
		case "S":
			return string([]byte{enc.ComponentSeparator})
		case "T":
			return string([]byte{enc.SubcomponentSeparator})
		case "R":
			return string([]byte{enc.RepetitionSeparator})
		case "E":
			return `\`
		case ".br":
			return `\n`
		}

		decoded, err := decodeHex(body[1:])
		if err != nil {
			if decodeErr == nil {
				decodeErr = err
			}
			return token
		}
		return decoded
	})
	if decodeErr != nil {
		return "", decodeErr
	}
	return out, nil
}

// decodeHex turns the digit pairs of an \X..\ payload into text. Payloads
// that are not valid UTF-8 map each byte to the code point of the same value.
func decodeHex(payload string) (string, error) {
	if len(payload)%2 != 0 {
		return "", fault.Newf(fault.InvalidHexadecimalNumber, "hexadecimal payload %q has an odd number of digits", payload)
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return "", fault.Wrapf(fault.InvalidHexadecimalNumber, err, "hexadecimal payload %q", payload)
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes), nil
}
