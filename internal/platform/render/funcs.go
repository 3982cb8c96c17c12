package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/spf13/cast"

	"github.com/ehr/fhirconverter/internal/platform/pathfilter"
)

// baseFuncs returns the functions available to every template: the
// slim-sprig library plus the converter helpers. include is bound per call.
func baseFuncs() template.FuncMap {
	funcs := sprig.FuncMap()
	funcs["include"] = func(string, interface{}) (string, error) {
		return "", fmt.Errorf("include called outside of a render")
	}
	funcs["select"] = selectFunc
	funcs["hasValueAtPath"] = hasValueAtPath
	funcs["toJSON"] = toJSON
	funcs["hl7Date"] = hl7Date
	return funcs
}

// selectFunc is pathfilter.Select over any slice value.
func selectFunc(items interface{}, path string, values ...string) ([]interface{}, error) {
	if items == nil {
		return []interface{}{}, nil
	}
	list, ok := pathfilter.AsSlice(items)
	if !ok {
		return nil, fmt.Errorf("select: %T is not a list", items)
	}
	return pathfilter.Select(list, path, values), nil
}

func hasValueAtPath(value interface{}, path string, values ...string) bool {
	return pathfilter.HasValueAtPath(value, pathfilter.SplitPath(path), values)
}

// toJSON encodes v for embedding in JSON output. Values with a String
// method, such as HL7v2 components, are encoded as their text.
func toJSON(v interface{}) (string, error) {
	if s, ok := v.(fmt.Stringer); ok {
		v = s.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("toJSON: %w", err)
	}
	return string(data), nil
}

// hl7Date converts an HL7v2 DTM value (YYYY[MM[DD[HHMM[SS[.S+]]]]][+/-ZZZZ])
// into FHIR date or dateTime text. Times without an offset are taken as UTC.
// Malformed values render as "".
func hl7Date(v interface{}) string {
	var s string
	if str, ok := v.(fmt.Stringer); ok {
		s = str.String()
	} else {
		s = cast.ToString(v)
	}
	s = strings.TrimSpace(s)

	offset := ""
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		offset, s = s[i:], s[:i]
		if len(offset) != 5 || !allDigits(offset[1:]) {
			return ""
		}
		offset = offset[:3] + ":" + offset[3:]
	}

	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac, s = s[i:], s[:i]
		if len(frac) < 2 || !allDigits(frac[1:]) {
			return ""
		}
	}

	if !allDigits(s) {
		return ""
	}
	switch len(s) {
	case 4:
		return s
	case 6:
		return s[:4] + "-" + s[4:6]
	case 8:
		return s[:4] + "-" + s[4:6] + "-" + s[6:8]
	case 10, 12, 14:
	default:
		return ""
	}

	out := s[:4] + "-" + s[4:6] + "-" + s[6:8] + "T" + s[8:10]
	if len(s) >= 12 {
		out += ":" + s[10:12]
	} else {
		out += ":00"
	}
	if len(s) == 14 {
		out += ":" + s[12:14] + frac
	} else {
		out += ":00"
	}
	if offset == "" {
		offset = "Z"
	}
	return out + offset
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
