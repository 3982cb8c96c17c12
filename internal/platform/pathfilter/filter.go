// Package pathfilter selects elements of nested map/array data by a dotted
// path and a set of acceptable values.
//
// Path syntax: "a.b" walks map keys, "[]" matches any element of an array,
// "[n]" a specific element and "*" any map key.
package pathfilter

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

const (
	anyElement = "[]"
	anyKey     = "*"
)

// SplitPath tokenizes path at '.', '[' and ']' boundaries. Bracket markers
// stay attached to their index: "a.b[5].c" yields a, b, [5], c.
func SplitPath(path string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		switch ch := path[i]; ch {
		case '.':
			flush()
		case '[':
			flush()
			cur.WriteByte(ch)
		case ']':
			cur.WriteByte(ch)
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return tokens
}

// Select returns the elements of input that have one of values at path. An
// empty values list turns the filter into an existence check.
func Select(input []interface{}, path string, values []string) []interface{} {
	tokens := SplitPath(path)
	out := make([]interface{}, 0, len(input))
	for _, item := range input {
		if HasValueAtPath(item, tokens, values) {
			out = append(out, item)
		}
	}
	return out
}

// HasValueAtPath reports whether value contains one of values at the
// tokenized path. Missing keys and out of range indexes simply do not match.
func HasValueAtPath(value interface{}, path []string, values []string) bool {
	if len(path) == 0 {
		return len(values) == 0 || contains(values, value)
	}

	token, rest := path[0], path[1:]
	switch {
	case token == anyElement:
		elems, ok := asSlice(value)
		if !ok {
			return false
		}
		if len(rest) == 0 {
			if len(values) == 0 {
				return true
			}
			for _, e := range elems {
				if contains(values, e) {
					return true
				}
			}
			return false
		}
		for _, e := range elems {
			if HasValueAtPath(e, rest, values) {
				return true
			}
		}
		return false

	case isIndex(token):
		n, err := strconv.Atoi(token[1 : len(token)-1])
		if err != nil {
			return false
		}
		elems, ok := asSlice(value)
		if !ok || n < 0 || n >= len(elems) {
			return false
		}
		return HasValueAtPath(elems[n], rest, values)

	default:
		m, ok := asMap(value)
		if !ok {
			return false
		}
		if token == anyKey {
			for _, v := range m {
				if HasValueAtPath(v, rest, values) {
					return true
				}
			}
			return false
		}
		v, ok := m[token]
		if !ok {
			return false
		}
		return HasValueAtPath(v, rest, values)
	}
}

func isIndex(token string) bool {
	return len(token) > 2 && token[0] == '[' && token[len(token)-1] == ']'
}

func contains(values []string, v interface{}) bool {
	s, ok := stringify(v)
	if !ok {
		return false
	}
	for _, want := range values {
		if want == s {
			return true
		}
	}
	return false
}

// stringify renders scalars the way they read in source data; containers and
// nil have no string form.
func stringify(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case interface{ String() string }:
		return t.String(), true
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return s, true
}

// AsSlice returns the elements of any slice or array value.
func AsSlice(v interface{}) ([]interface{}, bool) {
	return asSlice(v)
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []string:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
