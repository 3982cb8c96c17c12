package hl7v2

import (
	"strconv"
	"strings"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

// LookupStatus tags the outcome of an element lookup.
type LookupStatus int

const (
	Found LookupStatus = iota
	// Absent means the position does not exist in this message instance.
	Absent
	// InvalidKey means the name is not a property of the element.
	InvalidKey
)

// Lookup is the result of indexing into a Segment or Field. Absent lookups
// carry an empty placeholder so sparse positions read as empty values.
type Lookup struct {
	Value  interface{}
	Status LookupStatus
}

// ByIndex returns field i. Indexes past the end yield an empty placeholder
// field that is not attached to the segment.
func (s *Segment) ByIndex(i int) Lookup {
	if i < 0 || i >= len(s.Fields) {
		return Lookup{Value: &Field{}, Status: Absent}
	}
	return Lookup{Value: s.Fields[i], Status: Found}
}

// ByName resolves the well-known segment properties Value and Fields.
func (s *Segment) ByName(name string) Lookup {
	switch strings.ToLower(name) {
	case "value":
		return Lookup{Value: s.Value, Status: Found}
	case "fields":
		return Lookup{Value: s.Fields, Status: Found}
	}
	return Lookup{Status: InvalidKey}
}

// Get is the dynamic indexer used by templates: ints and numeric strings
// index fields, other strings resolve properties.
func (s *Segment) Get(key interface{}) (interface{}, error) {
	return dynamicGet(key, s.ByIndex, s.ByName)
}

// Field returns field i, or an empty placeholder.
func (s *Segment) Field(i int) *Field {
	return s.ByIndex(i).Value.(*Field)
}

// ByIndex returns component i and marks it accessed. Indexes past the end
// yield an empty placeholder and mark nothing.
func (f *Field) ByIndex(i int) Lookup {
	if i < 0 || i >= len(f.Components) {
		return Lookup{Value: &Component{}, Status: Absent}
	}
	c := f.Components[i]
	c.IsAccessed = true
	return Lookup{Value: c, Status: Found}
}

// ByName resolves the well-known field properties Value, Components and
// Repeats.
func (f *Field) ByName(name string) Lookup {
	switch strings.ToLower(name) {
	case "value":
		return Lookup{Value: f.Value, Status: Found}
	case "components":
		return Lookup{Value: f.Components, Status: Found}
	case "repeats":
		return Lookup{Value: f.Repeats, Status: Found}
	}
	return Lookup{Status: InvalidKey}
}

// Get is the dynamic indexer used by templates.
func (f *Field) Get(key interface{}) (interface{}, error) {
	return dynamicGet(key, f.ByIndex, f.ByName)
}

// Component returns component i (marking it accessed), or an empty
// placeholder.
func (f *Field) Component(i int) *Component {
	return f.ByIndex(i).Value.(*Component)
}

// Repeat returns repetition i. A field without repetitions is its own single
// repetition.
func (f *Field) Repeat(i int) *Field {
	if len(f.Repeats) == 0 {
		if i == 0 {
			return f
		}
		return &Field{}
	}
	if i < 0 || i >= len(f.Repeats) {
		return &Field{}
	}
	return f.Repeats[i]
}

// Repetitions returns the repeats of f, or f itself when it does not repeat.
// Empty fields have no repetitions.
func (f *Field) Repetitions() []*Field {
	if len(f.Repeats) > 0 {
		return f.Repeats
	}
	if f.Value == "" {
		return nil
	}
	return []*Field{f}
}

// Subcomponent returns subcomponent i, or "" when absent.
func (c *Component) Subcomponent(i int) string {
	if i < 0 || i >= len(c.Subcomponents) {
		return ""
	}
	return c.Subcomponents[i]
}

func dynamicGet(key interface{}, byIndex func(int) Lookup, byName func(string) Lookup) (interface{}, error) {
	switch k := key.(type) {
	case int:
		return byIndex(k).Value, nil
	case int64:
		return byIndex(int(k)).Value, nil
	case string:
		if n, err := strconv.Atoi(k); err == nil {
			return byIndex(n).Value, nil
		}
		l := byName(k)
		if l.Status == InvalidKey {
			return nil, fault.Newf(fault.PropertyNotFound, "property %q not found", k)
		}
		return l.Value, nil
	}
	return nil, fault.Newf(fault.PropertyNotFound, "unsupported key type %T", key)
}
