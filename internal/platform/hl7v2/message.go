package hl7v2

import (
	"strings"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

// Message represents a parsed HL7v2 message. Meta holds the raw text of each
// segment and Segments the parsed form at the same index; segment 0 is
// always the MSH header.
type Message struct {
	Raw      string
	Encoding EncodingCharacters
	Meta     []string
	Segments []*Segment
}

// Segment represents a single HL7v2 segment. Fields[0] is the segment id.
type Segment struct {
	Value  string
	Fields []*Field
}

// Field represents a field which can have components and repetitions. A
// repeated field exposes its first repetition's components as Components.
type Field struct {
	Value      string
	Components []*Component
	Repeats    []*Field
}

// Component is a leaf value. IsAccessed records whether a reader has
// dereferenced it; it is the only state mutated after parsing.
type Component struct {
	Value         string
	Subcomponents []string
	IsAccessed    bool

	// Byte offsets of the raw component text within Message.Raw.
	Start int
	End   int
}

// Parse parses a raw HL7v2 message into its segment, field, component and
// repeat tree. Segments may be separated by \r\n, \r or \n; empty segments
// are discarded.
func Parse(message string) (*Message, error) {
	if message == "" {
		return nil, fault.New(fault.NullOrEmptyInput, "message is empty")
	}

	spans := splitSegments(message)
	if len(spans) == 0 {
		return nil, fault.New(fault.InputParsingError, "no segments found")
	}

	header := message[spans[0].start:spans[0].end]
	enc, err := EncodingFromHeader(header)
	if err != nil {
		return nil, fault.Wrap(fault.InputParsingError, err, "invalid message header")
	}

	msg := &Message{
		Raw:      message,
		Encoding: enc,
		Meta:     make([]string, 0, len(spans)),
		Segments: make([]*Segment, 0, len(spans)),
	}

	for i, sp := range spans {
		raw := message[sp.start:sp.end]
		seg, err := parseSegment(raw, sp.start, enc, i == 0)
		if err != nil {
			return nil, fault.Wrapf(fault.InputParsingError, err, "segment %d (%s)", i+1, segmentID(raw, enc))
		}
		msg.Meta = append(msg.Meta, raw)
		msg.Segments = append(msg.Segments, seg)
	}

	return msg, nil
}

type span struct {
	start, end int
}

// splitSegments returns the byte ranges of the non-empty segments of text.
func splitSegments(text string) []span {
	var spans []span
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '\r' && text[i] != '\n' {
			continue
		}
		if i > start {
			spans = append(spans, span{start, i})
		}
		start = i + 1
	}
	if start < len(text) {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

// SplitSegments returns the non-empty segment strings of a raw message.
func SplitSegments(text string) []string {
	spans := splitSegments(text)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = text[sp.start:sp.end]
	}
	return out
}

func segmentID(raw string, enc EncodingCharacters) string {
	if i := strings.IndexByte(raw, enc.FieldSeparator); i >= 0 {
		return raw[:i]
	}
	return raw
}

// parseSegment splits one segment into fields. offset is the position of
// raw within the whole message.
func parseSegment(raw string, offset int, enc EncodingCharacters, isHeader bool) (*Segment, error) {
	seg := &Segment{Value: raw}

	pos := offset
	for j, text := range strings.Split(raw, string([]byte{enc.FieldSeparator})) {
		var field *Field
		if j == 0 || (isHeader && j == 1) {
			// Segment id and MSH-2 are taken verbatim: MSH-2 is made of the
			// delimiters themselves.
			field = literalField(text, pos)
		} else {
			var err error
			field, err = parseField(text, pos, enc)
			if err != nil {
				return nil, err
			}
		}
		seg.Fields = append(seg.Fields, field)
		pos += len(text) + 1
	}

	return seg, nil
}

func literalField(text string, offset int) *Field {
	return &Field{
		Value: text,
		Components: []*Component{{
			Value:         text,
			Subcomponents: []string{text},
			Start:         offset,
			End:           offset + len(text),
		}},
	}
}

// parseField handles repetitions first, then components of each repetition.
func parseField(raw string, offset int, enc EncodingCharacters) (*Field, error) {
	if strings.IndexByte(raw, enc.RepetitionSeparator) < 0 {
		components, err := parseComponents(raw, offset, enc)
		if err != nil {
			return nil, err
		}
		return &Field{Value: raw, Components: components}, nil
	}

	f := &Field{Value: raw}
	pos := offset
	for _, text := range strings.Split(raw, string([]byte{enc.RepetitionSeparator})) {
		components, err := parseComponents(text, pos, enc)
		if err != nil {
			return nil, err
		}
		f.Repeats = append(f.Repeats, &Field{Value: text, Components: components})
		pos += len(text) + 1
	}
	f.Components = f.Repeats[0].Components
	return f, nil
}

func parseComponents(raw string, offset int, enc EncodingCharacters) ([]*Component, error) {
	parts := strings.Split(raw, string([]byte{enc.ComponentSeparator}))
	components := make([]*Component, 0, len(parts))
	pos := offset
	for _, text := range parts {
		c, err := parseComponent(text, pos, enc)
		if err != nil {
			return nil, err
		}
		components = append(components, c)
		pos += len(text) + 1
	}
	return components, nil
}

func parseComponent(raw string, offset int, enc EncodingCharacters) (*Component, error) {
	value, err := Unescape(raw, enc)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(raw, string([]byte{enc.SubcomponentSeparator}))
	subs := make([]string, len(parts))
	for i, p := range parts {
		if subs[i], err = Unescape(p, enc); err != nil {
			return nil, err
		}
	}

	return &Component{
		Value:         value,
		Subcomponents: subs,
		Start:         offset,
		End:           offset + len(raw),
	}, nil
}

// Header returns the MSH segment.
func (m *Message) Header() *Segment {
	if len(m.Segments) == 0 {
		return &Segment{}
	}
	return m.Segments[0]
}

// Type returns the raw MSH-9 message type (e.g. "ADT^A01").
func (m *Message) Type() string {
	return m.headerValue(8)
}

// ControlID returns MSH-10.
func (m *Message) ControlID() string {
	return m.headerValue(9)
}

// Version returns MSH-12.
func (m *Message) Version() string {
	return m.headerValue(11)
}

// headerValue reads an MSH field without marking it accessed. MSH fields sit
// one index below their HL7 number because MSH-1 is the separator itself.
func (m *Message) headerValue(index int) string {
	h := m.Header()
	if index >= len(h.Fields) {
		return ""
	}
	return h.Fields[index].Value
}

// Segment returns the first segment with the given id, or an empty
// placeholder if the message has none.
func (m *Message) Segment(name string) *Segment {
	for _, seg := range m.Segments {
		if seg.Type() == name {
			return seg
		}
	}
	return &Segment{}
}

// SegmentsByType returns all segments with the given id.
func (m *Message) SegmentsByType(name string) []*Segment {
	var result []*Segment
	for _, seg := range m.Segments {
		if seg.Type() == name {
			result = append(result, seg)
		}
	}
	return result
}

// Type returns the segment id.
func (s *Segment) Type() string {
	if len(s.Fields) == 0 {
		return ""
	}
	return s.Fields[0].Value
}

// String returns the raw field text.
func (f *Field) String() string {
	return f.Value
}

// String returns the decoded component value.
func (c *Component) String() string {
	return c.Value
}
