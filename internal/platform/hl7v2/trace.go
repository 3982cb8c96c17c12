package hl7v2

import "unicode/utf8"

// TraceInfo reports the message elements a render pass never read.
type TraceInfo struct {
	Segments []UnusedSegment `json:"segments"`
}

// UnusedSegment groups the unused fields of one segment. Line is 1-based.
type UnusedSegment struct {
	Type   string        `json:"type"`
	Line   int           `json:"line"`
	Fields []UnusedField `json:"fields"`
}

// UnusedField groups the unused components of one field.
type UnusedField struct {
	Index      int               `json:"index"`
	Components []UnusedComponent `json:"components"`
}

// UnusedComponent is a component that was never accessed. Start and End
// are character offsets into the raw message, End exclusive.
type UnusedComponent struct {
	Index int    `json:"index"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// BuildTrace walks msg after rendering and collects the components whose
// IsAccessed flag is still false. Segment ids and MSH-2 always count as
// read, and empty components carry no data to report.
func BuildTrace(msg *Message) *TraceInfo {
	info := &TraceInfo{Segments: []UnusedSegment{}}
	if msg == nil || len(msg.Segments) == 0 {
		return info
	}

	offsets := newCharOffsets(msg.Raw)
	for i, seg := range msg.Segments {
		var fields []UnusedField
		for j, field := range seg.Fields {
			if j == 0 || (i == 0 && j == 1) || field == nil || field.Value == "" {
				continue
			}

			var components []UnusedComponent
			for k, c := range field.Components {
				if c.IsAccessed || c.Value == "" {
					continue
				}
				components = append(components, UnusedComponent{
					Index: k,
					Value: c.Value,
					Start: offsets.at(c.Start),
					End:   offsets.at(c.End),
				})
			}
			if len(components) > 0 {
				fields = append(fields, UnusedField{Index: j, Components: components})
			}
		}
		if len(fields) > 0 {
			info.Segments = append(info.Segments, UnusedSegment{
				Type:   seg.Type(),
				Line:   i + 1,
				Fields: fields,
			})
		}
	}
	return info
}

// charOffsets converts byte offsets to character offsets. ASCII messages,
// the common case, skip the conversion entirely.
type charOffsets struct {
	text  string
	ascii bool
}

func newCharOffsets(text string) charOffsets {
	ascii := true
	for i := 0; i < len(text); i++ {
		if text[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	return charOffsets{text: text, ascii: ascii}
}

func (o charOffsets) at(byteOffset int) int {
	if o.ascii || byteOffset <= 0 {
		return byteOffset
	}
	if byteOffset > len(o.text) {
		byteOffset = len(o.text)
	}
	return utf8.RuneCountInString(o.text[:byteOffset])
}
