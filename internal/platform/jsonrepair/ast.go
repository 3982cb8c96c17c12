package jsonrepair

import (
	"strings"
)

// Node is a lenient JSON value after repair.
type Node interface {
	// Present reports whether the node survives into the output.
	Present() bool
	write(b *strings.Builder)
}

// Object keeps its present members in source order.
type Object struct {
	Members []Member
}

// Member is one key/value pair of an Object. Key is the raw quoted text.
type Member struct {
	Key   string
	Value Node
}

// Array keeps its present elements in source order.
type Array struct {
	Elements []Node
}

// Scalar is a string, number or literal with its raw source text.
type Scalar struct {
	Raw string
}

// Absent stands for a value that was dropped during repair.
type Absent struct{}

func (o *Object) Present() bool { return len(o.Members) > 0 }
func (a *Array) Present() bool  { return len(a.Elements) > 0 }
func (s *Scalar) Present() bool { return true }
func (Absent) Present() bool    { return false }

func (o *Object) write(b *strings.Builder) {
	b.WriteByte('{')
	for i, m := range o.Members {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(b, m.Key)
		b.WriteByte(':')
		m.Value.write(b)
	}
	b.WriteByte('}')
}

func (a *Array) write(b *strings.Builder) {
	b.WriteByte('[')
	for i, e := range a.Elements {
		if i > 0 {
			b.WriteByte(',')
		}
		e.write(b)
	}
	b.WriteByte(']')
}

func (s *Scalar) write(b *strings.Builder) {
	if strings.HasPrefix(s.Raw, `"`) {
		writeString(b, s.Raw)
		return
	}
	b.WriteString(s.Raw)
}

func (Absent) write(*strings.Builder) {}

// writeString copies a raw quoted string, escaping control characters that
// rendering left unescaped.
func writeString(b *strings.Builder, raw string) {
	const hex = "0123456789abcdef"
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\r':
			b.WriteString(`\r`)
		case ch == '\t':
			b.WriteString(`\t`)
		case ch < 0x20:
			b.WriteString(`\u00`)
			b.WriteByte(hex[ch>>4])
			b.WriteByte(hex[ch&0xF])
		default:
			b.WriteByte(ch)
		}
	}
}

// Render serializes n as strict JSON. An absent node renders as "{}".
func Render(n Node) string {
	if n == nil || !n.Present() {
		return "{}"
	}
	var b strings.Builder
	n.write(&b)
	return b.String()
}
