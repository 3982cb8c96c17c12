package hl7v2

import (
	"strings"
	"time"
)

// ACK codes.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// BuildACK creates the ACK text answering incoming. code is AA, AE or AR; a
// non-empty text is carried in MSA-3.
//
// The ACK swaps the sending and receiving application/facility of the
// original message and references its control ID in MSA-2.
func BuildACK(incoming *Message, code, text string) string {
	enc := incoming.Encoding
	h := incoming.Header()
	field := func(i int) string {
		if i < len(h.Fields) {
			return h.Fields[i].Value
		}
		return ""
	}

	trigger := ""
	if parts := strings.SplitN(incoming.Type(), string([]byte{enc.ComponentSeparator}), 3); len(parts) >= 2 {
		trigger = parts[1]
	}

	return buildACK(enc, ackHeader{
		sendingApp:   field(4),
		sendingFac:   field(5),
		receivingApp: field(2),
		receivingFac: field(3),
		trigger:      trigger,
		version:      incoming.Version(),
	}, code, incoming.ControlID(), text)
}

// BuildReject creates an AR acknowledgement for input that could not be
// parsed far enough to read its header.
func BuildReject(text string) string {
	return buildACK(DefaultEncodingCharacters(), ackHeader{version: "2.5.1"}, AckReject, "", text)
}

type ackHeader struct {
	sendingApp, sendingFac     string
	receivingApp, receivingFac string
	trigger, version           string
}

func buildACK(enc EncodingCharacters, h ackHeader, code, controlID, text string) string {
	now := time.Now().UTC()
	fs := string([]byte{enc.FieldSeparator})
	msgType := "ACK"
	if h.trigger != "" {
		msgType += string([]byte{enc.ComponentSeparator}) + h.trigger
	}

	msh := strings.Join([]string{
		"MSH",
		enc.String()[1:],
		h.sendingApp,
		h.sendingFac,
		h.receivingApp,
		h.receivingFac,
		now.Format("20060102150405"),
		"",
		msgType,
		"ACK" + now.Format("20060102150405.000"),
		"P",
		h.version,
	}, fs)

	msa := []string{"MSA", code, controlID}
	if text != "" {
		msa = append(msa, Escape(text, enc))
	}
	return msh + "\r" + strings.Join(msa, fs)
}

// Escape encodes delimiter characters of text as escape sequences; it is the
// inverse of Unescape for the delimiter tokens.
func Escape(text string, enc EncodingCharacters) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		switch ch := text[i]; ch {
		case enc.EscapeCharacter:
			b.WriteString(`\E\`)
		case enc.FieldSeparator:
			b.WriteString(`\F\`)
		case enc.ComponentSeparator:
			b.WriteString(`\S\`)
		case enc.SubcomponentSeparator:
			b.WriteString(`\T\`)
		case enc.RepetitionSeparator:
			b.WriteString(`\R\`)
		case '\r', '\n':
			b.WriteString(`\.br\`)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
