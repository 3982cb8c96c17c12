package ccda

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

const (
	// TextKey holds the character data of an element.
	TextKey = "_"
	// OriginalDataKey holds the raw document text on the root map.
	OriginalDataKey = "_originalData"
)

// ParseToMap reads a C-CDA XML document into nested string-keyed maps for
// template rendering.
//
// Each element becomes a map whose keys are its attributes and its child
// elements, both by their prefixed names. Namespace declarations are
// dropped. Repeated child tags collapse into a slice in document order, and
// trimmed text content is stored under "_". The returned map holds the
// document element under its tag plus the raw XML under "_originalData".
func ParseToMap(xmlData []byte) (map[string]interface{}, error) {
	if len(strings.TrimSpace(string(xmlData))) == 0 {
		return nil, fault.New(fault.NullOrEmptyInput, "ccda: XML data is empty")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, fault.Wrap(fault.InputParsingError, err, "ccda: failed to parse XML")
	}
	root := doc.Root()
	if root == nil {
		return nil, fault.New(fault.InputParsingError, "ccda: document has no root element")
	}

	return map[string]interface{}{
		root.FullTag():  elementToMap(root),
		OriginalDataKey: string(xmlData),
	}, nil
}

func elementToMap(el *etree.Element) map[string]interface{} {
	m := make(map[string]interface{}, len(el.Attr)+len(el.Child))
	for _, a := range el.Attr {
		if isNamespaceDecl(a) {
			continue
		}
		m[a.FullKey()] = a.Value
	}

	var text strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			addChild(m, t.FullTag(), elementToMap(t))
		case *etree.CharData:
			text.WriteString(t.Data)
		}
	}
	if s := strings.TrimSpace(text.String()); s != "" {
		m[TextKey] = s
	}
	return m
}

// addChild stores a child under key, turning the value into a slice once the
// tag repeats.
func addChild(m map[string]interface{}, key string, child map[string]interface{}) {
	existing, ok := m[key]
	if !ok {
		m[key] = child
		return
	}
	if list, ok := existing.([]interface{}); ok {
		m[key] = append(list, child)
		return
	}
	m[key] = []interface{}{existing, child}
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}
