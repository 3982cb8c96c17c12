package templatestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Data types accepted by the converter.
const (
	DataTypeHL7v2 = "hl7v2"
	DataTypeCCDA  = "ccda"
	DataTypeJSON  = "json"
)

// Manifest selects root templates. Defaults maps a data type to its root
// template; Aliases maps an HL7v2 message type such as "ADT^A04" to a
// template name.
type Manifest struct {
	Defaults map[string]string `yaml:"defaults"`
	Aliases  map[string]string `yaml:"aliases"`
}

// DefaultManifest returns the built-in template selection.
func DefaultManifest() *Manifest {
	return &Manifest{
		Defaults: map[string]string{
			DataTypeHL7v2: "ADT_A01",
			DataTypeCCDA:  "CCD",
			DataTypeJSON:  "ExamplePatient",
		},
		Aliases: map[string]string{},
	}
}

// LoadManifest reads a yaml manifest. Data types missing from the file keep
// their built-in defaults. An empty path yields DefaultManifest.
func LoadManifest(path string) (*Manifest, error) {
	m := DefaultManifest()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template manifest %s: %w", path, err)
	}

	var file Manifest
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template manifest %s: %w", path, err)
	}
	for k, v := range file.Defaults {
		m.Defaults[strings.ToLower(k)] = v
	}
	for k, v := range file.Aliases {
		m.Aliases[k] = v
	}
	return m, nil
}

// Candidates lists the template names to try, in order: the requested
// template, the alias of messageType, the message type itself with '^'
// replaced by '_', and the data type default.
func (m *Manifest) Candidates(dataType, messageType, requested string) []string {
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		for _, n := range out {
			if n == name {
				return
			}
		}
		out = append(out, name)
	}

	if requested != "" {
		add(requested)
		return out
	}
	if messageType != "" {
		add(m.Aliases[messageType])
		add(messageTypeTemplate(messageType))
	}
	add(m.Defaults[strings.ToLower(dataType)])
	return out
}

// Resolve returns the first candidate that exists in store. An explicit
// request is never replaced by a fallback.
func (m *Manifest) Resolve(ctx context.Context, store Store, dataType, messageType, requested string) (string, error) {
	candidates := m.Candidates(dataType, messageType, requested)
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no template configured for data type %q", ErrTemplateNotFound, dataType)
	}

	for _, name := range candidates {
		if ValidateName(name) != nil {
			continue
		}
		_, err := store.Get(ctx, name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrTemplateNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrTemplateNotFound, strings.Join(candidates, ", "))
}

// messageTypeTemplate maps "ADT^A01^ADT_A01" to "ADT_A01".
func messageTypeTemplate(messageType string) string {
	parts := strings.Split(messageType, "^")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "_")
}
