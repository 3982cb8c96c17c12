// Package convert orchestrates conversions from HL7v2, C-CDA and JSON input
// into merged FHIR bundles.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirconverter/internal/platform/ccda"
	"github.com/ehr/fhirconverter/internal/platform/fault"
	"github.com/ehr/fhirconverter/internal/platform/fhir"
	"github.com/ehr/fhirconverter/internal/platform/hl7v2"
	"github.com/ehr/fhirconverter/internal/platform/jsonrepair"
	"github.com/ehr/fhirconverter/internal/platform/render"
	"github.com/ehr/fhirconverter/internal/platform/templatestore"
)

// Observer is told about every finished conversion. outcome is "success" or
// the failure kind.
type Observer interface {
	ObserveConversion(dataType, template, outcome string, d time.Duration)
}

// Converter runs the parse, render, repair and merge pipeline.
type Converter struct {
	store    templatestore.Store
	manifest *templatestore.Manifest
	renderer render.Renderer
	timeout  time.Duration
	logger   zerolog.Logger
	observer Observer
}

// NewConverter creates a Converter. timeout bounds each render; zero or
// negative leaves renders unbounded. A nil manifest uses the built-in
// defaults.
func NewConverter(store templatestore.Store, manifest *templatestore.Manifest, renderer render.Renderer, timeout time.Duration, logger zerolog.Logger) *Converter {
	if manifest == nil {
		manifest = templatestore.DefaultManifest()
	}
	return &Converter{
		store:    store,
		manifest: manifest,
		renderer: renderer,
		timeout:  timeout,
		logger:   logger,
	}
}

// WithObserver sets the conversion observer and returns s.
func (s *Converter) WithObserver(o Observer) *Converter {
	s.observer = o
	return s
}

// Convert converts req.Input into a FHIR bundle.
func (s *Converter) Convert(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.convert(ctx, req)
	if s.observer != nil {
		outcome, template := "success", req.RootTemplate
		if err != nil {
			outcome = string(fault.KindOf(err))
		} else {
			template = res.Template
		}
		s.observer.ObserveConversion(string(req.DataType), template, outcome, time.Since(start))
	}
	if err != nil {
		s.logger.Warn().
			Str("data_type", string(req.DataType)).
			Str("template", req.RootTemplate).
			Str("kind", string(fault.KindOf(err))).
			Err(err).
			Msg("conversion failed")
		return nil, err
	}

	ev := s.logger.Debug().
		Str("data_type", string(req.DataType)).
		Str("template", res.Template).
		Dur("latency", time.Since(start)).
		Int("entries", entryCount(res.Bundle))
	if res.TraceInfo != nil {
		ev = ev.Int("unused_segments", len(res.TraceInfo.Segments))
	}
	ev.Msg("conversion completed")
	return res, nil
}

func (s *Converter) convert(ctx context.Context, req Request) (*Result, error) {
	if req.Input == "" && req.Message == nil {
		return nil, fault.New(fault.NullOrEmptyInput, "input data is empty")
	}

	var (
		data        interface{}
		msg         *hl7v2.Message
		messageType string
	)
	switch req.DataType {
	case HL7v2:
		m := req.Message
		if m == nil {
			var err error
			if m, err = hl7v2.Parse(req.Input); err != nil {
				return nil, err
			}
		}
		msg, data = m, m
		messageType = normalizeMessageType(m)
	case CCDA:
		m, err := ccda.ParseToMap([]byte(req.Input))
		if err != nil {
			return nil, err
		}
		data = m
	case JSON:
		v, err := decodeInput(req.Input)
		if err != nil {
			return nil, err
		}
		data = v
	default:
		return nil, fault.Newf(fault.UnsupportedDataType, "unsupported data type %q", req.DataType)
	}

	name, err := s.manifest.Resolve(ctx, s.store, string(req.DataType), messageType, req.RootTemplate)
	if err != nil {
		if errors.Is(err, templatestore.ErrTemplateNotFound) || errors.Is(err, templatestore.ErrInvalidName) {
			return nil, fault.Wrap(fault.TemplateNotFound, err, "resolve root template")
		}
		return nil, fault.Wrap(fault.TemplateRenderError, err, "resolve root template")
	}

	timeout := s.timeout
	if req.Timeout != 0 {
		timeout = req.Timeout
	}
	text, err := render.WithTimeout(ctx, timeout, func(ctx context.Context) (string, error) {
		return s.renderer.Render(ctx, data, name)
	})
	if err != nil {
		return nil, err
	}

	bundle, err := jsonrepair.ParseJSON(text)
	if err != nil {
		return nil, err
	}
	bundle, err = fhir.MergeJSON(bundle)
	if err != nil {
		return nil, err
	}

	res := &Result{Bundle: bundle, Template: name}
	if req.Trace && msg != nil {
		res.TraceInfo = hl7v2.BuildTrace(msg)
	}
	return res, nil
}

// normalizeMessageType returns MSH-9 with the message's own component
// separator replaced by '^', the form the manifest aliases are keyed by.
func normalizeMessageType(msg *hl7v2.Message) string {
	t := msg.Type()
	if sep := msg.Encoding.ComponentSeparator; sep != '^' {
		t = strings.ReplaceAll(t, string(sep), "^")
	}
	return t
}

// decodeInput decodes a JSON document, keeping numbers as json.Number so
// templates see them as written.
func decodeInput(input string) (interface{}, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fault.New(fault.NullOrEmptyInput, "input data is empty")
	}
	dec := json.NewDecoder(strings.NewReader(input))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fault.Wrap(fault.InputParsingError, err, "invalid JSON input")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fault.New(fault.InputParsingError, "invalid JSON input: trailing data after document")
	}
	return v, nil
}

func entryCount(bundle map[string]interface{}) int {
	entries, ok := bundle[fhir.KeyEntry].([]interface{})
	if !ok {
		return 0
	}
	return len(entries)
}
