package hl7v2

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirconverter/internal/platform/fhir"
)

// Handler provides HTTP endpoints for HL7v2 message inspection.
type Handler struct{}

// NewHandler creates a new HL7v2 handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /api/v1/hl7v2/parse - Parse HL7v2 message to its JSON tree
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/parse", h.ParseMessage)
}

type segmentJSON struct {
	Type   string      `json:"type"`
	Value  string      `json:"value"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Value      string          `json:"value"`
	Components []componentJSON `json:"components,omitempty"`
	Repeats    []fieldJSON     `json:"repeats,omitempty"`
}

type componentJSON struct {
	Value         string   `json:"value"`
	Subcomponents []string `json:"subcomponents,omitempty"`
}

// ParseMessage handles POST /api/v1/hl7v2/parse.
// It reads raw HL7v2 from the request body and returns the parsed tree.
func (h *Handler) ParseMessage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}

	msg, err := Parse(string(body))
	if err != nil {
		return c.JSON(fhir.OutcomeFromError(err))
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([]fieldJSON, len(seg.Fields))
		for j, f := range seg.Fields {
			fields[j] = toFieldJSON(f)
		}
		segments[i] = segmentJSON{
			Type:   seg.Type(),
			Value:  seg.Value,
			Fields: fields,
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":      msg.Type(),
		"controlId": msg.ControlID(),
		"version":   msg.Version(),
		"encoding":  msg.Encoding.String(),
		"segments":  segments,
	})
}

func toFieldJSON(f *Field) fieldJSON {
	out := fieldJSON{Value: f.Value}
	if f.Value == "" {
		return out
	}
	for _, c := range f.Components {
		cj := componentJSON{Value: c.Value}
		if len(c.Subcomponents) > 1 {
			cj.Subcomponents = c.Subcomponents
		}
		out.Components = append(out.Components, cj)
	}
	for _, r := range f.Repeats {
		out.Repeats = append(out.Repeats, toFieldJSON(r))
	}
	return out
}
