package convert

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirconverter/internal/platform/auth"
	"github.com/ehr/fhirconverter/internal/platform/fhir"
	"github.com/ehr/fhirconverter/internal/platform/hl7v2"
	"github.com/ehr/fhirconverter/internal/platform/templatestore"
	"github.com/ehr/fhirconverter/pkg/pagination"
)

// templateWriter is implemented by stores that accept template uploads.
type templateWriter interface {
	Put(ctx context.Context, name, content string) error
}

type Handler struct {
	svc        *Converter
	store      templatestore.Store
	invalidate func(name string)
}

// NewHandler creates a conversion handler. invalidate, when set, is called
// after a template upload so cached copies are dropped.
func NewHandler(svc *Converter, store templatestore.Store, invalidate func(name string)) *Handler {
	return &Handler{svc: svc, store: store, invalidate: invalidate}
}

// RegisterRoutes registers the conversion and template endpoints.
//
//	POST /api/v1/convert/:dataType  - Convert input data into a FHIR bundle
//	GET  /api/v1/templates          - List templates (listable stores only)
//	PUT  /api/v1/templates/*        - Upload a template (writable stores only)
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/convert/:dataType", h.Convert, auth.RequireScope("convert.run"))
	if _, ok := h.store.(templatestore.Lister); ok {
		g.GET("/templates", h.ListTemplates, auth.RequireScope("templates.read"))
	}
	if _, ok := h.store.(templateWriter); ok {
		g.PUT("/templates/*", h.PutTemplate, auth.RequireScope("templates.write"))
	}
}

type convertRequest struct {
	RootTemplate string `json:"rootTemplate"`
	InputData    string `json:"inputData"`
	TraceInfo    bool   `json:"traceInfo"`
}

type convertResponse struct {
	Result    map[string]interface{} `json:"result"`
	TraceInfo *hl7v2.TraceInfo       `json:"traceInfo,omitempty"`
}

// Convert handles POST /api/v1/convert/:dataType.
func (h *Handler) Convert(c echo.Context) error {
	dataType, err := ParseDataType(c.Param("dataType"))
	if err != nil {
		return c.JSON(fhir.OutcomeFromError(err))
	}

	var body convertRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid request body: "+bindMessage(err)))
	}

	res, err := h.svc.Convert(c.Request().Context(), Request{
		DataType:     dataType,
		RootTemplate: body.RootTemplate,
		Input:        body.InputData,
		Trace:        body.TraceInfo,
	})
	if err != nil {
		return c.JSON(fhir.OutcomeFromError(err))
	}

	return c.JSON(http.StatusOK, convertResponse{Result: res.Bundle, TraceInfo: res.TraceInfo})
}

// ListTemplates handles GET /api/v1/templates?_count=&_offset=.
func (h *Handler) ListTemplates(c echo.Context) error {
	names, err := h.store.(templatestore.Lister).List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, pagination.NewPage(names, pagination.FromContext(c), c.Request().URL.Path))
}

// PutTemplate handles PUT /api/v1/templates/<name>. The body is the raw
// template text.
func (h *Handler) PutTemplate(c echo.Context) error {
	name := strings.TrimSuffix(c.Param("*"), templatestore.Extension)
	if err := templatestore.ValidateName(name); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	content, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	if len(content) == 0 {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("template content is empty"))
	}

	if err := h.store.(templateWriter).Put(c.Request().Context(), name, string(content)); err != nil {
		if errors.Is(err, templatestore.ErrInvalidName) {
			return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	if h.invalidate != nil {
		h.invalidate(name)
	}
	return c.NoContent(http.StatusNoContent)
}

func bindMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
	}
	return err.Error()
}
