package ccda

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirconverter/internal/platform/fhir"
)

// Handler provides HTTP endpoints for C-CDA inspection.
type Handler struct{}

// NewHandler creates a new C-CDA handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers C-CDA endpoints on the provided route group.
//
//	POST /api/v1/ccda/parse - Parse a C-CDA document into its nested map
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/ccda/parse", h.ParseCCDA)
}

// ParseCCDA handles POST /api/v1/ccda/parse.
// It accepts an XML body and returns the document as nested JSON. The raw
// XML is not echoed back.
func (h *Handler) ParseCCDA(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}

	parsed, err := ParseToMap(body)
	if err != nil {
		return c.JSON(fhir.OutcomeFromError(err))
	}
	delete(parsed, OriginalDataKey)

	return c.JSON(http.StatusOK, parsed)
}
