package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirconverter/internal/platform/fhir"
)

// RequireScope rejects requests whose token lacks scope with 403. Requests
// that carry no scopes on their context at all, because authentication is
// disabled, pass through.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if ctx.Value(ScopesKey) == nil {
				return next(c)
			}
			for _, granted := range ScopesFromContext(ctx) {
				if matchScope(granted, scope) {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, fhir.NewOperationOutcome(
				fhir.IssueSeverityError, fhir.IssueTypeForbidden, "required scope: "+scope))
		}
	}
}

// matchScope reports whether granted covers required. Either half of a
// granted "<area>.<operation>" scope may be "*".
func matchScope(granted, required string) bool {
	if granted == required && granted != "" {
		return true
	}

	gArea, gOp, ok := strings.Cut(granted, ".")
	if !ok {
		return false
	}
	rArea, rOp, ok := strings.Cut(required, ".")
	if !ok {
		return false
	}

	return (gArea == "*" || gArea == rArea) && (gOp == "*" || gOp == rOp)
}
