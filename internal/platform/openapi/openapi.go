// Package openapi describes the conversion API as an OpenAPI 3.0 document.
package openapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type obj = map[string]interface{}

// Generator builds the OpenAPI document for the conversion endpoints.
type Generator struct {
	version   string
	baseURL   string
	dataTypes []string
	bearer    bool
}

// NewGenerator creates a generator. dataTypes enumerates the accepted
// :dataType values; bearer adds the JWT security scheme.
func NewGenerator(version, baseURL string, dataTypes []string, bearer bool) *Generator {
	return &Generator{version: version, baseURL: baseURL, dataTypes: dataTypes, bearer: bearer}
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	errorResponses := func(codes ...string) obj {
		out := obj{}
		for _, c := range codes {
			out[c] = response("OperationOutcome describing the failure", "#/components/schemas/OperationOutcome")
		}
		return out
	}
	with := func(base obj, extra obj) obj {
		for k, v := range extra {
			base[k] = v
		}
		return base
	}

	paths := obj{
		"/api/v1/convert/{dataType}": obj{
			"post": g.secured(obj{
				"summary":     "Convert input data into a FHIR bundle",
				"operationId": "convert",
				"tags":        []string{"convert"},
				"parameters": []obj{{
					"name": "dataType", "in": "path", "required": true,
					"schema": obj{"type": "string", "enum": g.dataTypes},
				}},
				"requestBody": obj{
					"required": true,
					"content":  obj{"application/json": obj{"schema": ref("ConvertRequest")}},
				},
				"responses": with(obj{
					"200": response("Converted bundle", "#/components/schemas/ConvertResponse"),
				}, errorResponses("400", "404", "422", "499", "504")),
			}),
		},
		"/api/v1/templates": obj{
			"get": g.secured(obj{
				"summary":     "List conversion templates",
				"operationId": "listTemplates",
				"tags":        []string{"templates"},
				"parameters": []obj{
					{"name": "_count", "in": "query", "schema": obj{"type": "integer", "minimum": 1}},
					{"name": "_offset", "in": "query", "schema": obj{"type": "integer", "minimum": 0}},
				},
				"responses": obj{"200": response("Page of template names", "#/components/schemas/TemplatePage")},
			}),
		},
		"/api/v1/templates/{name}": obj{
			"put": g.secured(obj{
				"summary":     "Store a conversion template",
				"operationId": "putTemplate",
				"tags":        []string{"templates"},
				"parameters": []obj{{
					"name": "name", "in": "path", "required": true,
					"description": "Slash separated template name, e.g. Resource/Patient",
					"schema":      obj{"type": "string"},
				}},
				"requestBody": obj{
					"required": true,
					"content":  obj{"text/plain": obj{"schema": obj{"type": "string"}}},
				},
				"responses": with(obj{"204": obj{"description": "Stored"}}, errorResponses("400")),
			}),
		},
		"/api/v1/hl7v2/parse": obj{
			"post": g.secured(obj{
				"summary":     "Parse an HL7v2 message into its segment tree",
				"operationId": "parseHL7v2",
				"tags":        []string{"inspect"},
				"requestBody": obj{"content": obj{"text/plain": obj{"schema": obj{"type": "string"}}}},
				"responses":   with(obj{"200": obj{"description": "Parsed segments"}}, errorResponses("400")),
			}),
		},
		"/api/v1/ccda/parse": obj{
			"post": g.secured(obj{
				"summary":     "Parse a C-CDA document into nested JSON",
				"operationId": "parseCCDA",
				"tags":        []string{"inspect"},
				"requestBody": obj{"content": obj{"application/xml": obj{"schema": obj{"type": "string"}}}},
				"responses":   with(obj{"200": obj{"description": "Document tree"}}, errorResponses("400")),
			}),
		},
	}

	components := obj{"schemas": schemas()}
	if g.bearer {
		components["securitySchemes"] = obj{
			"bearerAuth": obj{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
		}
	}

	return obj{
		"openapi": "3.0.3",
		"info": obj{
			"title":       "FHIR Converter API",
			"version":     g.version,
			"description": "Converts HL7v2, C-CDA and JSON data into FHIR R4 bundles",
		},
		"servers":    []map[string]string{{"url": g.baseURL}},
		"paths":      paths,
		"components": components,
	}
}

func (g *Generator) secured(op obj) obj {
	if g.bearer {
		op["security"] = []obj{{"bearerAuth": []string{}}}
	}
	return op
}

func ref(name string) obj {
	return obj{"$ref": "#/components/schemas/" + name}
}

func response(description, schemaRef string) obj {
	return obj{
		"description": description,
		"content":     obj{"application/json": obj{"schema": obj{"$ref": schemaRef}}},
	}
}

func schemas() obj {
	str := obj{"type": "string"}
	integer := obj{"type": "integer"}
	return obj{
		"ConvertRequest": obj{
			"type": "object",
			"properties": obj{
				"inputData":    obj{"type": "string", "description": "The message or document to convert"},
				"rootTemplate": obj{"type": "string", "description": "Overrides template selection"},
				"traceInfo":    obj{"type": "boolean", "description": "Report HL7v2 content no template read"},
			},
			"required": []string{"inputData"},
		},
		"ConvertResponse": obj{
			"type": "object",
			"properties": obj{
				"result":    ref("Bundle"),
				"traceInfo": ref("TraceInfo"),
			},
		},
		"TraceInfo": obj{
			"type": "object",
			"properties": obj{
				"segments": obj{
					"type": "array",
					"items": obj{
						"type": "object",
						"properties": obj{
							"type":   str,
							"line":   integer,
							"fields": obj{"type": "array", "items": obj{"type": "object"}},
						},
					},
				},
			},
		},
		"TemplatePage": obj{
			"type": "object",
			"properties": obj{
				"items":  obj{"type": "array", "items": str},
				"total":  integer,
				"limit":  integer,
				"offset": integer,
				"link":   obj{"type": "array", "items": ref("Link")},
			},
		},
		"Link": obj{
			"type": "object",
			"properties": obj{
				"relation": str,
				"url":      obj{"type": "string", "format": "uri"},
			},
		},
		"Bundle": obj{
			"type": "object",
			"properties": obj{
				"resourceType": obj{"type": "string", "enum": []string{"Bundle"}},
				"id":           str,
				"type":         obj{"type": "string", "enum": []string{"batch", "transaction", "collection", "document", "message"}},
				"entry":        obj{"type": "array", "items": ref("BundleEntry")},
			},
		},
		"BundleEntry": obj{
			"type": "object",
			"properties": obj{
				"fullUrl":  obj{"type": "string", "format": "uri"},
				"resource": obj{"type": "object", "description": "The FHIR resource"},
				"request": obj{
					"type": "object",
					"properties": obj{
						"method": obj{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
						"url":    str,
					},
				},
			},
		},
		"OperationOutcome": obj{
			"type": "object",
			"properties": obj{
				"resourceType": obj{"type": "string", "enum": []string{"OperationOutcome"}},
				"issue": obj{
					"type": "array",
					"items": obj{
						"type": "object",
						"properties": obj{
							"severity":    obj{"type": "string", "enum": []string{"fatal", "error", "warning", "information"}},
							"code":        str,
							"diagnostics": str,
						},
						"required": []string{"severity", "code"},
					},
				},
			},
			"required": []string{"resourceType", "issue"},
		},
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>FHIR Converter API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/v1/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the document and the Swagger UI page.
//
//	GET /api/v1/openapi.json
//	GET /api/v1/docs
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
