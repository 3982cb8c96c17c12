// Package telemetry records HTTP and conversion metrics and serves them in
// the Prometheus text exposition format.
package telemetry

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// OutcomeSuccess labels conversions that produced a bundle. Failed
// conversions are labelled with their error kind.
const OutcomeSuccess = "success"

// Metrics is safe for concurrent use. The zero value is not usable; call
// NewMetrics.
type Metrics struct {
	activeRequests int64

	httpDuration       *series[*histogram] // method, route, status
	conversions        *series[*int64]     // data_type, template, outcome
	conversionDuration *series[*histogram] // data_type
}

func NewMetrics() *Metrics {
	newHist := func() *histogram { return newHistogram(defaultDurationBuckets) }
	return &Metrics{
		httpDuration:       newSeries(newHist),
		conversions:        newSeries(func() *int64 { return new(int64) }),
		conversionDuration: newSeries(newHist),
	}
}

// ObserveConversion records one finished conversion.
func (m *Metrics) ObserveConversion(dataType, template, outcome string, d time.Duration) {
	atomic.AddInt64(m.conversions.get(labelSet{dataType, template, outcome}), 1)
	m.conversionDuration.get(labelSet{dataType}).Observe(d.Seconds())
}

// ConversionCount returns the number of conversions recorded for the labels.
func (m *Metrics) ConversionCount(dataType, template, outcome string) int64 {
	if n, ok := m.conversions.snapshot()[labelSet{dataType, template, outcome}]; ok {
		return atomic.LoadInt64(n)
	}
	return 0
}

// Middleware records request durations by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.activeRequests, 1)
			defer atomic.AddInt64(&m.activeRequests, -1)

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the response so the status below is final.
				c.Error(err)
				err = nil
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := strconv.Itoa(c.Response().Status)
			m.httpDuration.get(labelSet{c.Request().Method, route, status}).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b bytes.Buffer
		m.Export(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", b.Bytes())
	}
}

// Export writes every metric in exposition format, series sorted by label
// values.
func (m *Metrics) Export(b io.Writer) {
	writeHeader(b, "http_server_request_duration_seconds", "Duration of HTTP requests in seconds.", "histogram")
	for _, k := range sortedKeys(m.httpDuration.snapshot()) {
		h := m.httpDuration.get(k)
		writeHistogram(b, "http_server_request_duration_seconds",
			fmt.Sprintf("method=%q,route=%q,status_code=%q", k[0], k[1], k[2]), h)
	}
	fmt.Fprintln(b)

	writeHeader(b, "http_server_active_requests", "Number of in-flight HTTP requests.", "gauge")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.activeRequests))

	writeHeader(b, "conversions_total", "Conversions by data type, root template and outcome.", "counter")
	for _, k := range sortedKeys(m.conversions.snapshot()) {
		fmt.Fprintf(b, "conversions_total{data_type=%q,template=%q,outcome=%q} %d\n",
			k[0], k[1], k[2], atomic.LoadInt64(m.conversions.get(k)))
	}
	fmt.Fprintln(b)

	writeHeader(b, "conversion_duration_seconds", "Duration of conversions in seconds.", "histogram")
	for _, k := range sortedKeys(m.conversionDuration.snapshot()) {
		writeHistogram(b, "conversion_duration_seconds", fmt.Sprintf("data_type=%q", k[0]), m.conversionDuration.get(k))
	}
	fmt.Fprintln(b)
}

func writeHeader(b io.Writer, name, help, typ string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func writeHistogram(b io.Writer, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func sortedKeys[T any](m map[labelSet]T) []labelSet {
	keys := make([]labelSet, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		for n := range keys[i] {
			if keys[i][n] != keys[j][n] {
				return keys[i][n] < keys[j][n]
			}
		}
		return false
	})
	return keys
}
