package telemetry

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{1, 5})
	for _, v := range []float64{0.5, 1, 3, 10} {
		h.Observe(v)
	}

	if h.Count() != 4 {
		t.Errorf("count = %d, want 4", h.Count())
	}
	if h.Sum() != 14.5 {
		t.Errorf("sum = %g, want 14.5", h.Sum())
	}
	cum := h.cumulativeBuckets()
	if cum[0] != 2 || cum[1] != 3 {
		t.Errorf("cumulative buckets = %v, want [2 3]", cum)
	}
}

func TestHistogram_Concurrent(t *testing.T) {
	h := newHistogram(defaultDurationBuckets)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Observe(0.01)
			}
		}()
	}
	wg.Wait()
	if h.Count() != 5000 {
		t.Errorf("count = %d, want 5000", h.Count())
	}
}

func TestMetrics_ObserveConversion(t *testing.T) {
	m := NewMetrics()
	m.ObserveConversion("hl7v2", "ADT_A01", OutcomeSuccess, 20*time.Millisecond)
	m.ObserveConversion("hl7v2", "ADT_A01", OutcomeSuccess, 30*time.Millisecond)
	m.ObserveConversion("ccda", "", "TemplateNotFound", time.Millisecond)

	if n := m.ConversionCount("hl7v2", "ADT_A01", OutcomeSuccess); n != 2 {
		t.Errorf("hl7v2 successes = %d, want 2", n)
	}
	if n := m.ConversionCount("json", "", OutcomeSuccess); n != 0 {
		t.Errorf("unrecorded series = %d, want 0", n)
	}

	var b bytes.Buffer
	m.Export(&b)
	out := b.String()
	for _, want := range []string{
		`conversions_total{data_type="hl7v2",template="ADT_A01",outcome="success"} 2`,
		`conversions_total{data_type="ccda",template="",outcome="TemplateNotFound"} 1`,
		`conversion_duration_seconds_count{data_type="hl7v2"} 2`,
		`conversion_duration_seconds_bucket{data_type="hl7v2",le="+Inf"} 2`,
		"# TYPE conversions_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, `data_type="ccda"`) > strings.Index(out, `data_type="hl7v2"`) {
		t.Error("series should be sorted by label values")
	}
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/things/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/broken", func(c echo.Context) error {
		return errors.New("boom")
	})
	e.GET("/metrics", m.Handler())

	for _, path := range []string{"/things/1", "/things/2", "/broken"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`http_server_request_duration_seconds_count{method="GET",route="/things/:id",status_code="200"} 2`,
		`http_server_request_duration_seconds_count{method="GET",route="/broken",status_code="500"} 1`,
		"http_server_active_requests 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}
