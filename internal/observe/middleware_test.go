package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup installs an in-memory tracer provider globally and returns
// metrics backed by a manual reader.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// serveMux routes the way the foglamp API does: method patterns with path
// wildcards.
func serveMux(m *Metrics, status int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /turns/{player_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	return Middleware(m)(mux)
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func durationPoint(t *testing.T, reader *sdkmetric.ManualReader) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(collect(t, reader), "foglamp.http.request.duration")
	if met == nil {
		t.Fatal("foglamp.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("want one histogram data point, got %+v", met.Data)
	}
	return hist.DataPoints[0]
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var captured string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/play", nil))

	if len(captured) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Errorf("X-Correlation-ID = %q, want %q", got, captured)
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m, reader, exp := testSetup(t)

	rec := httptest.NewRecorder()
	serveMux(m, http.StatusOK).ServeHTTP(rec, httptest.NewRequest("GET", "/turns/inspector-lestrade", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /turns/{player_id}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := spanAttr(spans[0], "http.route"); !ok || v.AsString() != "GET /turns/{player_id}" {
		t.Errorf("http.route = %v", v.Emit())
	}

	dp := durationPoint(t, reader)
	if v, ok := dp.Attributes.Value("route"); !ok || v.AsString() != "GET /turns/{player_id}" {
		t.Errorf("route label = %q", v.Emit())
	}
	for _, kv := range dp.Attributes.ToSlice() {
		if kv.Value.AsString() == "/turns/inspector-lestrade" {
			t.Errorf("raw path leaked into label %q", kv.Key)
		}
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, _ := testSetup(t)

	rec := httptest.NewRecorder()
	serveMux(m, http.StatusOK).ServeHTTP(rec, httptest.NewRequest("GET", "/nowhere", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	dp := durationPoint(t, reader)
	if v, _ := dp.Attributes.Value("route"); v.AsString() != unmatchedRoute {
		t.Errorf("route label = %q, want %q", v.Emit(), unmatchedRoute)
	}
	if v, _ := dp.Attributes.Value("status"); v.AsString() != "404" {
		t.Errorf("status label = %q, want 404", v.Emit())
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, reader, exp := testSetup(t)

	rec := httptest.NewRecorder()
	serveMux(m, http.StatusUnprocessableEntity).ServeHTTP(rec, httptest.NewRequest("GET", "/turns/p1", nil))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != 422 {
		t.Errorf("http.response.status_code = %v", v.Emit())
	}
	dp := durationPoint(t, reader)
	if v, _ := dp.Attributes.Value("status"); v.AsString() != "422" {
		t.Errorf("status label = %q, want 422", v.Emit())
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var captured string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("POST", "/play", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured != traceID {
		t.Errorf("correlation ID = %q, want %q", captured, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_ResponseControllerReachesWriter(t *testing.T) {
	m, _, _ := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/play/stream", nil))
	if !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}

func TestRoute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		want    string
	}{
		{"POST /play", "POST /play"},
		{"", unmatchedRoute},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/x", nil)
		r.Pattern = tt.pattern
		if got := route(r); got != tt.want {
			t.Errorf("route(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}
