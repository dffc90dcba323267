package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// serveThrough sends req through Middleware wrapping a mux with a healthy
// route, a failing route and a route that echoes the correlation ID.
func serveThrough(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, metricdata.ResourceMetrics, tracetest.SpanStubs) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(CorrelationID(r.Context())))
	})

	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rec, rm, exp.GetSpans()
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	rec, rm, spans := serveThrough(t, httptest.NewRequest("GET", "/sessions/abc-123", nil))

	if len(spans) != 1 || spans[0].Name != "GET /sessions/{id}" {
		t.Fatalf("spans = %+v, want one named after the pattern", spans)
	}
	if v, ok := attrValue(spans[0].Attributes, "http.route"); !ok || v.AsString() != "GET /sessions/{id}" {
		t.Errorf("http.route = %v", v)
	}

	met := findMetric(rm, "talecast.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	attrs := hist.DataPoints[0].Attributes.ToSlice()
	if v, _ := attrValue(attrs, "route"); v.AsString() != "GET /sessions/{id}" {
		t.Errorf("route attribute = %q", v.AsString())
	}
	if v, _ := attrValue(attrs, "code"); v.AsString() != "200" {
		t.Errorf("code attribute = %q", v.AsString())
	}

	cid := rec.Body.String()
	if len(cid) != 32 || rec.Header().Get("X-Correlation-ID") != cid {
		t.Errorf("correlation id: body %q, header %q", cid, rec.Header().Get("X-Correlation-ID"))
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	rec, _, spans := serveThrough(t, httptest.NewRequest("GET", "/nope/42", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(spans) != 1 || spans[0].Name != "unmatched" {
		t.Fatalf("spans = %+v, want one named unmatched", spans)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	_, _, spans := serveThrough(t, httptest.NewRequest("GET", "/readyz", nil))

	if len(spans) != 1 {
		t.Fatalf("got %d spans", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", spans[0].Status.Code)
	}
	if v, _ := attrValue(spans[0].Attributes, "http.response.status_code"); v.AsInt64() != 503 {
		t.Errorf("status attribute = %d", v.AsInt64())
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/sessions/s1", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	rec, _, _ := serveThrough(t, req)
	if rec.Body.String() != traceID {
		t.Errorf("handler saw trace %q, want %q", rec.Body.String(), traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}
