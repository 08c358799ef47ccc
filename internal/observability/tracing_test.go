package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/saviour-lab/console/internal/config"
)

func TestInitTracing_disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false},
		"console", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown error = %v", err)
	}
}

func TestNewSampler_clamps_rate(t *testing.T) {
	cases := []struct {
		rate float64
	}{
		{rate: -1},
		{rate: 0},
		{rate: 0.5},
		{rate: 1},
		{rate: 7},
	}
	for _, tc := range cases {
		s := newSampler(config.TracingConfig{SamplingRate: tc.rate})
		if s == nil {
			t.Errorf("newSampler(%v) = nil", tc.rate)
		}
	}

	full := newSampler(config.TracingConfig{SamplingRate: 1})
	if full.Description() != sdktrace.ParentBased(sdktrace.AlwaysSample()).Description() {
		t.Errorf("rate 1 sampler = %q, want parent-based always-sample", full.Description())
	}
}

func TestTraceIDFromContext_empty(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext(empty) = %q, want empty", got)
	}
}

func TestTracingMiddleware_passes_through(t *testing.T) {
	var sawRequest bool
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sawRequest = true
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/modules", nil))

	if !sawRequest {
		t.Fatal("inner handler not invoked")
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}
