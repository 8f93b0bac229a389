package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoopExporter(t *testing.T) {
	exp := NewNoopExporter()

	// Should not panic
	exp.LogEvent(EventStarted, map[string]interface{}{"key": "value"})

	if err := exp.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	exp, err := NewFileExporter(path)
	if err != nil {
		t.Fatalf("NewFileExporter() error = %v", err)
	}

	exp.LogEvent(EventStarted, map[string]interface{}{"port": 8080})
	exp.LogEvent(EventStopped, nil)
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if ev.Name != EventStarted {
		t.Errorf("Name = %q, want %q", ev.Name, EventStarted)
	}
}

func TestHTTPExporter(t *testing.T) {
	var got []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode error: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	defer exp.Close()
	exp.LogEvent(EventPortResolved, map[string]interface{}{"port": 8081})
	if err := exp.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != EventPortResolved {
		t.Errorf("received %+v", got)
	}

	// Empty buffer is a no-op.
	if err := exp.Flush(); err != nil {
		t.Errorf("second Flush() error = %v", err)
	}
}

func TestHTTPExporter_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	defer exp.Close()
	exp.LogEvent(EventStarted, nil)
	if err := exp.Flush(); err == nil {
		t.Error("expected error for 502 response")
	}
	if exp.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", exp.Dropped())
	}
	// The failed batch is gone, not retried.
	if err := exp.Flush(); err != nil {
		t.Errorf("Flush() after failure error = %v", err)
	}
}

func TestHTTPExporter_BufferIsBounded(t *testing.T) {
	exp := &HTTPExporter{kick: make(chan struct{}, 1)}

	for i := 0; i < httpMaxBuffered+5; i++ {
		exp.LogEvent(EventStarted, map[string]interface{}{"i": i})
	}

	if len(exp.buffer) != httpMaxBuffered {
		t.Errorf("buffered = %d, want %d", len(exp.buffer), httpMaxBuffered)
	}
	if exp.Dropped() != 5 {
		t.Errorf("Dropped() = %d, want 5", exp.Dropped())
	}
	if first := exp.buffer[0].Data["i"]; first != 5 {
		t.Errorf("oldest kept event = %v, want 5", first)
	}
}

func TestHTTPExporter_SlowEndpointDoesNotBlockLogEvent(t *testing.T) {
	release := make(chan struct{})
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		<-release
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	defer exp.Close()
	defer close(release)

	start := time.Now()
	for i := 0; i < 3*httpBatchSize; i++ {
		exp.LogEvent(EventStarted, nil)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("LogEvent blocked for %v while the endpoint hung", elapsed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for posts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if posts.Load() == 0 {
		t.Error("a full batch should be posted in the background")
	}
}

func TestMemoryExporter(t *testing.T) {
	exp := NewMemoryExporter()
	exp.LogEvent(EventStarted, nil)
	exp.LogEvent(EventStopped, nil)

	names := exp.Names()
	if len(names) != 2 || names[0] != EventStarted || names[1] != EventStopped {
		t.Errorf("Names() = %v", names)
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		protocol string
		endpoint string
		wantErr  bool
	}{
		{"noop", "", false},
		{"", "", false},
		{"http", "http://localhost:1", false},
		{"file", filepath.Join(t.TempDir(), "x.jsonl"), false},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			exp, err := NewExporter(tt.protocol, tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if exp != nil {
				exp.Close()
			}
		})
	}
}

func TestTracer_EndSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	tracer := NewTracer(tp)

	_, span := tracer.StartSpan(context.Background(), SpanStart, AgentAttributes("a1", []string{"x"})...)
	tracer.EndSpan(span, nil, AddrAttributes("0.0.0.0", 8080)...)

	_, span = tracer.StartSpan(context.Background(), SpanResolvePort)
	tracer.EndSpan(span, fmt.Errorf("exhausted"))

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != SpanStart || ended[0].Status().Code != codes.Ok {
		t.Errorf("span 0 = %s %v", ended[0].Name(), ended[0].Status())
	}
	if ended[1].Status().Code != codes.Error {
		t.Errorf("span 1 status = %v, want Error", ended[1].Status())
	}
	if len(ended[1].Events()) == 0 {
		t.Error("error should be recorded as a span event")
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	_, span := tracer.StartSpan(context.Background(), SpanStop)
	tracer.EndSpan(span, nil)
	if tracer.Provider() == nil {
		t.Error("Provider() should never be nil")
	}
}

func TestInitProvider_NoEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); err == nil {
		t.Error("expected error without endpoint")
	}
}

func TestInitProvider_UnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	if err == nil {
		t.Error("expected error for unknown protocol")
	}
}
