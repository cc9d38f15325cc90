package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	})
	return tp, exporter
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func observabilityEvent(t *testing.T, span tracetest.SpanStub) map[string]any {
	t.Helper()
	for _, ev := range span.Events {
		if ev.Name == "observability.event" {
			return attributesToMap(ev.Attributes)
		}
	}
	t.Fatalf("expected observability.event span event, got %#v", span.Events)
	return nil
}

func TestRequestMetricsLog(t *testing.T) {
	_, exporter := setupTestTracer(t)
	logger, hook := test.NewNullLogger()

	m, ctx := newRequestMetrics(context.Background(), logger, "GET /api/tasks")
	if ctx == nil {
		t.Fatal("expected request context")
	}
	m.ObserveAuth(2 * time.Millisecond)
	m.ObserveOp(0)
	m.SetTasksReturned(-3)
	m.Log(http.StatusOK, nil)

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "tasks.request.metrics" || entry.Level != log.InfoLevel {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Data["route"] != "GET /api/tasks" || entry.Data["status"] != http.StatusOK || entry.Data["tasks_returned"] != 0 {
		t.Fatalf("unexpected fields %+v", entry.Data)
	}
	if _, ok := entry.Data["op_ms"]; ok {
		t.Fatal("op_ms must be omitted when not observed")
	}
	if entry.Data["auth_ms"] != 2.0 {
		t.Fatalf("unexpected auth_ms %v", entry.Data["auth_ms"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != requestSpanName {
		t.Fatalf("unexpected spans %#v", spans)
	}
	span := spans[0]
	attrs := attributesToMap(span.Attributes)
	if attrs["http.route"] != "GET /api/tasks" || attrs["http.status_code"] != int64(http.StatusOK) {
		t.Fatalf("unexpected span attributes %#v", attrs)
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}
	ev := observabilityEvent(t, span)
	if ev["event.name"] != requestEventName || ev["event.domain"] != requestEventDomain || ev["severity_text"] != "INFO" {
		t.Fatalf("unexpected event attributes %#v", ev)
	}
	if total, ok := ev["tasksync.total_ms"].(float64); !ok || total < 0 {
		t.Fatalf("expected total_ms, got %#v", ev["tasksync.total_ms"])
	}
}

func TestRequestMetricsLogWithErrorSetsSpanStatus(t *testing.T) {
	_, exporter := setupTestTracer(t)
	logger, hook := test.NewNullLogger()

	m, _ := newRequestMetrics(context.Background(), logger, "POST /api/tasks")
	m.SetErrorStage("session")
	boom := errors.New("store down")
	m.Log(http.StatusServiceUnavailable, boom)

	if hook.LastEntry().Data["error"] != "store down" || hook.LastEntry().Data["error_stage"] != "session" {
		t.Fatalf("unexpected fields %+v", hook.LastEntry().Data)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "store down" {
		t.Fatalf("unexpected status %#v", spans[0].Status)
	}
	ev := observabilityEvent(t, spans[0])
	if ev["severity_text"] != "ERROR" || ev["tasksync.error_stage"] != "session" || ev["error.message"] != "store down" {
		t.Fatalf("unexpected event attributes %#v", ev)
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusConflict, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusBadGateway, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: 0, err: errors.New("x"), wantText: "ERROR", wantNumber: 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}

func TestRequestMetricsNilSafe(t *testing.T) {
	var m *requestMetrics
	m.Log(http.StatusOK, nil)
}
