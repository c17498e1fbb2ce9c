package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return exporter, NewOTelEmitter(otel.Tracer("delfi-go-test"))
}

func TestOTelEmitter_Emit(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		RunID: "run-001",
		Round: 3,
		Epoch: 12,
		Stage: "train",
		Msg:   "epoch",
		Meta: map[string]interface{}{
			"loss": 2.25,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	span := spans[0]
	if span.Name != "epoch" {
		t.Errorf("span name = %q, want %q", span.Name, "epoch")
	}

	attrs := make(map[string]interface{})
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["run_id"] != "run-001" {
		t.Errorf("run_id = %v, want run-001", attrs["run_id"])
	}
	if attrs["round"] != int64(3) {
		t.Errorf("round = %v, want 3", attrs["round"])
	}
	if attrs["meta.loss"] != 2.25 {
		t.Errorf("meta.loss = %v, want 2.25", attrs["meta.loss"])
	}
}

func TestOTelEmitter_ErrorStatus(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		RunID: "run-002",
		Stage: "generate",
		Msg:   "generation_failed",
		Meta:  map[string]interface{}{"error": "simulator exploded"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected recorded error event on span")
	}
}

func TestOTelEmitter_Flush(t *testing.T) {
	_, emitter := newTestTracer(t)
	if err := emitter.Flush(context.Background()); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}
