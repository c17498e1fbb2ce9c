package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating one OpenTelemetry span per
// event.
//
// Each span carries:
//   - Name: event.Msg (e.g. "round_start", "epoch")
//   - Attributes: runID, round, epoch, stage, and all event.Meta fields
//   - Status: error if event.Meta["error"] is set
//
// Spans are ended immediately; events mark points in time, not durations.
//
// Usage:
//
//	tracer := otel.Tracer("delfi-go")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter using the given tracer, typically
// otel.Tracer("delfi-go").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	o.addAttributes(span, event)

	if errStr, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errStr)
		span.RecordError(fmt.Errorf("%s", errStr))
	}
}

// Flush forces export of all pending spans. Call it before shutdown so the
// batch span processor delivers buffered spans.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("run_id", event.RunID),
		attribute.Int("round", event.Round),
		attribute.Int("epoch", event.Epoch),
		attribute.String("stage", event.Stage),
	)

	for key, value := range event.Meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("meta."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("meta."+key, v))
		case int:
			span.SetAttributes(attribute.Int("meta."+key, v))
		case int64:
			span.SetAttributes(attribute.Int64("meta."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("meta."+key, v))
		default:
			span.SetAttributes(attribute.String("meta."+key, fmt.Sprintf("%v", v)))
		}
	}
}
