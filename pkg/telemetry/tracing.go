package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relaybot/pkg/pluggable"
)

const tracerName = "relaybot"

// Tracing opens one span per dispatch call and records handler outcomes as
// span events.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing uses provider, or the global provider when nil.
func NewTracing(provider trace.TracerProvider) *Tracing {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	return &Tracing{tracer: provider.Tracer(tracerName)}
}

func (t *Tracing) Hooks() pluggable.Hooks {
	return pluggable.Hooks{
		OnDispatch: t.startDispatch,
		OnHandler:  t.recordHandler,
	}
}

func (t *Tracing) startDispatch(ctx context.Context, category string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "relaybot.dispatch."+category,
		trace.WithAttributes(attribute.String("pluggable.category", category)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, func(err error) {
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, pluggable.ErrAbortEvent):
			span.SetAttributes(attribute.Bool("pluggable.abort_event", true))
			span.SetStatus(codes.Ok, "")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (t *Tracing) recordHandler(ctx context.Context, call pluggable.HandlerCall) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("handler.name", call.Handler),
		attribute.String("handler.module", call.Module),
		attribute.Int("handler.priority", call.Priority),
		attribute.String("handler.outcome", string(call.Outcome)),
		attribute.Int64("handler.duration_us", call.Duration.Microseconds()),
	}
	if call.Outcome == pluggable.OutcomeFailed && call.Err != nil {
		attrs = append(attrs, attribute.String("handler.error", call.Err.Error()))
	}
	span.AddEvent("handler", trace.WithAttributes(attrs...))
}

// Hooks combines metrics and tracing hooks; either may be nil.
func Hooks(metrics *Metrics, tracing *Tracing) pluggable.Hooks {
	var hooks pluggable.Hooks
	if metrics != nil {
		hooks = hooks.Merge(metrics.Hooks())
	}
	if tracing != nil {
		hooks = hooks.Merge(tracing.Hooks())
	}
	return hooks
}
