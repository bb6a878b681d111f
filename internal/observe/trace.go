package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/callintake"

// Span attributes set on call spans.
const (
	AttrSessionID = attribute.Key("call.session_id")
	AttrStage     = attribute.Key("call.stage")
	AttrFallback  = attribute.Key("call.fallback")
)

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCallSpan starts a span tagged with the call's session ID.
func StartCallSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(AttrSessionID.String(sessionID)))
}

// RecordStage adds a "stage" event to the span in ctx. A stage that fell
// back records err but leaves the span status alone: the call carries on
// with the fallback value.
func RecordStage(ctx context.Context, stage string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("stage", trace.WithAttributes(
		AttrStage.String(stage),
		AttrFallback.Bool(err != nil),
	))
	if err != nil {
		span.RecordError(err, trace.WithAttributes(AttrStage.String(stage)))
	}
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns base enriched with trace_id and span_id when ctx carries a
// span. A nil base means slog.Default.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
