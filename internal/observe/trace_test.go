package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory TracerProvider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func attr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartCallSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartCallSpan(context.Background(), "call.utterance", "sess-42")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Errorf("CorrelationID length = %d, want 32", len(cid))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "call.utterance" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "call.utterance")
	}
	if v, ok := attr(spans[0].Attributes, AttrSessionID); !ok || v.AsString() != "sess-42" {
		t.Errorf("%s = %v (present %v), want %q", AttrSessionID, v.AsString(), ok, "sess-42")
	}
}

func TestRecordStage_AddsEvents(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartCallSpan(context.Background(), "call.utterance", "sess-1")
	RecordStage(ctx, StageSTT, nil)
	RecordStage(ctx, StageTTS, errors.New("tts timeout"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Status.Code == codes.Error {
		t.Error("a fallen-back stage must not fail the utterance span")
	}

	var stages []string
	var fallbacks int
	for _, ev := range s.Events {
		if ev.Name != "stage" {
			continue
		}
		v, _ := attr(ev.Attributes, AttrStage)
		stages = append(stages, v.AsString())
		if fb, _ := attr(ev.Attributes, AttrFallback); fb.AsBool() {
			fallbacks++
		}
	}
	if strings.Join(stages, ",") != StageSTT+","+StageTTS {
		t.Errorf("stage events = %v, want [%s %s]", stages, StageSTT, StageTTS)
	}
	if fallbacks != 1 {
		t.Errorf("fallback events = %d, want 1", fallbacks)
	}
}

func TestRecordStage_NoSpan(t *testing.T) {
	t.Parallel()

	// Must not panic without a recording span.
	RecordStage(context.Background(), StageAnalyzer, errors.New("boom"))
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := useTestTracer(t)

	_, ok := StartSpan(context.Background(), "ok-op")
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "failed-op")
	EndSpan(failed, errors.New("db down"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("ok-op has error status")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "db down" {
		t.Errorf("failed-op status = %+v, want error %q", spans[1].Status, "db down")
	}
}

func TestLogger_IncludesTraceID(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, span := StartCallSpan(context.Background(), "log-test", "sess-1")
	defer span.End()
	Logger(ctx, base).Info("utterance processed")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("log output missing trace_id, got: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log output missing span_id, got: %s", out)
	}
}

func TestLogger_NoSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	if got := Logger(context.Background(), base); got != base {
		t.Error("Logger without a span should return base unchanged")
	}
	if Logger(context.Background(), nil) == nil {
		t.Error("Logger(ctx, nil) = nil, want slog.Default")
	}
}
