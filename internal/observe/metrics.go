// Package observe provides the service's observability primitives:
// OpenTelemetry metrics and traces, trace-aware logging, and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped from
// /metrics through the Prometheus exporter installed by [InitProvider]. Tests
// should build their own [Metrics] with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/callintake"

// Pipeline stage names used as the "stage" attribute.
const (
	StageSTT       = "stt"
	StageTTS       = "tts"
	StageAnalyzer  = "analyzer"
	StageResponder = "responder"
)

// Metrics holds every metric instrument of the service. The instruments are
// safe for concurrent use.
type Metrics struct {
	// STTDuration is the latency of one transcription including retries.
	STTDuration metric.Float64Histogram

	// TTSDuration is the latency of one synthesis including retries.
	TTSDuration metric.Float64Histogram

	// LLMDuration is the latency of analyzer and responder completions.
	// Attribute: stage.
	LLMDuration metric.Float64Histogram

	// UtteranceDuration is the time from utterance hand-off to result.
	UtteranceDuration metric.Float64Histogram

	// ProviderRequests counts external calls. Attributes: stage, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed attempts. Attribute: stage.
	ProviderErrors metric.Int64Counter

	// Fallbacks counts stages that yielded their fallback value.
	// Attribute: stage.
	Fallbacks metric.Int64Counter

	// Utterances counts utterances that completed the pipeline.
	Utterances metric.Int64Counter

	// UtterancesDiscarded counts utterances dropped before analysis.
	// Attribute: reason.
	UtterancesDiscarded metric.Int64Counter

	// ActiveSessions is the number of open calls.
	ActiveSessions metric.Int64UpDownCounter

	// Finalizations counts end-of-call steps. Attributes: step, status.
	Finalizations metric.Int64Counter

	// HTTPRequestDuration is the HTTP handler latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for speech
// services that take up to tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "callintake.stt.duration", "Latency of speech-to-text transcription."},
		{&met.TTSDuration, "callintake.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.LLMDuration, "callintake.llm.duration", "Latency of analyzer and responder completions."},
		{&met.UtteranceDuration, "callintake.utterance.duration", "Time from end of speech to pipeline result."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "callintake.provider.requests", "External provider calls by stage and status."},
		{&met.ProviderErrors, "callintake.provider.errors", "Failed external provider attempts by stage."},
		{&met.Fallbacks, "callintake.fallbacks", "Pipeline stages that returned their fallback value."},
		{&met.Utterances, "callintake.utterances", "Utterances that completed the pipeline."},
		{&met.UtterancesDiscarded, "callintake.utterances.discarded", "Utterances dropped before analysis by reason."},
		{&met.Finalizations, "callintake.finalizations", "End-of-call steps by step and status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("callintake.active_sessions",
		metric.WithDescription("Number of open calls."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("callintake.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency, request count and any failed attempts of
// one external stage call. attempts is the number of tries made; failed is
// how many of them errored; fellBack reports whether the fallback value was
// used.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64, attempts, failed int, fellBack bool) {
	switch stage {
	case StageSTT:
		m.STTDuration.Record(ctx, seconds)
	case StageTTS:
		m.TTSDuration.Record(ctx, seconds)
	default:
		m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(Attr("stage", stage)))
	}

	status := "ok"
	if fellBack {
		status = "fallback"
	}
	m.ProviderRequests.Add(ctx, int64(max(attempts, 1)), metric.WithAttributes(
		Attr("stage", stage),
		Attr("status", status),
	))
	if failed > 0 {
		m.ProviderErrors.Add(ctx, int64(failed), metric.WithAttributes(Attr("stage", stage)))
	}
	if fellBack {
		m.Fallbacks.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
	}
}

// RecordDiscard counts an utterance dropped for reason.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.UtterancesDiscarded.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordFinalization counts one end-of-call step outcome.
func (m *Metrics) RecordFinalization(ctx context.Context, step string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Finalizations.Add(ctx, 1, metric.WithAttributes(
		Attr("step", step),
		Attr("status", status),
	))
}
