// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge so the pipeline can
// be scraped via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/chronicler"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency per chunk.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks summarizer LLM call latency per pass.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunks counts segments emitted by listeners. Use with attribute:
	//   attribute.String("source", ...)
	AudioChunks metric.Int64Counter

	// Transcriptions counts transcription events published to the bus.
	Transcriptions metric.Int64Counter

	// CacheHits counts transcriptions served from the audio-hash cache.
	CacheHits metric.Int64Counter

	// SummaryPasses counts summarizer passes. Use with attribute:
	//   attribute.String("kind", ...)
	SummaryPasses metric.Int64Counter

	// ProviderErrors counts failed provider calls after retries. Use with
	// attribute: attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// DroppedChunks counts audio chunks rejected by a full transcriber queue.
	DroppedChunks metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live recording sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin API request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// hosted STT and LLM round trips.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("chronicler.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("chronicler.llm.duration",
		metric.WithDescription("Latency of summarizer LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("chronicler.http.request.duration",
		metric.WithDescription("Latency of admin API requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunks, err = m.Int64Counter("chronicler.audio.chunks",
		metric.WithDescription("Audio segments emitted by listeners."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("chronicler.transcriptions",
		metric.WithDescription("Transcriptions published to the bus."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("chronicler.stt.cache.hits",
		metric.WithDescription("Transcriptions served from the audio-hash cache."),
	); err != nil {
		return nil, err
	}
	if met.SummaryPasses, err = m.Int64Counter("chronicler.summary.passes",
		metric.WithDescription("Completed summarizer passes."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("chronicler.provider.errors",
		metric.WithDescription("Provider calls that failed after retries."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("chronicler.transcriber.dropped",
		metric.WithDescription("Audio chunks rejected by a full transcriber queue."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("chronicler.sessions.active",
		metric.WithDescription("Live recording sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordAudioChunk counts one emitted audio segment from the given source.
func (m *Metrics) RecordAudioChunk(ctx context.Context, source string) {
	m.AudioChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordSummaryPass counts one completed summarizer pass of the given kind.
func (m *Metrics) RecordSummaryPass(ctx context.Context, kind string) {
	m.SummaryPasses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordProviderError counts one provider call that failed after retries.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns the lazily initialised package-level [Metrics]
// instance bound to the global meter provider. If instrument creation fails
// the instance falls back to no-op instruments rather than returning an
// error; the instance is created at most once.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
