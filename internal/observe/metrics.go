// Package observe provides application-wide observability primitives for
// Parlano: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parlano metrics.
const meterName = "github.com/parlano/parlano"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// TextGenDuration tracks text-generation latency (prompts, scoring
	// passes, summaries).
	TextGenDuration metric.Float64Histogram

	// ScoringDuration tracks full scoring-engine latency per round.
	ScoringDuration metric.Float64Histogram

	// AnalysisDuration tracks end-to-end round analysis latency, from job
	// pickup to the final row update.
	AnalysisDuration metric.Float64Histogram

	// --- Counters ---

	// RoundsProcessed counts analysed rounds. Use with attribute:
	//   attribute.String("status", "scored"|"degraded"|"skipped")
	RoundsProcessed metric.Int64Counter

	// QueueJobs counts queue job deliveries. Use with attributes:
	//   attribute.String("topic", ...), attribute.String("status", ...)
	QueueJobs metric.Int64Counter

	// SessionsCompleted counts finalised sessions.
	SessionsCompleted metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Distribution of results ---

	// RoundScore records the final score of each analysed round.
	RoundScore metric.Int64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions currently in progress.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// AI-provider latencies: sub-second for cache hits up to minutes for queued
// transcription.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180,
}

// scoreBuckets covers the 0–100 score range in steps of ten.
var scoreBuckets = []float64{
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("parlano.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TextGenDuration, err = m.Float64Histogram("parlano.textgen.duration",
		metric.WithDescription("Latency of text-generation calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScoringDuration, err = m.Float64Histogram("parlano.scoring.duration",
		metric.WithDescription("Latency of the scoring engine per round."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("parlano.round.analysis.duration",
		metric.WithDescription("End-to-end round analysis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RoundsProcessed, err = m.Int64Counter("parlano.rounds.processed",
		metric.WithDescription("Total analysed rounds by status."),
	); err != nil {
		return nil, err
	}
	if met.QueueJobs, err = m.Int64Counter("parlano.queue.jobs",
		metric.WithDescription("Total queue job deliveries by topic and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("parlano.sessions.completed",
		metric.WithDescription("Total finalised sessions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("parlano.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Score distribution.
	if met.RoundScore, err = m.Int64Histogram("parlano.round.score",
		metric.WithDescription("Final score of analysed rounds."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parlano.active_sessions",
		metric.WithDescription("Number of practice sessions currently in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parlano.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRoundProcessed records one analysed round together with its final
// score.
func (m *Metrics) RecordRoundProcessed(ctx context.Context, status string, score int) {
	m.RoundsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.RoundScore.Record(ctx, int64(score),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordQueueJob records one queue job delivery.
func (m *Metrics) RecordQueueJob(ctx context.Context, topic, status string) {
	m.QueueJobs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("status", status),
		),
	)
}

// RecordSessionStarted marks one more session in progress.
func (m *Metrics) RecordSessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionCompleted counts a finalised session and marks one fewer in
// progress.
func (m *Metrics) RecordSessionCompleted(ctx context.Context) {
	m.SessionsCompleted.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
}

// RecordTextGenCall records one text-generation call with its outcome.
func (m *Metrics) RecordTextGenCall(ctx context.Context, d time.Duration, status string) {
	m.TextGenDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
