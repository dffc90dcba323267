// Package observe provides application-wide observability primitives for
// Talecast: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [Setup] so that metrics can be
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

// meterName is the instrumentation scope name used for all Talecast metrics.
const meterName = "github.com/MrWong99/talecast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks launch stage latency. Attributes: stage, status.
	StageDuration metric.Float64Histogram

	// TTSDuration tracks per-segment synthesis latency. Attribute: status.
	TTSDuration metric.Float64Histogram

	// LLMDuration tracks reviewer and detector completions. Attribute: kind.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// LaunchOutcomes counts finished launch sequences. Attribute: outcome
	// (ready, failed, cancelled).
	LaunchOutcomes metric.Int64Counter

	// CharactersCreated counts minor characters created by reconciliation.
	CharactersCreated metric.Int64Counter

	// UnresolvedSpeakers counts speakers reconciliation could not map.
	// Attribute: reason.
	UnresolvedSpeakers metric.Int64Counter

	// CapacityRejections counts registry admissions refused at max.
	// Attribute: map.
	CapacityRejections metric.Int64Counter

	// --- Gauges ---

	// RegistryEntries tracks the size of each registry map. Attribute: map.
	RegistryEntries metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Launch
// stages run for seconds to minutes.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("talecast.launch.stage.duration",
		metric.WithDescription("Latency of launch sequence stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("talecast.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("talecast.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("talecast.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("talecast.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.LaunchOutcomes, err = m.Int64Counter("talecast.launch.outcomes",
		metric.WithDescription("Finished launch sequences by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CharactersCreated, err = m.Int64Counter("talecast.reconcile.characters_created",
		metric.WithDescription("Minor characters created during reconciliation."),
	); err != nil {
		return nil, err
	}
	if met.UnresolvedSpeakers, err = m.Int64Counter("talecast.reconcile.unresolved",
		metric.WithDescription("Speakers that could not be reconciled, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CapacityRejections, err = m.Int64Counter("talecast.registry.rejections",
		metric.WithDescription("Registry admissions refused at capacity, by map."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RegistryEntries, err = m.Int64UpDownCounter("talecast.registry.entries",
		metric.WithDescription("Number of entries in each session registry map."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talecast.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordStage records one launch stage run.
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordLaunchOutcome counts a finished launch sequence.
func (m *Metrics) RecordLaunchOutcome(ctx context.Context, outcome string) {
	m.LaunchOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
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

// RecordRegistryDelta adjusts the size gauge of a registry map.
func (m *Metrics) RecordRegistryDelta(ctx context.Context, mapName string, delta int64) {
	m.RegistryEntries.Add(ctx, delta, metric.WithAttributes(attribute.String("map", mapName)))
}

// RecordCapacityRejection counts an admission refused at capacity.
func (m *Metrics) RecordCapacityRejection(ctx context.Context, mapName string) {
	m.CapacityRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("map", mapName)))
}
