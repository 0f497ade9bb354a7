// Package observe provides application-wide observability primitives for
// Aide: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Aide metrics.
const meterName = "github.com/MrWong99/aide"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks full request latency through the router,
	// cache lookup included.
	GenerationDuration metric.Float64Histogram

	// TimeToFirstToken tracks stream latency until the first token arrives.
	TimeToFirstToken metric.Float64Histogram

	// TimeToFirstSentence tracks stream latency until the first complete
	// sentence is delivered downstream.
	TimeToFirstSentence metric.Float64Histogram

	// --- Counters ---

	// CacheLookups counts cache consultations. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("outcome", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderTokens counts completion tokens consumed per provider. Use with
	// attribute:
	//   attribute.String("provider", ...)
	ProviderTokens metric.Int64Counter

	// Retries counts same-provider retry attempts. Use with attribute:
	//   attribute.String("provider", ...)
	Retries metric.Int64Counter

	// Failovers counts cross-provider failovers.
	Failovers metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("class", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTasks tracks the number of tasks currently running in the
	// parallel executor.
	ActiveTasks metric.Int64UpDownCounter

	// MemoryRSSMegabytes records the most recent resident-set sample from the
	// resource monitor.
	MemoryRSSMegabytes metric.Float64Gauge

	// CPUPercent records the most recent CPU utilisation sample from the
	// resource monitor.
	CPUPercent metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive assistant latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("aide.generate.duration",
		metric.WithDescription("Full request latency through the router."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TimeToFirstToken, err = m.Float64Histogram("aide.stream.time_to_first_token",
		metric.WithDescription("Stream latency until the first token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TimeToFirstSentence, err = m.Float64Histogram("aide.stream.time_to_first_sentence",
		metric.WithDescription("Stream latency until the first complete sentence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CacheLookups, err = m.Int64Counter("aide.cache.lookups",
		metric.WithDescription("Total cache consultations by tier and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("aide.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderTokens, err = m.Int64Counter("aide.provider.tokens",
		metric.WithDescription("Total completion tokens consumed by provider."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("aide.router.retries",
		metric.WithDescription("Total same-provider retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.Failovers, err = m.Int64Counter("aide.router.failovers",
		metric.WithDescription("Total cross-provider failovers."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("aide.provider.errors",
		metric.WithDescription("Total provider errors by provider and class."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveTasks, err = m.Int64UpDownCounter("aide.executor.active_tasks",
		metric.WithDescription("Number of tasks currently running in the parallel executor."),
	); err != nil {
		return nil, err
	}
	if met.MemoryRSSMegabytes, err = m.Float64Gauge("aide.resource.rss_mb",
		metric.WithDescription("Most recent resident-set-size sample."),
		metric.WithUnit("MBy"),
	); err != nil {
		return nil, err
	}
	if met.CPUPercent, err = m.Float64Gauge("aide.resource.cpu_percent",
		metric.WithDescription("Most recent CPU utilisation sample."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aide.http.request.duration",
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

// RecordCacheLookup is a convenience method that records one cache
// consultation with the standard attribute set.
func (m *Metrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set, plus the token
// usage when known.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string, tokens int) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	if tokens > 0 {
		m.ProviderTokens.Add(ctx, int64(tokens),
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, class string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("class", class),
		),
	)
}

// RecordRetry is a convenience method that records one same-provider retry.
func (m *Metrics) RecordRetry(ctx context.Context, provider string) {
	m.Retries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordFailover is a convenience method that records one cross-provider
// failover.
func (m *Metrics) RecordFailover(ctx context.Context) {
	m.Failovers.Add(ctx, 1)
}

// RecordResourceSample is a convenience method that records one
// resource-monitor sample.
func (m *Metrics) RecordResourceSample(ctx context.Context, rssMB, cpuPercent float64) {
	m.MemoryRSSMegabytes.Record(ctx, rssMB)
	m.CPUPercent.Record(ctx, cpuPercent)
}
