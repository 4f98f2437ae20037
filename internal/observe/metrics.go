// Package observe provides application-wide observability primitives for
// Echoline: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Echoline metrics.
const meterName = "github.com/echoline-ai/echoline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// SessionDuration tracks how long voice sessions last, from connect to
	// teardown.
	SessionDuration metric.Float64Histogram

	// ConnectDuration tracks provider connection setup latency.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts microphone frames delivered upstream. Use with
	// attribute: attribute.String("provider", ...).
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames dropped because the send queue
	// was full or the transport rejected the write.
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts model audio chunks handed to the playback
	// scheduler.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts model audio chunks dropped as undecodable.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-in events that cut model playback.
	Interruptions metric.Int64Counter

	// Turns counts completed conversation turns.
	Turns metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin endpoint request processing time.
	// Use with attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// durationBuckets defines histogram bucket boundaries (in seconds). Session
// lifetimes span milliseconds (failed connects) to minutes.
var durationBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("echoline.session.duration",
		metric.WithDescription("Lifetime of a voice session from connect to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("echoline.connect.duration",
		metric.WithDescription("Latency of provider connection setup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("echoline.frames.sent",
		metric.WithDescription("Total microphone frames delivered to the provider."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("echoline.frames.dropped",
		metric.WithDescription("Total microphone frames dropped before reaching the provider."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("echoline.chunks.scheduled",
		metric.WithDescription("Total model audio chunks handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("echoline.decode.errors",
		metric.WithDescription("Total model audio chunks dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("echoline.interruptions",
		metric.WithDescription("Total barge-in events that cut model playback."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("echoline.turns",
		metric.WithDescription("Total completed conversation turns."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("echoline.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("echoline.http.request.duration",
		metric.WithDescription("Admin endpoint request latency by method and path."),
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

// RecordFrameSent records one microphone frame delivered upstream.
func (m *Metrics) RecordFrameSent(ctx context.Context, provider string) {
	m.FramesSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordFrameDropped records one microphone frame that never reached the
// provider, tagged with where it was lost ("queue_full", "send_failed").
func (m *Metrics) RecordFrameDropped(ctx context.Context, provider, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		),
	)
}

// RecordTurn records one completed conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, provider string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
