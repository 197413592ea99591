// Package observe provides the observability primitives of kittymode:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are exported via the
// Prometheus bridge set up by [InitProvider]. Tests should build their own
// [Metrics] with [NewMetrics] and a manual reader instead of using
// [DefaultMetrics].
//
// Typed text never appears in metric attributes. Only counts, lengths and
// durations are recorded.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/kittymode"

// Metrics holds all metric instruments of the application. All fields are
// safe for concurrent use.
type Metrics struct {
	// CaptureFlushes counts flushed capture sessions by "reason"
	// (window, max_duration).
	CaptureFlushes metric.Int64Counter

	// CaptureLength records the rune count of each flushed buffer.
	CaptureLength metric.Int64Histogram

	// MatchDuration tracks embedding plus similarity search latency, with a
	// "status" attribute.
	MatchDuration metric.Float64Histogram

	// EmitDuration tracks how long a replacement took to type, with a
	// "status" attribute.
	EmitDuration metric.Float64Histogram

	// SuppressDropped counts key events rejected by the suppression gate, by
	// "source" (physical, synthetic).
	SuppressDropped metric.Int64Counter

	// Errors counts reported errors by "kind" (embedding, dispatch, index,
	// input).
	Errors metric.Int64Counter

	// Enabled is 1 while substitution is enabled and 0 otherwise.
	Enabled metric.Int64Gauge

	// HTTPRequestDuration tracks control API latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. A flush is expected to
// be matched within tens of milliseconds and typed within a second.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

var lengthBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128}

// NewMetrics creates all instruments on the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureFlushes, err = m.Int64Counter("kittymode.capture.flushes",
		metric.WithDescription("Capture sessions flushed, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CaptureLength, err = m.Int64Histogram("kittymode.capture.length",
		metric.WithDescription("Runes per flushed capture buffer."),
		metric.WithUnit("{rune}"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("kittymode.match.duration",
		metric.WithDescription("Latency of embedding and nearest noise search."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmitDuration, err = m.Float64Histogram("kittymode.emit.duration",
		metric.WithDescription("Time spent deleting the original text and typing the replacement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SuppressDropped, err = m.Int64Counter("kittymode.suppress.dropped",
		metric.WithDescription("Key events dropped by the suppression gate, by source."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("kittymode.errors",
		metric.WithDescription("Reported errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.Enabled, err = m.Int64Gauge("kittymode.enabled",
		metric.WithDescription("1 while substitution is enabled."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("kittymode.http.request.duration",
		metric.WithDescription("Control API request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] created from
// [otel.GetMeterProvider] on first use.
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

// RecordFlush counts one flushed session and its length.
func (m *Metrics) RecordFlush(ctx context.Context, reason string, runes int) {
	m.CaptureFlushes.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
	m.CaptureLength.Record(ctx, int64(runes))
}

// RecordMatch records the latency of one match.
func (m *Metrics) RecordMatch(ctx context.Context, d time.Duration, err error) {
	m.MatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status(err))))
}

// RecordEmit records the latency of one emission job.
func (m *Metrics) RecordEmit(ctx context.Context, d time.Duration, err error) {
	m.EmitDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status(err))))
}

// RecordDropped counts one key event rejected by the suppression gate.
func (m *Metrics) RecordDropped(ctx context.Context, source string) {
	m.SuppressDropped.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordError counts one reported error.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// SetEnabled updates the enabled gauge.
func (m *Metrics) SetEnabled(ctx context.Context, enabled bool) {
	var v int64
	if enabled {
		v = 1
	}
	m.Enabled.Record(ctx, v)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
