// Package observe provides the glove's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter set up by [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/signglove"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
type Metrics struct {
	// --- Latency histograms ---

	// TickLateness tracks how late each sampling tick fired relative to its
	// schedule.
	TickLateness metric.Float64Histogram

	// ClassifyDuration tracks model inference latency per window.
	ClassifyDuration metric.Float64Histogram

	// SpeechDuration tracks how long resolving a phrase to audio took,
	// whether from cache or synthesis. Use with attribute.String("source", ...).
	SpeechDuration metric.Float64Histogram

	// PlaybackDuration tracks clip playback time.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Samples counts acquired sensor frames.
	Samples metric.Int64Counter

	// SensorFaults counts frames with an unavailable subsystem. Use with
	// attribute.String("subsystem", ...).
	SensorFaults metric.Int64Counter

	// QueueDrops counts items discarded by drop-oldest queues and mailbox
	// overwrites. Use with attribute.String("queue", ...).
	QueueDrops metric.Int64Counter

	// Commits counts debouncer commit attempts. Use with
	// attribute.String("outcome", ...).
	Commits metric.Int64Counter

	// Triggers counts shake triggers. Use with attribute.String("outcome", ...).
	Triggers metric.Int64Counter

	// SpeechRequests counts speech jobs. Use with attribute.String("source", ...)
	// and attribute.String("status", ...).
	SpeechRequests metric.Int64Counter

	// SpeechErrors counts failed speech jobs.
	SpeechErrors metric.Int64Counter

	// --- Gauges ---

	// TelemetryClients tracks connected live telemetry clients.
	TelemetryClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets cover scheduling lateness of a 20ms loop (seconds).
var tickBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1,
}

// latencyBuckets cover inference, synthesis and playback (seconds).
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TickLateness, err = m.Float64Histogram("signglove.sampling.lateness",
		metric.WithDescription("Delay between a sampling tick's schedule and its execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("signglove.classify.duration",
		metric.WithDescription("Latency of gesture classification per window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("signglove.speech.duration",
		metric.WithDescription("Latency of resolving text to audio by source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("signglove.playback.duration",
		metric.WithDescription("Duration of clip playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Samples, err = m.Int64Counter("signglove.sampling.samples",
		metric.WithDescription("Total sensor frames acquired."),
	); err != nil {
		return nil, err
	}
	if met.SensorFaults, err = m.Int64Counter("signglove.sensor.faults",
		metric.WithDescription("Frames with an unavailable subsystem by subsystem."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("signglove.queue.drops",
		metric.WithDescription("Items discarded by bounded queues by queue."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("signglove.debounce.commits",
		metric.WithDescription("Commit attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Triggers, err = m.Int64Counter("signglove.motion.triggers",
		metric.WithDescription("Shake triggers by dispatch outcome."),
	); err != nil {
		return nil, err
	}
	if met.SpeechRequests, err = m.Int64Counter("signglove.speech.requests",
		metric.WithDescription("Speech jobs by audio source and status."),
	); err != nil {
		return nil, err
	}
	if met.SpeechErrors, err = m.Int64Counter("signglove.speech.errors",
		metric.WithDescription("Speech jobs that produced no audio."),
	); err != nil {
		return nil, err
	}

	if met.TelemetryClients, err = m.Int64UpDownCounter("signglove.telemetry.clients",
		metric.WithDescription("Connected live telemetry clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("signglove.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordQueueDrop counts one discarded item on queue.
func (m *Metrics) RecordQueueDrop(ctx context.Context, queue string) {
	m.QueueDrops.Add(ctx, 1, metric.WithAttributes(Attr("queue", queue)))
}

// RecordCommit counts one commit attempt.
func (m *Metrics) RecordCommit(ctx context.Context, outcome string) {
	m.Commits.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordTrigger counts one shake trigger.
func (m *Metrics) RecordTrigger(ctx context.Context, outcome string) {
	m.Triggers.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordSpeech counts one speech job.
func (m *Metrics) RecordSpeech(ctx context.Context, source, status string) {
	m.SpeechRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("source", source),
		Attr("status", status),
	))
}

// RecordSensorFault counts one frame with subsystem unavailable.
func (m *Metrics) RecordSensorFault(ctx context.Context, subsystem string) {
	m.SensorFaults.Add(ctx, 1, metric.WithAttributes(Attr("subsystem", subsystem)))
}
