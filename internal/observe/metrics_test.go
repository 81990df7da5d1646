package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the data point of an int64 sum whose
// attribute key equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"signglove.sampling.lateness", m.TickLateness},
		{"signglove.classify.duration", m.ClassifyDuration},
		{"signglove.speech.duration", m.SpeechDuration},
		{"signglove.playback.duration", m.PlaybackDuration},
		{"signglove.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.002)
		tc.h.Record(ctx, 0.3)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
				t.Errorf("data points = %+v, want one point with count 2", hist.DataPoints)
			}
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordQueueDrop(ctx, "samples")
	m.RecordQueueDrop(ctx, "samples")
	m.RecordQueueDrop(ctx, "window")
	m.RecordCommit(ctx, "committed")
	m.RecordCommit(ctx, "suppressed_letter")
	m.RecordTrigger(ctx, "busy")
	m.RecordSpeech(ctx, "cache", "ok")
	m.RecordSensorFault(ctx, "imu")
	m.SpeechErrors.Add(ctx, 1)
	m.Samples.Add(ctx, 50)

	rm := collect(t, reader)

	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"signglove.queue.drops", "queue", "samples", 2},
		{"signglove.queue.drops", "queue", "window", 1},
		{"signglove.debounce.commits", "outcome", "committed", 1},
		{"signglove.debounce.commits", "outcome", "suppressed_letter", 1},
		{"signglove.motion.triggers", "outcome", "busy", 1},
		{"signglove.speech.requests", "source", "cache", 1},
		{"signglove.sensor.faults", "subsystem", "imu", 1},
	}
	for _, tt := range tests {
		if got := sumWhere(t, rm, tt.name, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.name, tt.key, tt.value, got, tt.want)
		}
	}

	for name, want := range map[string]int64{
		"signglove.speech.errors":    1,
		"signglove.sampling.samples": 50,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum := met.Data.(metricdata.Sum[int64])
		if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != want {
			t.Errorf("%s = %+v, want %d", name, sum.DataPoints, want)
		}
	}
}

func TestTelemetryClientsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.TelemetryClients.Add(ctx, 1)
	m.TelemetryClients.Add(ctx, 1)
	m.TelemetryClients.Add(ctx, -1)

	met := findMetric(collect(t, reader), "signglove.telemetry.clients")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge = %+v, want 1", met.Data)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
