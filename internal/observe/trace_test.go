package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global provider
// for the duration of the test.
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

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	tid := TraceID(ctx)
	if len(tid) != 32 || strings.Trim(tid, "0123456789abcdef") != "" {
		t.Errorf("TraceID = %q, want 32 hex characters", tid)
	}
}

func TestStartSpeechSpan(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpeechSpan(context.Background(), "job-1", "HELLO")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "speech.job" {
		t.Fatalf("spans = %+v, want one speech.job span", spans)
	}
	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	if attrs["speech.job_id"] != "job-1" || attrs["speech.text_length"] != "5" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}

	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	buf.Reset()
	Logger(ctx).Info("traced")
	if !strings.Contains(buf.String(), "trace_id="+TraceID(ctx)) || !strings.Contains(buf.String(), "span_id=") {
		t.Errorf("log output = %s, want trace and span IDs", buf.String())
	}
}
