package app_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/signglove/internal/app"
	"github.com/MrWong99/signglove/internal/config"
	"github.com/MrWong99/signglove/internal/pipeline"
	"github.com/MrWong99/signglove/internal/speechcache"
	audiomock "github.com/MrWong99/signglove/pkg/audio/mock"
	classmock "github.com/MrWong99/signglove/pkg/classifier/mock"
	ttsmock "github.com/MrWong99/signglove/pkg/provider/tts/mock"
	sensormock "github.com/MrWong99/signglove/pkg/sensor/mock"
)

// testConfig returns a defaulted config with a fast sampling period.
func testConfig() *config.Config {
	cfg := &config.Config{
		Sampling: config.SamplingConfig{Period: 2 * time.Millisecond},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns providers backed by mocks with both sensors ready.
func testProviders() *app.Providers {
	return &app.Providers{
		Fingers:    &sensormock.Fingers{ReadyValue: true},
		IMU:        &sensormock.IMU{ReadyValue: true},
		Classifier: &classmock.Classifier{InitializeResult: true, LabelList: []string{"A", "B"}},
		TTS:        &ttsmock.Provider{},
		Player:     &audiomock.Player{},
	}
}

// newApp builds an App without console input.
func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithConsoleInput(nil),
		app.WithConsoleOutput(&bytes.Buffer{}),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	a := newApp(t, testConfig(), providers)

	cls := providers.Classifier.(*classmock.Classifier)
	if cls.InitializeCalls != 1 {
		t.Errorf("Initialize call count = %d, want 1", cls.InitializeCalls)
	}
	if !a.Scheduler().State().ClassifierReady() {
		t.Error("classifier should be ready after New")
	}
	if a.Console() == nil {
		t.Error("Console() = nil")
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*app.Providers)
		want   error
	}{
		{"no tts", func(p *app.Providers) { p.TTS = nil }, pipeline.ErrNoSpeech},
		{"no classifier", func(p *app.Providers) { p.Classifier = nil }, pipeline.ErrNoClassifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := testProviders()
			tt.modify(p)
			_, err := app.New(context.Background(), testConfig(), p, app.WithConsoleInput(nil))
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNew_ClassifierNotReadyIsNotFatal(t *testing.T) {
	t.Parallel()

	p := testProviders()
	p.Classifier = &classmock.Classifier{InitializeResult: false}
	a := newApp(t, testConfig(), p)

	if a.Scheduler().State().ClassifierReady() {
		t.Error("classifier should not be ready")
	}
	if got := get(t, a.Handler(), "/readyz"); got != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz = %d, want %d", got, http.StatusServiceUnavailable)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		telemetry bool
		path      string
		want      int
	}{
		{"healthz", false, "/healthz", http.StatusOK},
		{"metrics", false, "/metrics", http.StatusOK},
		{"readyz before sampling", false, "/readyz", http.StatusServiceUnavailable},
		{"telemetry disabled", false, "/telemetry", http.StatusNotFound},
		// A plain GET is not a websocket handshake.
		{"telemetry enabled", true, "/telemetry", http.StatusUpgradeRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Telemetry.Enabled = tt.telemetry
			a := newApp(t, cfg, testProviders())
			if got := get(t, a.Handler(), tt.path); got != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestRun_BecomesReady(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for get(t, a.Handler(), "/readyz") != http.StatusOK {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("readyz never reported ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ConsoleInput(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg := testConfig()
	p := testProviders()
	a, err := app.New(context.Background(), cfg, p,
		app.WithConsoleInput(bytes.NewBufferString("x")),
		app.WithConsoleOutput(out),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Scheduler().State().SpeechEnabled() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("console toggle never disabled speech")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestNew_OpensDataLog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "train.csv")
	cfg := testConfig()
	cfg.DataLog.Path = path
	newApp(t, cfg, testProviders())

	if _, err := os.Stat(path); err != nil {
		t.Errorf("data log file not created: %v", err)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	cache, err := speechcache.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	p := testProviders()
	p.Cache = cache
	a, err := app.New(context.Background(), testConfig(), p, app.WithConsoleInput(nil))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() returned error: %v", err)
	}
	if got := p.Player.(*audiomock.Player).StopCalls(); got != 1 {
		t.Errorf("player Stop call count = %d, want 1", got)
	}

	// A second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() returned error: %v", err)
	}
	if got := p.Player.(*audiomock.Player).StopCalls(); got != 1 {
		t.Errorf("player Stop call count after second Shutdown = %d, want 1", got)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	p := testProviders()
	a, err := app.New(context.Background(), testConfig(), p, app.WithConsoleInput(nil))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v, want context.Canceled", err)
	}
}

func TestPipelineConfig(t *testing.T) {
	t.Parallel()

	off := false
	cfg := testConfig()
	cfg.Debounce.Hold = 300 * time.Millisecond
	cfg.Motion.Quorum = 10
	cfg.Speech.Enabled = &off
	cfg.Speech.Voice = "alloy"
	cfg.Queues.Requests = 5

	pc := app.PipelineConfig(cfg)
	if pc.Period != 2*time.Millisecond {
		t.Errorf("Period = %v, want 2ms", pc.Period)
	}
	if pc.Debounce.Hold != 300*time.Millisecond {
		t.Errorf("Debounce.Hold = %v, want 300ms", pc.Debounce.Hold)
	}
	if pc.Debounce.ConfidenceThreshold != config.DefaultConfidence {
		t.Errorf("Debounce.ConfidenceThreshold = %v, want %v", pc.Debounce.ConfidenceThreshold, config.DefaultConfidence)
	}
	if pc.Motion.Quorum != 10 {
		t.Errorf("Motion.Quorum = %d, want 10", pc.Motion.Quorum)
	}
	if pc.SpeechEnabled {
		t.Error("SpeechEnabled = true, want false")
	}
	if pc.Speech.Voice != "alloy" || pc.Speech.Language != config.DefaultLanguage {
		t.Errorf("Speech = %+v", pc.Speech)
	}
	if pc.Queues.Requests != 5 {
		t.Errorf("Queues.Requests = %d, want 5", pc.Queues.Requests)
	}
	if pc.Norm != pipeline.DefaultConfig().Norm {
		t.Error("Norm should default when normalization is unset")
	}
}
