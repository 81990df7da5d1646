// Package app wires all signglove subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the pipeline and the HTTP endpoints, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via [Providers] and functional options
// (WithMetrics, WithConsoleInput, etc.). When an option is not provided, New
// uses the process defaults.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/signglove/internal/config"
	"github.com/MrWong99/signglove/internal/console"
	"github.com/MrWong99/signglove/internal/datalog"
	"github.com/MrWong99/signglove/internal/debounce"
	"github.com/MrWong99/signglove/internal/health"
	"github.com/MrWong99/signglove/internal/motion"
	"github.com/MrWong99/signglove/internal/observe"
	"github.com/MrWong99/signglove/internal/pipeline"
	"github.com/MrWong99/signglove/internal/profiler"
	"github.com/MrWong99/signglove/internal/speechcache"
	"github.com/MrWong99/signglove/internal/telemetry"
	"github.com/MrWong99/signglove/pkg/audio"
	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/provider/tts"
	"github.com/MrWong99/signglove/pkg/sensor"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown in Run.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Fingers    sensor.Fingers
	IMU        sensor.IMU
	Classifier classifier.Classifier
	TTS        tts.Provider
	Player     audio.Player
	Cache      speechcache.Store
}

// App owns all subsystem lifetimes and orchestrates the glove pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	consoleIn  io.Reader
	consoleOut io.Writer

	// Subsystems, initialised in New and torn down in Shutdown.
	prof    *profiler.Profiler
	datalog *datalog.Logger
	hub     *telemetry.Hub
	sched   *pipeline.Scheduler
	console *console.Console
	health  *health.Handler
	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records pipeline metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConsoleInput reads console commands from r instead of stdin. A nil
// reader disables console input.
func WithConsoleInput(r io.Reader) Option {
	return func(a *App) { a.consoleIn = r }
}

// WithConsoleOutput writes console responses to w instead of stdout.
func WithConsoleOutput(w io.Writer) Option {
	return func(a *App) { a.consoleOut = w }
}

// WithDataLogger injects the CSV logger instead of opening datalog.path.
func WithDataLogger(l *datalog.Logger) Option {
	return func(a *App) { a.datalog = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: profiler and data logger
// setup, pipeline construction, classifier initialisation, and HTTP route
// registration. Nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		providers:  providers,
		consoleIn:  os.Stdin,
		consoleOut: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Diagnostics ───────────────────────────────────────────────────
	a.prof = profiler.New(cfg.Profiler.Capacity)
	if err := a.initDataLog(); err != nil {
		return nil, fmt.Errorf("app: init datalog: %w", err)
	}
	a.hub = telemetry.NewHub(telemetry.WithMetrics(a.metrics))

	// ── 2. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. Console ───────────────────────────────────────────────────────
	a.console = console.New(a.sched, a.consoleOut,
		console.WithDataLogger(a.datalog),
		console.WithProfiler(a.prof, cfg.Profiler.ExportDir),
	)
	a.sched.AttachConsole(a.console)

	// ── 4. Classifier ────────────────────────────────────────────────────
	if _, ready := a.sched.InitClassifier(ctx); !ready {
		slog.Warn("classifier not ready; use the console 'e' command to retry")
	}

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	a.closers = append(a.closers, a.closeProviders()...)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDataLog opens the CSV logger configured in datalog.path unless one was
// injected. Logging only starts once the console supplies person and label.
func (a *App) initDataLog() error {
	if a.datalog == nil && a.cfg.DataLog.Path != "" {
		l, err := datalog.Open(a.cfg.DataLog.Path, a.fingersCalibrated)
		if err != nil {
			return err
		}
		a.datalog = l
		slog.Info("data logger ready", "path", a.cfg.DataLog.Path)
	}
	if a.datalog != nil {
		a.closers = append(a.closers, a.datalog.Close)
	}
	return nil
}

// fingersCalibrated gates data logging on a complete finger calibration.
func (a *App) fingersCalibrated() bool {
	if a.providers.Fingers == nil {
		return false
	}
	return a.providers.Fingers.Calibration().Complete()
}

// initPipeline builds the scheduler from the config and providers.
func (a *App) initPipeline() error {
	sched, err := pipeline.New(PipelineConfig(a.cfg), pipeline.Deps{
		Fingers:    a.providers.Fingers,
		IMU:        a.providers.IMU,
		Classifier: a.providers.Classifier,
		Speech:     a.providers.TTS,
		Cache:      a.providers.Cache,
		Player:     a.providers.Player,
		DataLog:    a.datalog,
		Profiler:   a.prof,
		Telemetry:  a.hub,
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}
	a.sched = sched
	return nil
}

// initHTTP registers /metrics, /healthz, /readyz and optionally /telemetry.
// The websocket stream is mounted outside the request middleware so a
// long-lived connection does not hold a request span open.
func (a *App) initHTTP() {
	st := a.sched.State()
	a.health = health.New(
		health.ClassifierReady(st.ClassifierReady),
		health.SensorsAvailable(st.FingersAvailable, st.IMUAvailable),
	).WithInfo(
		health.Flag("network", st.NetworkConnected),
		health.Flag("speech_enabled", st.SpeechEnabled),
		health.Flag("playing", st.Playing),
	)

	api := http.NewServeMux()
	api.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(api)

	root := http.NewServeMux()
	root.Handle("/", observe.Middleware(a.metrics)(api))
	if a.cfg.Telemetry.Enabled {
		root.Handle("GET /telemetry", a.hub)
	}
	a.handler = root

	if a.cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

// closeProviders returns closers for providers that hold resources.
func (a *App) closeProviders() []func() error {
	var closers []func() error
	if a.providers.Player != nil {
		closers = append(closers, a.providers.Player.Stop)
		if c, ok := a.providers.Player.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}
	if a.providers.Cache != nil {
		closers = append(closers, a.providers.Cache.Close)
	}
	return closers
}

// PipelineConfig maps the file configuration onto scheduler parameters.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.Period = cfg.Sampling.Period
	pc.WindowSize = cfg.Sampling.WindowSize
	pc.Debounce = debounce.Config{
		ConfidenceThreshold: cfg.Debounce.ConfidenceThreshold,
		Hold:                cfg.Debounce.Hold,
		LetterCooldown:      cfg.Debounce.LetterCooldown,
		SpeechCooldown:      cfg.Debounce.SpeechCooldown,
	}
	pc.Motion = motion.Config{
		Threshold: cfg.Motion.Threshold,
		Buffer:    cfg.Motion.Buffer,
		Quorum:    cfg.Motion.Quorum,
		Cooldown:  cfg.Motion.Cooldown,
	}
	if cfg.Normalization != nil {
		pc.Norm = *cfg.Normalization
	}
	pc.SpeechEnabled = cfg.Speech.IsEnabled()
	pc.Speech = tts.SynthesisOptions{Language: cfg.Speech.Language, Voice: cfg.Speech.Voice}
	pc.MaxText = cfg.Speech.MaxText
	pc.SpeechTimeout = cfg.Speech.Timeout
	pc.Queues = pipeline.Queues{
		Samples:   cfg.Queues.Samples,
		Decisions: cfg.Queues.Decisions,
		Requests:  cfg.Queues.Requests,
		Playback:  cfg.Queues.Playback,
		DataLog:   cfg.Queues.DataLog,
	}
	return pc
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the metrics, health and telemetry
// routes.
func (a *App) Handler() http.Handler { return a.handler }

// Scheduler returns the pipeline scheduler.
func (a *App) Scheduler() *pipeline.Scheduler { return a.sched }

// Console returns the command console.
func (a *App) Console() *console.Console { return a.console }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline, the HTTP server (when server.listen_addr is set)
// and the console reader, and blocks until ctx is cancelled or a component
// fails. When ctx is done, Run returns context.Canceled (or the underlying
// cause).
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sched.Run(gctx) })

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr, "telemetry", a.cfg.Telemetry.Enabled)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	// Reading the console blocks in the reader, which cannot be interrupted,
	// so it runs outside the group.
	if a.consoleIn != nil {
		go func() {
			if err := a.console.ReadFrom(gctx, a.consoleIn); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("console input error", "err", err)
			}
		}()
	}

	slog.Info("app running", "http", a.server != nil)
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Reconfigure applies the hot-reloadable parts of cfg to the running
// pipeline. Sampling, queues, providers and normalization need a restart.
func (a *App) Reconfigure(cfg *config.Config) {
	a.sched.Reconfigure(PipelineConfig(cfg))
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
