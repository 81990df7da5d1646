// Command signglove runs the gesture glove pipeline: it samples the finger
// and motion sensors, recognises letters, and speaks the spelled text when
// the wearer shakes the hand.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MrWong99/signglove/internal/app"
	"github.com/MrWong99/signglove/internal/config"
	"github.com/MrWong99/signglove/internal/observe"
	"github.com/MrWong99/signglove/internal/resilience"
	"github.com/MrWong99/signglove/internal/speechcache"
	"github.com/MrWong99/signglove/pkg/audio"
	"github.com/MrWong99/signglove/pkg/audio/portaudio"
	"github.com/MrWong99/signglove/pkg/classifier"
	"github.com/MrWong99/signglove/pkg/classifier/centroid"
	"github.com/MrWong99/signglove/pkg/provider/tts"
	"github.com/MrWong99/signglove/pkg/provider/tts/coqui"
	"github.com/MrWong99/signglove/pkg/provider/tts/openai"
	"github.com/MrWong99/signglove/pkg/sensor"
	"github.com/MrWong99/signglove/pkg/sensor/replay"
	"github.com/MrWong99/signglove/pkg/sensor/sim"
)

// version is set at build time via -ldflags.
var version = "dev"

// providerNone disables an optional provider slot.
const providerNone = "none"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "signglove: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "signglove: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("signglove starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		otelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(otelCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(r config.Reload) {
			applyReload(&level, application, r)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
		}
	}

	slog.Info("glove ready; type h for console help, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload pushes the hot-reloadable parts of r.New into the running
// process.
func applyReload(level *slog.LevelVar, application *app.App, r config.Reload) {
	d := r.Diff
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DebounceChanged || d.MotionChanged || d.SpeechChanged {
		application.Reconfigure(r.New)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with signglove. Used for startup logging.
var builtinProviders = map[string][]string{
	"fingers":    {"sim", "replay"},
	"imu":        {"sim", "replay"},
	"classifier": {"centroid"},
	"tts":        {"coqui", "openai"},
	"player":     {"timed", "portaudio"},
	"cache":      {"dir", "badger"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	norm := sensor.DefaultAxisNorm
	if cfg.Normalization != nil {
		norm = *cfg.Normalization
	}

	// ── Sensors ───────────────────────────────────────────────────────────────

	reg.RegisterFingers("sim", func(entry config.ProviderEntry) (sensor.Fingers, error) {
		return sim.NewFingers(simOptions(entry)...), nil
	})
	reg.RegisterIMU("sim", func(entry config.ProviderEntry) (sensor.IMU, error) {
		return sim.NewIMU(simOptions(entry)...), nil
	})

	// replay reads a data logger CSV, taken from model or options.path.
	reg.RegisterFingers("replay", func(entry config.ProviderEntry) (sensor.Fingers, error) {
		rec, err := replay.Open(replayPath(entry))
		if err != nil {
			return nil, err
		}
		return replay.NewFingers(rec), nil
	})
	reg.RegisterIMU("replay", func(entry config.ProviderEntry) (sensor.IMU, error) {
		rec, err := replay.Open(replayPath(entry))
		if err != nil {
			return nil, err
		}
		return replay.NewIMU(rec, norm), nil
	})

	// ── Classifier ────────────────────────────────────────────────────────────

	reg.RegisterClassifier("centroid", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		var opts []centroid.Option
		if entry.Model != "" {
			opts = append(opts, centroid.WithModelPath(entry.Model))
		}
		return centroid.New(opts...), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if cfg.Speech.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(cfg.Speech.Timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, openai.WithVoice(voice))
		}
		if cfg.Speech.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(cfg.Speech.Timeout))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Player ────────────────────────────────────────────────────────────────

	reg.RegisterPlayer("timed", func(entry config.ProviderEntry) (audio.Player, error) {
		return &audio.TimedPlayer{Speed: optFloat(entry.Options, "speed")}, nil
	})

	reg.RegisterPlayer("portaudio", func(entry config.ProviderEntry) (audio.Player, error) {
		var opts []portaudio.Option
		if n := int(optFloat(entry.Options, "frames_per_buffer")); n > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		rate := int(optFloat(entry.Options, "sample_rate"))
		channels := int(optFloat(entry.Options, "channels"))
		if rate > 0 && channels > 0 {
			opts = append(opts, portaudio.WithFallbackFormat(audio.Format{SampleRate: rate, Channels: channels}))
		}
		return portaudio.New(opts...)
	})

	// ── Speech cache ──────────────────────────────────────────────────────────

	reg.RegisterCache("dir", func(entry config.ProviderEntry) (speechcache.Store, error) {
		return speechcache.NewDirStore(cacheDir(entry, "speech"))
	})

	reg.RegisterCache("badger", func(entry config.ProviderEntry) (speechcache.Store, error) {
		var opts []speechcache.BadgerOption
		if optBool(entry.Options, "in_memory") {
			opts = append(opts, speechcache.InMemory())
		}
		return speechcache.OpenBadger(cacheDir(entry, filepath.Join("speech", "badger")), opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.Fingers, err = create("fingers", cfg.Providers.Fingers, reg.CreateFingers); err != nil {
		return nil, err
	}
	if ps.IMU, err = create("imu", cfg.Providers.IMU, reg.CreateIMU); err != nil {
		return nil, err
	}
	if ps.Classifier, err = create("classifier", cfg.Providers.Classifier, reg.CreateClassifier); err != nil {
		return nil, err
	}
	if ps.TTS, err = buildTTS(cfg, reg); err != nil {
		return nil, err
	}
	if ps.Player, err = create("player", cfg.Providers.Player, reg.CreatePlayer); err != nil {
		return nil, err
	}
	if ps.Cache, err = create("cache", cfg.Providers.Cache, reg.CreateCache); err != nil {
		return nil, err
	}
	return ps, nil
}

// buildTTS creates the primary speech provider and, when fallbacks are
// configured, wraps it in a circuit-breaking failover group.
func buildTTS(cfg *config.Config, reg *config.Registry) (tts.Provider, error) {
	primary, err := create("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil || primary == nil || len(cfg.Providers.TTSFallbacks) == 0 {
		return primary, err
	}

	fb := resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("tts circuit breaker", "provider", name, "from", from, "to", to)
			},
		},
	})
	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := create("tts", entry, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		if p != nil {
			fb.AddFallback(entry.Name, p)
		}
	}
	return fb, nil
}

// create instantiates one provider slot. "none" and unregistered names leave
// the slot empty.
func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" || entry.Name == providerNone {
		slog.Debug("provider disabled", "kind", kind)
		return zero, nil
	}
	p, err := fn(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available; skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       signglove startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Fingers", cfg.Providers.Fingers.Name, "")
	printProvider("IMU", cfg.Providers.IMU.Name, "")
	printProvider("Classifier", cfg.Providers.Classifier.Name, cfg.Providers.Classifier.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Player", cfg.Providers.Player.Name, "")
	printProvider("Cache", cfg.Providers.Cache.Name, "")
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Providers.TTSFallbacks))
	fmt.Printf("║  Sample period   : %-19s ║\n", cfg.Sampling.Period)
	fmt.Printf("║  Speech          : %-19s ║\n", enabled(cfg.Speech.IsEnabled()))
	fmt.Printf("║  Telemetry       : %-19s ║\n", enabled(cfg.Telemetry.Enabled))
	if cfg.DataLog.Path != "" {
		printProvider("Data log", cfg.DataLog.Path, "")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" || value == providerNone {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number. YAML integers decode as int, so both are
// accepted.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

func simOptions(entry config.ProviderEntry) []sim.Option {
	var opts []sim.Option
	if _, ok := entry.Options["flex"]; ok {
		opts = append(opts, sim.WithFlex(optFloat(entry.Options, "flex")))
	}
	if _, ok := entry.Options["noise"]; ok {
		opts = append(opts, sim.WithNoise(optFloat(entry.Options, "noise")))
	}
	if _, ok := entry.Options["gyro_noise"]; ok {
		opts = append(opts, sim.WithGyroNoise(optFloat(entry.Options, "gyro_noise")))
	}
	if seed := optFloat(entry.Options, "seed"); seed > 0 {
		opts = append(opts, sim.WithSeed(uint64(seed)))
	}
	return opts
}

func replayPath(entry config.ProviderEntry) string {
	if entry.Model != "" {
		return entry.Model
	}
	return optString(entry.Options, "path")
}

func cacheDir(entry config.ProviderEntry, def string) string {
	if dir := optString(entry.Options, "dir"); dir != "" {
		return dir
	}
	return def
}
