package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"fingers":    {"sim", "replay", "none"},
	"imu":        {"sim", "replay", "none"},
	"classifier": {"centroid"},
	"tts":        {"coqui", "openai"},
	"player":     {"portaudio", "timed"},
	"cache":      {"dir", "badger", "none"},
}

// Defaults are the glove's tuned constants.
const (
	DefaultPeriod          = 20 * time.Millisecond
	DefaultWindowSize      = 25
	DefaultConfidence      = 0.85
	DefaultHold            = 200 * time.Millisecond
	DefaultLetterCooldown  = 200 * time.Millisecond
	DefaultSpeechCooldown  = 1500 * time.Millisecond
	DefaultMotionThreshold = 3.5
	DefaultMotionBuffer    = 25
	DefaultMotionQuorum    = 18
	DefaultMotionCooldown  = 1500 * time.Millisecond
	DefaultLanguage        = "en"
	DefaultMaxText         = 64
	DefaultSpeechTimeout   = 8 * time.Second
	DefaultProfilerCap     = 1000
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with the tuned defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Sampling.Period, DefaultPeriod)
	setDefault(&cfg.Sampling.WindowSize, DefaultWindowSize)

	setDefault(&cfg.Debounce.ConfidenceThreshold, DefaultConfidence)
	setDefault(&cfg.Debounce.Hold, DefaultHold)
	setDefault(&cfg.Debounce.LetterCooldown, DefaultLetterCooldown)
	setDefault(&cfg.Debounce.SpeechCooldown, DefaultSpeechCooldown)

	setDefault(&cfg.Motion.Threshold, DefaultMotionThreshold)
	setDefault(&cfg.Motion.Buffer, DefaultMotionBuffer)
	setDefault(&cfg.Motion.Quorum, DefaultMotionQuorum)
	setDefault(&cfg.Motion.Cooldown, DefaultMotionCooldown)

	setDefault(&cfg.Speech.Language, DefaultLanguage)
	setDefault(&cfg.Speech.MaxText, DefaultMaxText)
	setDefault(&cfg.Speech.Timeout, DefaultSpeechTimeout)

	setDefault(&cfg.Queues.Samples, 20)
	setDefault(&cfg.Queues.Decisions, 10)
	setDefault(&cfg.Queues.Requests, 3)
	setDefault(&cfg.Queues.Playback, 3)
	setDefault(&cfg.Queues.DataLog, 50)

	setDefault(&cfg.Providers.Fingers.Name, "sim")
	setDefault(&cfg.Providers.IMU.Name, "sim")
	setDefault(&cfg.Providers.Classifier.Name, "centroid")
	setDefault(&cfg.Providers.TTS.Name, "coqui")
	setDefault(&cfg.Providers.Player.Name, "timed")
	setDefault(&cfg.Providers.Cache.Name, "none")

	setDefault(&cfg.Profiler.Capacity, DefaultProfilerCap)
	setDefault(&cfg.Profiler.ExportDir, ".")
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Sampling.Period < 0 {
		errs = append(errs, fmt.Errorf("sampling.period %v must be positive", cfg.Sampling.Period))
	}
	if cfg.Sampling.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("sampling.window_size %d must be positive", cfg.Sampling.WindowSize))
	}

	if c := cfg.Debounce.ConfidenceThreshold; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("debounce.confidence_threshold %.2f is out of range [0, 1]", c))
	}
	for name, d := range map[string]time.Duration{
		"debounce.hold":            cfg.Debounce.Hold,
		"debounce.letter_cooldown": cfg.Debounce.LetterCooldown,
		"debounce.speech_cooldown": cfg.Debounce.SpeechCooldown,
		"motion.cooldown":          cfg.Motion.Cooldown,
		"speech.timeout":           cfg.Speech.Timeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %v must not be negative", name, d))
		}
	}

	if cfg.Motion.Threshold < 0 {
		errs = append(errs, fmt.Errorf("motion.threshold %.2f must not be negative", cfg.Motion.Threshold))
	}
	if cfg.Motion.Buffer < 0 {
		errs = append(errs, fmt.Errorf("motion.buffer %d must be positive", cfg.Motion.Buffer))
	}
	if cfg.Motion.Quorum < 0 || (cfg.Motion.Buffer > 0 && cfg.Motion.Quorum > cfg.Motion.Buffer) {
		errs = append(errs, fmt.Errorf("motion.quorum %d is out of range [1, %d]", cfg.Motion.Quorum, cfg.Motion.Buffer))
	}

	if cfg.Speech.MaxText < 0 {
		errs = append(errs, fmt.Errorf("speech.max_text %d must be positive", cfg.Speech.MaxText))
	}

	for name, n := range map[string]int{
		"queues.samples":   cfg.Queues.Samples,
		"queues.decisions": cfg.Queues.Decisions,
		"queues.requests":  cfg.Queues.Requests,
		"queues.playback":  cfg.Queues.Playback,
		"queues.datalog":   cfg.Queues.DataLog,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s %d must be positive", name, n))
		}
	}

	if n := cfg.Normalization; n != nil {
		for axis, p := range map[string]float64{
			"ax": n.AX.Std, "ay": n.AY.Std, "az": n.AZ.Std,
			"gx": n.GX.Std, "gy": n.GY.Std, "gz": n.GZ.Std,
		} {
			if p <= 0 {
				errs = append(errs, fmt.Errorf("normalization.%s.std %.4f must be positive", axis, p))
			}
		}
	}

	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}

	validateProviderName("fingers", cfg.Providers.Fingers.Name)
	validateProviderName("imu", cfg.Providers.IMU.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("player", cfg.Providers.Player.Name)
	validateProviderName("cache", cfg.Providers.Cache.Name)

	if cfg.Providers.Fingers.Name == "none" && cfg.Providers.IMU.Name == "none" {
		slog.Warn("no sensor drivers configured; the glove will never report readiness")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// parse decodes data without touching the filesystem. Used by the watcher.
func parse(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
