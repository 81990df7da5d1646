// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the signglove runtime.
package config

import (
	"time"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Debounce  DebounceConfig  `yaml:"debounce"`
	Motion    MotionConfig    `yaml:"motion"`
	Speech    SpeechConfig    `yaml:"speech"`
	Queues    QueuesConfig    `yaml:"queues"`
	Providers ProvidersConfig `yaml:"providers"`
	DataLog   DataLogConfig   `yaml:"datalog"`
	Profiler  ProfilerConfig  `yaml:"profiler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Normalization overrides the per-axis IMU calibration the classifier
	// expects. When nil, [sensor.DefaultAxisNorm] is used.
	Normalization *sensor.AxisNorm `yaml:"normalization"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics, health and telemetry
	// endpoints (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// SamplingConfig controls the sensor loop.
type SamplingConfig struct {
	// Period is the interval between sensor frames.
	Period time.Duration `yaml:"period"`

	// WindowSize is the number of frames per classifier window.
	WindowSize int `yaml:"window_size"`
}

// DebounceConfig tunes the decision debouncer.
type DebounceConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	Hold                time.Duration `yaml:"hold"`
	LetterCooldown      time.Duration `yaml:"letter_cooldown"`
	SpeechCooldown      time.Duration `yaml:"speech_cooldown"`
}

// MotionConfig tunes the shake trigger.
type MotionConfig struct {
	// Threshold is the angular-rate magnitude a sample must exceed.
	Threshold float64 `yaml:"threshold"`
	// Buffer is the number of recent samples considered.
	Buffer int `yaml:"buffer"`
	// Quorum is how many of them must exceed Threshold.
	Quorum int `yaml:"quorum"`
	// Cooldown is the minimum time between triggers.
	Cooldown time.Duration `yaml:"cooldown"`
}

// SpeechConfig controls text-to-speech.
type SpeechConfig struct {
	// Enabled allows the shake gesture to speak the pending text. Defaults
	// to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// Language is the BCP-47 code passed to the TTS provider.
	Language string `yaml:"language"`

	// Voice is the provider-specific voice identifier.
	Voice string `yaml:"voice"`

	// MaxText is the pending text capacity in bytes.
	MaxText int `yaml:"max_text"`

	// Timeout bounds one synthesis request.
	Timeout time.Duration `yaml:"timeout"`
}

// IsEnabled reports the effective Enabled value.
func (s SpeechConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// QueuesConfig holds the inter-task queue depths.
type QueuesConfig struct {
	Samples   int `yaml:"samples"`
	Decisions int `yaml:"decisions"`
	Requests  int `yaml:"requests"`
	Playback  int `yaml:"playback"`
	// DataLog buffers samples between the sampling task and the CSV writer.
	DataLog int `yaml:"datalog"`
}

// ProvidersConfig declares which implementation to use for each external
// collaborator. Each field selects a named factory registered in the
// [Registry].
type ProvidersConfig struct {
	Fingers    ProviderEntry `yaml:"fingers"`
	IMU        ProviderEntry `yaml:"imu"`
	Classifier ProviderEntry `yaml:"classifier"`

	// TTS is the primary speech provider. TTSFallbacks are tried in order
	// when it fails or its circuit is open.
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	Player ProviderEntry `yaml:"player"`
	Cache  ProviderEntry `yaml:"cache"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "sim", "coqui").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "tts-1"), or a model
	// file for local classifiers.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// DataLogConfig configures the CSV training-data recorder.
type DataLogConfig struct {
	// Path is the CSV file rows are appended to. Empty disables recording.
	Path string `yaml:"path"`
}

// ProfilerConfig configures the timing profiler.
type ProfilerConfig struct {
	// Capacity is the number of events kept.
	Capacity int `yaml:"capacity"`

	// ExportDir is where VCD exports are written.
	ExportDir string `yaml:"export_dir"`
}

// TelemetryConfig configures the live websocket stream.
type TelemetryConfig struct {
	// Enabled mounts the /telemetry endpoint.
	Enabled bool `yaml:"enabled"`
}
