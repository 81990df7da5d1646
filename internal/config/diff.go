package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// takes effect on restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DebounceChanged bool
	MotionChanged   bool

	// SpeechChanged covers the enabled flag, language, voice and text
	// capacity.
	SpeechChanged bool

	// RestartRequired lists sections that changed but are not hot-reloadable.
	RestartRequired []string
}

// Any reports whether a hot-reloadable field changed.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DebounceChanged || d.MotionChanged || d.SpeechChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.DebounceChanged = old.Debounce != new.Debounce
	d.MotionChanged = old.Motion != new.Motion
	d.SpeechChanged = old.Speech.IsEnabled() != new.Speech.IsEnabled() ||
		old.Speech.Language != new.Speech.Language ||
		old.Speech.Voice != new.Speech.Voice ||
		old.Speech.MaxText != new.Speech.MaxText

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Sampling != new.Sampling {
		d.RestartRequired = append(d.RestartRequired, "sampling")
	}
	if old.Queues != new.Queues {
		d.RestartRequired = append(d.RestartRequired, "queues")
	}
	if old.Speech.Timeout != new.Speech.Timeout {
		d.RestartRequired = append(d.RestartRequired, "speech.timeout")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !normEqual(old, new) {
		d.RestartRequired = append(d.RestartRequired, "normalization")
	}
	if old.DataLog != new.DataLog || old.Profiler != new.Profiler || old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "datalog/profiler/telemetry")
	}
	return d
}

func normEqual(old, new *Config) bool {
	switch {
	case old.Normalization == nil && new.Normalization == nil:
		return true
	case old.Normalization == nil || new.Normalization == nil:
		return false
	}
	return *old.Normalization == *new.Normalization
}

// providersEqual compares provider selections by name, endpoint and model.
// Options are not compared.
func providersEqual(a, b ProvidersConfig) bool {
	same := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	if len(a.TTSFallbacks) != len(b.TTSFallbacks) {
		return false
	}
	for i := range a.TTSFallbacks {
		if !same(a.TTSFallbacks[i], b.TTSFallbacks[i]) {
			return false
		}
	}
	return same(a.Fingers, b.Fingers) && same(a.IMU, b.IMU) &&
		same(a.Classifier, b.Classifier) && same(a.TTS, b.TTS) &&
		same(a.Player, b.Player) && same(a.Cache, b.Cache)
}
