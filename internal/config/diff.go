package config

import "slices"

// ConfigDiff describes what changed between two configs. Log level and
// practice tuning can be applied live; everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PracticeChanged bool
	NewPractice     PracticeConfig

	// RestartRequired is set when a field that cannot be hot-reloaded
	// (database, queue, providers, listen address) changed.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Practice != new.Practice {
		d.PracticeChanged = true
		d.NewPractice = new.Practice
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Database != new.Database ||
		!queueEqual(old.Queue, new.Queue) ||
		!providerEqual(old.Providers.TextGen, new.Providers.TextGen) ||
		!providerEqual(old.Providers.Transcribe, new.Providers.Transcribe) {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func queueEqual(a, b QueueConfig) bool {
	return a.Kind == b.Kind && slices.Equal(a.Servers, b.Servers)
}

// providerEqual compares entries ignoring the free-form Options map, which is
// only read at construction time anyway.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
