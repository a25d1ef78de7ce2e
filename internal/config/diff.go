package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes the hot-reloadable differences between two configs.
// Everything else (listen address, providers, stores) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoicesChanged is set when the fallback voice or any catalogue entry
	// changed. Applies to sessions started afterwards.
	VoicesChanged bool

	// SessionChanged is set when any session tuning changed. Applies to
	// sessions created afterwards.
	SessionChanged bool

	// RestartRequired lists the top-level sections that changed but cannot
	// be applied without a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoicesChanged && !d.SessionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VoicesChanged = !voicesEqual(old.Voices, new.Voices)
	d.SessionChanged = old.Session != new.Session

	if old.Server.ListenAddr != new.Server.ListenAddr || !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Documents != new.Documents {
		d.RestartRequired = append(d.RestartRequired, "documents")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	return d
}

func voicesEqual(a, b VoicesConfig) bool {
	if a.Fallback != b.Fallback || len(a.Catalogue) != len(b.Catalogue) {
		return false
	}
	for voice, styles := range a.Catalogue {
		other, ok := b.Catalogue[voice]
		if !ok || !maps.Equal(styles, other) {
			return false
		}
	}
	return true
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.Completion, b.Completion) || !entryEqual(a.Live, b.Live) || len(a.CompletionFallbacks) != len(b.CompletionFallbacks) {
		return false
	}
	for i := range a.CompletionFallbacks {
		if !entryEqual(a.CompletionFallbacks[i], b.CompletionFallbacks[i]) {
			return false
		}
	}
	return true
}

// entryEqual ignores Options, which holds arbitrary YAML values.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
