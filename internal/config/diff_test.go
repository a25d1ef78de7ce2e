package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/tutorcall/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Completion: config.ProviderEntry{Name: "openai"},
			Live:       config.ProviderEntry{Name: "openai-realtime"},
		},
		Session: config.SessionConfig{StartTimeout: 20 * time.Second},
		Voices: config.VoicesConfig{
			Fallback:  "alloy",
			Catalogue: map[string]map[string]string{"female": {"casual": "shimmer"}},
		},
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantVoices  bool
		wantSession bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{name: "log level", mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, wantLog: true},
		{name: "voice id", mutate: func(c *config.Config) { c.Voices.Catalogue = map[string]map[string]string{"female": {"casual": "coral"}} }, wantVoices: true},
		{name: "voice added", mutate: func(c *config.Config) {
			c.Voices.Catalogue = map[string]map[string]string{"female": {"casual": "shimmer"}, "male": {"casual": "echo"}}
		}, wantVoices: true},
		{name: "fallback voice", mutate: func(c *config.Config) { c.Voices.Fallback = "verse" }, wantVoices: true},
		{name: "session", mutate: func(c *config.Config) { c.Session.StartTimeout = time.Second }, wantSession: true},
		{name: "listen addr", mutate: func(c *config.Config) { c.Server.ListenAddr = ":9090" }, wantRestart: []string{"server"}},
		{name: "providers", mutate: func(c *config.Config) { c.Providers.Completion.Model = "gpt-4o" }, wantRestart: []string{"providers"}},
		{name: "stores", mutate: func(c *config.Config) {
			c.Documents.RedisAddr = "redis:6379"
			c.History.PostgresDSN = "postgres://db"
		}, wantRestart: []string{"documents", "history"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, updated := baseConfig(), baseConfig()
			tc.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tc.wantLog || d.VoicesChanged != tc.wantVoices || d.SessionChanged != tc.wantSession {
				t.Errorf("diff = %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v; want %v", d.RestartRequired, tc.wantRestart)
			}
			if tc.wantLog && d.NewLogLevel != config.LogDebug {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			empty := !tc.wantLog && !tc.wantVoices && !tc.wantSession && len(tc.wantRestart) == 0
			if d.Empty() != empty {
				t.Errorf("Empty() = %v; want %v", d.Empty(), empty)
			}
		})
	}
}
