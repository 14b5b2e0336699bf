package config_test

import (
	"testing"

	"github.com/parlano/parlano/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	a := baseConfig()
	b := baseConfig()
	d := config.Diff(a, b)
	if d.LogLevelChanged || d.PracticeChanged || d.RestartRequired {
		t.Errorf("Diff of identical configs = %+v, want zero diff", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	a := baseConfig()
	b := baseConfig()
	b.Server.LogLevel = config.LogDebug

	d := config.Diff(a, b)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged = false")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change flagged as restart-required")
	}
}

func TestDiff_Practice(t *testing.T) {
	t.Parallel()

	a := baseConfig()
	b := baseConfig()
	b.Practice.TranscribeTimeoutSeconds = 60

	d := config.Diff(a, b)
	if !d.PracticeChanged {
		t.Fatal("PracticeChanged = false")
	}
	if d.NewPractice.TranscribeTimeoutSeconds != 60 {
		t.Errorf("NewPractice = %+v", d.NewPractice)
	}
	if d.RestartRequired {
		t.Error("practice tuning change flagged as restart-required")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }},
		{"dsn", func(c *config.Config) { c.Database.PostgresDSN = "postgres://other/db" }},
		{"queue kind", func(c *config.Config) { c.Queue.Kind = config.QueueNATS }},
		{"queue servers", func(c *config.Config) { c.Queue.Servers = []string{"nats://localhost:4222"} }},
		{"textgen model", func(c *config.Config) { c.Providers.TextGen.Model = "gpt-4o" }},
		{"transcribe url", func(c *config.Config) { c.Providers.Transcribe.BaseURL = "http://other:8081" }},
		{"tls added", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := baseConfig()
			b := baseConfig()
			tt.mutate(b)
			if d := config.Diff(a, b); !d.RestartRequired {
				t.Errorf("Diff = %+v, want RestartRequired", d)
			}
		})
	}
}
