package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"textgen":    {"openai"},
	"transcribe": {"whisper"},
}

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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	// Queue
	if cfg.Queue.Kind != "" && !cfg.Queue.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("queue.kind %q is invalid; valid values: nats, inproc", cfg.Queue.Kind))
	}
	if cfg.Queue.Kind == QueueNATS && len(cfg.Queue.Servers) == 0 {
		errs = append(errs, errors.New("queue.servers is required when queue.kind is nats"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("textgen", cfg.Providers.TextGen.Name)
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)

	// Provider availability warnings. The engine degrades gracefully without
	// either provider, so these are not errors.
	if cfg.Providers.TextGen.Name == "" {
		slog.Warn("no text-generation provider configured; prompts and summaries will use deterministic fallbacks")
	}
	if cfg.Providers.Transcribe.Name == "" {
		slog.Warn("no transcription provider configured; every round will be finalised through the degraded path")
	}
	if cfg.Providers.TextGen.Name == "openai" && cfg.Providers.TextGen.APIKey == "" {
		errs = append(errs, errors.New("providers.textgen.api_key is required for the openai provider"))
	}
	if cfg.Providers.Transcribe.Name == "whisper" && cfg.Providers.Transcribe.BaseURL == "" {
		errs = append(errs, errors.New("providers.transcribe.base_url is required for the whisper provider"))
	}

	// Practice tuning
	if cfg.Practice.TranscribeTimeoutSeconds < 0 {
		errs = append(errs, errors.New("practice.transcribe_timeout_seconds must not be negative"))
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
