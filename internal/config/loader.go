package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"completion": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "chatapi"},
	"live":       {"openai-realtime"},
}

// Load reads the YAML file at path and returns a validated [Config].
//
// Before parsing, a .env file next to the config file and one in the working
// directory are loaded into the process environment if present (existing
// variables win), and ${VAR} references in the file are expanded.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

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

// LoadDotEnv loads each existing file into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, name := range slices.Compact(files) {
		err := godotenv.Load(name)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("config: load %q: %w", name, err)
	}
	return nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references,
// fills defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
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
	for i, o := range cfg.Server.AllowedOrigins {
		if o == "" {
			errs = append(errs, fmt.Errorf("server.allowed_origins[%d] is empty", i))
		}
	}

	// Providers
	errs = append(errs, validateEntry("providers.completion", "completion", cfg.Providers.Completion)...)
	for i, fb := range cfg.Providers.CompletionFallbacks {
		errs = append(errs, validateEntry(fmt.Sprintf("providers.completion_fallbacks[%d]", i), "completion", fb)...)
	}
	errs = append(errs, validateEntry("providers.live", "live", cfg.Providers.Live)...)

	// Session
	if cfg.Session.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.start_timeout %s must not be negative", cfg.Session.StartTimeout))
	}
	if cfg.Session.CompletionTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.completion_timeout %s must not be negative", cfg.Session.CompletionTimeout))
	}
	if cfg.Session.ExcerptChars < 0 {
		errs = append(errs, fmt.Errorf("session.excerpt_chars %d must not be negative", cfg.Session.ExcerptChars))
	}

	// Voices
	for voice, styles := range cfg.Voices.Catalogue {
		for style, id := range styles {
			if id == "" {
				errs = append(errs, fmt.Errorf("voices.catalogue.%s.%s has an empty voice id", voice, style))
			}
		}
	}

	// Documents
	if cfg.Documents.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("documents.redis_db %d must not be negative", cfg.Documents.RedisDB))
	}
	if cfg.Documents.TTL < 0 {
		errs = append(errs, fmt.Errorf("documents.ttl %s must not be negative", cfg.Documents.TTL))
	}
	if cfg.Documents.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("documents.max_upload_bytes %d must not be negative", cfg.Documents.MaxUploadBytes))
	}
	if cfg.Documents.RedisAddr == "" {
		slog.Warn("documents.redis_addr is empty; uploaded documents are kept in memory and lost on restart")
	}

	// History
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; session history and chats are kept in memory")
	}

	return errors.Join(errs...)
}

func validateEntry(path, kind string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", path)}
	}
	validateProviderName(kind, e.Name)
	if e.Name == "chatapi" && e.BaseURL == "" {
		return []error{fmt.Errorf("%s.base_url is required for the chatapi provider", path)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
