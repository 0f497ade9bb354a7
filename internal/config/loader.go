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

// ValidEmbeddingProviders lists the known embedding backends. Used by
// [Validate] to warn about unrecognised names.
var ValidEmbeddingProviders = []string{"openai", "ollama"}

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

	// Providers
	if len(cfg.Providers) == 0 {
		slog.Warn("no providers configured; only template-backed replies will be served")
	}
	namesSeen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
			}
			namesSeen[p.Name] = i
		}
		if !p.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: openai, anyllm, ollama", prefix, p.Kind))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if p.Kind == KindAnyLLM && p.Backend == "" {
			errs = append(errs, fmt.Errorf("%s.backend is required for kind anyllm", prefix))
		}
		if p.Kind == KindOpenAI && p.APIKey == "" && p.APIKeyEnv == "" {
			slog.Warn("openai-kind provider has no api_key or api_key_env; it will report unavailable",
				"provider", p.Name)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, p.Temperature))
		}
		if p.Quota.MaxRequests < 0 || p.Quota.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("%s.quota budgets must not be negative", prefix))
		}
	}

	// Embedding backend
	if cfg.Embedding.Provider != "" {
		if !slices.Contains(ValidEmbeddingProviders, cfg.Embedding.Provider) {
			slog.Warn("unknown embedding provider — may be a typo",
				"name", cfg.Embedding.Provider,
				"known", ValidEmbeddingProviders)
		}
		if cfg.Embedding.Model == "" {
			errs = append(errs, fmt.Errorf("embedding.model is required when embedding.provider is set"))
		}
	}

	// Cache
	driver := cfg.Cache.Driver
	if driver != "" && !driver.IsValid() {
		errs = append(errs, fmt.Errorf("cache.driver %q is invalid; valid values: sqlite, postgres, none", driver))
	}
	if driver == DriverPostgres {
		if cfg.Cache.DSN == "" {
			errs = append(errs, fmt.Errorf("cache.dsn is required for driver postgres"))
		}
		if cfg.Embedding.Provider != "" && cfg.Embedding.Dimensions <= 0 {
			errs = append(errs, fmt.Errorf("embedding.dimensions is required for driver postgres (the vector column is dimension-fixed)"))
		}
	}
	if driver == DriverSQLite && cfg.Cache.Path == "" {
		slog.Warn("cache.path is empty; defaulting to aide-cache.db in the working directory")
	}
	if t := cfg.Cache.SemanticThreshold; t != 0 && (t <= 0 || t > 1) {
		errs = append(errs, fmt.Errorf("cache.semantic_threshold %.2f is out of range (0, 1]", t))
	}

	// Router
	if cfg.Router.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("router.max_retries must not be negative"))
	}
	if cfg.Router.BackoffBase < 0 || cfg.Router.Deadline < 0 {
		errs = append(errs, fmt.Errorf("router durations must not be negative"))
	}

	// Executor and monitor
	if cfg.Executor.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("executor.max_parallel must not be negative"))
	}
	if m := cfg.Monitor; m.SoftRSSMegabytes > 0 && m.HardRSSMegabytes > 0 && m.SoftRSSMegabytes > m.HardRSSMegabytes {
		errs = append(errs, fmt.Errorf("monitor.soft_rss_mb (%.0f) must not exceed monitor.hard_rss_mb (%.0f)",
			m.SoftRSSMegabytes, m.HardRSSMegabytes))
	}

	return errors.Join(errs...)
}

// ResolveAPIKey returns the provider's API key: the environment variable
// named by api_key_env when set and non-empty, otherwise the inline api_key.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			return v
		}
	}
	return p.APIKey
}
