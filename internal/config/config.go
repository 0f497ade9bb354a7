// Package config provides the configuration schema, loader, provider
// registry, and hot-reload watcher for the Aide assistant core.
package config

import "time"

// LogLevel controls log verbosity for the Aide server.
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

// ProviderKind selects the adapter implementation for a provider entry.
type ProviderKind string

const (
	// KindOpenAI uses the openai-go SDK; also serves OpenAI-compatible
	// gateways (OpenRouter) via base_url.
	KindOpenAI ProviderKind = "openai"

	// KindAnyLLM uses the any-llm multi-backend SDK; the Backend field
	// selects the concrete vendor.
	KindAnyLLM ProviderKind = "anyllm"

	// KindOllama talks to a local Ollama instance.
	KindOllama ProviderKind = "ollama"
)

// IsValid reports whether k is a recognised provider kind.
func (k ProviderKind) IsValid() bool {
	switch k {
	case KindOpenAI, KindAnyLLM, KindOllama:
		return true
	}
	return false
}

// CacheDriver selects the persistent cache backend.
type CacheDriver string

const (
	// DriverSQLite stores the persistent tier in a local SQLite file.
	DriverSQLite CacheDriver = "sqlite"

	// DriverPostgres stores the persistent tier in PostgreSQL with pgvector
	// embeddings.
	DriverPostgres CacheDriver = "postgres"

	// DriverNone disables the persistent tier.
	DriverNone CacheDriver = "none"
)

// IsValid reports whether d is a recognised cache driver.
func (d CacheDriver) IsValid() bool {
	switch d {
	case DriverSQLite, DriverPostgres, DriverNone:
		return true
	}
	return false
}

// Config is the root configuration structure for Aide.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Assistant AssistantConfig  `yaml:"assistant"`
	Providers []ProviderConfig `yaml:"providers"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	Cache     CacheConfig      `yaml:"cache"`
	Router    RouterConfig     `yaml:"router"`
	Executor  ExecutorConfig   `yaml:"executor"`
	Monitor   MonitorConfig    `yaml:"monitor"`
}

// ServerConfig holds network and logging settings for the Aide server.
type ServerConfig struct {
	// ListenAddr is the TCP address the status/metrics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AssistantConfig holds user-facing identity settings.
type AssistantConfig struct {
	// Name is the assistant's spoken name. It is answered from the
	// capability template and stripped as a filler word during request
	// fingerprinting.
	Name string `yaml:"name"`
}

// ProviderConfig describes one model provider the router may dispatch to.
// The Name is the logical routing identity ("fast-remote", "local"); Kind
// selects the adapter.
type ProviderConfig struct {
	// Name is the logical provider name used in routing tables, metrics,
	// and status output.
	Name string `yaml:"name"`

	// Kind selects the adapter implementation.
	Kind ProviderKind `yaml:"kind"`

	// Backend selects the vendor for kind "anyllm" (e.g. "anthropic",
	// "groq"). Ignored by the other kinds.
	Backend string `yaml:"backend"`

	// APIKey is the authentication key, inline. Prefer APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names an environment variable holding the key. Takes
	// precedence over APIKey when the variable is set.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the adapter's default endpoint. For kind "openai"
	// this is how OpenAI-compatible gateways are reached.
	BaseURL string `yaml:"base_url"`

	// Referrer and Title are identity headers some gateways (OpenRouter)
	// require. Ignored when empty.
	Referrer string `yaml:"referrer"`
	Title    string `yaml:"title"`

	// Model is the backend-specific model identifier.
	Model string `yaml:"model"`

	// Temperature and MaxTokens are the default generation parameters
	// applied when a request leaves them unset.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Quota bounds this provider's request and token rates. Zero-value
	// quotas are unlimited.
	Quota QuotaConfig `yaml:"quota"`
}

// QuotaConfig is the per-provider rate-limit window.
type QuotaConfig struct {
	// MaxRequests is the request budget per window. Zero means unlimited.
	MaxRequests int `yaml:"max_requests"`

	// MaxTokens is the token budget per window. Zero means unlimited.
	MaxTokens int `yaml:"max_tokens"`

	// Window is the accumulation interval. Zero means one minute.
	Window time.Duration `yaml:"window"`
}

// EmbeddingConfig selects the embedding backend powering the semantic cache
// tier. An empty Provider disables the tier.
type EmbeddingConfig struct {
	// Provider is "openai" or "ollama". Empty disables semantic caching.
	Provider string `yaml:"provider"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Dimensions is the embedding vector width. Required for the postgres
	// cache driver (the column type is dimension-fixed).
	Dimensions int `yaml:"dimensions"`
}

// CacheConfig tunes the four cache tiers.
type CacheConfig struct {
	// L1Capacity bounds the in-memory LRU tier. Zero means the default.
	L1Capacity int `yaml:"l1_capacity"`

	// Driver selects the persistent tier backend. Empty means "sqlite".
	Driver CacheDriver `yaml:"driver"`

	// Path is the SQLite database file for driver "sqlite".
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string for driver "postgres".
	DSN string `yaml:"dsn"`

	// MaxEntries bounds the persistent tier row count.
	MaxEntries int `yaml:"max_entries"`

	// SemanticThreshold is the cosine similarity floor for semantic hits.
	// Zero means the default (0.92).
	SemanticThreshold float64 `yaml:"semantic_threshold"`

	// SemanticCapacity bounds the in-process semantic index.
	SemanticCapacity int `yaml:"semantic_capacity"`
}

// RouterConfig tunes retry and failover behaviour.
type RouterConfig struct {
	// MaxRetries is the per-provider attempt budget for transient failures.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase seeds the exponential retry backoff.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// Deadline bounds one routed request end to end.
	Deadline time.Duration `yaml:"deadline"`
}

// ExecutorConfig tunes the bounded parallel executor.
type ExecutorConfig struct {
	// MaxParallel bounds concurrent task execution.
	MaxParallel int `yaml:"max_parallel"`

	// TaskTimeout is the default per-task deadline. Zero means none.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// MonitorConfig tunes the resource monitor.
type MonitorConfig struct {
	// SampleInterval is the sampling cadence. Zero means 10s.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// SoftRSSMegabytes is the resident-set size that forces a GC cycle.
	SoftRSSMegabytes float64 `yaml:"soft_rss_mb"`

	// HardRSSMegabytes is the resident-set size that fires pressure
	// callbacks.
	HardRSSMegabytes float64 `yaml:"hard_rss_mb"`

	// HardCPUPercent is the CPU utilisation that fires pressure callbacks.
	HardCPUPercent float64 `yaml:"hard_cpu_percent"`
}
