// Package config provides the configuration schema, loader, and provider
// registry for the foglamp turn engine.
package config

import "time"

// LogLevel controls log verbosity for the foglamp server.
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

// MemoryBackend selects the document store and event log implementation.
type MemoryBackend string

const (
	// BackendSQLite stores documents and events in a local SQLite file.
	BackendSQLite MemoryBackend = "sqlite"

	// BackendPostgres stores documents and events in PostgreSQL.
	BackendPostgres MemoryBackend = "postgres"

	// BackendMemory keeps everything in process memory. Useful for dry runs.
	BackendMemory MemoryBackend = "memory"
)

// IsValid reports whether b is a recognised backend.
func (b MemoryBackend) IsValid() bool {
	switch b {
	case BackendSQLite, BackendPostgres, BackendMemory:
		return true
	}
	return false
}

// IndexBackend selects where embedding vectors are searched.
type IndexBackend string

const (
	// IndexFlat is the file-based flat index under index.dir.
	IndexFlat IndexBackend = "flat"

	// IndexPgvector stores vectors next to the documents in PostgreSQL.
	// Requires memory.backend postgres.
	IndexPgvector IndexBackend = "pgvector"
)

// IsValid reports whether b is a recognised index backend.
func (b IndexBackend) IsValid() bool {
	return b == IndexFlat || b == IndexPgvector
}

// Config is the root configuration structure for foglamp.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Memory    MemoryConfig    `yaml:"memory"`
	Index     IndexConfig     `yaml:"index"`
	Logs      LogsConfig      `yaml:"logs"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Canon     CanonConfig     `yaml:"canon"`
}

// ServerConfig holds network and logging settings for the foglamp server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for text
// generation and embeddings. Each entry selects a named provider registered
// in the [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// EmbeddingsFallbacks are tried in order when the primary embeddings
	// provider fails. They must produce vectors of the same dimension.
	EmbeddingsFallbacks []ProviderEntry `yaml:"embeddings_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// MemoryConfig selects the document store and transcript event log.
type MemoryConfig struct {
	// Backend is sqlite (default), postgres or memory.
	Backend MemoryBackend `yaml:"backend"`

	// DSN is the connection string. For sqlite a file path or
	// "sqlite://path"; for postgres a libpq URL.
	DSN string `yaml:"dsn"`

	// EmbeddingDimensions sizes the pgvector column. Required when
	// index.backend is pgvector.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// IndexConfig configures the similarity index.
type IndexConfig struct {
	// Backend is flat (default) or pgvector.
	Backend IndexBackend `yaml:"backend"`

	// Dir holds the flat index generations.
	Dir string `yaml:"dir"`
}

// LogsConfig configures the per-turn artifacts.
type LogsConfig struct {
	// Dir receives turn_<N>.md and turn_<N>.json.
	Dir string `yaml:"dir"`
}

// PipelineConfig tunes the turn pipeline.
type PipelineConfig struct {
	// PlannerTemperature defaults to 0.2.
	PlannerTemperature *float64 `yaml:"planner_temperature"`

	// NarratorTemperature defaults to 0.6.
	NarratorTemperature *float64 `yaml:"narrator_temperature"`

	// PlannerMaxTokens and NarratorMaxTokens cap the response length. Zero
	// leaves the provider default.
	PlannerMaxTokens  int `yaml:"planner_max_tokens"`
	NarratorMaxTokens int `yaml:"narrator_max_tokens"`

	// TopK is the number of index hits considered per retrieval. Default 3.
	TopK int `yaml:"top_k"`

	// ReindexBatchSize and ReindexConcurrency shape offline reindexing.
	ReindexBatchSize   int `yaml:"reindex_batch_size"`
	ReindexConcurrency int `yaml:"reindex_concurrency"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig bounds each external call of a turn. Zero selects the
// default bound.
type TimeoutsConfig struct {
	Embedding time.Duration `yaml:"embedding"`
	Planner   time.Duration `yaml:"planner"`
	Narrator  time.Duration `yaml:"narrator"`
}

// CanonConfig configures the narrative validator.
type CanonConfig struct {
	// CharacterReferences enables the character-reference rule. The rule has
	// no data source yet and only logs when enabled.
	CharacterReferences bool `yaml:"character_references"`
}
