package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr         = ":8080"
	DefaultSQLiteDSN          = "data/foglamp.db"
	DefaultIndexDir           = "data/index"
	DefaultLogsDir            = "logs"
	DefaultLLMProvider        = "openai"
	DefaultLLMModel           = "gpt-4-turbo-preview"
	DefaultEmbeddingsProvider = "openai"
	DefaultEmbeddingsModel    = "text-embedding-3-large"
	DefaultTopK               = 3
	DefaultReindexBatchSize   = 64
	DefaultReindexConcurrency = 4
	DefaultEmbeddingTimeout   = 30 * time.Second
	DefaultPlannerTimeout     = 60 * time.Second
	DefaultNarratorTimeout    = 120 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// envOverrides holds the environment variables that take precedence over the
// YAML file.
type envOverrides struct {
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	MemoryBackend MemoryBackend `env:"FOGLAMP_MEMORY_BACKEND"`
	LogLevel      LogLevel      `env:"FOGLAMP_LOG_LEVEL"`
	ListenAddr    string        `env:"FOGLAMP_LISTEN_ADDR"`
	IndexDir      string        `env:"FOGLAMP_INDEX_DIR"`
	LogDir        string        `env:"FOGLAMP_LOG_DIR"`
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config]. An empty path
// skips the file and builds the config from the environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
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

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the supported environment variables onto cfg.
// OPENAI_API_KEY fills the api_key of every openai provider entry that has
// none.
func ApplyEnv(cfg *Config) error {
	var e envOverrides
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}

	if e.OpenAIAPIKey != "" {
		for _, entry := range cfg.providerEntries() {
			if (entry.Name == "openai" || entry.Name == "") && entry.APIKey == "" {
				entry.APIKey = e.OpenAIAPIKey
			}
		}
	}
	if e.DatabaseURL != "" {
		cfg.Memory.DSN = e.DatabaseURL
		if cfg.Memory.Backend == "" && isPostgresURL(e.DatabaseURL) {
			cfg.Memory.Backend = BackendPostgres
		}
	}
	if e.MemoryBackend != "" {
		cfg.Memory.Backend = e.MemoryBackend
	}
	if e.LogLevel != "" {
		cfg.Server.LogLevel = e.LogLevel
	}
	if e.ListenAddr != "" {
		cfg.Server.ListenAddr = e.ListenAddr
	}
	if e.IndexDir != "" {
		cfg.Index.Dir = e.IndexDir
	}
	if e.LogDir != "" {
		cfg.Logs.Dir = e.LogDir
	}
	return nil
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// providerEntries returns pointers to every provider entry in cfg.
func (cfg *Config) providerEntries() []*ProviderEntry {
	out := []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.Embeddings}
	for i := range cfg.Providers.LLMFallbacks {
		out = append(out, &cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Providers.EmbeddingsFallbacks {
		out = append(out, &cfg.Providers.EmbeddingsFallbacks[i])
	}
	return out
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLMProvider
	}
	if cfg.Providers.LLM.Model == "" && cfg.Providers.LLM.Name == DefaultLLMProvider {
		cfg.Providers.LLM.Model = DefaultLLMModel
	}
	if cfg.Providers.Embeddings.Name == "" {
		cfg.Providers.Embeddings.Name = DefaultEmbeddingsProvider
	}
	if cfg.Providers.Embeddings.Model == "" && cfg.Providers.Embeddings.Name == DefaultEmbeddingsProvider {
		cfg.Providers.Embeddings.Model = DefaultEmbeddingsModel
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = BackendSQLite
	}
	if cfg.Memory.DSN == "" && cfg.Memory.Backend == BackendSQLite {
		cfg.Memory.DSN = DefaultSQLiteDSN
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = IndexFlat
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = DefaultIndexDir
	}
	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = DefaultLogsDir
	}

	p := &cfg.Pipeline
	if p.TopK == 0 {
		p.TopK = DefaultTopK
	}
	if p.ReindexBatchSize == 0 {
		p.ReindexBatchSize = DefaultReindexBatchSize
	}
	if p.ReindexConcurrency == 0 {
		p.ReindexConcurrency = DefaultReindexConcurrency
	}
	if p.Timeouts.Embedding == 0 {
		p.Timeouts.Embedding = DefaultEmbeddingTimeout
	}
	if p.Timeouts.Planner == 0 {
		p.Timeouts.Planner = DefaultPlannerTimeout
	}
	if p.Timeouts.Narrator == 0 {
		p.Timeouts.Narrator = DefaultNarratorTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.EmbeddingsFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks[%d].name is required", i))
		}
		validateProviderName("embeddings", fb.Name)
	}

	// Memory
	if cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: sqlite, postgres, memory", cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == BackendPostgres && cfg.Memory.DSN == "" {
		errs = append(errs, errors.New("memory.dsn is required when memory.backend is postgres (or set DATABASE_URL)"))
	}
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", cfg.Memory.EmbeddingDimensions))
	}

	// Index
	if cfg.Index.Backend != "" && !cfg.Index.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("index.backend %q is invalid; valid values: flat, pgvector", cfg.Index.Backend))
	}
	if cfg.Index.Backend == IndexPgvector {
		if cfg.Memory.Backend != BackendPostgres {
			errs = append(errs, errors.New("index.backend pgvector requires memory.backend postgres"))
		}
		if cfg.Memory.EmbeddingDimensions <= 0 {
			errs = append(errs, errors.New("index.backend pgvector requires memory.embedding_dimensions"))
		}
	}

	// Pipeline
	p := cfg.Pipeline
	for name, t := range map[string]*float64{
		"pipeline.planner_temperature":  p.PlannerTemperature,
		"pipeline.narrator_temperature": p.NarratorTemperature,
	} {
		if t != nil && (*t < 0 || *t > 2) {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 2]", name, *t))
		}
	}
	if p.TopK < 0 {
		errs = append(errs, fmt.Errorf("pipeline.top_k %d must not be negative", p.TopK))
	}
	if p.ReindexBatchSize < 0 || p.ReindexConcurrency < 0 {
		errs = append(errs, errors.New("pipeline.reindex_batch_size and pipeline.reindex_concurrency must not be negative"))
	}
	if p.Timeouts.Embedding < 0 || p.Timeouts.Planner < 0 || p.Timeouts.Narrator < 0 {
		errs = append(errs, errors.New("pipeline.timeouts must not be negative"))
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
