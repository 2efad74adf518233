package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/foglamp/internal/app"
	"github.com/MrWong99/foglamp/internal/config"
	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/internal/resilience"
	"github.com/MrWong99/foglamp/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/foglamp/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/foglamp/pkg/provider/embeddings/openai"
	"github.com/MrWong99/foglamp/pkg/provider/llm"
	"github.com/MrWong99/foglamp/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/foglamp/pkg/provider/llm/openai"
)

// anyLLMBackends share the same wiring: optional APIKey + optional BaseURL.
var anyLLMBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai goes through the native client for JSON mode.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		if n := optInt(entry.Options, "batch_size"); n > 0 {
			opts = append(opts, oaembed.WithBatchSize(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "embeddings", reg.EmbeddingsNames())
}

// buildProviders instantiates the configured providers. When fallbacks are
// configured the primary is wrapped in a failover group with one circuit
// breaker per entry.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, providerErr("llm", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primaryLLM
	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{Metrics: metrics})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, providerErr("llm fallback", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
		}
		ps.LLM = group
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model, "fallbacks", len(cfg.Providers.LLMFallbacks))

	primaryEmb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, providerErr("embeddings", cfg.Providers.Embeddings.Name, err)
	}
	ps.Embeddings = primaryEmb
	if len(cfg.Providers.EmbeddingsFallbacks) > 0 {
		group := resilience.NewEmbeddingsFallback(primaryEmb, cfg.Providers.Embeddings.Name, resilience.FallbackConfig{Metrics: metrics})
		for _, entry := range cfg.Providers.EmbeddingsFallbacks {
			p, err := reg.CreateEmbeddings(entry)
			if err != nil {
				return nil, providerErr("embeddings fallback", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
		}
		ps.Embeddings = group
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", cfg.Providers.Embeddings.Model, "fallbacks", len(cfg.Providers.EmbeddingsFallbacks))

	return ps, nil
}

func providerErr(kind, name string, err error) error {
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return fmt.Errorf("%s provider %q is not built in", kind, name)
	}
	return fmt.Errorf("create %s provider %q: %w", kind, name, err)
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int, JSON
// and env-derived maps as float64; both are accepted.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
