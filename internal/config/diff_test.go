package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/foglamp/internal/config"
)

func baseConfig() *config.Config {
	temp := 0.6
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4-turbo-preview"},
		},
		Memory:   config.MemoryConfig{Backend: config.BackendSQLite, DSN: "data/foglamp.db"},
		Index:    config.IndexConfig{Backend: config.IndexFlat, Dir: "data/index"},
		Logs:     config.LogsConfig{Dir: "logs"},
		Pipeline: config.PipelineConfig{NarratorTemperature: &temp, TopK: 3},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not need a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_Pipeline(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"temperature value", func(c *config.Config) { v := 0.9; c.Pipeline.NarratorTemperature = &v }},
		{"top_k", func(c *config.Config) { c.Pipeline.TopK = 5 }},
		{"timeout", func(c *config.Config) { c.Pipeline.Timeouts.Planner = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !d.PipelineChanged {
				t.Error("expected PipelineChanged=true")
			}
			if d.CanonChanged || d.LogLevelChanged {
				t.Errorf("unexpected diff flags: %+v", d)
			}
		})
	}
}

func TestDiff_SameTemperatureDifferentPointer(t *testing.T) {
	t.Parallel()
	// baseConfig allocates a fresh pointer each call.
	if d := config.Diff(baseConfig(), baseConfig()); d.PipelineChanged {
		t.Error("equal temperatures behind different pointers should not count as a change")
	}
}

func TestDiff_CanonChanged(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Canon.CharacterReferences = true
	if d := config.Diff(baseConfig(), new); !d.CanonChanged {
		t.Error("expected CanonChanged=true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Providers.LLM.Model = "gpt-4o"
	new.Memory.Backend = config.BackendMemory
	new.Index.Dir = "elsewhere"
	new.Logs.Dir = "other-logs"

	d := config.Diff(baseConfig(), new)
	want := []string{"server", "providers", "memory", "index", "logs"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("diff with restart sections must not be empty")
	}
}
