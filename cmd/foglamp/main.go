// Command foglamp runs the London Bleeds narrative turn engine.
//
// Subcommands serve the HTTP API, serve MCP tools over stdio, play single
// turns from the terminal, rebuild the memory index and curate memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foglamp/internal/app"
	"github.com/MrWong99/foglamp/internal/config"
	"github.com/MrWong99/foglamp/internal/observe"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// defaultConfigPath is read when present; a missing default file means
// "environment and defaults only".
const defaultConfigPath = "foglamp.yaml"

// cli holds the state shared by all subcommands.
type cli struct {
	configPath string
	logLevel   slog.LevelVar
}

func main() {
	c := &cli{}
	root := &cobra.Command{
		Use:           "foglamp",
		Short:         "Narrative turn engine for London Bleeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.mcpCmd())
	root.AddCommand(c.playCmd())
	root.AddCommand(c.reindexCmd())
	root.AddCommand(c.memoryCmd())
	root.AddCommand(c.turnsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "foglamp: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file and installs the logger. The default
// path may be absent; an explicitly named file must exist.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := c.configPath
	if path == defaultConfigPath && !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	c.logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &c.logLevel})))
	return cfg, path, nil
}

// openApp loads the config, builds the providers and wires the App.
func (c *cli) openApp(cmd *cobra.Command) (*app.App, *config.Config, string, error) {
	cfg, path, err := c.loadConfig(cmd)
	if err != nil {
		return nil, nil, "", err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, "", err
	}
	return a, cfg, path, nil
}

// newApp builds the providers named in cfg and wires the App.
func newApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	metrics := observe.DefaultMetrics()
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, providers, app.WithMetrics(metrics))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
