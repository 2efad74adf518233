package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foglamp/internal/api"
	"github.com/MrWong99/foglamp/internal/app"
	"github.com/MrWong99/foglamp/internal/config"
	"github.com/MrWong99/foglamp/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE:  c.runServe,
	}
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, path, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	// The global meter provider must be in place before the first
	// observe.DefaultMetrics call.
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		MemoryBackend:  string(cfg.Memory.Backend),
		IndexBackend:   string(cfg.Index.Backend),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if path != "" {
		w, err := config.NewWatcher(path, c.onConfigChange(a))
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.New(a, api.WithMetrics(observe.DefaultMetrics())).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("foglamp listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil, "version", version)
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// onConfigChange applies hot-reloadable config edits to a running App.
func (c *cli) onConfigChange(a *app.App) func(old, new *config.Config, d config.ConfigDiff) {
	return func(_, new *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			c.logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PipelineChanged || d.CanonChanged {
			if err := a.Reconfigure(new); err != nil {
				slog.Error("config reload rejected", "err", err)
			}
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart", "sections", d.RestartRequired)
		}
	}
}
