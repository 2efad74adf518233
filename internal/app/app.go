// Package app wires the foglamp subsystems into a running turn engine.
//
// New opens the memory store and the similarity index named by the config,
// builds the recall, planning, narration and persistence stages around the
// supplied providers, and assembles them into a [turn.Orchestrator]. Shutdown
// releases everything in reverse order.
//
// For tests, inject doubles via functional options (WithStore, WithIndex,
// WithMetrics). When an option is not given, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/foglamp/internal/canon"
	"github.com/MrWong99/foglamp/internal/config"
	"github.com/MrWong99/foglamp/internal/health"
	"github.com/MrWong99/foglamp/internal/narrator"
	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/internal/planner"
	"github.com/MrWong99/foglamp/internal/recall"
	"github.com/MrWong99/foglamp/internal/resilience"
	"github.com/MrWong99/foglamp/internal/turn"
	"github.com/MrWong99/foglamp/internal/turnlog"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/memory/index"
	"github.com/MrWong99/foglamp/pkg/memory/index/flat"
	"github.com/MrWong99/foglamp/pkg/memory/memstore"
	"github.com/MrWong99/foglamp/pkg/memory/postgres"
	"github.com/MrWong99/foglamp/pkg/memory/sqlite"
	"github.com/MrWong99/foglamp/pkg/provider/embeddings"
	"github.com/MrWong99/foglamp/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Populated by
// [BuildProviders] or injected directly in tests.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	store     memory.Store
	index     index.Index
	curator   *recall.Curator
	persister *turnlog.Persister

	// Swapped together by Reconfigure.
	retriever atomic.Pointer[recall.Retriever]
	reindexer atomic.Pointer[recall.Reindexer]
	turns     atomic.Pointer[turn.Orchestrator]

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a memory store instead of opening one from config. The
// injected store is not closed by Shutdown.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithIndex injects a similarity index instead of creating one from config.
func WithIndex(ix index.Index) Option {
	return func(a *App) { a.index = ix }
}

// WithMetrics overrides observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.LLM == nil || providers.Embeddings == nil {
		return nil, errors.New("app: llm and embeddings providers are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initMemory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initIndex(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init index: %w", err)
	}
	curator, err := recall.NewCurator(a.store)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init curator: %w", err)
	}
	a.curator = curator
	if err := a.initTurnLog(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init turn log: %w", err)
	}
	if err := a.apply(cfg); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	slog.Info("app ready",
		"memory", cfg.Memory.Backend,
		"index", cfg.Index.Backend,
		"logs", cfg.Logs.Dir,
		"top_k", a.Retriever().TopK(),
	)
	return a, nil
}

// initMemory opens the document store and event log named by memory.backend.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Memory.Backend {
	case config.BackendMemory:
		a.store = memstore.New()
		return nil

	case config.BackendPostgres:
		dims := a.cfg.Memory.EmbeddingDimensions
		if dims <= 0 {
			dims = a.providers.Embeddings.Dimensions()
		}
		store, err := postgres.NewStore(ctx, a.cfg.Memory.DSN, dims)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		return nil

	case config.BackendSQLite, "":
		dsn := sqliteDSN(a.cfg.Memory.DSN)
		if path := strings.TrimPrefix(dsn, "sqlite://"); path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
		}
		store, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		return nil
	}
	return fmt.Errorf("unknown memory backend %q", a.cfg.Memory.Backend)
}

// sqliteDSN accepts a bare path as well as a sqlite:// URL.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = config.DefaultSQLiteDSN
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		return dsn
	}
	return "sqlite://" + dsn
}

func (a *App) initIndex() error {
	if a.index != nil {
		return nil
	}
	if a.cfg.Index.Backend == config.IndexPgvector {
		pg, ok := a.store.(*postgres.Store)
		if !ok {
			return errors.New("index.backend pgvector needs the postgres memory store")
		}
		a.index = pg.Index()
		return nil
	}
	a.index = flat.New(a.cfg.Index.Dir)
	return nil
}

// apply builds the retriever, reindexer and orchestrator from the pipeline
// and canon sections of cfg and publishes them together.
func (a *App) apply(cfg *config.Config) error {
	p := cfg.Pipeline
	retriever, err := recall.NewRetriever(a.providers.Embeddings, a.index, a.store,
		recall.WithTopK(p.TopK),
		recall.WithRetrieverMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	reindexer, err := recall.NewReindexer(a.providers.Embeddings, a.index, a.store,
		recall.WithBatchSize(p.ReindexBatchSize),
		recall.WithConcurrency(p.ReindexConcurrency),
		recall.WithReindexMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	orch, err := a.buildOrchestrator(cfg, retriever)
	if err != nil {
		return err
	}
	a.retriever.Store(retriever)
	a.reindexer.Store(reindexer)
	a.turns.Store(orch)
	return nil
}

func (a *App) initTurnLog() error {
	if err := os.MkdirAll(a.cfg.Logs.Dir, 0o755); err != nil {
		return err
	}
	var err error
	a.persister, err = turnlog.New(a.cfg.Logs.Dir, a.store)
	return err
}

// buildOrchestrator assembles planner, narrator and checker around retriever.
func (a *App) buildOrchestrator(cfg *config.Config, retriever *recall.Retriever) (*turn.Orchestrator, error) {
	p := cfg.Pipeline

	var plOpts []planner.Option
	if p.PlannerTemperature != nil {
		plOpts = append(plOpts, planner.WithTemperature(*p.PlannerTemperature))
	}
	if p.PlannerMaxTokens > 0 {
		plOpts = append(plOpts, planner.WithMaxTokens(p.PlannerMaxTokens))
	}
	pl, err := planner.New(a.providers.LLM, plOpts...)
	if err != nil {
		return nil, err
	}

	var nrOpts []narrator.Option
	if p.NarratorTemperature != nil {
		nrOpts = append(nrOpts, narrator.WithTemperature(*p.NarratorTemperature))
	}
	if p.NarratorMaxTokens > 0 {
		nrOpts = append(nrOpts, narrator.WithMaxTokens(p.NarratorMaxTokens))
	}
	nr, err := narrator.New(a.providers.LLM, nrOpts...)
	if err != nil {
		return nil, err
	}

	return turn.New(turn.Config{
		Retriever: retriever,
		Planner:   pl,
		Narrator:  nr,
		Persister: a.persister,
		Checker:   canon.NewChecker(canon.WithCharacterReferences(cfg.Canon.CharacterReferences)),
		Timeouts: turn.Timeouts{
			Embedding: p.Timeouts.Embedding,
			Planner:   p.Timeouts.Planner,
			Narrator:  p.Timeouts.Narrator,
		},
		Metrics: a.metrics,
	})
}

// Reconfigure applies the hot-reloadable parts of cfg (pipeline tuning and
// canon rules) by swapping in a freshly built retriever, reindexer and
// orchestrator. Turns already running finish on the old ones. Sections that
// need a restart are ignored.
func (a *App) Reconfigure(cfg *config.Config) error {
	if err := a.apply(cfg); err != nil {
		return fmt.Errorf("app: reconfigure: %w", err)
	}
	slog.Info("turn pipeline reconfigured", "top_k", a.Retriever().TopK())
	return nil
}

// Turns returns the current turn orchestrator.
func (a *App) Turns() *turn.Orchestrator { return a.turns.Load() }

// Retriever returns the memory retriever.
func (a *App) Retriever() *recall.Retriever { return a.retriever.Load() }

// Reindexer returns the offline reindex job.
func (a *App) Reindexer() *recall.Reindexer { return a.reindexer.Load() }

// Curator returns the fact promotion and staleness service.
func (a *App) Curator() *recall.Curator { return a.curator }

// Events returns the turn transcript.
func (a *App) Events() memory.EventLog { return a.store }

// Config returns the config the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// HealthCheckers returns the readiness checks for this App: the memory
// store when it can be pinged, the log directory, and the provider breakers
// when failover is configured.
func (a *App) HealthCheckers() []health.Checker {
	var cs []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		cs = append(cs, health.PingCheck("memory", p))
	}
	cs = append(cs, health.WritableDirCheck("logs", a.persister.Dir()))
	if b, ok := a.providers.LLM.(breakerReporter); ok {
		cs = append(cs, health.BreakerCheck("llm", b.Breakers))
	}
	if b, ok := a.providers.Embeddings.(breakerReporter); ok {
		cs = append(cs, health.BreakerCheck("embeddings", b.Breakers))
	}
	return cs
}

type breakerReporter interface {
	Breakers() map[string]resilience.State
}

// Shutdown tears down all subsystems in reverse-init order. If ctx expires
// before all closers finish, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = err
				return
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before it failed.
func (a *App) closeAll() {
	_ = a.Shutdown(context.Background())
}
