// Package app assembles Kotoba from its configuration: storage, capability
// gateways, the dispatcher, the session manager and the transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Kotoba/internal/kotoba/api"
	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/bridge"
	"github.com/bdobrica/Kotoba/internal/kotoba/config"
	"github.com/bdobrica/Kotoba/internal/kotoba/dispatch"
	"github.com/bdobrica/Kotoba/internal/kotoba/embed"
	"github.com/bdobrica/Kotoba/internal/kotoba/handler"
	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/knowledge"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/matrix"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
	"github.com/bdobrica/Kotoba/internal/kotoba/store"
	"github.com/bdobrica/Kotoba/internal/kotoba/tools"
	"github.com/bdobrica/Kotoba/internal/kotoba/tools/mcp"
	"github.com/bdobrica/Kotoba/internal/kotoba/vector"
)

// App holds every long-lived component. Build it with New, serve with Run
// and release it with Close.
type App struct {
	holder *config.Holder
	path   string
	logger *slog.Logger

	store      *store.Store
	archive    *archive.SQLiteStore
	archiver   *archive.Archiver
	llm        *llm.Switchable
	knowledge  *knowledge.BleveStore
	mcp        *mcp.Client
	bridge     *bridge.Bridge
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
}

// New builds the application from the configuration in holder. path is the
// file watched for changes by Run; it may be empty.
func New(ctx context.Context, holder *config.Holder, path string, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := holder.Load()
	a := &App{holder: holder, path: path, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	a.archive = archive.NewSQLiteStore(a.store.DB(), logger)
	a.archiver = archive.NewArchiver(a.archive, logger)

	a.llm, err = llm.NewSwitchable(ctx, cfg.LLM.Providers, cfg.LLM.Current, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("app: llm: %w", err)
	}

	deps := handler.Deps{
		LLM:     a.llm,
		Persona: cfg.Persona,
		Logger:  logger,
	}
	deps.Extractor = intent.NewExtractor(a.llm, cfg.Intent, logger)

	embedder, err := embed.New(ctx, cfg.Embedding)
	switch {
	case errors.Is(err, embed.ErrNotConfigured):
		logger.Info("app: embeddings disabled")
	case err != nil:
		return nil, fmt.Errorf("app: embeddings: %w", err)
	default:
		deps.Embedder = embedder
	}

	if cfg.Knowledge.Enabled {
		a.knowledge, err = knowledge.Open(cfg.Knowledge.Path, logger)
		if err != nil {
			return nil, err
		}
		deps.Knowledge = a.knowledge
		if cfg.Knowledge.Dir != "" {
			n, err := knowledge.LoadDir(ctx, a.knowledge, cfg.Knowledge.Dir)
			if err != nil {
				return nil, err
			}
			logger.Info("app: knowledge indexed", "dir", cfg.Knowledge.Dir, "documents", n)
		}
	}
	if cfg.Vector.Enabled {
		deps.Vectors = vector.NewSQLiteStore(a.store.DB(), logger)
	}

	catalog, err := a.buildTools(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if catalog != nil {
		deps.Tools = catalog
	}

	reg, err := handler.NewRegistry(deps, handler.DefaultRegistrations())
	if err != nil {
		return nil, fmt.Errorf("app: handlers: %w", err)
	}
	a.dispatcher, err = dispatch.New(cfg.Intent, func(r intent.Rules) *intent.Extractor {
		return intent.NewExtractor(a.llm, r, logger)
	}, reg, dispatch.Options{Timeout: cfg.Dispatch.Timeout, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("app: dispatcher: %w", err)
	}

	a.bridge = bridge.New(cfg.Dispatch.Workers, cfg.Dispatch.Queue, logger)
	a.sessions = session.NewManager(cfg.SessionSettings(), a.dispatcher, session.Options{
		Bridge:   a.bridge,
		Archiver: a.archiver,
		Model: func() (string, string) {
			return string(a.llm.Current()), a.llm.Model()
		},
		Logger: logger,
	})
	return a, nil
}

// buildTools chains the built-in tools ahead of an MCP server. It returns
// nil when neither is enabled.
func (a *App) buildTools(ctx context.Context, cfg *config.Config) (tools.Catalog, error) {
	var cats []tools.Catalog
	if cfg.Tools.Builtin {
		cats = append(cats, tools.DefaultBuiltin())
	}
	if m := cfg.Tools.MCP; m.Command != "" {
		name := m.Name
		if name == "" {
			name = m.Command
		}
		client, err := mcp.Start(ctx, name, m.Command, m.Args, m.Env, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: mcp server %s: %w", name, err)
		}
		a.mcp = client
		cats = append(cats, tools.NewMCPCatalog(client, cfg.Tools.Allow, a.logger))
	}
	if len(cats) == 0 {
		a.logger.Info("app: tools disabled")
		return nil, nil
	}
	return tools.NewChain(cats...), nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Dispatcher returns the intent dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Archive returns the archive query store.
func (a *App) Archive() *archive.SQLiteStore { return a.archive }

// LLM returns the switchable LLM gateway.
func (a *App) LLM() *llm.Switchable { return a.llm }

// Config returns the configuration in effect.
func (a *App) Config() *config.Config { return a.holder.Load() }

// Run serves the HTTP API and, when configured, the Matrix gateway. It also
// watches the config file and sweeps idle sessions. Run returns when ctx is
// cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := a.holder.Load()

	var srv *api.Server
	if cfg.HTTP.Addr != "" {
		srv = api.NewServer(api.Deps{
			Sessions:    a.sessions,
			Providers:   a.llm,
			Archive:     a.archive,
			DB:          a.store,
			PersonaName: func() string { return a.sessions.Config().Persona.Name },
		}, api.Options{
			Addr:            cfg.HTTP.Addr,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		}, a.logger)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop()
	}

	if cfg.Matrix.Enabled() {
		gw, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
			DB:          a.store.DB(),
		}, a.sessions, a.logger)
		if err != nil {
			return err
		}
		if err := gw.Start(ctx); err != nil {
			return err
		}
		defer gw.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.sessions.RunSweeper(gctx, cfg.Session.SweepInterval)
		return nil
	})
	if a.path != "" {
		g.Go(func() error {
			return config.Watch(gctx, a.path, a.holder, func(prev, next *config.Config) {
				a.apply(gctx, prev, next)
			}, a.logger)
		})
	}

	a.logger.Info("app: running", "http_addr", cfg.HTTP.Addr, "matrix", cfg.Matrix.Enabled())
	err := g.Wait()
	a.logger.Info("app: shutting down")
	return err
}

// apply pushes a reloaded configuration into the running components.
// Settings that shape the process itself (listen address, database, tools,
// embeddings and the knowledge index) take effect on restart.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	a.sessions.Configure(next.SessionSettings())
	if err := a.dispatcher.SetRules(next.Intent); err != nil {
		a.logger.Error("app: intent rules rejected, keeping previous", "err", err)
	}
	if err := a.llm.Reload(ctx, next.LLM.Providers, next.LLM.Current); err != nil {
		a.logger.Error("app: llm reload failed, keeping previous", "err", err)
	}
	if prev.HTTP.Addr != next.HTTP.Addr || prev.Database.Path != next.Database.Path || prev.Matrix.Homeserver != next.Matrix.Homeserver {
		a.logger.Warn("app: listener, database and matrix changes apply after a restart")
	}
	a.logger.Info("app: configuration applied", "hash", a.holder.Hash())
}

// Close releases every component in reverse order of construction and
// waits for pending archives.
func (a *App) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.archiver != nil {
		a.archiver.Wait()
	}
	if a.mcp != nil {
		if err := a.mcp.Close(); err != nil {
			a.logger.Warn("app: mcp close failed", "err", err)
		}
	}
	if a.knowledge != nil {
		if err := a.knowledge.Close(); err != nil {
			a.logger.Warn("app: knowledge close failed", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("app: database close failed", "err", err)
		}
	}
}
