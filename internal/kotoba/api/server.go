// Package api serves Kotoba over HTTP: the chat routes, provider switching,
// archive queries, and /health and /status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
)

const maxBodyBytes = 1 << 20

// Sessions is the session manager surface the routes use.
type Sessions interface {
	Chat(ctx context.Context, id, text string) (session.Reply, error)
	Clear(ctx context.Context, id, reason string) (session.Status, bool)
	Status(id string) session.Status
	SetMeta(id string, meta archive.Meta) session.Status
	History(id string) []session.Turn
	Len() int
}

// Providers lists and switches LLM providers.
type Providers interface {
	Providers() []llm.ProviderInfo
	Switch(ctx context.Context, p llm.Provider) error
	Current() llm.Provider
	Model() string
}

// Archive answers the archive query routes.
type Archive interface {
	SessionHistory(ctx context.Context, identity string, limit int) ([]archive.Session, error)
	SessionDetail(ctx context.Context, id string) (archive.Detail, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Archive and DB are optional.
type Deps struct {
	Sessions  Sessions
	Providers Providers
	Archive   Archive
	DB        Pinger
	// PersonaName is reported alongside chat replies.
	PersonaName func() string
}

// Options configure the listener.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP transport. It implements http.Handler so routes can be
// exercised with httptest without a listener.
type Server struct {
	deps      Deps
	opts      Options
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// NewServer builds the router. It does not listen.
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		deps:      deps,
		opts:      opts,
		logger:    logger,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(traceRequests(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Post("/chat", s.handleChat)
	r.Get("/providers", s.handleProviders)
	r.Post("/switch_provider", s.handleSwitchProvider)
	r.Get("/chat_history", s.handleHistory)
	r.Post("/clear_history", s.handleClear)
	r.Get("/identity_status", s.handleIdentityStatus)
	r.Post("/set_session_info", s.handleSetSessionInfo)
	r.Route("/chat_archive", func(r chi.Router) {
		r.Get("/user/{identity}", s.handleArchiveHistory)
		r.Get("/session/{id}", s.handleArchiveSession)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on Options.Addr and serves in the background until ctx is
// done or Stop is called. It returns once the listener is open.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.opts.Addr, err)
	}
	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.logger.Info("api: listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api: server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts the listener down, waiting up to ShutdownTimeout for requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("api: shutdown error", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
