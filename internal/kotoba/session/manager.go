package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdobrica/Kotoba/common/trace"
	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/bridge"
	"github.com/bdobrica/Kotoba/internal/kotoba/dispatch"
	"github.com/bdobrica/Kotoba/internal/kotoba/handler"
)

// Dispatcher answers the text of an active session.
type Dispatcher interface {
	Process(ctx context.Context, text string, conv handler.Conversation, parallel bool) dispatch.Outcome
}

// Options wire a Manager to its collaborators. Bridge is created and owned by
// the Manager when nil; Archiver and Model are optional.
type Options struct {
	Bridge   *bridge.Bridge
	Archiver Archiver
	Model    ModelInfo
	Logger   *slog.Logger
	Now      func() time.Time
}

type entry struct {
	mu      sync.Mutex
	s       *Session
	evicted bool
}

// Manager owns every live session. Calls for the same session are
// serialised; different sessions proceed in parallel.
type Manager struct {
	cfg        atomic.Pointer[Config]
	dispatcher Dispatcher
	bridge     *bridge.Bridge
	ownBridge  bool
	archiver   Archiver
	model      ModelInfo
	limiter    *RateLimiter
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager returns a Manager answering through d.
func NewManager(cfg Config, d Dispatcher, opts Options) *Manager {
	cfg = cfg.withDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		dispatcher: d,
		bridge:     opts.Bridge,
		archiver:   opts.Archiver,
		model:      opts.Model,
		limiter:    NewRateLimiter(cfg.RateLimit, defaultRateWindow),
		now:        opts.Now,
		logger:     opts.Logger,
		sessions:   make(map[string]*entry),
	}
	m.limiter.now = opts.Now
	if m.bridge == nil {
		m.bridge = bridge.New(0, 64, opts.Logger)
		m.ownBridge = true
	}
	m.cfg.Store(&cfg)
	return m
}

// Config returns the settings in effect.
func (m *Manager) Config() Config { return *m.cfg.Load() }

// Configure replaces the settings. Live sessions pick them up on their next
// message.
func (m *Manager) Configure(cfg Config) {
	cfg = cfg.withDefaults()
	m.cfg.Store(&cfg)
	m.limiter.SetLimit(cfg.RateLimit)
}

// Close releases the worker pool if the Manager created it.
func (m *Manager) Close() {
	if m.ownBridge {
		m.bridge.Close()
	}
}

func (m *Manager) env(cfg Config) env {
	return env{
		cfg:      cfg,
		respond:  m.respond(cfg),
		archiver: m.archiver,
		model:    m.model,
		now:      m.now(),
	}
}

// acquire returns the locked entry for id, creating it when create is set.
// The caller must unlock it.
func (m *Manager) acquire(id string, create bool) (*entry, bool) {
	for {
		m.mu.Lock()
		e, ok := m.sessions[id]
		if !ok {
			if !create {
				m.mu.Unlock()
				return nil, false
			}
			e = &entry{s: newSession(id, m.Config(), m.now())}
			m.sessions[id] = e
		}
		m.mu.Unlock()

		e.mu.Lock()
		if !e.evicted {
			return e, true
		}
		e.mu.Unlock()
	}
}

// Chat processes one user message. Input the session refuses, including
// rate-limited messages, is reported as an *InvalidInputError.
func (m *Manager) Chat(ctx context.Context, id, text string) (Reply, error) {
	if id == "" {
		return Reply{}, errors.New("session: missing session id")
	}
	e, _ := m.acquire(id, true)
	defer e.mu.Unlock()

	cfg := m.Config()
	if strings.TrimSpace(text) != "" && !m.limiter.Allow(m.limitKey(e.s)) {
		return Reply{}, invalid(cfg.Persona.SlowDown())
	}

	reply, err := e.s.chat(ctx, m.env(cfg), text)
	if err != nil {
		return Reply{}, err
	}
	trace.Logger(ctx, m.logger).Debug("session: message handled",
		"session", id,
		"state", reply.Status.State,
		"turns", reply.Status.TurnCount,
		"success", reply.Success,
	)
	return reply, nil
}

func (m *Manager) limitKey(s *Session) string {
	if s.verified {
		return "identity:" + s.identity
	}
	return "session:" + s.id
}

func (m *Manager) respond(cfg Config) Responder {
	return func(ctx context.Context, text string, conv handler.Conversation) Response {
		out, err := bridge.Submit(ctx, m.bridge, cfg.RequestTimeout, func(ctx context.Context) (dispatch.Outcome, error) {
			return m.dispatcher.Process(ctx, text, conv, cfg.Parallel), nil
		})
		if err != nil {
			msg := err.Error()
			if errors.Is(err, bridge.ErrTimeout) {
				msg = fmt.Sprintf("the request timed out after %s", cfg.RequestTimeout)
			}
			trace.Logger(ctx, m.logger).Warn("session: dispatch failed", "session", conv.SessionID, "err", err)
			return Response{Text: cfg.Persona.Apology(), Error: msg}
		}
		res := Response{Success: out.Success, Text: out.Response, Intents: out.Intents}
		if !out.Success {
			res.Error = "no handler succeeded"
		}
		return res
	}
}

// Clear archives the conversation if it is verified and not yet archived,
// then resets the session. It reports whether an archive was started.
func (m *Manager) Clear(ctx context.Context, id, reason string) (Status, bool) {
	if reason == "" {
		reason = archive.ReasonUserClear
	}
	cfg := m.Config()
	e, ok := m.acquire(id, false)
	if !ok {
		return newSession(id, cfg, m.now()).status(cfg), false
	}
	defer e.mu.Unlock()

	archived := e.s.reset(m.env(cfg), reason)
	trace.Logger(ctx, m.logger).Info("session: cleared", "session", id, "reason", reason, "archived", archived)
	return e.s.status(cfg), archived
}

// Status reports the session's state without creating it.
func (m *Manager) Status(id string) Status {
	cfg := m.Config()
	e, ok := m.acquire(id, false)
	if !ok {
		return newSession(id, cfg, m.now()).status(cfg)
	}
	defer e.mu.Unlock()
	return e.s.status(cfg)
}

// Get returns the status of a live session.
func (m *Manager) Get(id string) (Status, bool) {
	e, ok := m.acquire(id, false)
	if !ok {
		return Status{}, false
	}
	defer e.mu.Unlock()
	return e.s.status(m.Config()), true
}

// Create returns the status of id, starting a session if none is live.
func (m *Manager) Create(id string) Status {
	e, _ := m.acquire(id, true)
	defer e.mu.Unlock()
	return e.s.status(m.Config())
}

// SetMeta records client metadata for the session, creating it if needed.
func (m *Manager) SetMeta(id string, meta archive.Meta) Status {
	e, _ := m.acquire(id, true)
	defer e.mu.Unlock()
	e.s.meta = meta
	return e.s.status(m.Config())
}

// History returns a copy of the session's recent turns.
func (m *Manager) History(id string) []Turn {
	e, ok := m.acquire(id, false)
	if !ok {
		return nil
	}
	defer e.mu.Unlock()
	return e.s.history()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than idle, archiving verified
// conversations with the idle_timeout reason. Busy sessions are skipped.
func (m *Manager) Sweep(idle time.Duration) int {
	cfg := m.Config()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.s.lastActive) > idle {
			ev := m.env(cfg)
			ev.now = now
			e.s.reset(ev, archive.ReasonIdleTimeout)
			e.evicted = true
			delete(m.sessions, id)
			m.limiter.Forget("session:" + id)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		m.logger.Info("session: swept idle sessions", "evicted", evicted, "remaining", len(m.sessions))
	}
	return evicted
}

// RunSweeper calls Sweep with the configured idle timeout every interval
// until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.Config().IdleTimeout)
		}
	}
}
