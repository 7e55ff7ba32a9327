// Package session gates each conversation behind identity capture, records
// its turns, enforces the turn limit and hands finished conversations to the
// archiver.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/handler"
	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/persona"
)

// State is where a session is in its lifecycle.
type State string

const (
	AwaitingIdentity State = "awaiting_identity"
	Active           State = "active"
	Terminated       State = "terminated"
)

// Defaults for Config.
const (
	DefaultTurnLimit      = 100
	DefaultMaxHistory     = 50
	DefaultRequestTimeout = 30 * time.Second
	DefaultIdleTimeout    = 2 * time.Hour
)

const emptyMessage = "please enter a message"

// Config controls every session of a Manager. It may be replaced at runtime;
// a change applies from the next message.
type Config struct {
	VerifyIdentity bool
	TurnLimit      int
	MaxHistory     int
	Persona        persona.Persona
	Parallel       bool
	RequestTimeout time.Duration
	RateLimit      int
	IdleTimeout    time.Duration
}

// DefaultConfig returns the built-in session settings.
func DefaultConfig() Config {
	return Config{
		VerifyIdentity: true,
		TurnLimit:      DefaultTurnLimit,
		MaxHistory:     DefaultMaxHistory,
		Persona:        persona.Default(),
		Parallel:       true,
		RequestTimeout: DefaultRequestTimeout,
		RateLimit:      DefaultRateLimit,
		IdleTimeout:    DefaultIdleTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.TurnLimit <= 0 {
		c.TurnLimit = DefaultTurnLimit
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Persona.Name == "" {
		c.Persona = persona.Default()
	}
	return c
}

// NewID returns a fresh session id.
func NewID() string { return uuid.NewString() }

// Turn is one recorded exchange.
type Turn = handler.Turn

// Response is what a Responder produced for one message.
type Response struct {
	Success bool
	Text    string
	Intents []intent.Intent
	// Error describes a failure the user only sees as Text.
	Error string
}

// Responder produces the assistant's reply for an active session.
type Responder func(ctx context.Context, text string, conv handler.Conversation) Response

// Archiver receives finished conversations.
type Archiver interface {
	ArchiveAsync(snap archive.Snapshot, reason string)
}

// ModelInfo reports the provider and model currently answering.
type ModelInfo func() (provider, model string)

// Status is the externally visible state of a session.
type Status struct {
	SessionID           string       `json:"session_id"`
	State               State        `json:"state"`
	Identity            string       `json:"identity,omitempty"`
	IdentityVerified    bool         `json:"identity_verified"`
	VerificationEnabled bool         `json:"verification_enabled"`
	TurnCount           int          `json:"turn_count"`
	TurnLimit           int          `json:"turn_limit"`
	Terminated          bool         `json:"chat_terminated"`
	Meta                archive.Meta `json:"meta"`
	Prompt              string       `json:"prompt,omitempty"`
}

// Reply is the result of one message.
type Reply struct {
	Success bool            `json:"success"`
	Text    string          `json:"response"`
	Intents []intent.Intent `json:"intents,omitempty"`
	Error   string          `json:"error,omitempty"`
	Status  Status          `json:"status"`
}

// env carries what a session needs from its manager for one call.
type env struct {
	cfg      Config
	respond  Responder
	archiver Archiver
	model    ModelInfo
	now      time.Time
}

// Session is one conversation. It is not safe for concurrent use; the
// Manager serialises access.
type Session struct {
	id         string
	identity   string
	verified   bool
	state      State
	turns      []Turn // display and context window, capped at MaxHistory
	transcript []Turn // everything since the last reset, for archival
	turnCount  int
	meta       archive.Meta
	pendingEnd string
	endedBy    string
	archived   bool
	startedAt  time.Time
	lastActive time.Time
}

func newSession(id string, cfg Config, now time.Time) *Session {
	s := &Session{id: id, startedAt: now, lastActive: now}
	s.state = initialState(cfg)
	return s
}

func initialState(cfg Config) State {
	if cfg.VerifyIdentity {
		return AwaitingIdentity
	}
	return Active
}

func (s *Session) chat(ctx context.Context, e env, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, invalid(emptyMessage)
	}
	s.lastActive = e.now

	// A verification switch flipped by a config reload applies here.
	if s.state == AwaitingIdentity && !e.cfg.VerifyIdentity {
		s.state = Active
	}

	switch s.state {
	case Terminated:
		return Reply{Success: true, Text: s.terminationNotice(e.cfg), Status: s.status(e.cfg)}, nil

	case AwaitingIdentity:
		name, err := ValidateIdentity(text)
		if err != nil {
			return Reply{}, err
		}
		s.identity = name
		s.verified = true
		s.state = Active
		s.startedAt = e.now
		welcome := e.cfg.Persona.Welcome(name)
		s.record(e, text, welcome)
		s.checkLimit(e.cfg)
		return Reply{Success: true, Text: welcome, Status: s.status(e.cfg)}, nil
	}

	res := e.respond(ctx, text, s.conversation())
	s.record(e, text, res.Text)
	if IsGoodbye(text) {
		s.state = Terminated
		s.endedBy = archive.ReasonUserGoodbye
		s.archive(e, archive.ReasonUserGoodbye)
	} else {
		s.checkLimit(e.cfg)
	}
	return Reply{
		Success: res.Success,
		Text:    res.Text,
		Intents: res.Intents,
		Error:   res.Error,
		Status:  s.status(e.cfg),
	}, nil
}

func (s *Session) record(e env, user, assistant string) {
	t := Turn{User: user, Assistant: assistant, At: e.now}
	s.transcript = append(s.transcript, t)
	s.turns = append(s.turns, t)
	if over := len(s.turns) - e.cfg.MaxHistory; over > 0 {
		s.turns = append([]Turn(nil), s.turns[over:]...)
	}
	s.turnCount++
}

func (s *Session) checkLimit(cfg Config) {
	if s.turnCount >= cfg.TurnLimit {
		s.state = Terminated
		s.endedBy = archive.ReasonStorageFull
		s.pendingEnd = archive.ReasonStorageFull
	}
}

func (s *Session) terminationNotice(cfg Config) string {
	if s.endedBy == archive.ReasonUserGoodbye {
		return cfg.Persona.Farewell()
	}
	return cfg.Persona.LimitReached(cfg.TurnLimit)
}

// archive hands the conversation to the archiver once. Only verified
// conversations with at least one turn are archived.
func (s *Session) archive(e env, reason string) bool {
	if !s.verified || s.archived || len(s.transcript) == 0 || e.archiver == nil {
		return false
	}
	e.archiver.ArchiveAsync(s.snapshot(e.model), reason)
	s.archived = true
	return true
}

// reset archives a pending conversation and starts over.
func (s *Session) reset(e env, reason string) bool {
	if s.pendingEnd != "" {
		reason = s.pendingEnd
	}
	archived := s.archive(e, reason)
	*s = Session{id: s.id, startedAt: e.now, lastActive: e.now}
	s.state = initialState(e.cfg)
	return archived
}

func (s *Session) snapshot(model ModelInfo) archive.Snapshot {
	snap := archive.Snapshot{
		SessionKey: s.id,
		Identity:   s.identity,
		Meta:       s.meta,
		StartedAt:  s.startedAt,
		Turns:      make([]archive.Turn, len(s.transcript)),
	}
	if model != nil {
		snap.Provider, snap.Model = model()
	}
	for i, t := range s.transcript {
		snap.Turns[i] = archive.Turn{User: t.User, Assistant: t.Assistant, At: t.At}
	}
	return snap
}

func (s *Session) conversation() handler.Conversation {
	return handler.Conversation{
		SessionID: s.id,
		Identity:  s.identity,
		Turns:     s.history(),
	}
}

func (s *Session) history() []Turn {
	return append([]Turn(nil), s.turns...)
}

func (s *Session) status(cfg Config) Status {
	st := Status{
		SessionID:           s.id,
		State:               s.state,
		Identity:            s.identity,
		IdentityVerified:    s.verified,
		VerificationEnabled: cfg.VerifyIdentity,
		TurnCount:           s.turnCount,
		TurnLimit:           cfg.TurnLimit,
		Terminated:          s.state == Terminated,
		Meta:                s.meta,
	}
	if s.state == AwaitingIdentity {
		st.Prompt = cfg.Persona.IdentityPrompt()
	}
	return st
}
