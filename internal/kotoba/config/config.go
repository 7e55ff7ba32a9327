// Package config defines Kotoba's settings, loads them from YAML plus
// environment overrides, and hot-reloads the file when it changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Kotoba/internal/kotoba/embed"
	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/persona"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
	"github.com/bdobrica/Kotoba/internal/kotoba/tools"
)

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding embed.Config    `yaml:"embedding"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Vector    VectorConfig    `yaml:"vector"`
	Tools     ToolsConfig     `yaml:"tools"`
	Persona   persona.Persona `yaml:"persona"`
	Session   SessionConfig   `yaml:"session"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Intent    intent.Rules    `yaml:"intent"`
	Matrix    MatrixConfig    `yaml:"matrix"`
}

// HTTPConfig controls the HTTP listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// DatabaseConfig locates the SQLite file shared by archive and vectors.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig lists every provider that may be switched to and names the one
// in use.
type LLMConfig struct {
	Current   llm.Provider                `yaml:"current"`
	Providers map[llm.Provider]llm.Config `yaml:"providers"`
}

// KnowledgeConfig locates the full-text index. An empty Path keeps the index
// in memory; Dir, when set, is indexed at startup.
type KnowledgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Dir     string `yaml:"dir"`
}

// VectorConfig enables the SQLite vector store.
type VectorConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ToolsConfig selects where functions come from. Builtin tools are served
// in-process; an MCP server is started when MCP.Command is set.
type ToolsConfig struct {
	Builtin bool      `yaml:"builtin"`
	Allow   []string  `yaml:"allow"`
	MCP     MCPConfig `yaml:"mcp"`
}

// MCPConfig is the command line of an MCP server speaking stdio.
type MCPConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// SessionConfig holds the per-conversation limits.
type SessionConfig struct {
	VerifyIdentity bool          `yaml:"verify_identity"`
	TurnLimit      int           `yaml:"turn_limit"`
	MaxHistory     int           `yaml:"max_history"`
	RateLimit      int           `yaml:"rate_limit"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DispatchConfig controls how intents are executed.
type DispatchConfig struct {
	Parallel bool          `yaml:"parallel"`
	Timeout  time.Duration `yaml:"timeout"`
	Workers  int           `yaml:"workers"`
	Queue    int           `yaml:"queue"`
}

// MatrixConfig enables the Matrix gateway when Homeserver is set.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
}

// Enabled reports whether the Matrix gateway should start.
func (m MatrixConfig) Enabled() bool { return m.Homeserver != "" }

// Default returns the built-in configuration: a mock LLM, an in-memory
// knowledge index, built-in tools and identity verification on.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Path: "kotoba.db"},
		LLM: LLMConfig{
			Current: llm.ProviderMock,
			Providers: map[llm.Provider]llm.Config{
				llm.ProviderMock: {Provider: llm.ProviderMock},
			},
		},
		Knowledge: KnowledgeConfig{Enabled: true},
		Vector:    VectorConfig{Enabled: true},
		Tools: ToolsConfig{
			Builtin: true,
			Allow:   append([]string(nil), tools.DefaultAllow...),
		},
		Persona: persona.Default(),
		Session: SessionConfig{
			VerifyIdentity: true,
			TurnLimit:      session.DefaultTurnLimit,
			MaxHistory:     session.DefaultMaxHistory,
			RateLimit:      session.DefaultRateLimit,
			IdleTimeout:    session.DefaultIdleTimeout,
			SweepInterval:  time.Minute,
			RequestTimeout: session.DefaultRequestTimeout,
		},
		Dispatch: DispatchConfig{
			Parallel: true,
			Timeout:  25 * time.Second,
			Workers:  8,
			Queue:    64,
		},
		Intent: intent.DefaultRules(),
	}
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		add("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Database.Path == "" {
		add("database.path is required")
	}

	if _, ok := c.LLM.Providers[c.LLM.Current]; !ok && c.LLM.Current != llm.ProviderMock {
		add("llm.current %q has no entry under llm.providers", c.LLM.Current)
	}
	for name, p := range c.LLM.Providers {
		if p.Provider == "" {
			p.Provider = name
		}
		if p.Provider != name {
			add("llm.providers.%s: provider tag %q does not match its key", name, p.Provider)
			continue
		}
		if name == c.LLM.Current {
			if err := p.WithDefaults().Validate(); err != nil {
				add("llm.providers.%s: %w", name, err)
			}
		}
	}

	switch c.Embedding.Provider {
	case embed.ProviderNone, embed.ProviderOpenAI, embed.ProviderGemini:
	default:
		add("embedding.provider %q is not supported", c.Embedding.Provider)
	}

	if _, err := persona.ParseStyle(string(c.Persona.Style)); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Persona.Name) == "" {
		add("persona.name is required")
	}

	if c.Session.TurnLimit <= 0 {
		add("session.turn_limit must be positive")
	}
	if c.Session.MaxHistory <= 0 {
		add("session.max_history must be positive")
	}
	if c.Session.RateLimit <= 0 {
		add("session.rate_limit must be positive")
	}
	if c.Session.RequestTimeout <= 0 {
		add("session.request_timeout must be positive")
	}
	if c.Dispatch.Timeout <= 0 {
		add("dispatch.timeout must be positive")
	}
	if c.Dispatch.Workers < 0 || c.Dispatch.Queue < 0 {
		add("dispatch.workers and dispatch.queue must not be negative")
	}

	if _, err := intent.NewClassifier(c.Intent); err != nil {
		add("intent: %w", err)
	}

	if c.Matrix.Enabled() && (c.Matrix.UserID == "" || c.Matrix.AccessToken == "") {
		add("matrix.user_id and matrix.access_token are required when matrix.homeserver is set")
	}
	return errors.Join(errs...)
}

// SessionSettings converts the session and dispatch sections for the
// session manager.
func (c *Config) SessionSettings() session.Config {
	return session.Config{
		VerifyIdentity: c.Session.VerifyIdentity,
		TurnLimit:      c.Session.TurnLimit,
		MaxHistory:     c.Session.MaxHistory,
		Persona:        c.Persona,
		Parallel:       c.Dispatch.Parallel,
		RequestTimeout: c.Session.RequestTimeout,
		RateLimit:      c.Session.RateLimit,
		IdleTimeout:    c.Session.IdleTimeout,
	}
}

// SlogLevel returns the configured level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	lvl, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
