package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Factory builds a Gateway from provider settings. New is the production
// factory; tests substitute their own.
type Factory func(ctx context.Context, cfg Config) (Gateway, error)

// ProviderInfo describes one provider for the /providers listing.
type ProviderInfo struct {
	Name       Provider `json:"name"`
	Model      string   `json:"model"`
	Configured bool     `json:"configured"`
	Active     bool     `json:"active"`
}

type binding struct {
	provider Provider
	cfg      Config
	gateway  Gateway
}

// Switchable is a Gateway whose backing provider can be replaced at runtime.
// Switching builds and validates the new gateway first and only then swaps
// it in, so a failed switch leaves the active provider untouched.
type Switchable struct {
	mu      sync.Mutex // serialises Switch/Reload
	build   Factory
	configs map[Provider]Config
	active  atomic.Pointer[binding]
	logger  *slog.Logger
}

// NewSwitchable builds the gateway for current and returns a Switchable
// serving it. If build is nil, New is used.
func NewSwitchable(ctx context.Context, configs map[Provider]Config, current Provider, build Factory, logger *slog.Logger) (*Switchable, error) {
	if build == nil {
		build = New
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Switchable{
		build:   build,
		configs: copyConfigs(configs),
		logger:  logger,
	}
	b, err := s.bind(ctx, s.configs, current)
	if err != nil {
		return nil, err
	}
	s.active.Store(b)
	return s, nil
}

// Complete delegates to the active gateway.
func (s *Switchable) Complete(ctx context.Context, req Request) (string, error) {
	return s.active.Load().gateway.Complete(ctx, req)
}

// Current returns the active provider tag.
func (s *Switchable) Current() Provider {
	return s.active.Load().provider
}

// Model returns the default model of the active provider.
func (s *Switchable) Model() string {
	return s.active.Load().cfg.Model
}

// Switch makes p the active provider.
func (s *Switchable) Switch(ctx context.Context, p Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.active.Load().provider
	b, err := s.bind(ctx, s.configs, p)
	if err != nil {
		return err
	}
	s.active.Store(b)
	s.logger.Info("llm: provider switched", "from", prev, "to", p, "model", b.cfg.Model)
	return nil
}

// Reload replaces the provider settings (after a config file change) and
// rebinds current.
func (s *Switchable) Reload(ctx context.Context, configs map[Provider]Config, current Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := copyConfigs(configs)
	b, err := s.bind(ctx, next, current)
	if err != nil {
		return err
	}
	s.configs = next
	s.active.Store(b)
	s.logger.Info("llm: provider settings reloaded", "provider", current, "model", b.cfg.Model)
	return nil
}

// Providers lists every known provider with its configuration state.
func (s *Switchable) Providers() []ProviderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.active.Load().provider
	out := make([]ProviderInfo, 0, len(Known))
	for _, p := range Known {
		cfg, ok := s.lookup(s.configs, p)
		cfg = cfg.WithDefaults()
		out = append(out, ProviderInfo{
			Name:       p,
			Model:      cfg.Model,
			Configured: ok && cfg.Validate() == nil,
			Active:     p == cur,
		})
	}
	return out
}

func (s *Switchable) bind(ctx context.Context, configs map[Provider]Config, p Provider) (*binding, error) {
	cfg, ok := s.lookup(configs, p)
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", p)
	}
	cfg = cfg.WithDefaults()
	gw, err := s.build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm: build %s gateway: %w", p, err)
	}
	return &binding{provider: p, cfg: cfg, gateway: gw}, nil
}

// lookup finds the settings for p. The mock provider needs none.
func (s *Switchable) lookup(configs map[Provider]Config, p Provider) (Config, bool) {
	cfg, ok := configs[p]
	if ok {
		cfg.Provider = p
		return cfg, true
	}
	if p == ProviderMock {
		return Config{Provider: ProviderMock}, true
	}
	return Config{Provider: p}, false
}

func copyConfigs(in map[Provider]Config) map[Provider]Config {
	out := make(map[Provider]Config, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
