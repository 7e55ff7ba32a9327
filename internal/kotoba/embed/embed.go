// Package embed turns text into vectors for semantic search.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by New when no embedding provider is selected.
var ErrNotConfigured = errors.New("embed: no embedding provider configured")

// Embedder produces an embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider selects an Embedder implementation.
type Provider string

const (
	ProviderNone   Provider = ""
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

const defaultCacheSize = 1024

var defaultModels = map[Provider]string{
	ProviderOpenAI: "text-embedding-3-small",
	ProviderGemini: "gemini-embedding-001",
}

// Config selects and configures the embedding provider.
type Config struct {
	Provider  Provider `yaml:"provider"`
	APIKey    string   `yaml:"api_key" json:"-"`
	BaseURL   string   `yaml:"base_url"`
	Model     string   `yaml:"model"`
	CacheSize int      `yaml:"cache_size"`
}

// New builds the configured embedder wrapped in an LRU cache. It returns
// ErrNotConfigured when Provider is empty.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderNone:
		return nil, ErrNotConfigured
	case ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("embed: openai needs an api key or a base url")
		}
		inner = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderGemini:
		inner, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
	return NewCached(inner, cfg.Model, cfg.CacheSize)
}
