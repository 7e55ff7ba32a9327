package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the tag selecting a concrete Gateway implementation.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderLocal     Provider = "local"
	ProviderGemini    Provider = "gemini"
	ProviderMock      Provider = "mock"
)

// Known lists every supported provider tag in display order.
var Known = []Provider{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderDeepSeek,
	ProviderLocal,
	ProviderGemini,
	ProviderMock,
}

const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.7
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 2

	defaultDeepSeekBase = "https://api.deepseek.com/v1"
	defaultLocalBase    = "http://localhost:11434/v1"
)

var defaultModels = map[Provider]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderDeepSeek:  "deepseek-chat",
	ProviderLocal:     "llama3",
	ProviderGemini:    "gemini-2.0-flash",
	ProviderMock:      "mock",
}

// Config holds the settings for one provider. The Provider field is the tag;
// the remaining fields are interpreted by the matching adapter.
type Config struct {
	Provider    Provider      `yaml:"provider" json:"provider"`
	APIKey      string        `yaml:"api_key" json:"-"`
	BaseURL     string        `yaml:"base_url" json:"base_url,omitempty"`
	Model       string        `yaml:"model" json:"model"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
}

// WithDefaults returns a copy of c with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = defaultModels[c.Provider]
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	switch c.Provider {
	case ProviderDeepSeek:
		if c.BaseURL == "" {
			c.BaseURL = defaultDeepSeekBase
		}
	case ProviderLocal:
		if c.BaseURL == "" {
			c.BaseURL = defaultLocalBase
		}
	}
	return c
}

// Validate reports whether c can produce a Gateway.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("%w: %s requires an api key", ErrNotConfigured, c.Provider)
		}
	case ProviderLocal, ProviderMock:
	case "":
		return fmt.Errorf("%w: empty provider", ErrNotConfigured)
	default:
		return fmt.Errorf("llm: unknown provider %q", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm: temperature %.2f out of range [0,2]", c.Temperature)
	}
	return nil
}

// New builds the Gateway selected by cfg.Provider.
func New(ctx context.Context, cfg Config) (Gateway, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderOpenAI, ProviderDeepSeek, ProviderLocal:
		return newOpenAI(cfg), nil
	case ProviderAnthropic:
		return newAnthropic(cfg), nil
	case ProviderGemini:
		return newGemini(ctx, cfg)
	default:
		return NewMock(cfg.Model), nil
	}
}
