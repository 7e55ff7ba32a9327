package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Kotoba/common/environment"
	"github.com/bdobrica/Kotoba/common/redact"
	"github.com/bdobrica/Kotoba/internal/kotoba/embed"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/persona"
)

// EnvPath names the variable holding the config file path.
const EnvPath = "KOTOBA_CONFIG"

// PathFromEnv returns the config path from the environment, or def.
func PathFromEnv(def string) string {
	return environment.StringOr(EnvPath, def)
}

// Load builds the configuration from Default, the YAML file at path (skipped
// when path is empty), then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

func load(path string) (*Config, string, error) {
	cfg := Default()
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config: invalid: %w", err)
	}
	if path == "" {
		return &cfg, "", nil
	}
	h := sha256.Sum256(data)
	return &cfg, hex.EncodeToString(h[:]), nil
}

var providerKeys = map[llm.Provider]string{
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
	llm.ProviderDeepSeek:  "DEEPSEEK_API_KEY",
	llm.ProviderGemini:    "GEMINI_API_KEY",
}

func applyEnv(c *Config) {
	if c.LLM.Providers == nil {
		c.LLM.Providers = make(map[llm.Provider]llm.Config)
	}
	c.LLM.Current = llm.Provider(environment.StringOr("CURRENT_PROVIDER", string(c.LLM.Current)))
	for p, name := range providerKeys {
		if key := environment.StringOr(name, ""); key != "" {
			pc := c.LLM.Providers[p]
			pc.Provider = p
			pc.APIKey = key
			c.LLM.Providers[p] = pc
		}
	}
	if url := environment.StringOr("LOCAL_LLM_URL", ""); url != "" {
		pc := c.LLM.Providers[llm.ProviderLocal]
		pc.Provider = llm.ProviderLocal
		pc.BaseURL = url
		c.LLM.Providers[llm.ProviderLocal] = pc
	}

	// Embeddings reuse the chat provider's key unless one is set explicitly.
	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case embed.ProviderOpenAI:
			c.Embedding.APIKey = environment.StringOr("OPENAI_API_KEY", "")
		case embed.ProviderGemini:
			c.Embedding.APIKey = environment.StringOr("GEMINI_API_KEY", "")
		}
	}

	c.Persona.Name = environment.StringOr("VIRTUAL_HUMAN_NAME", c.Persona.Name)
	c.Persona.Style = persona.Style(environment.StringOr("REPLY_STYLE", string(c.Persona.Style)))

	c.Session.VerifyIdentity = environment.BoolOr("ENABLE_IDENTITY_VERIFICATION", c.Session.VerifyIdentity)
	c.Session.MaxHistory = environment.IntOr("MAX_CONVERSATION_HISTORY", c.Session.MaxHistory)
	c.Session.TurnLimit = environment.IntOr("CHAT_STORAGE_LIMIT", c.Session.TurnLimit)

	c.Database.Path = environment.StringOr("DATABASE_PATH", c.Database.Path)
	c.HTTP.Addr = environment.StringOr("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = environment.StringOr("LOG_LEVEL", c.Log.Level)

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	c.Matrix.Rooms = environment.StringSliceOr("MATRIX_ROOMS", c.Matrix.Rooms)
}

func (c *Config) normalise() {
	if st, err := persona.ParseStyle(string(c.Persona.Style)); err == nil {
		c.Persona.Style = st
	}
	c.Persona.Name = strings.TrimSpace(c.Persona.Name)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.LLM.Current = llm.Provider(strings.ToLower(string(c.LLM.Current)))
}

// Summary returns the settings worth logging at startup, with credentials
// redacted.
func (c *Config) Summary() map[string]any {
	current := c.LLM.Providers[c.LLM.Current]
	return redact.Map(map[string]any{
		"http_addr":           c.HTTP.Addr,
		"database_path":       c.Database.Path,
		"llm_provider":        string(c.LLM.Current),
		"llm_model":           current.WithDefaults().Model,
		"llm_api_key":         current.APIKey,
		"embedding_provider":  string(c.Embedding.Provider),
		"embedding_api_key":   c.Embedding.APIKey,
		"knowledge_enabled":   c.Knowledge.Enabled,
		"vector_enabled":      c.Vector.Enabled,
		"mcp_command":         c.Tools.MCP.Command,
		"persona":             c.Persona.Name,
		"reply_style":         string(c.Persona.Style),
		"verify_identity":     c.Session.VerifyIdentity,
		"turn_limit":          c.Session.TurnLimit,
		"max_history":         c.Session.MaxHistory,
		"parallel":            c.Dispatch.Parallel,
		"matrix_homeserver":   c.Matrix.Homeserver,
		"matrix_access_token": c.Matrix.AccessToken,
	})
}
