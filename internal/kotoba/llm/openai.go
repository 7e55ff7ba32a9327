package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/bdobrica/Kotoba/common/redact"
	"github.com/bdobrica/Kotoba/common/retry"
)

// openAIGateway serves OpenAI and every OpenAI-compatible endpoint
// (DeepSeek, Ollama and other local servers) through the chat completions API.
type openAIGateway struct {
	cfg    Config
	client openai.Client
}

func newOpenAI(cfg Config) *openAIGateway {
	key := cfg.APIKey
	if key == "" {
		// Local servers ignore the key but the client insists on one.
		key = "local"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIGateway{
		cfg:    cfg,
		client: openai.NewClient(opts...),
	}
}

func (g *openAIGateway) Complete(ctx context.Context, req Request) (string, error) {
	model, maxTokens, temperature := resolve(req, g.cfg)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    msgs,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}

	return completeWithRetry(ctx, g.cfg, func(ctx context.Context) (string, error) {
		resp, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", g.wrap(err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
}

func (g *openAIGateway) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: string(g.cfg.Provider),
			Status:   apiErr.StatusCode,
			Detail:   redact.String(apiErr.Error(), g.cfg.APIKey),
		}
	}
	return fmt.Errorf("llm %s: %w", g.cfg.Provider, err)
}

// resolve applies the gateway defaults to the per-request overrides.
func resolve(req Request, cfg Config) (model string, maxTokens int, temperature float64) {
	model, maxTokens, temperature = req.Model, req.MaxTokens, req.Temperature
	if model == "" {
		model = cfg.Model
	}
	if maxTokens <= 0 {
		maxTokens = cfg.MaxTokens
	}
	if temperature <= 0 {
		temperature = cfg.Temperature
	}
	return model, maxTokens, temperature
}

// completeWithRetry runs call with a per-attempt timeout, retrying rate limits
// and upstream 5xx responses with exponential backoff.
func completeWithRetry(ctx context.Context, cfg Config, call func(ctx context.Context) (string, error)) (string, error) {
	out, err := retry.Value(ctx, retry.Config{
		MaxAttempts:  cfg.MaxRetries + 1,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry:  Retryable,
	}, func() (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		return call(attemptCtx)
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
