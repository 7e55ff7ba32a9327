package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bdobrica/Kotoba/common/redact"
)

type anthropicGateway struct {
	cfg    Config
	client anthropic.Client
}

func newAnthropic(cfg Config) *anthropicGateway {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicGateway{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
	}
}

func (g *anthropicGateway) Complete(ctx context.Context, req Request) (string, error) {
	model, maxTokens, temperature := resolve(req, g.cfg)

	// The Messages API takes system text out of band.
	system := []string{}
	if req.System != "" {
		system = append(system, req.System)
	}
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(temperature),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	return completeWithRetry(ctx, g.cfg, func(ctx context.Context) (string, error) {
		msg, err := g.client.Messages.New(ctx, params)
		if err != nil {
			return "", g.wrap(err)
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return strings.TrimSpace(sb.String()), nil
	})
}

func (g *anthropicGateway) wrap(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: string(g.cfg.Provider),
			Status:   apiErr.StatusCode,
			Detail:   redact.String(apiErr.Error(), g.cfg.APIKey),
		}
	}
	return fmt.Errorf("llm %s: %w", g.cfg.Provider, err)
}
