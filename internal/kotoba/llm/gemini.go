package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bdobrica/Kotoba/common/redact"
)

type geminiGateway struct {
	cfg    Config
	client *genai.Client
}

func newGemini(ctx context.Context, cfg Config) (*geminiGateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm gemini: create client: %w", err)
	}
	return &geminiGateway{cfg: cfg, client: client}, nil
}

func (g *geminiGateway) Complete(ctx context.Context, req Request) (string, error) {
	model, maxTokens, temperature := resolve(req, g.cfg)

	system := req.System
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = strings.TrimSpace(system + "\n\n" + m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	return completeWithRetry(ctx, g.cfg, func(ctx context.Context) (string, error) {
		resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return "", g.wrap(err)
		}
		return strings.TrimSpace(resp.Text()), nil
	})
}

func (g *geminiGateway) wrap(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: string(g.cfg.Provider),
			Status:   apiErr.Code,
			Detail:   redact.String(apiErr.Message, g.cfg.APIKey),
		}
	}
	return fmt.Errorf("llm %s: %w", g.cfg.Provider, err)
}
