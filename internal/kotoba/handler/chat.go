package handler

import (
	"context"
	"strings"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/persona"
)

// chatHistoryTurns is how many prior turns are sent with a chat completion.
const chatHistoryTurns = 5

// Chat answers small talk through the LLM in the persona's voice.
type Chat struct {
	deps Deps
}

func NewChat(d Deps) *Chat { return &Chat{deps: d} }

func (*Chat) Name() string { return "chat" }

func (*Chat) CanHandle(in intent.Intent) bool { return in.Type == intent.Chat }

func (c *Chat) Preprocess(_ context.Context, _ intent.Intent, text string) (string, error) {
	return strings.TrimSpace(text), nil
}

// Handle never reports an LLM failure as an error: the user gets the styled
// apology instead and the turn is still recorded.
func (c *Chat) Handle(ctx context.Context, in intent.Intent, text string, conv Conversation) (Result, error) {
	if c.deps.LLM == nil {
		return notConfigured(in.Type, "language model"), nil
	}
	emotion := persona.DetectEmotion(text)
	req := llm.Request{
		System:   c.deps.Persona.SystemPrompt(emotion),
		Messages: append(conv.Messages(chatHistoryTurns), llm.Message{Role: llm.RoleUser, Content: text}),
	}

	data := map[string]any{
		"intent_type": string(in.Type),
		"confidence":  in.Confidence,
		"emotion":     string(emotion),
	}
	reply, err := c.deps.LLM.Complete(ctx, req)
	if err != nil {
		c.deps.logger().Warn("handler: chat completion failed", "session_id", conv.SessionID, "err", err)
		data["error"] = err.Error()
		return Result{Success: true, Response: c.deps.Persona.Apology(), Data: data, Decision: Stop}, nil
	}
	return Result{Success: true, Response: strings.TrimSpace(reply), Data: data, Decision: Stop}, nil
}
