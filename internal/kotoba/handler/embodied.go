package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/persona"
)

// Action codes understood by the avatar renderer.
const (
	ActionStop = 0
	ActionSpin = 1
)

var (
	stopPhrases = []string{"停止转圈", "不要转了", "别转了", "停止", "停下", "站好", "stop"}
	spinPhrases = []string{"开始转圈", "旋转起来", "转起来", "转圈", "旋转", "转动", "spin"}
)

type action struct {
	name        string
	code        int
	description string
	reply       string
	emotion     persona.Emotion
}

var (
	spinAction = action{name: "spin", code: ActionSpin, description: "*开始转圈*", reply: "好的，我开始转圈了！", emotion: persona.Happy}
	stopAction = action{name: "stop", code: ActionStop, description: "*停止转圈*", reply: "好的，我停下来了。", emotion: persona.Neutral}
)

// detectAction checks stop phrases before spin phrases, so "停止转圈" stops.
func detectAction(text string) (action, bool) {
	lower := strings.ToLower(text)
	for _, p := range stopPhrases {
		if strings.Contains(lower, p) {
			return stopAction, true
		}
	}
	for _, p := range spinPhrases {
		if strings.Contains(lower, p) {
			return spinAction, true
		}
	}
	return action{}, false
}

// EmbodiedAgent drives the avatar: it emits action codes for movement
// commands and otherwise talks in character.
type EmbodiedAgent struct {
	deps Deps
}

func NewEmbodiedAgent(d Deps) *EmbodiedAgent { return &EmbodiedAgent{deps: d} }

func (*EmbodiedAgent) Name() string { return "embodied_agent" }

func (*EmbodiedAgent) CanHandle(in intent.Intent) bool { return in.Type == intent.EmbodiedAgent }

func (e *EmbodiedAgent) Handle(ctx context.Context, in intent.Intent, text string, conv Conversation) (Result, error) {
	name := in.Params.String(intent.ParamAgentName)
	if name == "" {
		name = e.deps.Persona.Name
	}

	if act, ok := detectAction(text); ok {
		resp := fmt.Sprintf("%s\n\n【%s】%s\n%s\n\n[action code: %d]", act.description, name, act.emotion.Emoji(), act.reply, act.code)
		return Result{
			Success:  true,
			Response: resp,
			Data: map[string]any{
				"intent_type": string(in.Type),
				"action":      act.name,
				"action_code": act.code,
				"agent_name":  name,
				"emotion":     string(act.emotion),
			},
			Decision: Stop,
		}, nil
	}

	emotion := persona.DetectEmotion(text)
	reply := e.converse(ctx, name, text, conv)
	return Result{
		Success:  true,
		Response: fmt.Sprintf("【%s】%s\n%s", name, emotion.Emoji(), reply),
		Data: map[string]any{
			"intent_type": string(in.Type),
			"agent_name":  name,
			"emotion":     string(emotion),
		},
		Decision: Continue,
	}, nil
}

func (e *EmbodiedAgent) converse(ctx context.Context, name, text string, conv Conversation) string {
	fallback := fmt.Sprintf("收到您的消息：%s", text)
	if e.deps.LLM == nil {
		return fallback
	}
	system := fmt.Sprintf("你是虚拟人%s，%s。请以%s的身份和口吻与用户自然交流，回复简短生动。", name, e.deps.Persona.Personality, name)
	ctx, cancel := context.WithTimeout(ctx, helperTimeout)
	defer cancel()
	reply, err := e.deps.LLM.Complete(ctx, llm.Request{
		System:   system,
		Messages: append(conv.Messages(chatHistoryTurns), llm.Message{Role: llm.RoleUser, Content: text}),
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		e.deps.logger().Debug("handler: in-character reply failed, using template", "err", err)
		return fallback
	}
	return strings.TrimSpace(reply)
}
