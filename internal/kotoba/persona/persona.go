// Package persona holds the assistant's character: its name, personality,
// reply style and the styled canned messages shared by the session and the
// chat handlers.
package persona

import (
	"fmt"
	"strings"
)

// Style selects the register of canned messages and the tone requested from
// the LLM.
type Style string

const (
	Formal Style = "formal"
	Casual Style = "casual"
	Cute   Style = "cute"
)

// ParseStyle validates s as a Style.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case Formal, Casual, Cute:
		return st, nil
	}
	return "", fmt.Errorf("persona: unknown reply style %q", s)
}

// Persona describes who the assistant is.
type Persona struct {
	Name        string `yaml:"name"`
	Personality string `yaml:"personality"`
	Style       Style  `yaml:"style"`
	Emotions    bool   `yaml:"emotions"`
}

// Default returns the built-in persona.
func Default() Persona {
	return Persona{
		Name:        "Zy",
		Personality: "友善、聪明、乐于助人的AI助手",
		Style:       Casual,
		Emotions:    true,
	}
}

var stylePrompts = map[Style]string{
	Formal: "请用正式、专业的语言回复。",
	Casual: "请用轻松、友好的语言回复。",
	Cute:   "请用可爱、俏皮的语言回复，可以适当使用颜文字。",
}

// SystemPrompt builds the chat system prompt. hint is the emotion detected
// in the user's message; it is ignored when emotions are disabled.
func (p Persona) SystemPrompt(hint Emotion) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是%s，%s。\n", p.Name, p.Personality)
	if s := stylePrompts[p.Style]; s != "" {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	sb.WriteString("请保持回复简洁有趣，长度控制在100字以内。")
	if p.Emotions {
		sb.WriteString("\n请在回复中表达适当的情感，让对话更加生动。")
		if h := hint.promptHint(); h != "" {
			sb.WriteByte('\n')
			sb.WriteString(h)
		}
	}
	return sb.String()
}

// IdentityPrompt asks the user for a name.
func (p Persona) IdentityPrompt() string {
	switch p.Style {
	case Formal:
		return "欢迎使用！为了更好地为您服务，请先告诉我您的姓名或昵称。"
	case Casual:
		return fmt.Sprintf("嗨～我是%s！请告诉我你的名字，这样我就知道怎么称呼你了～😊", p.Name)
	case Cute:
		return fmt.Sprintf("你好呀～我是%s！可以告诉我你的名字吗？我想认识你呢～ ✨", p.Name)
	}
	return "请输入您的姓名以开始对话。"
}

// Welcome greets a freshly verified identity.
func (p Persona) Welcome(identity string) string {
	switch p.Style {
	case Formal:
		return fmt.Sprintf("您好，%s！很高兴认识您。有什么可以为您做的吗？", identity)
	case Casual:
		return fmt.Sprintf("嗨 %s！很开心认识你～有什么想聊的吗？😊", identity)
	case Cute:
		return fmt.Sprintf("哇～原来你叫%s呀！好好听的名字～我是%s，以后请多多指教哦 ✨", identity, p.Name)
	}
	return fmt.Sprintf("您好，%s！很高兴认识您。", identity)
}

// LimitReached is the notice returned once a conversation hits limit turns.
func (p Persona) LimitReached(limit int) string {
	switch p.Style {
	case Formal:
		return fmt.Sprintf("很抱歉，我们的对话已达到存储上限（%d条记录）。请清空聊天历史或重启应用以继续对话。感谢您的理解。", limit)
	case Casual:
		return fmt.Sprintf("哎呀～我们聊得太多了！已经达到%d条记录的上限了 😅 需要清空一下聊天记录才能继续哦～", limit)
	case Cute:
		return fmt.Sprintf("呀～我们聊了好多好多话呢！已经有%d条记录啦 (＞﹏＜) 需要清理一下小脑袋才能继续聊天哦～", limit)
	}
	return fmt.Sprintf("对话已达到存储上限（%d条记录），请清空历史后继续。", limit)
}

// Farewell is the notice returned after the user said goodbye.
func (p Persona) Farewell() string {
	switch p.Style {
	case Formal:
		return "本次对话已结束，感谢您的使用。如需继续，请清空聊天历史后重新开始。"
	case Cute:
		return "我们已经说过再见啦～想再聊的话清空一下记录就好哦 (｡･ω･｡)ﾉ"
	}
	return "这次聊天已经结束啦～想继续的话清空一下聊天记录就好 👋"
}

// Apology replaces a reply the LLM could not produce.
func (p Persona) Apology() string {
	switch p.Style {
	case Formal:
		return "抱歉，服务暂时无法响应，请稍后再试。"
	case Cute:
		return "呜呜～我的小脑袋卡住了 (＞﹏＜) 等一下再来找我吧～"
	}
	return "抱歉，我现在有点困惑 😅 请稍后再试试吧！"
}

// SlowDown is returned when a user exceeds the message rate limit.
func (p Persona) SlowDown() string {
	switch p.Style {
	case Formal:
		return "您的消息发送过于频繁，请稍后再试。"
	case Cute:
		return "慢一点慢一点～我有点跟不上啦 (。・ω・。)"
	}
	return "你发得太快啦～稍等一下再聊吧 😅"
}
