package persona

import "strings"

// Emotion is a coarse mood attached to replies.
type Emotion string

const (
	Neutral   Emotion = "neutral"
	Happy     Emotion = "happy"
	Sad       Emotion = "sad"
	Thinking  Emotion = "thinking"
	Excited   Emotion = "excited"
	Surprised Emotion = "surprised"
)

var emotionKeywords = []struct {
	emotion Emotion
	words   []string
}{
	{Sad, []string{"难过", "伤心", "不开心", "郁闷", "哭", "sad", "upset"}},
	{Excited, []string{"太棒", "厉害", "激动", "好耶", "awesome", "amazing"}},
	{Happy, []string{"开心", "高兴", "哈哈", "谢谢", "喜欢", "happy", "thanks", "great"}},
	{Surprised, []string{"真的吗", "竟然", "居然", "没想到", "really", "wow"}},
	{Thinking, []string{"为什么", "怎么", "如何", "why", "how"}},
}

var emotionEmoji = map[Emotion]string{
	Happy:     "😊",
	Thinking:  "🤔",
	Excited:   "🎉",
	Sad:       "😢",
	Neutral:   "😐",
	Surprised: "😮",
}

// DetectEmotion picks an emotion for text by keyword. The first matching
// group wins; no match is Neutral.
func DetectEmotion(text string) Emotion {
	lower := strings.ToLower(text)
	for _, g := range emotionKeywords {
		for _, w := range g.words {
			if strings.Contains(lower, w) {
				return g.emotion
			}
		}
	}
	return Neutral
}

// Emoji returns the emoji for e, or "" for an unknown emotion.
func (e Emotion) Emoji() string { return emotionEmoji[e] }

func (e Emotion) promptHint() string {
	switch e {
	case Happy, Excited:
		return "用户现在心情不错，可以一起分享这份喜悦。"
	case Sad:
		return "用户现在情绪有些低落，请温柔地安慰对方。"
	case Thinking:
		return "用户在认真思考问题，请耐心、清晰地回答。"
	case Surprised:
		return "用户感到意外，可以顺着对方的好奇心展开。"
	}
	return ""
}
