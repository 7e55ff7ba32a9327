package session

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
)

// InvalidInputError is returned for input the session refuses to process.
// Message is meant for the user; no turn is recorded.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string { return e.Message }

func invalid(msg string) error { return &InvalidInputError{Message: msg} }

const (
	maxIdentityRunes = 20
	maxSpecialChars  = 2
	specialChars     = "!@#$%^&*()_+-=[]{}|;:,.<>?/~`"
)

var identityDenylist = map[string]bool{
	"test": true, "testing": true, "测试": true, "aaa": true, "abc": true,
	"hello": true, "hi": true, "你好": true, "qwerty": true, "asdf": true,
	"...": true, "。。。": true, "user": true, "admin": true, "root": true, "guest": true,
}

// ValidateIdentity checks a candidate name and returns it trimmed. A
// rejection is an *InvalidInputError explaining what is wrong.
func ValidateIdentity(candidate string) (string, error) {
	name := strings.TrimSpace(candidate)
	if name == "" {
		return "", invalid("请输入您的姓名。")
	}
	n := utf8.RuneCountInString(name)
	if n > maxIdentityRunes {
		return "", invalid("姓名太长了，请输入一个简短的名字。")
	}

	special := 0
	digits := 0
	distinct := make(map[rune]struct{}, n)
	for _, r := range name {
		if strings.ContainsRune(specialChars, r) {
			special++
		}
		if unicode.IsDigit(r) {
			digits++
		}
		distinct[r] = struct{}{}
	}
	switch {
	case special > maxSpecialChars:
		return "", invalid("姓名中特殊字符太多，请输入一个正常的名字。")
	case digits == n:
		return "", invalid("请输入您的姓名，而不是纯数字。")
	case identityDenylist[strings.ToLower(name)]:
		return "", invalid("请输入您的真实姓名或昵称，而不是测试内容。")
	case len(distinct) == 1 && n > 3:
		return "", invalid("请输入一个正常的姓名。")
	}
	return name, nil
}

var goodbyeTerms = []string{
	"再见", "拜拜", "结束", "退出", "离开", "下线", "关闭",
	"bye", "goodbye", "exit", "quit", "close", "end",
	"88", "886", "晚安", "睡觉", "休息", "走了", "先走了",
	"不聊了", "聊天结束", "结束聊天", "停止聊天",
}

// IsGoodbye reports whether text asks to end the conversation. Latin terms
// must stand as whole words so that "weekend" does not end a chat.
func IsGoodbye(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, t := range goodbyeTerms {
		if intent.MatchTerm(lower, t) {
			return true
		}
	}
	return false
}
