package handler

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
)

// helperTimeout bounds the auxiliary LLM calls handlers make (query rewrite,
// summaries, argument extraction).
const helperTimeout = 15 * time.Second

func paramInt(p intent.Params, key string, def int) int {
	v, _ := p.Get(key)
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	}
	return def
}

func paramFloat(p intent.Params, key string, def float64) float64 {
	v, _ := p.Get(key)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

func paramBool(p intent.Params, key string, def bool) bool {
	if b, ok := p.Get(key); ok {
		if v, ok := b.(bool); ok {
			return v
		}
	}
	return def
}

// query joins search_terms, falling back to the raw text.
func query(in intent.Intent, text string) string {
	if terms := in.Params.Strings(intent.ParamSearchTerms); len(terms) > 0 {
		return strings.Join(terms, " ")
	}
	return strings.TrimSpace(text)
}

// truncate cuts s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// ask runs a one-shot helper prompt. An empty reply counts as failure.
func ask(ctx context.Context, gw llm.Gateway, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, helperTimeout)
	defer cancel()
	reply, err := gw.Complete(ctx, llm.UserPrompt(system, prompt))
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", llm.ErrEmptyResponse
	}
	return reply, nil
}
