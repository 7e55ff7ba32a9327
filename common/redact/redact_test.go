package redact_test

import (
	"testing"

	"github.com/bdobrica/Kotoba/common/redact"
)

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		secrets []string
		want    string
	}{
		{"replaces every occurrence", "key sk-abcd then sk-abcd", []string{"sk-abcd"}, "key [REDACTED] then [REDACTED]"},
		{"ignores short values", "id is on", []string{"on", ""}, "id is on"},
		{"several secrets", "a=AAAA b=BBBB", []string{"AAAA", "BBBB"}, "a=[REDACTED] b=[REDACTED]"},
		{"nothing to do", "plain", nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact.String(tt.in, tt.secrets...); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMap(t *testing.T) {
	in := map[string]any{
		"OPENAI_API_KEY": "sk-live",
		"matrix_token":   "syt_x",
		"provider":       "openai",
		"api_key_count":  3,
		"empty_secret":   "",
	}
	out := redact.Map(in)

	if out["OPENAI_API_KEY"] != "[REDACTED]" || out["matrix_token"] != "[REDACTED]" {
		t.Errorf("secrets leaked: %v", out)
	}
	if out["provider"] != "openai" || out["api_key_count"] != 3 || out["empty_secret"] != "" {
		t.Errorf("non-secret values changed: %v", out)
	}
	if in["OPENAI_API_KEY"] != "sk-live" {
		t.Error("input map was modified")
	}
}
