// Package redact scrubs secrets out of strings and maps before they reach
// logs, HTTP responses or chat rooms.
//
// Provider error bodies sometimes echo the request headers back, so every
// error detail built from an upstream response goes through String with the
// key that was used. This is a last line of defence; call sites should
// still avoid logging credentials.
package redact

import "strings"

const placeholder = "[REDACTED]"

// minSecretLen keeps short values such as "on" or "id" from blanking out
// unrelated text.
const minSecretLen = 4

// String replaces each secret occurring in s with a placeholder.
func String(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, secret, placeholder)
	}
	return s
}

// Map returns a shallow copy of m in which non-empty string values under
// credential-looking keys are replaced.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && s != "" && sensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

var sensitiveWords = []string{"password", "passwd", "token", "secret", "key", "credential", "auth"}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, w := range sensitiveWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
