// Package llm defines the completion gateway used by Kotoba's handlers and the
// vendor adapters that implement it.
//
// Handlers only need "complete(messages) -> text". Everything vendor specific
// (request shaping, auth, retries, error mapping) stays behind Gateway.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a gateway is requested for a provider
// that has no usable settings (usually a missing API key).
var ErrNotConfigured = errors.New("llm: provider not configured")

// ErrEmptyResponse is returned when the upstream API answered successfully
// but produced no text.
var ErrEmptyResponse = errors.New("llm: empty response from provider")

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the input to a single completion call. Zero-valued Model,
// MaxTokens and Temperature fall back to the gateway's configured defaults.
type Request struct {
	System      string
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// Gateway produces a completion for a conversation.
//
// Implementations must be safe for concurrent use.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderError reports a non-success transport status from an upstream API.
type ProviderError struct {
	Provider string
	Status   int
	Detail   string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("llm %s: %s", e.Provider, e.Detail)
	}
	return fmt.Sprintf("llm %s: status %d: %s", e.Provider, e.Status, e.Detail)
}

// Retryable reports whether err is worth another attempt: rate limiting and
// server-side failures are, everything else is not.
func Retryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status == 429 || pe.Status >= 500
}

// UserPrompt is shorthand for a single-message request, used by the
// extraction and summarisation helpers.
func UserPrompt(system, prompt string) Request {
	return Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	}
}
