// Package tools exposes callable functions to the tool handler. Functions
// come from built-in implementations or from an MCP server, are filtered
// through an allow-list, and have their arguments checked against the
// function's JSON Schema before any call is made.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultAllow is the allow-list applied when none is configured.
var DefaultAllow = []string{"get_weather", "get_time", "calculate", "translate"}

// DefaultCallTimeout bounds a single call when the caller passes zero.
const DefaultCallTimeout = 15 * time.Second

// ErrUnknownFunction is reported for calls to functions that are not listed.
var ErrUnknownFunction = errors.New("tools: unknown function")

// Function describes one callable function.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Status is the outcome class of a call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// CallResult is what a call produced. Data is the textual output on
// success; Error explains any other status.
type CallResult struct {
	Status Status `json:"status"`
	Data   string `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool { return r.Status == StatusSuccess }

// Catalog is the contract the tool handler depends on.
type Catalog interface {
	ListFunctions(ctx context.Context) ([]Function, error)
	// Call never returns a Go error; failures are described by the result.
	Call(ctx context.Context, name string, args map[string]any, timeout time.Duration) CallResult
}

func failed(err error) CallResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return CallResult{Status: StatusTimeout, Error: "the tool call timed out"}
	}
	return CallResult{Status: StatusError, Error: err.Error()}
}

func allowSet(names []string) map[string]bool {
	if len(names) == 0 {
		names = DefaultAllow
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
