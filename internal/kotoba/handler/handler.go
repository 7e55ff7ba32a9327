// Package handler defines the contract every intent handler implements, the
// Execute template that runs one safely, and the five built-in variants.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bdobrica/Kotoba/internal/kotoba/embed"
	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/knowledge"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/persona"
	"github.com/bdobrica/Kotoba/internal/kotoba/tools"
	"github.com/bdobrica/Kotoba/internal/kotoba/vector"
)

// Decision tells the dispatcher what to do after a result.
type Decision int

const (
	// Stop is a terminal answer; sequential dispatch halts.
	Stop Decision = iota
	// Continue is a partial answer; other intents may still contribute.
	Continue
	// Defer means a capability was missing or nothing was found.
	Defer
)

// Continues reports whether sequential dispatch should run the next intent.
func (d Decision) Continues() bool { return d != Stop }

func (d Decision) String() string {
	switch d {
	case Stop:
		return "stop"
	case Continue:
		return "continue"
	case Defer:
		return "defer"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// MarshalText lets Decision appear by name in JSON payloads.
func (d Decision) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Result is the outcome of one handler run.
type Result struct {
	Success  bool           `json:"success"`
	Response string         `json:"response"`
	Data     map[string]any `json:"data,omitempty"`
	Decision Decision       `json:"decision"`
}

// Turn is one exchange of the conversation so far.
type Turn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	At        time.Time `json:"timestamp"`
}

// Conversation is the read-only view of a session a handler receives. It is
// a copy; handlers may not retain or mutate the owner's turns through it.
type Conversation struct {
	SessionID string
	Identity  string
	Turns     []Turn
}

// Recent returns at most n of the latest turns.
func (c Conversation) Recent(n int) []Turn {
	if n <= 0 || len(c.Turns) <= n {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}

// IntentTurns flattens the latest n turns into the classifier's form.
func (c Conversation) IntentTurns(n int) []intent.Turn {
	recent := c.Recent(n)
	out := make([]intent.Turn, 0, 2*len(recent))
	for _, t := range recent {
		out = append(out,
			intent.Turn{Role: string(llm.RoleUser), Content: t.User},
			intent.Turn{Role: string(llm.RoleAssistant), Content: t.Assistant},
		)
	}
	return out
}

// Messages flattens the latest n turns into LLM messages.
func (c Conversation) Messages(n int) []llm.Message {
	recent := c.Recent(n)
	out := make([]llm.Message, 0, 2*len(recent)+1)
	for _, t := range recent {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: t.User},
			llm.Message{Role: llm.RoleAssistant, Content: t.Assistant},
		)
	}
	return out
}

// Handler serves one intent type.
type Handler interface {
	Name() string
	CanHandle(in intent.Intent) bool
	Handle(ctx context.Context, in intent.Intent, text string, conv Conversation) (Result, error)
}

// Preprocessor may rewrite the text before Handle runs.
type Preprocessor interface {
	Preprocess(ctx context.Context, in intent.Intent, text string) (string, error)
}

// Postprocessor may adjust the result after Handle returns successfully.
type Postprocessor interface {
	Postprocess(ctx context.Context, in intent.Intent, res Result) (Result, error)
}

// Execute runs preprocess, handle and postprocess. It never returns an error
// and never panics: failures become an unsuccessful Result with Decision Stop.
func Execute(ctx context.Context, h Handler, in intent.Intent, text string, conv Conversation) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler: panic recovered", "handler", h.Name(), "panic", r, "stack", string(debug.Stack()))
			res = failure(h.Name(), fmt.Errorf("panic: %v", r))
		}
	}()

	if p, ok := h.(Preprocessor); ok {
		t, err := p.Preprocess(ctx, in, text)
		if err != nil {
			return failure(h.Name(), err)
		}
		text = t
	}

	res, err := h.Handle(ctx, in, text, conv)
	if err != nil {
		return failure(h.Name(), err)
	}

	if p, ok := h.(Postprocessor); ok {
		if res, err = p.Postprocess(ctx, in, res); err != nil {
			return failure(h.Name(), err)
		}
	}
	return res
}

func failure(name string, err error) Result {
	return Result{
		Success:  false,
		Response: fmt.Sprintf("%s failed: %v", name, err),
		Data:     map[string]any{"error": err.Error()},
		Decision: Stop,
	}
}

// notConfigured is the reply of a handler whose capability is missing.
func notConfigured(typ intent.Type, capability string) Result {
	return Result{
		Success:  true,
		Response: capability + " is not configured",
		Data:     map[string]any{"intent_type": string(typ), "missing": capability},
		Decision: Defer,
	}
}

// Deps are the capabilities handlers draw on. Every field is optional.
type Deps struct {
	LLM       llm.Gateway
	Embedder  embed.Embedder
	Knowledge knowledge.Store
	Vectors   vector.Store
	Tools     tools.Catalog
	Persona   persona.Persona
	Extractor *intent.Extractor
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
