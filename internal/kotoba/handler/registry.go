package handler

import (
	"fmt"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
)

// Registration binds an intent type to a handler constructor.
type Registration struct {
	Type intent.Type
	New  func(Deps) Handler
}

// DefaultRegistrations is the built-in handler table.
func DefaultRegistrations() []Registration {
	return []Registration{
		{Type: intent.Chat, New: func(d Deps) Handler { return NewChat(d) }},
		{Type: intent.KnowledgeSearch, New: func(d Deps) Handler { return NewKnowledgeSearch(d) }},
		{Type: intent.VectorSearch, New: func(d Deps) Handler { return NewVectorSearch(d) }},
		{Type: intent.ToolCall, New: func(d Deps) Handler { return NewToolCall(d) }},
		{Type: intent.EmbodiedAgent, New: func(d Deps) Handler { return NewEmbodiedAgent(d) }},
	}
}

// Registry maps intent types to constructed handlers. It is immutable after
// NewRegistry returns.
type Registry struct {
	handlers map[intent.Type]Handler
	order    []intent.Type
}

// NewRegistry builds every handler in table with deps. Duplicate or unknown
// types are rejected.
func NewRegistry(deps Deps, table []Registration) (*Registry, error) {
	r := &Registry{handlers: make(map[intent.Type]Handler, len(table))}
	for _, reg := range table {
		if _, err := intent.ParseType(string(reg.Type)); err != nil {
			return nil, fmt.Errorf("handler: %w", err)
		}
		if _, dup := r.handlers[reg.Type]; dup {
			return nil, fmt.Errorf("handler: duplicate registration for %s", reg.Type)
		}
		if reg.New == nil {
			return nil, fmt.Errorf("handler: nil constructor for %s", reg.Type)
		}
		r.handlers[reg.Type] = reg.New(deps)
		r.order = append(r.order, reg.Type)
	}
	return r, nil
}

// For returns the handler registered for in's type when it accepts in.
func (r *Registry) For(in intent.Intent) (Handler, bool) {
	h, ok := r.handlers[in.Type]
	if !ok || !h.CanHandle(in) {
		return nil, false
	}
	return h, true
}

// Types lists the registered types in registration order.
func (r *Registry) Types() []intent.Type {
	return append([]intent.Type(nil), r.order...)
}
