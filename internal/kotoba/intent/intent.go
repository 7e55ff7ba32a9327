// Package intent turns a raw utterance into a ranked list of intents.
//
// Classification is purely rule based: keyword tables, regular expressions
// and a short look-back over recent turns. Parameter extraction is a separate
// second pass that may consult an LLM but always has a deterministic fallback.
package intent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type identifies which handler family an intent belongs to.
type Type string

const (
	Chat            Type = "chat"
	KnowledgeSearch Type = "knowledge_search"
	VectorSearch    Type = "vector_search"
	ToolCall        Type = "tool_call"
	EmbodiedAgent   Type = "embodied_agent"
)

// detectOrder is the fixed order in which detectors visit types. It is part
// of the tie-break contract, so do not reorder.
var detectOrder = []Type{KnowledgeSearch, VectorSearch, ToolCall, EmbodiedAgent}

// ParseType validates s as a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Chat, KnowledgeSearch, VectorSearch, ToolCall, EmbodiedAgent:
		return t, nil
	}
	return "", fmt.Errorf("intent: unknown type %q", s)
}

// Label is the short human-readable name used when merging several handler
// responses into one reply.
func (t Type) Label() string {
	switch t {
	case Chat:
		return "Chat"
	case KnowledgeSearch:
		return "Knowledge"
	case VectorSearch:
		return "Semantic search"
	case ToolCall:
		return "Tool"
	case EmbodiedAgent:
		return "Agent"
	}
	return string(t)
}

// Well-known parameter keys.
const (
	ParamKeywords        = "keywords"
	ParamPattern         = "pattern"
	ParamMatch           = "match"
	ParamContextInferred = "context_inferred"
	ParamSearchTerms     = "search_terms"
	ParamFunction        = "function"
	ParamAgentName       = "agent_name"
)

// Intent is one classified purpose of an utterance.
type Intent struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	Params     Params  `json:"params"`
	RawText    string  `json:"raw_text"`
}

// Params is an insertion-ordered string-keyed map. The zero value is ready
// to use.
type Params struct {
	keys   []string
	values map[string]any
}

// Set stores v under k, keeping the original position of an existing key.
func (p *Params) Set(k string, v any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[k]; !ok {
		p.keys = append(p.keys, k)
	}
	p.values[k] = v
}

// SetDefault stores v under k only if k is absent. It reports whether v
// was stored.
func (p *Params) SetDefault(k string, v any) bool {
	if p.Has(k) {
		return false
	}
	p.Set(k, v)
	return true
}

// Get returns the value stored under k.
func (p Params) Get(k string) (any, bool) {
	v, ok := p.values[k]
	return v, ok
}

// Has reports whether k is present.
func (p Params) Has(k string) bool {
	_, ok := p.values[k]
	return ok
}

// String returns the value under k if it is a non-empty string.
func (p Params) String(k string) string {
	s, _ := p.values[k].(string)
	return s
}

// Strings returns the value under k if it is a string slice.
func (p Params) Strings(k string) []string {
	ss, _ := p.values[k].([]string)
	return ss
}

// Keys returns the keys in insertion order.
func (p Params) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Len returns the number of keys.
func (p Params) Len() int { return len(p.keys) }

// Clone returns an independent copy. Slice values are shared.
func (p Params) Clone() Params {
	var out Params
	for _, k := range p.keys {
		out.Set(k, p.values[k])
	}
	return out
}

// Union copies every key of other that p does not already hold.
func (p *Params) Union(other Params) {
	for _, k := range other.keys {
		p.SetDefault(k, other.values[k])
	}
}

// MarshalJSON writes the keys in insertion order.
func (p Params) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("intent: marshal param %q: %w", k, err)
		}
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// Turn is a prior message the classifier may look back on.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Types returns the intent types in order, for logging and diagnostics.
func Types(intents []Intent) []string {
	out := make([]string, len(intents))
	for i, in := range intents {
		out[i] = string(in.Type)
	}
	return out
}
