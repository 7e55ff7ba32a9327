package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaSet caches compiled input schemas by function name.
type schemaSet struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func newSchemaSet() *schemaSet {
	return &schemaSet{schemas: make(map[string]*jsonschema.Schema)}
}

// set compiles raw for name. An empty schema removes any previous entry.
func (s *schemaSet) set(name string, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		delete(s.schemas, name)
		return nil
	}
	sch, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", name, err)
	}
	s.schemas[name] = sch
	return nil
}

// validate checks args against name's schema. Functions without a schema
// accept anything.
func (s *schemaSet) validate(name string, args map[string]any) error {
	s.mu.RLock()
	sch := s.schemas[name]
	s.mu.RUnlock()
	if sch == nil {
		return nil
	}
	// The validator expects values shaped like encoding/json output.
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tools: encode arguments for %s: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("tools: decode arguments for %s: %w", name, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	return nil
}
