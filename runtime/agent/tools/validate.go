package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches the JSON Schema documents declared on
// ToolSpec.Payload so core/toolcontract's ValidatedExecutor can check a
// proposed tool call's arguments before handing it to the external executor.
type Validator struct {
	mu       sync.Mutex
	cache    map[Ident]*jsonschema.Schema
	compiler *jsonschema.Compiler
}

// NewValidator returns an empty Validator. Schemas are compiled lazily on
// first use and cached by tool identifier.
func NewValidator() *Validator {
	return &Validator{
		cache:    make(map[Ident]*jsonschema.Schema),
		compiler: jsonschema.NewCompiler(),
	}
}

// ValidatePayload checks raw against the compiled Payload.Schema of spec,
// returning the issues found. A nil or empty slice means the payload is
// valid. Schemas that fail to compile are reported as a single issue rather
// than a Go error, since a malformed tool schema is itself a validation
// finding the orchestrator can surface to the caller.
func (v *Validator) ValidatePayload(spec ToolSpec, raw json.RawMessage) ([]FieldIssue, error) {
	schema, err := v.compile(spec)
	if err != nil {
		return []FieldIssue{{Field: "", Constraint: err.Error()}}, nil
	}
	if schema == nil {
		return nil, nil
	}
	var inst any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return []FieldIssue{{Field: "", Constraint: "type", Format: "json"}}, nil
	}
	if err := schema.Validate(inst); err != nil {
		return []FieldIssue{{Field: "", Constraint: err.Error()}}, nil
	}
	return nil, nil
}

func (v *Validator) compile(spec ToolSpec) (*jsonschema.Schema, error) {
	if len(spec.Payload.Schema) == 0 {
		return nil, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[spec.Name]; ok {
		return s, nil
	}
	url := fmt.Sprintf("mem://tools/%s.json", spec.Name)
	var doc any
	if err := json.Unmarshal(spec.Payload.Schema, &doc); err != nil {
		return nil, fmt.Errorf("tools: decode schema for %s: %w", spec.Name, err)
	}
	if err := v.compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tools: add schema resource for %s: %w", spec.Name, err)
	}
	schema, err := v.compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema for %s: %w", spec.Name, err)
	}
	v.cache[spec.Name] = schema
	return schema, nil
}
