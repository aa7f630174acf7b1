// Package tools describes the tools a session can offer to the model and
// the metadata the core needs to validate, route, and reason about calls to
// them. It implements the tool side of the Tool-executor contract: the core
// never executes a tool itself, it only validates arguments against the
// declared schema and hands a ToolCall to the external executor.
package tools

import "encoding/json"

// Ident is the strong type for fully qualified tool identifiers
// (e.g., "service.toolset.tool"). Use this type when referencing tools in
// maps or APIs to avoid accidental mixing with free-form strings.
type Ident string

// AnyJSONCodec is a pre-built codec for the `any` type. It uses standard JSON
// marshaling/unmarshaling and is suitable for tool results whose concrete
// type is not known at compile time.
var AnyJSONCodec = JSONCodec[any]{
	ToJSON: json.Marshal,
	FromJSON: func(data []byte) (any, error) {
		if len(data) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
}

type (
	// JSONCodec serializes and deserializes strongly typed values to and from JSON.
	JSONCodec[T any] struct {
		// ToJSON encodes the value into canonical JSON.
		ToJSON func(T) ([]byte, error)
		// FromJSON decodes the JSON payload into the typed value.
		FromJSON func([]byte) (T, error)
	}

	// TypeSpec describes the payload or result schema for a tool.
	TypeSpec struct {
		// Name is the Go-facing identifier associated with the type.
		Name string
		// Schema is the JSON Schema document describing the type, compiled
		// lazily and cached by Validator.
		Schema json.RawMessage
		// ExampleJSON optionally holds a canonical example document. Nothing
		// in this module reads it.
		ExampleJSON json.RawMessage
		// Codec serializes and deserializes values matching the type.
		Codec JSONCodec[any]
	}

	// ToolSpec enumerates the metadata the tool executor contract (§6) needs
	// to advertise a tool to the model and route a call once the model
	// produces one.
	ToolSpec struct {
		// Name is the globally unique tool identifier (service.toolset.tool).
		Name Ident
		// Description is shown to the model when the tool is advertised.
		Description string
		// Tags carries optional metadata labels, such as the idempotency tag
		// parsed by IdempotencyScopeFromTags. core/reputation does not read
		// them.
		Tags []string
		// IsAgentTool marks a tool backed by a nested agent invocation rather
		// than a direct executor call.
		IsAgentTool bool
		// TerminalRun marks a tool whose result ends the turn rather than
		// feeding a follow-up model call. core/orchestrator does not read it.
		TerminalRun bool
		// Payload describes the request schema for the tool.
		Payload TypeSpec
		// Result describes the response schema for the tool.
		Result TypeSpec
	}
)

// ToolUnavailable is a runtime-owned tool identifier used to represent model
// tool calls whose requested name is not registered for the session.
//
// Provider adapters rewrite unknown tool calls to this identifier so the
// tool_use/tool_result handshake stays valid even when a model hallucinates a
// tool name. No code in this module gives it special treatment.
const ToolUnavailable Ident = "runtime.tool_unavailable"
