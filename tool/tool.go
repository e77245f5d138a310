// Package tool defines the Tool contract the session engine executes during
// a tick, plus the structured error type tool failures are reported through.
package tool

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tickline/tickline/content"
)

type (
	// IdempotencyScope declares the semantic scope in which a tool call is
	// considered idempotent. Default: tools are not idempotent unless tagged.
	IdempotencyScope string

	// Metadata describes a tool's identity, schema, and execution policy.
	Metadata struct {
		Name        string
		Description string

		// InputSchema/OutputSchema are JSON Schema documents. Output is
		// optional.
		InputSchema  json.RawMessage
		OutputSchema json.RawMessage

		RequiresConfirmation bool

		// Sequential forces the engine to run this tool call by itself rather
		// than concurrently with other tool calls in the same tick.
		Sequential bool

		// Idempotency tags the scope in which this tool's calls are
		// idempotent. It is carried as metadata only: the engine does not
		// read it and runs every call, including a repeat of a call with
		// identical arguments that already succeeded.
		Idempotency IdempotencyScope

		ProviderOptions map[string]any
	}

	// ConfirmRequest is passed to Context.Confirm to obtain a user decision
	// before a tool runs.
	ConfirmRequest struct {
		ToolUseID string
		Name      string
		Arguments json.RawMessage
		Message   string
		Metadata  map[string]any
	}

	// ConfirmResponse is the user's decision for a ConfirmRequest.
	ConfirmResponse struct {
		Approved bool
		Reason   string
	}

	// Context provides a tool's Run method with session/tick identity,
	// cancellation, and the confirmation protocol.
	Context struct {
		SessionID string
		Tick      int
		Ctx       context.Context
		Confirm   func(ConfirmRequest) (ConfirmResponse, error)
	}

	// Result is a tool's successful output, serialized into a
	// content.ToolResultBlock by the engine.
	Result struct {
		Content []content.Block
	}

	// Tool is a named executable the model may invoke.
	Tool interface {
		Metadata() Metadata
		Run(ctx Context, input json.RawMessage) (Result, error)
	}
)

const (
	// IdempotencyScopeTranscript marks a tool idempotent across a run
	// transcript.
	IdempotencyScopeTranscript IdempotencyScope = "transcript"
)

// compiledSchemaCache avoids recompiling the same JSON Schema document on
// every call; tools are typically long-lived within a process.
type compiledSchemaCache struct {
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
}

func newCompiledSchemaCache() *compiledSchemaCache {
	return &compiledSchemaCache{
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// ValidateInput compiles (on first use) and validates input against the
// tool's InputSchema. A nil/empty schema allows any input.
func ValidateInput(cache *SchemaCache, name string, schema json.RawMessage, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := cache.compile(name+"#input", schema)
	if err != nil {
		return err
	}
	var v any
	if len(input) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(input, &v); err != nil {
		return &ValidationError{Tool: name, Message: "input is not valid JSON", Cause: err}
	}
	if err := compiled.Validate(v); err != nil {
		return &ValidationError{Tool: name, Message: "input does not match schema", Cause: err}
	}
	return nil
}

// SchemaCache is a process-wide compiled-schema cache shared by every tool
// registered with the engine.
type SchemaCache struct{ inner *compiledSchemaCache }

// NewSchemaCache returns an empty SchemaCache.
func NewSchemaCache() *SchemaCache { return &SchemaCache{inner: newCompiledSchemaCache()} }

func (c *SchemaCache) compile(key string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if s, ok := c.inner.schemas[key]; ok {
		return s, nil
	}
	if err := c.inner.compiler.AddResource(key, jsonDecode(schema)); err != nil {
		return nil, err
	}
	compiled, err := c.inner.compiler.Compile(key)
	if err != nil {
		return nil, err
	}
	c.inner.schemas[key] = compiled
	return compiled, nil
}

func jsonDecode(raw json.RawMessage) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

// ValidationError reports a schema violation for a tool's input or output.
type ValidationError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return "tool " + e.Tool + ": " + e.Message + ": " + e.Cause.Error()
	}
	return "tool " + e.Tool + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Cause }
