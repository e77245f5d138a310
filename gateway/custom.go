package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tickline/tickline/tool"
)

// CustomHandler implements one registered custom method. It may reach back
// into the gateway's agent registry or external services; params has
// already passed schema validation by the time the handler runs.
type CustomHandler func(ctx context.Context, client *Client, params json.RawMessage) (any, error)

// CustomMethod is one entry in the namespace:name custom method registry.
type CustomMethod struct {
	Namespace string
	Name      string
	// Schema is the JSON Schema for this method's params. Nil/empty allows
	// any input.
	Schema  json.RawMessage
	Handler CustomHandler
}

// wireName returns the "namespace:name" form used on the wire.
func (m CustomMethod) wireName() string { return m.Namespace + ":" + m.Name }

// CustomRegistry holds every registered custom method, keyed by its wire
// name, and validates params against each method's declared schema before
// invoking its handler.
type CustomRegistry struct {
	mu      sync.RWMutex
	methods map[string]CustomMethod
	schemas *tool.SchemaCache
}

// NewCustomRegistry returns an empty custom method registry.
func NewCustomRegistry() *CustomRegistry {
	return &CustomRegistry{methods: make(map[string]CustomMethod), schemas: tool.NewSchemaCache()}
}

// Register adds method to the registry, keyed by "namespace:name".
func (r *CustomRegistry) Register(m CustomMethod) error {
	if m.Namespace == "" || m.Name == "" {
		return fmt.Errorf("gateway: custom method requires both namespace and name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[m.wireName()] = m
	return nil
}

// Lookup returns the method registered under wireName, if any.
func (r *CustomRegistry) Lookup(wireName string) (CustomMethod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[wireName]
	return m, ok
}

// Invoke validates params against method's schema (rejecting with
// INVALID_PARAMS on violation) and runs its handler.
func (r *CustomRegistry) Invoke(ctx context.Context, client *Client, method CustomMethod, params json.RawMessage) (any, error) {
	if err := tool.ValidateInput(r.schemas, method.wireName(), method.Schema, params); err != nil {
		return nil, errInvalidParams(err.Error(), nil)
	}
	return method.Handler(ctx, client, params)
}
