// Package durable is an optional Temporal-backed Engine driver: instead of
// runLoop's plain goroutine calling Engine.RunTick in a for-loop, a workflow
// calls it as a retried, history-replayed activity, so an in-flight
// execution survives a worker process restart. The tick body itself
// (Engine.RunTick) is unchanged either way.
package durable

import (
	"fmt"
	"sync"

	"github.com/tickline/tickline/session"
)

// Registry maps a session id to its live Engine within this worker process.
// Temporal activities receive only serializable arguments, so the workflow
// carries a session id and looks the Engine up here rather than passing it
// as an activity parameter.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*session.Engine
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*session.Engine)}
}

// Register makes e reachable by its session id for the duration it backs a
// running tick-loop workflow.
func (r *Registry) Register(e *session.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.ID()] = e
}

// Unregister removes a session id once its workflow has finished.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, sessionID)
}

// Get returns the Engine registered for sessionID, or an error if none is.
func (r *Registry) Get(sessionID string) (*session.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[sessionID]
	if !ok {
		return nil, fmt.Errorf("durable: no engine registered for session %q", sessionID)
	}
	return e, nil
}
