package gateway

import (
	"strings"
	"sync"

	"github.com/tickline/tickline/app"
)

// AppInfo describes one registered agent definition for the "apps" RPC
// method.
type AppInfo struct {
	ID        string
	Name      string
	IsDefault bool
}

// AgentRegistry maps an appId to the App instance that owns its sessions.
// Session keys on the wire follow "[app:]name": a single segment means the
// default app; otherwise the first segment names the app and the remainder
// (which may itself contain ":") is the session name.
type AgentRegistry struct {
	mu         sync.RWMutex
	apps       map[string]*app.App
	names      map[string]string
	defaultApp string
}

// NewAgentRegistry returns an empty registry. Register the default app
// before serving any request that omits an app prefix.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{apps: make(map[string]*app.App), names: make(map[string]string)}
}

// Register adds a into the registry under id. If isDefault is true, or this
// is the first app registered, it becomes the default app for unprefixed
// session keys.
func (r *AgentRegistry) Register(id, name string, a *app.App, isDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[id] = a
	r.names[id] = name
	if isDefault || r.defaultApp == "" {
		r.defaultApp = id
	}
}

// Lookup resolves appID to its App, or false if unknown.
func (r *AgentRegistry) Lookup(appID string) (*app.App, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[appID]
	return a, ok
}

// ParseSessionKey splits a wire session key "[app:]name" into its app id and
// session name, per spec.md §4.10. A key with no colon addresses the
// default app.
func (r *AgentRegistry) ParseSessionKey(key string) (appID, name string) {
	r.mu.RLock()
	defaultApp := r.defaultApp
	r.mu.RUnlock()

	idx := strings.Index(key, ":")
	if idx < 0 {
		return defaultApp, key
	}
	return key[:idx], key[idx+1:]
}

// Resolve parses key and looks up the owning App in one step.
func (r *AgentRegistry) Resolve(key string) (a *app.App, appID, name string, ok bool) {
	appID, name = r.ParseSessionKey(key)
	a, ok = r.Lookup(appID)
	return a, appID, name, ok
}

// List returns every registered app's public info.
func (r *AgentRegistry) List() []AppInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AppInfo, 0, len(r.apps))
	for id, name := range r.names {
		out = append(out, AppInfo{ID: id, Name: name, IsDefault: id == r.defaultApp})
	}
	return out
}

// AllSessions enumerates every known session id, formatted as "app:name"
// when app is not the default, or bare "name" for the default app.
func (r *AgentRegistry) AllSessions() []string {
	r.mu.RLock()
	apps := make(map[string]*app.App, len(r.apps))
	for id, a := range r.apps {
		apps[id] = a
	}
	defaultApp := r.defaultApp
	r.mu.RUnlock()

	var out []string
	for id, a := range apps {
		for _, name := range a.Sessions() {
			if id == defaultApp {
				out = append(out, name)
			} else {
				out = append(out, id+":"+name)
			}
		}
	}
	return out
}
