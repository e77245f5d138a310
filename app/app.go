// Package app owns the registry of live sessions for one agent definition:
// it creates engines on demand, hands back the same engine for a known
// session id, and hibernates or discards sessions on request.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
	"github.com/tickline/tickline/session"
	"github.com/tickline/tickline/telemetry"
	"github.com/tickline/tickline/tool"
)

// ErrUnknownSession is returned by operations that target a session id the
// App has neither live nor hibernated.
var ErrUnknownSession = errors.New("app: unknown session")

// Hooks lets a caller observe session lifecycle transitions without
// subscribing to every session's event buffer individually.
type Hooks struct {
	OnSessionCreate func(sessionID string)
	OnSessionClose  func(sessionID string)
}

// Config configures an App.
type Config struct {
	// ID names the agent definition this App serves. Used for logging only.
	ID string
	// Renderer builds RenderedInput from session ComponentState. Required.
	Renderer session.Renderer
	// Adapter is the model adapter every session created by this App uses.
	// Required.
	Adapter adapter.ModelAdapter
	// Tools lists the tools available to every session. Required if the
	// agent exposes any tool_use capability.
	Tools []tool.Tool
	// Fanout bounds concurrent tool execution per tick. Defaults to
	// session.DefaultFanout.
	Fanout int
	// Store persists hibernated sessions. Defaults to an in-memory store.
	Store session.SnapshotStore
	// Telemetry receives lifecycle logs and metrics, and is handed down to
	// every session this App creates. Defaults to telemetry.Noop().
	Telemetry *telemetry.Recorder
	// Hooks observes session creation/close.
	Hooks Hooks
}

// App is the registry of live session engines for one agent definition.
type App struct {
	id        string
	renderer  session.Renderer
	adapter   adapter.ModelAdapter
	tools     []tool.Tool
	fanout    int
	store     session.SnapshotStore
	telemetry *telemetry.Recorder
	hooks     Hooks

	mu       sync.Mutex
	sessions map[string]*session.Engine
	closed   bool
}

// New constructs an App. Adapter and Renderer are required.
func New(cfg Config) (*App, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("app: adapter is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("app: renderer is required")
	}
	store := cfg.Store
	if store == nil {
		store = session.NewMemoryStore()
	}
	rec := cfg.Telemetry
	if rec == nil {
		rec = telemetry.Noop()
	}
	return &App{
		id:        cfg.ID,
		renderer:  cfg.Renderer,
		adapter:   cfg.Adapter,
		tools:     cfg.Tools,
		fanout:    cfg.Fanout,
		store:     store,
		telemetry: rec,
		hooks:     cfg.Hooks,
		sessions:  make(map[string]*session.Engine),
	}, nil
}

// CreateSession starts a brand-new, idle session and registers it. If id is
// empty, a uuid is generated.
func (a *App) CreateSession(id string) (*session.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errors.New("app: closed")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := a.sessions[id]; exists {
		return nil, fmt.Errorf("app: session %q already exists", id)
	}
	eng := session.New(session.Config{
		SessionID: id,
		Renderer:  a.renderer,
		Adapter:   a.adapter,
		Tools:     a.tools,
		Fanout:    a.fanout,
		Telemetry: a.telemetry,
	})
	a.sessions[id] = eng
	a.telemetry.SessionLifecycle(context.Background(), a.id, id, "created")
	if a.hooks.OnSessionCreate != nil {
		a.hooks.OnSessionCreate(id)
	}
	return eng, nil
}

// GetSession returns the live engine for id, resuming it from the
// configured SnapshotStore if it is hibernated but not currently loaded.
func (a *App) GetSession(ctx context.Context, id string) (*session.Engine, error) {
	a.mu.Lock()
	if eng, ok := a.sessions[id]; ok {
		a.mu.Unlock()
		return eng, nil
	}
	a.mu.Unlock()

	snap, ok, err := a.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("app: load snapshot: %w", err)
	}
	if !ok {
		return nil, ErrUnknownSession
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if eng, ok := a.sessions[id]; ok {
		return eng, nil
	}
	eng := session.New(session.Config{
		SessionID: id,
		Renderer:  a.renderer,
		Adapter:   a.adapter,
		Tools:     a.tools,
		Fanout:    a.fanout,
		Telemetry: a.telemetry,
	})
	if err := eng.Hydrate(snap); err != nil {
		return nil, fmt.Errorf("app: hydrate snapshot: %w", err)
	}
	a.sessions[id] = eng
	a.telemetry.SessionLifecycle(ctx, a.id, id, "resumed")
	if a.hooks.OnSessionCreate != nil {
		a.hooks.OnSessionCreate(id)
	}
	return eng, nil
}

// GetOrCreateSession returns the existing or hibernated session for id, or
// creates a new one if none exists.
func (a *App) GetOrCreateSession(ctx context.Context, id string) (*session.Engine, error) {
	eng, err := a.GetSession(ctx, id)
	if err == nil {
		return eng, nil
	}
	if !errors.Is(err, ErrUnknownSession) {
		return nil, err
	}
	eng, err = a.CreateSession(id)
	if err != nil {
		// A concurrent caller may have created the same id first.
		a.mu.Lock()
		existing, ok := a.sessions[id]
		a.mu.Unlock()
		if ok {
			return existing, nil
		}
		return nil, err
	}
	return eng, nil
}

// Send forwards a message to the named session's engine, creating the
// session first if it does not yet exist.
func (a *App) Send(ctx context.Context, id string, msg content.Message, mode session.SteerMode) (*session.ExecutionHandle, error) {
	eng, err := a.GetOrCreateSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return eng.Send(ctx, msg, mode), nil
}

// Hibernate persists the named session's state to the SnapshotStore and
// removes it from the live registry.
func (a *App) Hibernate(ctx context.Context, id string) error {
	a.mu.Lock()
	eng, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	snap, err := eng.Hibernate()
	if err != nil {
		return fmt.Errorf("app: hibernate: %w", err)
	}
	if err := a.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("app: persist snapshot: %w", err)
	}
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
	a.telemetry.SessionLifecycle(ctx, a.id, id, "hibernated")
	if a.hooks.OnSessionClose != nil {
		a.hooks.OnSessionClose(id)
	}
	return nil
}

// CloseSession discards a session without persisting it.
func (a *App) CloseSession(id string) error {
	a.mu.Lock()
	_, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	a.telemetry.SessionLifecycle(context.Background(), a.id, id, "closed")
	if a.hooks.OnSessionClose != nil {
		a.hooks.OnSessionClose(id)
	}
	return nil
}

// Sessions lists the ids of currently live (non-hibernated) sessions.
func (a *App) Sessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		out = append(out, id)
	}
	return out
}

// Close hibernates every live session and marks the App unusable for
// further session creation.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := a.Hibernate(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
