package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/tickline/tickline/content"
)

// SnapshotStore persists and retrieves Snapshots by session id. The
// in-memory backend is MemoryStore below; the redis and mongo backends live
// under session/hibernate.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore is a process-local SnapshotStore, useful for tests and for the
// in-process transport where durability across restarts is not required.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Snapshot)}
}

// Save implements SnapshotStore.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snap.SessionID] = snap
	return nil
}

// Load implements SnapshotStore.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data[sessionID]
	return snap, ok, nil
}

// Delete implements SnapshotStore.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// ErrUnsupportedSnapshotVersion is returned by Hydrate when a stored
// snapshot was written by a newer or incompatible engine version.
var ErrUnsupportedSnapshotVersion = fmt.Errorf("session: unsupported snapshot version")

// Hibernate pauses the session (refusing while an execution is in flight)
// and returns a serializable Snapshot capturing everything needed to
// reconstruct an observably equivalent session via Hydrate.
func (e *Engine) Hibernate() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.executing {
		return Snapshot{}, fmt.Errorf("session: cannot hibernate while an execution is running")
	}
	e.hibernated = true
	return Snapshot{
		Version:        snapshotVersion,
		SessionID:      e.id,
		Tick:           e.tick,
		Timeline:       append([]content.TimelineEntry(nil), e.timeline...),
		ComponentState: e.state.Clone(),
		Usage:          e.usage,
	}, nil
}

// Hydrate restores an Engine's durable state from a Snapshot produced by
// Hibernate. The engine must be freshly constructed (idle, tick 0) before
// calling Hydrate.
func (e *Engine) Hydrate(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return ErrUnsupportedSnapshotVersion
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = snap.SessionID
	e.tick = snap.Tick
	e.timeline = append([]content.TimelineEntry(nil), snap.Timeline...)
	e.state = snap.ComponentState.Clone()
	e.usage = snap.Usage
	e.status = StatusIdle
	e.hibernated = false
	return nil
}
