// Package session implements the tick scheduler, execution handle, steering
// queue, tool-confirmation protocol, and hibernation for one conversational
// session. One Engine instance owns exactly one Session; the App package owns
// the registry of Engines.
package session

import (
	"time"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
)

// Status is the lifecycle state of a Session, per the state machine in
// spec.md §4.5.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// ComponentState is the renderer's persisted state, keyed by component path.
// It stands in for the hook-like state (useComState/useComputed) the opaque
// renderer uses internally; the engine only threads it through, it never
// interprets the keys.
type ComponentState map[string]any

// TimelineStateKey is the reserved ComponentState key the engine writes the
// live conversation timeline (including any just-steered message) to before
// each Render call. A renderer that wants the model to see prior turns
// reads it back out rather than tracking history itself; the engine owns
// the authoritative copy (see Snapshot).
const TimelineStateKey = "__engine_timeline"

// Clone returns a deep-enough copy for snapshotting: top-level keys are
// copied, values are assumed to be JSON-serializable and therefore safe to
// share by reference between a snapshot and the live session (callers must
// not mutate snapshotted values in place).
func (c ComponentState) Clone() ComponentState {
	out := make(ComponentState, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Session is the durable, externally visible state of a conversation.
type Session struct {
	ID              string
	Status          Status
	CurrentTick     int
	Timeline        []content.TimelineEntry
	QueuedMessages  []content.Message
	CumulativeUsage adapter.Usage
	ComponentState  ComponentState
}

// Snapshot is the serializable form of a session's durable state, produced
// by Engine.Hibernate and consumed by Engine.Hydrate. Re-hydrating a snapshot on an
// empty session must produce an observably equivalent session: same future
// renders and tool availability.
type Snapshot struct {
	Version         int
	SessionID       string
	Tick            int
	Timeline        []content.TimelineEntry
	ComponentState  ComponentState
	Usage           adapter.Usage
	Timestamp       time.Time
}

const snapshotVersion = 1
