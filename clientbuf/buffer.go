// Package clientbuf implements the per-client bounded event queue sitting
// between a session's event bus and one connected transport client.
package clientbuf

import (
	"sync"

	"github.com/tickline/tickline/event"
)

// OverflowPolicy selects what happens when the pending queue exceeds Max.
type OverflowPolicy string

const (
	// OverflowDisconnect closes the client with a fixed code/reason and
	// clears the queue.
	OverflowDisconnect OverflowPolicy = "disconnect"
	// OverflowDropOldest evicts from the head of the queue until it is
	// within Max.
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// DisconnectCode and DisconnectReason are used when OverflowDisconnect fires.
const (
	DisconnectCode   = 4008
	DisconnectReason = "Event buffer overflow"
)

// Client abstracts the transport-level connection a Buffer drains into.
type Client interface {
	// IsConnected reports whether the client can currently accept a send.
	// When false, Push drops the event without enqueueing it.
	IsConnected() bool
	// Send transmits one event. Returning an error is treated the same as
	// IsConnected() becoming false: the buffer stops draining.
	Send(event.StreamEvent) error
	// Disconnect closes the client connection with the given code/reason.
	Disconnect(code int, reason string)
}

// Buffer is a per-client bounded queue implementing the fast-path /
// backpressure / drain / overflow algorithm described for the gateway's
// client fan-out.
type Buffer struct {
	mu       sync.Mutex
	client   Client
	max      int
	policy   OverflowPolicy
	queue    []event.StreamEvent
	pressure bool
	closed   bool
}

// New constructs a Buffer. max <= 0 means unbounded (overflow never fires).
func New(client Client, max int, policy OverflowPolicy) *Buffer {
	if policy == "" {
		policy = OverflowDropOldest
	}
	return &Buffer{client: client, max: max, policy: policy}
}

// Pending returns the current queue length.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Clear empties the queue without touching the client connection.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
}

// Push delivers e to the client directly (fast path) when not pressured, or
// enqueues it and attempts to drain when pressured. A disconnected/closed
// client makes Push a no-op.
func (b *Buffer) Push(e event.StreamEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if !b.client.IsConnected() {
		b.mu.Unlock()
		return
	}

	if !b.pressure && len(b.queue) == 0 {
		b.mu.Unlock()
		if err := b.client.Send(e); err != nil {
			b.mu.Lock()
			b.pressure = true
			b.queue = append(b.queue, e)
			b.enforceOverflowLocked()
			b.mu.Unlock()
		}
		return
	}

	b.queue = append(b.queue, e)
	b.enforceOverflowLocked()
	b.mu.Unlock()

	b.Drain()
}

// enforceOverflowLocked applies the overflow policy; caller holds mu.
func (b *Buffer) enforceOverflowLocked() {
	if b.max <= 0 || len(b.queue) <= b.max {
		return
	}
	switch b.policy {
	case OverflowDisconnect:
		b.queue = nil
		b.closed = true
		client := b.client
		b.mu.Unlock()
		client.Disconnect(DisconnectCode, DisconnectReason)
		b.mu.Lock()
	case OverflowDropOldest:
		excess := len(b.queue) - b.max
		b.queue = b.queue[excess:]
	}
}

// Drain flushes the queue FIFO while the client accepts sends, stopping as
// soon as a send fails (pressure reasserted) or the client disconnects.
func (b *Buffer) Drain() {
	for {
		b.mu.Lock()
		if b.closed || !b.client.IsConnected() {
			b.mu.Unlock()
			return
		}
		if len(b.queue) == 0 {
			b.pressure = false
			b.mu.Unlock()
			return
		}
		next := b.queue[0]
		client := b.client
		b.mu.Unlock()

		if err := client.Send(next); err != nil {
			b.mu.Lock()
			b.pressure = true
			b.mu.Unlock()
			return
		}

		b.mu.Lock()
		if len(b.queue) > 0 {
			b.queue = b.queue[1:]
		}
		b.mu.Unlock()
	}
}
