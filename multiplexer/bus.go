// Package multiplexer implements the client-side leader election and
// request forwarding described in spec.md §4.11: many local tabs sharing
// one physical connection to the gateway, coordinated over a broadcast bus.
package multiplexer

import (
	"context"
	"encoding/json"
	"sync"
)

// BridgeMessage is one frame on the broadcast bus. Payload carries the
// message-type-specific fields (requestId, sessionId, event, ...), kept as
// json.RawMessage so Bus implementations never need to know the bridge
// message catalog.
type BridgeMessage struct {
	Type    string          `json:"type"`
	TabID   string          `json:"tabId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Bus is a FIFO, reliable, in-order multicast channel shared by every local
// tab. Implementations: InProcessBus (single process, tests) and RedisBus
// (cross-process, backed by Redis Pub/Sub).
type Bus interface {
	// Publish broadcasts msg to every current subscriber, including the
	// publisher itself.
	Publish(ctx context.Context, msg BridgeMessage) error
	// Subscribe registers handler for every message published after (and
	// concurrent with) the call. Returns an unsubscribe closure.
	Subscribe(handler func(BridgeMessage)) func()
	// Close releases the bus's resources.
	Close() error
}

// InProcessBus fans messages out to in-process subscribers only. Grounded
// on event.Buffer's registration/broadcast shape: a mutex-guarded slice of
// handlers, copied before invocation so Publish never holds the lock while
// calling out.
type InProcessBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(BridgeMessage)
	closed bool
}

// NewInProcessBus returns an open InProcessBus.
func NewInProcessBus() *InProcessBus {
	return &InProcessBus{subs: make(map[uint64]func(BridgeMessage))}
}

func (b *InProcessBus) Publish(ctx context.Context, msg BridgeMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	handlers := make([]func(BridgeMessage), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *InProcessBus) Subscribe(handler func(BridgeMessage)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *InProcessBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[uint64]func(BridgeMessage))
	b.mu.Unlock()
	return nil
}
