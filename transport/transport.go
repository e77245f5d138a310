// Package transport defines the server-side connection abstraction shared
// by every concrete wire binding (SSE, WebSocket, Unix socket, Socket.IO,
// in-process) and the ChannelEvent wire envelope they all carry.
package transport

import (
	"context"
	"sync"
	"time"
)

// ChannelEvent is the wire envelope common to every transport. Channel
// "events" carries server→client StreamEvents; channel "messages" carries
// client→server steering.
type ChannelEvent struct {
	Channel  string         `json:"channel"`
	Type     string         `json:"type"`
	Payload  any            `json:"payload"`
	Metadata EventMetadata  `json:"metadata"`
}

// EventMetadata accompanies every ChannelEvent.
type EventMetadata struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientState is the lifecycle state of one TransportClient.
type ClientState string

const (
	ClientStateConnecting   ClientState = "connecting"
	ClientStateConnected    ClientState = "connected"
	ClientStateDisconnected ClientState = "disconnected"
	ClientStateError        ClientState = "error"
)

// TransportClient is one connected peer, regardless of which concrete
// Transport accepted it.
type TransportClient interface {
	// ID returns the server- or client-assigned connection identifier.
	ID() string
	// State returns the client's current lifecycle state.
	State() ClientState
	// IsConnected reports whether Send is currently expected to succeed.
	IsConnected() bool
	// IsPressured reports whether the underlying transport's write buffer
	// is currently full; callers should queue rather than Send directly.
	IsPressured() bool
	// Send transmits one ChannelEvent to the client.
	Send(ChannelEvent) error
	// Close closes the connection with an optional numeric code and reason.
	Close(code int, reason string)
}

// ConnectionHandler is invoked when a new client completes its transport
// handshake (not yet authenticated).
type ConnectionHandler func(ctx context.Context, client TransportClient)

// MessageHandler is invoked for every inbound ChannelEvent from a client.
type MessageHandler func(client TransportClient, msg ChannelEvent)

// DisconnectHandler is invoked once a client's connection closes, for any
// reason.
type DisconnectHandler func(client TransportClient)

// ErrorHandler is invoked on transport-level errors not tied to a specific
// client send/receive call (listener errors, accept failures).
type ErrorHandler func(err error)

// Transport is the server-side connect/send/receive abstraction. Concrete
// variants share wire semantics (ChannelEvent, ping/pong, connect-first
// authentication) but differ in framing.
type Transport interface {
	// Type names the concrete transport ("sse", "websocket", "unix",
	// "socketio", "inprocess").
	Type() string
	// Start begins accepting connections. Returns once the transport is
	// ready (e.g., the listener is bound); accepting happens in the
	// background until Stop is called.
	Start(ctx context.Context) error
	// Stop gracefully closes every connection and releases resources.
	Stop(ctx context.Context) error
	// OnConnection registers a handler for new connections.
	OnConnection(h ConnectionHandler)
	// OnMessage registers a handler for inbound messages from any client.
	OnMessage(h MessageHandler)
	// OnDisconnect registers a handler fired when any client disconnects.
	OnDisconnect(h DisconnectHandler)
	// OnError registers a handler for transport-level errors.
	OnError(h ErrorHandler)
}

// PingType and PongType are the reserved frame types every transport must
// recognize outside of authentication: a ping is answered with a pong
// carrying the same timestamp, regardless of auth state.
const (
	PingType = "ping"
	PongType = "pong"
)

// IsPing reports whether msg is a ping frame.
func IsPing(msg ChannelEvent) bool { return msg.Type == PingType }

// Pong builds the pong reply for a ping frame's timestamp.
func Pong(timestamp time.Time) ChannelEvent {
	return ChannelEvent{
		Type:    PongType,
		Payload: map[string]any{"timestamp": timestamp},
	}
}

// StateBox is a tiny mutex-guarded holder for a ClientState, shared by the
// concrete transport implementations so each does not reinvent an atomic
// string.
type StateBox struct {
	mu sync.Mutex
	v  ClientState
}

// Store sets the current state.
func (b *StateBox) Store(v ClientState) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

// Load returns the current state.
func (b *StateBox) Load() ClientState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}
