// Package inprocess implements a Transport variant with no network I/O at
// all: clients are plain Go values handed directly to Connect, and messages
// move through direct function calls. Used by tests and by embedders that
// host client and server in the same process.
package inprocess

import (
	"context"
	"fmt"
	"sync"

	"github.com/tickline/tickline/transport"
)

// Transport implements transport.Transport with clients attached via
// Connect instead of a network listener.
type Transport struct {
	mu      sync.Mutex
	clients map[string]*client
	started bool

	onConn transport.ConnectionHandler
	onMsg  transport.MessageHandler
	onDisc transport.DisconnectHandler
	onErr  transport.ErrorHandler
}

// New constructs an in-process Transport.
func New() *Transport {
	return &Transport{clients: make(map[string]*client)}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "inprocess" }

// OnConnection implements transport.Transport.
func (t *Transport) OnConnection(h transport.ConnectionHandler) { t.onConn = h }

// OnMessage implements transport.Transport.
func (t *Transport) OnMessage(h transport.MessageHandler) { t.onMsg = h }

// OnDisconnect implements transport.Transport.
func (t *Transport) OnDisconnect(h transport.DisconnectHandler) { t.onDisc = h }

// OnError implements transport.Transport.
func (t *Transport) OnError(h transport.ErrorHandler) { t.onErr = h }

// Start implements transport.Transport. There is no listener to bind; it
// simply marks the transport ready to accept Connect calls.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return nil
}

// Stop implements transport.Transport, disconnecting every attached client.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	clients := make([]*client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.started = false
	t.mu.Unlock()
	for _, c := range clients {
		c.Close(0, "server shutting down")
	}
	return nil
}

// Inbox is the receiving side of an in-process client: whatever the server
// sends is delivered here. Embedders and tests read from it directly.
type Inbox func(transport.ChannelEvent)

// Connect attaches a new in-process client identified by id, whose outbound
// sends are delivered to inbox. It returns a ClientHandle the caller uses to
// push inbound frames via Receive and to detach via Disconnect.
func (t *Transport) Connect(ctx context.Context, id string, inbox Inbox) (*ClientHandle, error) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil, fmt.Errorf("inprocess: transport not started")
	}
	if _, exists := t.clients[id]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("inprocess: client %q already connected", id)
	}
	c := &client{id: id, inbox: inbox}
	c.state.Store(transport.ClientStateConnecting)
	t.clients[id] = c
	t.mu.Unlock()

	if t.onConn != nil {
		t.onConn(ctx, c)
	}
	c.state.Store(transport.ClientStateConnected)

	return &ClientHandle{transport: t, client: c}, nil
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	c, ok := t.clients[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.clients, id)
	t.mu.Unlock()
	if t.onDisc != nil {
		t.onDisc(c)
	}
}

// ClientHandle is the caller-facing side of a Connect'd client: it pushes
// inbound frames into the transport and disconnects when done.
type ClientHandle struct {
	transport *Transport
	client    *client
}

// Receive delivers an inbound ChannelEvent from the client to the
// transport's MessageHandler, applying the same connect-first auth gate the
// networked transports enforce.
func (h *ClientHandle) Receive(msg transport.ChannelEvent) {
	c := h.client
	if transport.IsPing(msg) {
		_ = c.Send(transport.Pong(msg.Metadata.Timestamp))
		return
	}
	if msg.Type == transport.ConnectType {
		c.gate.Allow()
		if h.transport.onMsg != nil {
			h.transport.onMsg(c, msg)
		}
		return
	}
	if !c.gate.Admits(msg) {
		_ = c.Send(transport.ChannelEvent{
			Type:    "error",
			Payload: map[string]any{"code": "AUTH_FAILED", "message": "authenticate before sending other frames"},
		})
		c.Close(transport.AuthFailedCode, "AUTH_FAILED")
		return
	}
	if h.transport.onMsg != nil {
		h.transport.onMsg(c, msg)
	}
}

// Disconnect detaches the client from the transport, firing OnDisconnect.
func (h *ClientHandle) Disconnect() {
	h.client.Close(0, "client disconnected")
	h.transport.forget(h.client.id)
}

// client implements transport.TransportClient by calling its inbox function
// directly instead of writing to a socket.
type client struct {
	id    string
	inbox Inbox
	gate  transport.AuthGate
	state transport.StateBox

	mu     sync.Mutex
	closed bool
}

func (c *client) ID() string { return c.id }

func (c *client) State() transport.ClientState { return c.state.Load() }

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// IsPressured always reports false: an in-process inbox call never blocks
// on network buffering the way a socket write can.
func (c *client) IsPressured() bool { return false }

func (c *client) Send(e transport.ChannelEvent) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("inprocess: client %s closed", c.id)
	}
	if c.inbox != nil {
		c.inbox(e)
	}
	return nil
}

func (c *client) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state.Store(transport.ClientStateDisconnected)
	c.mu.Unlock()
}
