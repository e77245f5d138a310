package gateway

import (
	"sync"

	"github.com/tickline/tickline/clientbuf"
	"github.com/tickline/tickline/event"
	"github.com/tickline/tickline/transport"
)

// Client is the gateway's view of one connected, possibly-authenticated
// transport peer: its bounded outbound event queue, its session
// subscriptions, and whatever AuthResult authentication produced.
type Client struct {
	id        string
	transport transport.TransportClient
	buf       *clientbuf.Buffer

	mu            sync.Mutex
	authenticated bool
	auth          AuthResult
	// subscriptions maps a wire session key ("[app:]name") to the
	// unsubscribe closure for the event handler registered on that
	// session's bus.
	subscriptions map[string]func()
}

func newClient(tc transport.TransportClient, max int, policy clientbuf.OverflowPolicy) *Client {
	c := &Client{
		id:            tc.ID(),
		transport:     tc,
		subscriptions: make(map[string]func()),
	}
	c.buf = clientbuf.New(sendAdapter{tc}, max, policy)
	return c
}

// ID returns the client's connection identifier, which a connect frame may
// have replaced with a client-chosen id.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

func (c *Client) markAuthenticated(result AuthResult) {
	c.mu.Lock()
	c.authenticated = true
	c.auth = result
	c.mu.Unlock()
}

// Authenticated reports whether this client's connect frame passed
// authentication.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// User returns the authenticated user identity, if any.
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.User
}

// addSubscription records the unsubscribe closure for wireKey, replacing
// any prior subscription to the same key.
func (c *Client) addSubscription(wireKey string, unsubscribe func()) {
	c.mu.Lock()
	if prev, ok := c.subscriptions[wireKey]; ok {
		prev()
	}
	c.subscriptions[wireKey] = unsubscribe
	c.mu.Unlock()
}

func (c *Client) removeSubscription(wireKey string) {
	c.mu.Lock()
	unsubscribe, ok := c.subscriptions[wireKey]
	delete(c.subscriptions, wireKey)
	c.mu.Unlock()
	if ok {
		unsubscribe()
	}
}

func (c *Client) removeAllSubscriptions() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]func())
	c.mu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// pushEvent enqueues a session StreamEvent on the client's bounded buffer.
// wireKey overrides the event's SessionID so the client sees the session
// key it subscribed with ("[app:]name"), not the engine's bare internal id.
func (c *Client) pushEvent(wireKey string, e event.StreamEvent) {
	e.SessionID = wireKey
	c.buf.Push(e)
}

// sendResponse delivers an RPC response directly, bypassing the event
// buffer: responses are request-scoped and not subject to the same
// backpressure policy as session event fan-out.
func (c *Client) sendResponse(resp rpcResponse) {
	_ = c.transport.Send(transport.ChannelEvent{Channel: "messages", Type: "response", Payload: resp})
}

// sendAdapter satisfies clientbuf.Client by wrapping a session StreamEvent
// as the gateway's wire envelope before handing it to the transport.
type sendAdapter struct {
	tc transport.TransportClient
}

func (a sendAdapter) IsConnected() bool { return a.tc.IsConnected() }

func (a sendAdapter) Send(e event.StreamEvent) error {
	return a.tc.Send(transport.ChannelEvent{
		Channel: "events",
		Type:    "event",
		Payload: map[string]any{
			"event":     e.Type,
			"sessionId": e.SessionID,
			"data":      e,
		},
	})
}

func (a sendAdapter) Disconnect(code int, reason string) { a.tc.Close(code, reason) }
