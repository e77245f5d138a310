// Package websocket implements the bidirectional WebSocket transport
// variant using github.com/coder/websocket.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tickline/tickline/transport"
)

// Options configures the WebSocket Transport.
type Options struct {
	// Addr is the address to listen on, e.g. ":8081".
	Addr string
	// Path is the HTTP path the WebSocket upgrade is served on. Defaults
	// to "/ws".
	Path string
	// InsecureSkipOriginCheck disables the same-origin check, useful for
	// local development behind a separate dev-server origin.
	InsecureSkipOriginCheck bool
}

// Transport implements transport.Transport over WebSocket connections.
type Transport struct {
	opts   Options
	server *http.Server

	mu      sync.Mutex
	clients map[string]*client

	onConn transport.ConnectionHandler
	onMsg  transport.MessageHandler
	onDisc transport.DisconnectHandler
	onErr  transport.ErrorHandler
}

// New constructs a WebSocket Transport.
func New(opts Options) *Transport {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	return &Transport{opts: opts, clients: make(map[string]*client)}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "websocket" }

// OnConnection implements transport.Transport.
func (t *Transport) OnConnection(h transport.ConnectionHandler) { t.onConn = h }

// OnMessage implements transport.Transport.
func (t *Transport) OnMessage(h transport.MessageHandler) { t.onMsg = h }

// OnDisconnect implements transport.Transport.
func (t *Transport) OnDisconnect(h transport.DisconnectHandler) { t.onDisc = h }

// OnError implements transport.Transport.
func (t *Transport) OnError(h transport.ErrorHandler) { t.onErr = h }

// Start implements transport.Transport.
func (t *Transport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(t.opts.Path, t.handleUpgrade)
	t.server = &http.Server{Addr: t.opts.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			if t.onErr != nil {
				t.onErr(err)
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop implements transport.Transport.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	clients := make([]*client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()
	for _, c := range clients {
		c.Close(1001, "server shutting down")
	}
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: t.opts.InsecureSkipOriginCheck,
	})
	if err != nil {
		if t.onErr != nil {
			t.onErr(err)
		}
		return
	}

	id := fmt.Sprintf("ws-%d", time.Now().UnixNano())
	c := &client{
		id:        id,
		sessionID: r.URL.Query().Get("sessionId"),
		userID:    r.URL.Query().Get("userId"),
		token:     r.URL.Query().Get("token"),
		conn:      conn,
	}
	c.state.Store(transport.ClientStateConnecting)

	t.mu.Lock()
	t.clients[id] = c
	t.mu.Unlock()

	ctx := r.Context()
	if t.onConn != nil {
		t.onConn(ctx, c)
	}
	c.state.Store(transport.ClientStateConnected)

	t.readLoop(ctx, c)

	t.mu.Lock()
	delete(t.clients, id)
	t.mu.Unlock()
	if t.onDisc != nil {
		t.onDisc(c)
	}
}

func (t *Transport) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.markClosed()
			return
		}
		var msg transport.ChannelEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		msg.Metadata.SessionID = c.sessionID

		if transport.IsPing(msg) {
			_ = c.Send(transport.Pong(msg.Metadata.Timestamp))
			continue
		}
		if msg.Type == transport.ConnectType {
			c.gate.Allow()
			if t.onMsg != nil {
				t.onMsg(c, msg)
			}
			continue
		}
		if !c.gate.Admits(msg) {
			_ = c.Send(transport.ChannelEvent{
				Type:    "error",
				Payload: map[string]any{"code": "AUTH_FAILED", "message": "authenticate before sending other frames"},
			})
			c.Close(transport.AuthFailedCode, "AUTH_FAILED")
			return
		}
		if t.onMsg != nil {
			t.onMsg(c, msg)
		}
	}
}

// client implements transport.TransportClient over one WebSocket
// connection.
type client struct {
	id        string
	sessionID string
	userID    string
	token     string

	conn *websocket.Conn
	gate transport.AuthGate

	mu     sync.Mutex
	state  transport.StateBox
	closed bool
}

func (c *client) ID() string { return c.id }

func (c *client) State() transport.ClientState {
	return c.state.Load()
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// IsPressured reports nothing the coder/websocket library exposes directly;
// write backpressure is handled by clientbuf.Buffer upstream of Send.
func (c *client) IsPressured() bool { return false }

func (c *client) Send(e transport.ChannelEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *client) Close(code int, reason string) {
	c.markClosed()
	_ = c.conn.Close(websocket.StatusCode(code), reason)
}

func (c *client) markClosed() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.state.Store(transport.ClientStateDisconnected)
	}
	c.mu.Unlock()
}
