// Package socketio implements a Socket.IO-compatible transport variant on
// top of a plain WebSocket connection. It speaks the minimal subset of the
// Engine.IO/Socket.IO v4 text framing needed for two event names:
// CHANNEL_EVENT (bidirectional ChannelEvent) and JOIN_SESSION (room join).
// Rooms multiplex sessions as "session:<id>".
package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tickline/tickline/transport"
)

const (
	// engineIOOpen is the Engine.IO "open" packet type sent on handshake.
	engineIOOpen = "0"
	// engineIOMessage is the Engine.IO "message" packet type wrapping every
	// Socket.IO packet.
	engineIOMessage = "4"
	// socketIOEvent is the Socket.IO "event" packet type, the only one this
	// transport needs to emit/consume (no ack ids, no binary attachments,
	// single default namespace).
	socketIOEvent = "2"

	// EventChannelEvent is the Socket.IO event name carrying a ChannelEvent
	// payload in both directions.
	EventChannelEvent = "CHANNEL_EVENT"
	// EventJoinSession is the Socket.IO event name a client emits to join a
	// session's room.
	EventJoinSession = "JOIN_SESSION"
)

// Options configures the Socket.IO-compatible Transport.
type Options struct {
	// Addr is the address to listen on, e.g. ":8082".
	Addr string
	// Path is the HTTP path the WebSocket upgrade is served on. Defaults
	// to "/socket.io/".
	Path string
}

// Transport implements transport.Transport with Socket.IO-style framing.
type Transport struct {
	opts   Options
	server *http.Server

	mu      sync.Mutex
	clients map[string]*client
	rooms   map[string]map[string]*client // room -> client id -> client

	onConn transport.ConnectionHandler
	onMsg  transport.MessageHandler
	onDisc transport.DisconnectHandler
	onErr  transport.ErrorHandler
}

// New constructs a Socket.IO-compatible Transport.
func New(opts Options) *Transport {
	if opts.Path == "" {
		opts.Path = "/socket.io/"
	}
	return &Transport{
		opts:    opts,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
	}
}

// SessionRoom derives the room name for sessionId.
func SessionRoom(sessionID string) string { return "session:" + sessionID }

// Type implements transport.Transport.
func (t *Transport) Type() string { return "socketio" }

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

// join adds client c to room, so future Broadcast calls for that room reach
// it. Used internally when a JOIN_SESSION event is received.
func (t *Transport) join(room string, c *client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.rooms[room]
	if !ok {
		set = make(map[string]*client)
		t.rooms[room] = set
	}
	set[c.id] = c
}

// Broadcast sends a ChannelEvent wrapped as a CHANNEL_EVENT Socket.IO
// message to every client that has joined room.
func (t *Transport) Broadcast(room string, e transport.ChannelEvent) {
	t.mu.Lock()
	set := t.rooms[room]
	targets := make([]*client, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	t.mu.Unlock()
	for _, c := range targets {
		_ = c.Send(e)
	}
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		if t.onErr != nil {
			t.onErr(err)
		}
		return
	}

	id := fmt.Sprintf("sio-%d", time.Now().UnixNano())
	c := &client{id: id, conn: conn, transport: t}
	c.state.Store(transport.ClientStateConnecting)

	ctx := r.Context()
	if err := conn.Write(ctx, websocket.MessageText, []byte(engineIOOpen+`{"sid":"`+id+`"}`)); err != nil {
		return
	}

	t.mu.Lock()
	t.clients[id] = c
	t.mu.Unlock()

	if t.onConn != nil {
		t.onConn(ctx, c)
	}
	c.state.Store(transport.ClientStateConnected)

	t.readLoop(ctx, c)

	t.mu.Lock()
	delete(t.clients, id)
	for _, set := range t.rooms {
		delete(set, id)
	}
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
		name, payload, ok := decodeEventPacket(data)
		if !ok {
			continue
		}

		switch name {
		case transport.PingType:
			var ping struct {
				Timestamp time.Time `json:"timestamp"`
			}
			_ = json.Unmarshal(payload, &ping)
			_ = c.Send(transport.Pong(ping.Timestamp))
		case EventJoinSession:
			var join struct {
				SessionID string         `json:"sessionId"`
				Metadata  map[string]any `json:"metadata"`
			}
			if err := json.Unmarshal(payload, &join); err == nil && join.SessionID != "" {
				t.join(SessionRoom(join.SessionID), c)
			}
		case EventChannelEvent:
			var msg transport.ChannelEvent
			if err := json.Unmarshal(payload, &msg); err != nil {
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
}

// decodeEventPacket parses a raw Engine.IO frame, returning the Socket.IO
// event name and its JSON-encoded argument payload when it is a well-formed
// event packet ("42[\"name\", payload]").
func decodeEventPacket(data []byte) (name string, payload json.RawMessage, ok bool) {
	s := string(data)
	if !strings.HasPrefix(s, engineIOMessage+socketIOEvent) {
		return "", nil, false
	}
	body := s[len(engineIOMessage+socketIOEvent):]
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(body), &args); err != nil || len(args) < 1 {
		return "", nil, false
	}
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, false
	}
	if len(args) >= 2 {
		payload = args[1]
	} else {
		payload = json.RawMessage("{}")
	}
	return name, payload, true
}

// encodeEventPacket builds the Engine.IO frame for a Socket.IO event.
func encodeEventPacket(name string, payload any) ([]byte, error) {
	args, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, err
	}
	return append([]byte(engineIOMessage+socketIOEvent), args...), nil
}

// client implements transport.TransportClient over a Socket.IO-framed
// WebSocket connection.
type client struct {
	id        string
	conn      *websocket.Conn
	transport *Transport
	gate      transport.AuthGate
	state     transport.StateBox

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

// IsPressured always reports false: buffering backpressure is handled by
// clientbuf.Buffer upstream of Send.
func (c *client) IsPressured() bool { return false }

func (c *client) Send(e transport.ChannelEvent) error {
	frame, err := encodeEventPacket(EventChannelEvent, e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, frame)
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
