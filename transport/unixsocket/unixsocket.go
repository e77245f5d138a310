// Package unixsocket implements the Unix domain socket transport variant:
// newline-delimited JSON frames, with inbound frames for one connection
// dispatched sequentially through a per-client queue so that the connect
// frame is always processed (and authenticated) before anything queued
// behind it.
package unixsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tickline/tickline/transport"
)

// Options configures the Unix domain socket Transport.
type Options struct {
	// SocketPath is the filesystem path to bind the listening socket to.
	// Removed and recreated on Start if it already exists.
	SocketPath string
}

// Transport implements transport.Transport over a Unix domain socket
// listener.
type Transport struct {
	opts     Options
	listener net.Listener

	mu      sync.Mutex
	clients map[string]*client

	onConn transport.ConnectionHandler
	onMsg  transport.MessageHandler
	onDisc transport.DisconnectHandler
	onErr  transport.ErrorHandler
}

// New constructs a Unix domain socket Transport.
func New(opts Options) *Transport {
	return &Transport{opts: opts, clients: make(map[string]*client)}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "unix" }

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
	_ = os.Remove(t.opts.SocketPath)
	ln, err := net.Listen("unix", t.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("unixsocket: listen: %w", err)
	}
	t.listener = ln

	go t.acceptLoop(ctx)
	return nil
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
		c.Close(0, "server shutting down")
	}
	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	_ = os.Remove(t.opts.SocketPath)
	return err
}

func (t *Transport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if t.onErr != nil {
				t.onErr(err)
			}
			return
		}
		go t.handleConn(ctx, conn)
	}
}

func (t *Transport) handleConn(ctx context.Context, conn net.Conn) {
	id := fmt.Sprintf("unix-%d", time.Now().UnixNano())
	c := newClient(id, conn)

	t.mu.Lock()
	t.clients[id] = c
	t.mu.Unlock()

	if t.onConn != nil {
		t.onConn(ctx, c)
	}
	c.state.Store(transport.ClientStateConnected)

	go c.dispatchLoop(t.onMsg)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg transport.ChannelEvent
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		c.enqueue(msg)
	}

	c.close()
	t.mu.Lock()
	delete(t.clients, id)
	t.mu.Unlock()
	if t.onDisc != nil {
		t.onDisc(c)
	}
}

// client implements transport.TransportClient over a Unix domain socket
// connection, serializing inbound frame dispatch through a buffered
// channel so later frames never overtake an in-flight connect/auth frame.
type client struct {
	id   string
	conn net.Conn
	gate transport.AuthGate

	state transport.StateBox

	mu      sync.Mutex
	writer  *bufio.Writer
	closed  bool
	inbound chan transport.ChannelEvent
	done    chan struct{}
}

func newClient(id string, conn net.Conn) *client {
	return &client{
		id:      id,
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		inbound: make(chan transport.ChannelEvent, 256),
		done:    make(chan struct{}),
	}
}

func (c *client) enqueue(msg transport.ChannelEvent) {
	select {
	case c.inbound <- msg:
	case <-c.done:
	}
}

// dispatchLoop processes inbound frames strictly in arrival order, closing
// the connection with AUTH_FAILED the first time a non-connect/ping frame
// arrives before authentication.
func (c *client) dispatchLoop(onMsg transport.MessageHandler) {
	for {
		select {
		case msg := <-c.inbound:
			if transport.IsPing(msg) {
				_ = c.Send(transport.Pong(msg.Metadata.Timestamp))
				continue
			}
			if msg.Type == transport.ConnectType {
				c.gate.Allow()
				if onMsg != nil {
					onMsg(c, msg)
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
			if onMsg != nil {
				onMsg(c, msg)
			}
		case <-c.done:
			return
		}
	}
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
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("unixsocket: client %s closed", c.id)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := c.writer.Write(append(payload, '\n')); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *client) Close(code int, reason string) {
	c.close()
	_ = c.conn.Close()
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state.Store(transport.ClientStateDisconnected)
	c.mu.Unlock()
	close(c.done)
}
