// Package sse implements the HTTP + Server-Sent-Events transport variant:
// GET /events opens a one-way event stream, POST /events accepts a single
// ChannelEvent as a JSON body.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tickline/tickline/transport"
)

// Options configures the SSE Transport.
type Options struct {
	// Addr is the address to listen on, e.g. ":8080".
	Addr string
	// AllowedOrigins configures CORS for the /events endpoints. Defaults to
	// "*" when empty.
	AllowedOrigins []string
}

// Transport implements transport.Transport over HTTP long-lived GET
// responses (SSE) with a companion POST endpoint for client→server frames.
type Transport struct {
	opts Options

	server *http.Server

	mu       sync.Mutex
	clients  map[string]*client
	onConn   transport.ConnectionHandler
	onMsg    transport.MessageHandler
	onDisc   transport.DisconnectHandler
	onErr    transport.ErrorHandler
}

// New constructs an SSE Transport.
func New(opts Options) *Transport {
	return &Transport{opts: opts, clients: make(map[string]*client)}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "sse" }

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
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	origins := t.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/events", t.handleStream)
	r.Post("/events", t.handlePost)

	t.server = &http.Server{Addr: t.opts.Addr, Handler: r}

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
		c.Close(0, "server shutting down")
	}
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	userID := r.URL.Query().Get("userId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	c := &client{
		id:        id,
		sessionID: sessionID,
		userID:    userID,
		w:         w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}
	c.state.Store(transport.ClientStateConnected)

	t.mu.Lock()
	t.clients[id] = c
	t.mu.Unlock()

	if t.onConn != nil {
		t.onConn(r.Context(), c)
	}

	select {
	case <-r.Context().Done():
	case <-c.done:
	}

	t.mu.Lock()
	delete(t.clients, id)
	t.mu.Unlock()
	if t.onDisc != nil {
		t.onDisc(c)
	}
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	var msg transport.ChannelEvent
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	msg.Metadata.SessionID = sessionID

	t.mu.Lock()
	c, ok := t.clients[sessionID]
	t.mu.Unlock()
	if !ok {
		c = &client{id: sessionID, sessionID: sessionID, done: make(chan struct{})}
	}

	if t.onMsg != nil {
		t.onMsg(c, msg)
	}
	w.WriteHeader(http.StatusAccepted)
}

// client implements transport.TransportClient for one SSE response stream.
type client struct {
	id        string
	sessionID string
	userID    string

	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	state   transport.StateBox
	done    chan struct{}
	closed  bool
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

// IsPressured is always false: SSE has no client-visible write buffer
// signal through net/http, so pressure is handled entirely by
// clientbuf.Buffer upstream.
func (c *client) IsPressured() bool { return false }

func (c *client) Send(e transport.ChannelEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.w == nil {
		return fmt.Errorf("sse: client %s closed", c.id)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", e.Type, payload); err != nil {
		return err
	}
	c.flusher.Flush()
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
	close(c.done)
}
