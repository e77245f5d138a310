// Package gateway implements the transport-agnostic RPC and event fan-out
// front-end described in spec.md §4.10: authentication, built-in and custom
// method dispatch, and routing session StreamEvents out to every
// subscribed client through its own bounded ClientEventBuffer.
package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tickline/tickline/clientbuf"
	"github.com/tickline/tickline/telemetry"
	"github.com/tickline/tickline/transport"
)

// Config configures a Gateway.
type Config struct {
	// Registry maps appId to App. Required; register at least the default
	// app before Start.
	Registry *AgentRegistry
	// AuthMode selects none/token/custom. Defaults to AuthNone.
	AuthMode AuthMode
	// Authenticator is required when AuthMode is AuthToken or AuthCustom.
	Authenticator Authenticator
	// ClientBufferMax bounds each client's pending event queue. Defaults to
	// 256.
	ClientBufferMax int
	// ClientOverflowPolicy selects disconnect or drop-oldest on overflow.
	// Defaults to clientbuf.OverflowDropOldest.
	ClientOverflowPolicy clientbuf.OverflowPolicy
	// Custom holds the namespace:name custom method registry. Defaults to
	// an empty registry.
	Custom *CustomRegistry
	// Telemetry receives dispatch logs, RPC metrics, and transport error
	// logs. Defaults to telemetry.Noop().
	Telemetry *telemetry.Recorder
}

// Gateway dispatches RPC calls arriving over one or more transports and
// fans session events out to subscribed clients.
type Gateway struct {
	registry    *AgentRegistry
	authMode    AuthMode
	authn       Authenticator
	bufMax      int
	bufPolicy   clientbuf.OverflowPolicy
	custom      *CustomRegistry
	telemetry   *telemetry.Recorder
	builtins    map[string]func(ctx context.Context, c *Client, payload any) (any, error)

	transports []transport.Transport

	mu      sync.Mutex
	clients map[string]*Client
}

// New constructs a Gateway. Registry is required.
func New(cfg Config) *Gateway {
	authn := cfg.Authenticator
	if authn == nil {
		authn = noneAuthenticator{}
	}
	bufMax := cfg.ClientBufferMax
	if bufMax == 0 {
		bufMax = 256
	}
	policy := cfg.ClientOverflowPolicy
	if policy == "" {
		policy = clientbuf.OverflowDropOldest
	}
	custom := cfg.Custom
	if custom == nil {
		custom = NewCustomRegistry()
	}
	rec := cfg.Telemetry
	if rec == nil {
		rec = telemetry.Noop()
	}

	g := &Gateway{
		registry:  cfg.Registry,
		authMode:  cfg.AuthMode,
		authn:     authn,
		bufMax:    bufMax,
		bufPolicy: policy,
		custom:    custom,
		telemetry: rec,
		clients:   make(map[string]*Client),
	}
	g.builtins = map[string]func(ctx context.Context, c *Client, payload any) (any, error){
		methodSend:        g.handleSend,
		methodAbort:       g.handleAbort,
		methodStatus:      g.handleStatus,
		methodHistory:     g.handleHistory,
		methodReset:       g.handleReset,
		methodClose:       g.handleClose,
		methodApps:        g.handleApps,
		methodSessions:    g.handleSessions,
		methodSubscribe:   g.handleSubscribe,
		methodUnsubscribe: g.handleUnsubscribe,
	}
	return g
}

// RegisterCustomMethod adds m to the gateway's custom method registry.
func (g *Gateway) RegisterCustomMethod(m CustomMethod) error {
	return g.custom.Register(m)
}

// Attach wires t's connection lifecycle to this gateway and starts it.
func (g *Gateway) Attach(ctx context.Context, t transport.Transport) error {
	t.OnConnection(g.onConnection)
	t.OnMessage(g.onMessage)
	t.OnDisconnect(g.onDisconnect)
	t.OnError(func(err error) {
		g.telemetry.Logger().Error(context.Background(), "transport error", "transport", t.Type(), "error", err)
	})

	g.mu.Lock()
	g.transports = append(g.transports, t)
	g.mu.Unlock()

	return t.Start(ctx)
}

// Stop stops every attached transport.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	transports := append([]transport.Transport(nil), g.transports...)
	g.mu.Unlock()

	var firstErr error
	for _, t := range transports {
		if err := t.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Gateway) clientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Gateway) onConnection(ctx context.Context, tc transport.TransportClient) {
	c := newClient(tc, g.bufMax, g.bufPolicy)
	// Authentication always happens on the connect frame, even in AuthNone
	// mode, so every client goes through the same handshake regardless of
	// auth policy.
	g.mu.Lock()
	g.clients[c.ID()] = c
	g.mu.Unlock()
}

func (g *Gateway) onDisconnect(tc transport.TransportClient) {
	g.mu.Lock()
	c, ok := g.clients[tc.ID()]
	delete(g.clients, tc.ID())
	g.mu.Unlock()
	if ok {
		c.removeAllSubscriptions()
	}
}

func (g *Gateway) onMessage(tc transport.TransportClient, msg transport.ChannelEvent) {
	g.mu.Lock()
	c, ok := g.clients[tc.ID()]
	g.mu.Unlock()
	if !ok {
		// Connection raced disconnect; nothing to respond to.
		return
	}

	if msg.Type == transport.ConnectType {
		g.handleConnectFrame(c, msg)
		return
	}

	if !c.Authenticated() {
		c.sendResponse(errResponse(errUnauthorized("authenticate before calling any method")))
		return
	}

	ctx := context.Background()
	result, err := g.dispatch(ctx, c, msg.Type, msg.Payload)
	if err != nil {
		c.sendResponse(errResponse(err))
		return
	}
	if result != nil {
		c.sendResponse(okResponse(result))
	}
}

func (g *Gateway) handleConnectFrame(c *Client, msg transport.ChannelEvent) {
	var params struct {
		ClientID string `json:"clientId,omitempty"`
		Token    string `json:"token,omitempty"`
	}
	_ = decodeParams(msg.Payload, &params)

	if g.authMode == AuthToken || g.authMode == AuthCustom {
		result, err := g.authn.Authenticate(params.Token)
		if err != nil {
			c.sendResponse(errResponse(errAuthFailed(err.Error())))
			c.transport.Close(transport.AuthFailedCode, "AUTH_FAILED")
			return
		}
		c.markAuthenticated(result)
	} else {
		c.markAuthenticated(AuthResult{User: "anonymous"})
	}

	if params.ClientID != "" {
		g.mu.Lock()
		delete(g.clients, c.ID())
		c.setID(params.ClientID)
		g.clients[params.ClientID] = c
		g.mu.Unlock()
	}

	c.sendResponse(okResponse(map[string]any{"connected": true}))
}

// dispatch routes method to a built-in handler or the custom method
// registry ("namespace:name").
func (g *Gateway) dispatch(ctx context.Context, c *Client, method string, payload any) (result any, err error) {
	start := time.Now()
	defer func() { g.telemetry.RPCHandled(ctx, method, time.Since(start), err) }()

	if handler, ok := g.builtins[method]; ok {
		result, err = handler(ctx, c, payload)
		return result, err
	}
	if strings.Contains(method, ":") {
		if m, ok := g.custom.Lookup(method); ok {
			raw, rerr := marshalPayload(payload)
			if rerr != nil {
				err = errInvalidMessage(rerr.Error())
				return nil, err
			}
			result, err = g.custom.Invoke(ctx, c, m, raw)
			return result, err
		}
	}
	err = errUnknownMethod(method)
	return nil, err
}
