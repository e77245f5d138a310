package transport

import "sync/atomic"

// ConnectType is the reserved first-frame type clients use to authenticate
// on bidirectional transports (WebSocket, Unix socket, Socket.IO).
const ConnectType = "connect"

// AuthFailedCode is the close code used when a non-connect/ping frame
// arrives before authentication completes.
const AuthFailedCode = 4001

// AuthGate tracks whether a bidirectional client has completed its
// connect-frame handshake. It is safe for concurrent use.
type AuthGate struct {
	authenticated atomic.Bool
}

// Authenticated reports whether Allow() has been called.
func (g *AuthGate) Authenticated() bool { return g.authenticated.Load() }

// Allow marks the gate authenticated after a successful connect frame.
func (g *AuthGate) Allow() { g.authenticated.Store(true) }

// Admits reports whether msg may be dispatched: connect and ping frames
// always pass; everything else requires prior authentication.
func (g *AuthGate) Admits(msg ChannelEvent) bool {
	if msg.Type == ConnectType || msg.Type == PingType {
		return true
	}
	return g.Authenticated()
}
