package multiplexer

import (
	"context"
	"encoding/json"
)

// GatewayConn is the leader's physical connection to the gateway: whatever
// dials the chosen wire transport, issues RPC calls, and delivers the
// resulting inbound StreamEvents. A concrete implementation wraps a
// client-side WebSocket, SSE, or Socket.IO dialer; this package only
// depends on the shape below so it stays transport-agnostic, mirroring how
// the server-side gateway package stays agnostic of which transport.Transport
// a client arrived over.
type GatewayConn interface {
	// Call performs one RPC and returns its result payload, or an error
	// decoded from the gateway's {code, message, details?} envelope.
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	// Events delivers every inbound StreamEvent the connection receives,
	// tagged with its wire session key, for as long as the connection is
	// open. Closed when the connection closes.
	Events() <-chan GatewayEvent
	// Close tears down the connection.
	Close() error
}

// GatewayEvent is one inbound StreamEvent, still wire-encoded, paired with
// the session key it belongs to.
type GatewayEvent struct {
	SessionID string
	Event     json.RawMessage
}

// Dial opens a GatewayConn. Supplied by the embedding application; the
// multiplexer only calls it once it has won leadership.
type Dial func(ctx context.Context) (GatewayConn, error)
