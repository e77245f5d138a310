package clientbuf

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickline/tickline/event"
)

type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	pressured   bool
	sent        []event.StreamEvent
	disconnects int
	lastCode    int
	lastReason  string
}

func newFakeClient() *fakeClient { return &fakeClient{connected: true} }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Send(e event.StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pressured {
		return errors.New("backpressure")
	}
	c.sent = append(c.sent, e)
	return nil
}

func (c *fakeClient) Disconnect(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
	c.lastCode = code
	c.lastReason = reason
}

func (c *fakeClient) setPressure(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressured = v
}

func (c *fakeClient) sentTypes() []event.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Type, len(c.sent))
	for i, e := range c.sent {
		out[i] = e.Type
	}
	return out
}

func TestBufferFastPathSendsDirectly(t *testing.T) {
	fc := newFakeClient()
	b := New(fc, 10, OverflowDropOldest)
	b.Push(event.StreamEvent{Type: event.TypeTickStart})
	require.Equal(t, []event.Type{event.TypeTickStart}, fc.sentTypes())
	require.Equal(t, 0, b.Pending())
}

func TestBufferQueuesUnderPressureThenDrains(t *testing.T) {
	fc := newFakeClient()
	fc.setPressure(true)
	b := New(fc, 10, OverflowDropOldest)

	b.Push(event.StreamEvent{Type: event.TypeTickStart})
	b.Push(event.StreamEvent{Type: event.TypeTickEnd})
	require.Equal(t, 2, b.Pending())
	require.Empty(t, fc.sentTypes())

	fc.setPressure(false)
	b.Push(event.StreamEvent{Type: event.TypeExecutionEnd})

	require.Equal(t, []event.Type{event.TypeTickStart, event.TypeTickEnd, event.TypeExecutionEnd}, fc.sentTypes())
	require.Equal(t, 0, b.Pending())
}

func TestBufferOverflowDropOldestEvictsHead(t *testing.T) {
	fc := newFakeClient()
	fc.setPressure(true)
	b := New(fc, 2, OverflowDropOldest)

	b.Push(event.StreamEvent{Type: event.TypeTickStart})
	b.Push(event.StreamEvent{Type: event.TypeTickEnd})
	b.Push(event.StreamEvent{Type: event.TypeExecutionEnd})

	require.Equal(t, 2, b.Pending())
}

func TestBufferOverflowDisconnectClosesClient(t *testing.T) {
	fc := newFakeClient()
	fc.setPressure(true)
	b := New(fc, 1, OverflowDisconnect)

	b.Push(event.StreamEvent{Type: event.TypeTickStart})
	b.Push(event.StreamEvent{Type: event.TypeTickEnd})

	require.Equal(t, 1, fc.disconnects)
	require.Equal(t, DisconnectCode, fc.lastCode)
	require.Equal(t, DisconnectReason, fc.lastReason)
	require.Equal(t, 0, b.Pending())
}

func TestBufferDisconnectedClientDropsPush(t *testing.T) {
	fc := newFakeClient()
	fc.connected = false
	b := New(fc, 10, OverflowDropOldest)
	b.Push(event.StreamEvent{Type: event.TypeTickStart})
	require.Equal(t, 0, b.Pending())
	require.Empty(t, fc.sentTypes())
}
