package multiplexer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickline/tickline/multiplexer"
)

// fakeConn is a GatewayConn that answers "subscribe" with {subscribed:true}
// and every other method with {echo: method}, and lets the test push
// synthetic StreamEvents through Events().
type fakeConn struct {
	events chan multiplexer.GatewayEvent
	calls  chan string
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan multiplexer.GatewayEvent, 16),
		calls:  make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	f.calls <- method
	switch method {
	case multiplexer.MethodSubscribe:
		return json.Marshal(map[string]any{"subscribed": true})
	default:
		return json.Marshal(map[string]any{"echo": method})
	}
}

func (f *fakeConn) Events() <-chan multiplexer.GatewayEvent { return f.events }

func (f *fakeConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
		close(f.events)
	}
	return nil
}

func newTestMultiplexer(t *testing.T, tabID string, bus multiplexer.Bus, conn *fakeConn) *multiplexer.Multiplexer {
	t.Helper()
	m := multiplexer.New(multiplexer.Config{
		TabID:          tabID,
		Bus:            bus,
		Dial:           func(ctx context.Context) (multiplexer.GatewayConn, error) { return conn, nil },
		ElectionJitter: 5 * time.Millisecond,
		CollectTimeout: 20 * time.Millisecond,
		RequestTimeout: time.Second,
	})
	require.NoError(t, m.Start(context.Background()))
	return m
}

func waitForLeader(t *testing.T, m *multiplexer.Multiplexer) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if m.IsLeader() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for leadership")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSingleTabBecomesLeader(t *testing.T) {
	bus := multiplexer.NewInProcessBus()
	conn := newFakeConn()
	m := newTestMultiplexer(t, "tab-1", bus, conn)
	defer m.Stop()

	waitForLeader(t, m)
}

func TestFollowerCallIsForwardedToLeader(t *testing.T) {
	bus := multiplexer.NewInProcessBus()
	connA := newFakeConn()
	a := newTestMultiplexer(t, "tab-a", bus, connA)
	defer a.Stop()
	waitForLeader(t, a)

	// tab-b joins after leadership has already settled, so it missed tab-a's
	// transport_ready and bids once its timer fires; tab-a, as the live
	// leader, answers the bid with a fresh transport_ready and tab-b yields.
	connB := newFakeConn()
	b := newTestMultiplexer(t, "tab-b", bus, connB)
	defer b.Stop()

	time.Sleep(10 * time.Millisecond)
	require.False(t, b.IsLeader())

	result, err := b.Call(context.Background(), "s1", multiplexer.MethodAbort, map[string]string{"sessionId": "s1"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, multiplexer.MethodAbort, decoded["echo"])

	select {
	case method := <-connA.calls:
		require.Equal(t, multiplexer.MethodAbort, method)
	case <-time.After(time.Second):
		t.Fatal("leader never received the forwarded call")
	}
}

func TestSubscribeDeliversEventsToAllTabs(t *testing.T) {
	bus := multiplexer.NewInProcessBus()
	connA := newFakeConn()
	a := newTestMultiplexer(t, "tab-a", bus, connA)
	defer a.Stop()
	waitForLeader(t, a)

	connB := newFakeConn()
	b := newTestMultiplexer(t, "tab-b", bus, connB)
	defer b.Stop()

	received := make(chan multiplexer.GatewayEvent, 1)
	unsubscribe, err := b.Subscribe(context.Background(), "s1", func(e multiplexer.GatewayEvent) {
		received <- e
	})
	require.NoError(t, err)
	defer unsubscribe()

	connA.events <- multiplexer.GatewayEvent{
		SessionID: "s1",
		Event:     json.RawMessage(`{"sessionId":"s1","type":"content_delta"}`),
	}

	select {
	case e := <-received:
		require.Equal(t, "s1", e.SessionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed event")
	}
}
