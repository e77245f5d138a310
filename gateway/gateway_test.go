package gateway_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/app"
	"github.com/tickline/tickline/content"
	"github.com/tickline/tickline/gateway"
	"github.com/tickline/tickline/session"
	"github.com/tickline/tickline/transport"
	"github.com/tickline/tickline/transport/inprocess"
)

// echoAdapter is a minimal ModelAdapter that immediately ends generation
// with a single text reply, enough to drive one full engine tick.
type echoAdapter struct{}

func (echoAdapter) PrepareInput(ctx context.Context, in adapter.ModelInput) (adapter.ProviderRequest, error) {
	return in, nil
}

func (echoAdapter) Execute(ctx context.Context, req adapter.ProviderRequest) (adapter.ProviderResponse, error) {
	return nil, adapter.ErrReconstructUnsupported
}

func (echoAdapter) ExecuteStream(ctx context.Context, req adapter.ProviderRequest) (adapter.ChunkStream, error) {
	return &echoStream{deltas: []adapter.Delta{
		{Type: adapter.DeltaText, Text: "hello"},
		{Type: adapter.DeltaMessageEnd, StopReason: adapter.StopStop, Usage: &adapter.Usage{OutputTokens: 1}},
	}}, nil
}

func (echoAdapter) MapChunk(chunk adapter.ProviderChunk) (adapter.Delta, bool) {
	d, ok := chunk.(adapter.Delta)
	return d, ok
}

func (echoAdapter) ProcessOutput(resp adapter.ProviderResponse) (adapter.ModelOutput, error) {
	return adapter.ModelOutput{}, adapter.ErrReconstructUnsupported
}

func (echoAdapter) ReconstructRaw(acc adapter.Result) (adapter.ProviderResponse, error) {
	return nil, adapter.ErrReconstructUnsupported
}

func (echoAdapter) Metadata() adapter.Metadata {
	return adapter.Metadata{ID: "echo", Type: adapter.AdapterTypeLanguage}
}

type echoStream struct {
	deltas []adapter.Delta
	idx    int
}

func (s *echoStream) Recv(ctx context.Context) (adapter.ProviderChunk, error) {
	if s.idx >= len(s.deltas) {
		return nil, errEOF
	}
	d := s.deltas[s.idx]
	s.idx++
	return d, nil
}

func (s *echoStream) Close() error { return nil }

type eofError struct{}

func (eofError) Error() string { return "EOF" }

var errEOF = eofError{}

func passthroughRenderer() session.Renderer {
	return session.RendererFunc(func(state session.ComponentState, lastTick int) (content.RenderedInput, session.ComponentState, error) {
		return content.RenderedInput{}, state, nil
	})
}

func newTestGateway(t *testing.T) (*gateway.Gateway, *inprocess.Transport) {
	t.Helper()

	a, err := app.New(app.Config{
		ID:       "default",
		Renderer: passthroughRenderer(),
		Adapter:  echoAdapter{},
	})
	require.NoError(t, err)

	registry := gateway.NewAgentRegistry()
	registry.Register("default", "Default App", a, true)

	gw := gateway.New(gateway.Config{Registry: registry})
	tr := inprocess.New()
	require.NoError(t, gw.Attach(context.Background(), tr))
	return gw, tr
}

func connectClient(t *testing.T, tr *inprocess.Transport, clientID string) (*inprocess.ClientHandle, chan transport.ChannelEvent) {
	t.Helper()
	inbox := make(chan transport.ChannelEvent, 64)
	handle, err := tr.Connect(context.Background(), clientID, func(e transport.ChannelEvent) {
		inbox <- e
	})
	require.NoError(t, err)
	handle.Receive(transport.ChannelEvent{Type: transport.ConnectType})
	drainResponse(t, inbox)
	return handle, inbox
}

func drainResponse(t *testing.T, inbox chan transport.ChannelEvent) transport.ChannelEvent {
	t.Helper()
	select {
	case e := <-inbox:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for gateway response")
		return transport.ChannelEvent{}
	}
}

func TestConnectFrameAuthenticatesAnonymousClient(t *testing.T) {
	_, tr := newTestGateway(t)
	_, inbox := connectClient(t, tr, "client-1")
	require.Empty(t, inbox)
}

func TestSendStartsSessionAndReturnsMessageID(t *testing.T) {
	_, tr := newTestGateway(t)
	handle, inbox := connectClient(t, tr, "client-2")

	handle.Receive(transport.ChannelEvent{
		Type:    "send",
		Payload: map[string]any{"sessionId": "s1", "message": "hi there"},
	})

	resp := decodeRPCResponse(t, drainResponse(t, inbox))
	require.True(t, resp.OK)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, result["messageId"])
}

func TestSendUnknownMethodReturnsUnknownMethodError(t *testing.T) {
	_, tr := newTestGateway(t)
	handle, inbox := connectClient(t, tr, "client-3")

	handle.Receive(transport.ChannelEvent{Type: "bogus", Payload: map[string]any{}})

	resp := decodeRPCResponse(t, drainResponse(t, inbox))
	require.False(t, resp.OK)
	require.Equal(t, gateway.CodeUnknownMethod, resp.Error["code"])
}

func TestUnauthenticatedClientIsRejected(t *testing.T) {
	_, tr := newTestGateway(t)
	inbox := make(chan transport.ChannelEvent, 8)
	handle, err := tr.Connect(context.Background(), "client-4", func(e transport.ChannelEvent) { inbox <- e })
	require.NoError(t, err)

	handle.Receive(transport.ChannelEvent{Type: "status", Payload: map[string]any{}})

	resp := decodeRPCResponse(t, drainResponse(t, inbox))
	require.False(t, resp.OK)
	require.Equal(t, gateway.CodeUnauthorized, resp.Error["code"])
}

func TestSubscribeThenSendDeliversSessionEvents(t *testing.T) {
	_, tr := newTestGateway(t)
	handle, inbox := connectClient(t, tr, "client-5")

	handle.Receive(transport.ChannelEvent{Type: "subscribe", Payload: map[string]any{"sessionId": "s2"}})
	drainResponse(t, inbox)

	handle.Receive(transport.ChannelEvent{
		Type:    "send",
		Payload: map[string]any{"sessionId": "s2", "message": "hi"},
	})
	drainResponse(t, inbox) // response to send

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-inbox:
			if e.Type == "event" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for a subscribed session event")
		}
	}
}

type rpcResponseDTO struct {
	OK     bool           `json:"ok"`
	Result any            `json:"result"`
	Error  map[string]any `json:"error"`
}

func decodeRPCResponse(t *testing.T, e transport.ChannelEvent) rpcResponseDTO {
	t.Helper()
	raw, err := json.Marshal(e.Payload)
	require.NoError(t, err)
	var resp rpcResponseDTO
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}
