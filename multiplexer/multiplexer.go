package multiplexer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Multiplexer.
type Config struct {
	// TabID uniquely identifies this tab within the bus. Required.
	TabID string
	// Bus carries bridge messages to every other tab sharing this origin.
	// Required.
	Bus Bus
	// Dial opens the physical gateway connection. Only called once this
	// tab wins leadership. Required.
	Dial Dial
	// ElectionJitter bounds the random delay a tab waits before bidding
	// for leadership. Defaults to 50ms.
	ElectionJitter time.Duration
	// CollectTimeout bounds how long a new leader waits for
	// subscriptions:announce replies before re-subscribing. Defaults to
	// 200ms, within the spec's 100-300ms window.
	CollectTimeout time.Duration
	// RequestTimeout bounds how long a follower waits for a response to
	// a forwarded request. Defaults to 5s, matching the gateway's
	// built-in RPC timeout.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Multiplexer is one tab's view of the shared-connection bridge: it elects
// a leader among every tab on the bus, forwards this tab's requests to
// whichever tab holds the physical connection, and delivers session events
// back to locally registered handlers.
type Multiplexer struct {
	id     string
	bus    Bus
	dial   Dial
	jitter time.Duration
	collectTimeout time.Duration
	reqTimeout     time.Duration
	logger         *slog.Logger

	unsubscribeBus func()
	cancel         context.CancelFunc

	mu       sync.Mutex
	leader   bool
	leaderID string
	conn     GatewayConn
	wantSessions map[string]struct{}
	wantChannels map[string]struct{}
	collected    map[string]subscriptionsAnnouncePayload
	collecting   bool
	pending      map[string]chan responsePayload
	eventHandlers map[string][]func(GatewayEvent)

	monotonic uint64
	closed    bool
}

// New constructs a Multiplexer. Call Start to join the bus and begin
// participating in leader election.
func New(cfg Config) *Multiplexer {
	jitter := cfg.ElectionJitter
	if jitter <= 0 {
		jitter = 50 * time.Millisecond
	}
	collect := cfg.CollectTimeout
	if collect <= 0 {
		collect = 200 * time.Millisecond
	}
	reqTimeout := cfg.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		id:             cfg.TabID,
		bus:            cfg.Bus,
		dial:           cfg.Dial,
		jitter:         jitter,
		collectTimeout: collect,
		reqTimeout:     reqTimeout,
		logger:         logger,
		wantSessions:   make(map[string]struct{}),
		wantChannels:   make(map[string]struct{}),
		collected:      make(map[string]subscriptionsAnnouncePayload),
		pending:        make(map[string]chan responsePayload),
		eventHandlers:  make(map[string][]func(GatewayEvent)),
	}
}

// Start subscribes to the bus and begins the initial leader election race.
func (m *Multiplexer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.unsubscribeBus = m.bus.Subscribe(m.onBusMessage)
	go m.electLeader(runCtx)
	return nil
}

// Stop leaves the bus and closes the physical connection if this tab holds
// it.
func (m *Multiplexer) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if m.unsubscribeBus != nil {
		m.unsubscribeBus()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsLeader reports whether this tab currently owns the physical connection.
func (m *Multiplexer) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader
}

// electLeader runs the racing-timer bid described in spec.md §9: a random
// delay, then a bid for leadership unless another tab's transport_ready is
// seen first.
func (m *Multiplexer) electLeader(ctx context.Context) {
	delay := randDuration(m.jitter)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	m.mu.Lock()
	alreadyDecided := m.leader || m.leaderID != ""
	m.mu.Unlock()
	if alreadyDecided {
		return
	}
	m.becomeLeader(ctx)
}

// becomeLeader runs the failover sequence: broadcast collecting, gather
// subscriptions:announce from every other tab, dial the gateway, resubscribe
// every collected session, then broadcast transport_ready.
func (m *Multiplexer) becomeLeader(ctx context.Context) {
	m.mu.Lock()
	if m.leader || m.closed {
		m.mu.Unlock()
		return
	}
	m.collecting = true
	m.collected = make(map[string]subscriptionsAnnouncePayload)
	m.mu.Unlock()

	_ = m.bus.Publish(ctx, BridgeMessage{Type: msgLeaderCollecting, TabID: m.id})

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.collectTimeout):
	}

	m.mu.Lock()
	if !m.collecting || m.leaderID != "" {
		// A transport_ready from another tab arrived mid-collection; yield.
		m.collecting = false
		m.mu.Unlock()
		return
	}
	m.collecting = false
	sessions := map[string]struct{}{}
	for s := range m.wantSessions {
		sessions[s] = struct{}{}
	}
	for _, announce := range m.collected {
		for _, s := range announce.Sessions {
			sessions[s] = struct{}{}
		}
	}
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		m.logger.Error("multiplexer: failed to dial gateway", "error", err)
		// Let another tab's election attempt pick this up; re-arm our own
		// bid after a short delay rather than looping tightly.
		go m.electLeader(ctx)
		return
	}

	for sessionID := range sessions {
		params := encodePayload(map[string]string{"sessionId": sessionID})
		if _, err := conn.Call(ctx, MethodSubscribe, params); err != nil {
			m.logger.Error("multiplexer: resubscribe failed", "session", sessionID, "error", err)
		}
	}

	m.mu.Lock()
	m.leader = true
	m.leaderID = m.id
	m.conn = conn
	m.mu.Unlock()

	go m.pumpEvents(ctx, conn)

	_ = m.bus.Publish(ctx, BridgeMessage{Type: msgLeaderReady, TabID: m.id})
}

// pumpEvents relays every StreamEvent the physical connection delivers onto
// the bus as a global event broadcast, until the connection closes.
func (m *Multiplexer) pumpEvents(ctx context.Context, conn GatewayConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-conn.Events():
			if !ok {
				m.handleLeaderLoss()
				return
			}
			payload := encodePayload(eventPayload{SessionID: e.SessionID, Event: e.Event})
			_ = m.bus.Publish(ctx, BridgeMessage{Type: msgEvent, TabID: m.id, Payload: payload})
		}
	}
}

func (m *Multiplexer) handleLeaderLoss() {
	m.mu.Lock()
	wasLeader := m.leader
	m.leader = false
	m.leaderID = ""
	m.conn = nil
	closed := m.closed
	m.mu.Unlock()
	if wasLeader && !closed {
		m.logger.Warn("multiplexer: lost gateway connection, re-electing")
		go m.electLeader(context.Background())
	}
}

// onBusMessage dispatches one incoming bridge message.
func (m *Multiplexer) onBusMessage(msg BridgeMessage) {
	switch msg.Type {
	case msgLeaderReady:
		m.mu.Lock()
		if msg.TabID != m.id {
			m.leaderID = msg.TabID
			if m.leader {
				// Another tab's ready beat ours; yield even if we think
				// we're already leader (should not happen under the
				// single-writer invariant, but never leave two leaders
				// live).
				conn := m.conn
				m.leader = false
				m.conn = nil
				m.mu.Unlock()
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
		}
		m.mu.Unlock()

	case msgLeaderCollecting:
		if msg.TabID == m.id {
			return
		}
		m.mu.Lock()
		if m.leader {
			// We are the live leader; reassert rather than standing down,
			// so the bidder sees transport_ready and yields.
			m.mu.Unlock()
			_ = m.bus.Publish(context.Background(), BridgeMessage{Type: msgLeaderReady, TabID: m.id})
			return
		}
		m.leaderID = "" // a new election is in progress; stop treating any prior leader as live
		sessions := make([]string, 0, len(m.wantSessions))
		for s := range m.wantSessions {
			sessions = append(sessions, s)
		}
		channels := make([]string, 0, len(m.wantChannels))
		for c := range m.wantChannels {
			channels = append(channels, c)
		}
		m.mu.Unlock()
		payload := encodePayload(subscriptionsAnnouncePayload{Sessions: sessions, Channels: channels})
		_ = m.bus.Publish(context.Background(), BridgeMessage{Type: msgSubscriptionsAnnounce, TabID: m.id, Payload: payload})

	case msgSubscriptionsAnnounce:
		announce, err := decodePayload[subscriptionsAnnouncePayload](msg.Payload)
		if err != nil {
			return
		}
		m.mu.Lock()
		if m.collecting {
			m.collected[msg.TabID] = announce
		}
		m.mu.Unlock()

	case msgPingLeader:
		m.mu.Lock()
		isLeader := m.leader
		m.mu.Unlock()
		if isLeader {
			_ = m.bus.Publish(context.Background(), BridgeMessage{Type: msgPongLeader, TabID: m.id})
		}

	case msgRequest:
		m.handleRequest(msg)

	case msgResponse:
		resp, err := decodePayload[responsePayload](msg.Payload)
		if err != nil {
			return
		}
		m.mu.Lock()
		ch, ok := m.pending[resp.RequestID]
		m.mu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}

	case msgEvent:
		ev, err := decodePayload[eventPayload](msg.Payload)
		if err != nil {
			return
		}
		m.dispatchEvent(ev.SessionID, ev.Event)
	}
}

func (m *Multiplexer) dispatchEvent(sessionID string, raw json.RawMessage) {
	m.mu.Lock()
	handlers := append([]func(GatewayEvent){}, m.eventHandlers[sessionID]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(GatewayEvent{SessionID: sessionID, Event: raw})
	}
}

// handleRequest runs on the leader only: execute the forwarded request
// against the physical connection and broadcast the response.
func (m *Multiplexer) handleRequest(msg BridgeMessage) {
	m.mu.Lock()
	conn := m.conn
	isLeader := m.leader
	m.mu.Unlock()
	if !isLeader || conn == nil {
		return
	}
	req, err := decodePayload[requestPayload](msg.Payload)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.reqTimeout)
	defer cancel()
	result, callErr := conn.Call(ctx, req.Method, req.Params)

	resp := responsePayload{RequestID: req.RequestID, OK: callErr == nil, Result: result}
	if callErr != nil {
		if rerr, ok := callErr.(*ResponseError); ok {
			resp.Error = rerr
		} else {
			resp.Error = &ResponseError{Code: "INTERNAL", Message: callErr.Error()}
		}
	}
	_ = m.bus.Publish(context.Background(), BridgeMessage{Type: msgResponse, TabID: m.id, Payload: encodePayload(resp)})
}

// Call issues method against the gateway, either executing directly (if
// this tab is the leader) or forwarding via request/response over the bus.
func (m *Multiplexer) Call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	isLeader := m.leader
	conn := m.conn
	m.mu.Unlock()

	raw := encodePayload(params)
	if isLeader && conn != nil {
		return conn.Call(ctx, method, raw)
	}

	ctx, cancel := context.WithTimeout(ctx, m.reqTimeout)
	defer cancel()

	requestID := m.newRequestID()
	ch := make(chan responsePayload, 1)
	m.mu.Lock()
	m.pending[requestID] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
	}()

	req := requestPayload{RequestID: requestID, SessionID: sessionID, Method: method, Params: raw}
	if err := m.bus.Publish(ctx, BridgeMessage{Type: msgRequest, TabID: m.id, Payload: encodePayload(req)}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, fmt.Errorf("multiplexer: request %s failed", method)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe records sessionID as wanted by this tab, asks the leader to
// subscribe to it on the physical connection, and registers handler for
// every event the bus broadcasts for that session.
func (m *Multiplexer) Subscribe(ctx context.Context, sessionID string, handler func(GatewayEvent)) (func(), error) {
	m.mu.Lock()
	m.wantSessions[sessionID] = struct{}{}
	m.eventHandlers[sessionID] = append(m.eventHandlers[sessionID], handler)
	m.mu.Unlock()

	if _, err := m.Call(ctx, sessionID, MethodSubscribe, map[string]string{"sessionId": sessionID}); err != nil {
		return nil, err
	}

	return func() {
		m.mu.Lock()
		delete(m.wantSessions, sessionID)
		delete(m.eventHandlers, sessionID)
		m.mu.Unlock()
		_, _ = m.Call(context.Background(), sessionID, MethodUnsubscribe, map[string]string{"sessionId": sessionID})
	}, nil
}

func (m *Multiplexer) newRequestID() string {
	n := atomic.AddUint64(&m.monotonic, 1)
	return fmt.Sprintf("%s-%d", m.id, n)
}

func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return max / 2
	}
	n := binary.BigEndian.Uint64(buf[:])
	return time.Duration(n % uint64(max))
}
