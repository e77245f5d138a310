package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/tickline/tickline/telemetry"
)

// DefaultPingInterval is used when Config.PingInterval is zero.
const DefaultPingInterval = 10 * time.Second

// DefaultMissedPingThreshold is used when Config.MissedPingThreshold is zero.
const DefaultMissedPingThreshold = 3

// AppHealth reports derived liveness for one registered App.
type AppHealth struct {
	Healthy            bool
	LastPong           time.Time
	Age                time.Duration
	StalenessThreshold time.Duration
}

// HealthTracker runs one distributed Pulse ticker per registered App so only
// one registry node checks a given App at a time. A check sends nothing to
// the App: it reads the last pong recorded through RecordPong, and an App
// whose last pong is older than the staleness threshold reports unhealthy
// and is logged as such.
type HealthTracker struct {
	appMap             *rmap.Map
	healthMap          *rmap.Map
	poolNode           *pool.Node
	pingInterval       time.Duration
	missedThreshold    int
	stalenessThreshold time.Duration
	telemetry          *telemetry.Recorder

	mu      sync.Mutex
	tickers map[string]*pool.Ticker
	cancels map[string]context.CancelFunc
}

type healthTrackerConfig struct {
	appMap              *rmap.Map
	healthMap           *rmap.Map
	poolNode            *pool.Node
	pingInterval        time.Duration
	missedPingThreshold int
	telemetry           *telemetry.Recorder
}

func newHealthTracker(cfg healthTrackerConfig) (*HealthTracker, error) {
	if cfg.appMap == nil || cfg.healthMap == nil || cfg.poolNode == nil {
		return nil, fmt.Errorf("registry: app map, health map, and pool node are required")
	}
	interval := cfg.pingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	threshold := cfg.missedPingThreshold
	if threshold <= 0 {
		threshold = DefaultMissedPingThreshold
	}
	return &HealthTracker{
		appMap: cfg.appMap, healthMap: cfg.healthMap, poolNode: cfg.poolNode,
		pingInterval: interval, missedThreshold: threshold,
		stalenessThreshold: time.Duration(threshold+1) * interval,
		telemetry:          cfg.telemetry,
		tickers:            make(map[string]*pool.Ticker),
		cancels:            make(map[string]context.CancelFunc),
	}, nil
}

func healthKey(appID string) string { return "app:" + appID }

// RecordPong records a liveness response for appID.
func (h *HealthTracker) RecordPong(ctx context.Context, appID string) error {
	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	if _, err := h.healthMap.Set(ctx, healthKey(appID), ts); err != nil {
		return fmt.Errorf("registry: record pong: %w", err)
	}
	return nil
}

// Health reports appID's current derived liveness.
func (h *HealthTracker) Health(appID string) (AppHealth, error) {
	val, ok := h.healthMap.Get(healthKey(appID))
	if !ok {
		return AppHealth{StalenessThreshold: h.stalenessThreshold}, nil
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return AppHealth{}, fmt.Errorf("registry: parse last pong for %q: %w", appID, err)
	}
	lastPong := time.Unix(0, nanos)
	age := time.Since(lastPong)
	return AppHealth{
		Healthy: age <= h.stalenessThreshold, LastPong: lastPong, Age: age,
		StalenessThreshold: h.stalenessThreshold,
	}, nil
}

// IsHealthy reports whether appID is currently healthy.
func (h *HealthTracker) IsHealthy(appID string) bool {
	hh, err := h.Health(appID)
	return err == nil && hh.Healthy
}

// StartPingLoop begins distributed ping tracking for appID. Safe to call
// more than once; a call for an appID that already has a ticker does nothing.
func (h *HealthTracker) StartPingLoop(ctx context.Context, appID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tickers[appID]; ok {
		return nil
	}
	ticker, err := h.poolNode.NewTicker(ctx, "ping:"+appID, h.pingInterval)
	if err != nil {
		return fmt.Errorf("registry: new ticker: %w", err)
	}
	tickCtx, cancel := context.WithCancel(context.Background())
	h.tickers[appID] = ticker
	h.cancels[appID] = cancel
	go h.runPingLoop(tickCtx, appID, ticker)
	return nil
}

// StopPingLoop stops ping tracking for appID.
func (h *HealthTracker) StopPingLoop(ctx context.Context, appID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[appID]; ok {
		cancel()
		delete(h.cancels, appID)
	}
	if ticker, ok := h.tickers[appID]; ok {
		ticker.Stop()
		delete(h.tickers, appID)
	}
	_, _ = h.healthMap.Delete(ctx, healthKey(appID))
}

func (h *HealthTracker) runPingLoop(ctx context.Context, appID string, ticker *pool.Ticker) {
	logger := h.telemetry.Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wasHealthy := h.IsHealthy(appID)
			if !wasHealthy {
				logger.Warn(ctx, "registry: app missed health threshold", "app_id", appID)
			}
		}
	}
}

// Close stops every ping loop.
func (h *HealthTracker) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for appID, cancel := range h.cancels {
		cancel()
		delete(h.cancels, appID)
	}
	for appID, ticker := range h.tickers {
		ticker.Stop()
		delete(h.tickers, appID)
	}
}
