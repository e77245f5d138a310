// Package registry implements the standalone, multi-node agent registry
// service: the cross-process counterpart to the Gateway's in-process
// AgentRegistry (gateway.AgentRegistry maps appId to a live *app.App within
// one process; this package lets many gateway processes register and
// discover each other's Apps over gRPC).
//
// Multiple registry nodes sharing a Name and Redis connection form a
// cluster: App registrations and health state are held in Pulse replicated
// maps and visible to every node, and a Pulse pool distributed ticker
// ensures only one node checks a given App's liveness at a time.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/tickline/tickline/telemetry"
)

// Descriptor is one registered App instance: an agent definition served by
// some gateway process, reachable at Address for inter-gateway RPC forwarding.
type Descriptor struct {
	AppID       string
	Name        string
	Address     string
	Capabilities []string
	RegisteredAt time.Time
}

// Registry is the main entry point for the agent registry: it owns the
// Pulse pool node and replicated maps backing cross-node App discovery and
// health tracking.
type Registry struct {
	name        string
	redis       *redis.Client
	appMap      *rmap.Map
	healthMap   *rmap.Map
	poolNode    *pool.Node
	health      *HealthTracker
	telemetry   *telemetry.Recorder
}

// Config configures a Registry.
type Config struct {
	// Redis backs the Pulse replicated maps and pool node. Required.
	Redis *redis.Client
	// Name derives the Pulse resource names ("<name>:apps", "<name>:health",
	// pool "<name>"). Nodes sharing Name and Redis form one cluster.
	// Defaults to "tickline-registry".
	Name string
	// PingInterval is the interval between App liveness pings. Defaults to
	// 10 seconds.
	PingInterval time.Duration
	// MissedPingThreshold is the number of consecutive missed pings before
	// an App is marked unhealthy. Defaults to 3.
	MissedPingThreshold int
	// Telemetry receives registration and health-transition logs. Defaults
	// to telemetry.Noop().
	Telemetry *telemetry.Recorder
}

// New wires a Registry: it joins the Pulse replicated maps and pool node,
// then starts the health tracker. Close releases all of it.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("registry: redis client is required")
	}
	name := cfg.Name
	if name == "" {
		name = "tickline-registry"
	}
	rec := cfg.Telemetry
	if rec == nil {
		rec = telemetry.Noop()
	}

	appMap, err := rmap.Join(ctx, name+":apps", cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("registry: join app map: %w", err)
	}
	healthMap, err := rmap.Join(ctx, name+":health", cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("registry: join health map: %w", err)
	}
	poolNode, err := pool.AddNode(ctx, name, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("registry: add pool node: %w", err)
	}

	health, err := newHealthTracker(healthTrackerConfig{
		appMap:              appMap,
		healthMap:           healthMap,
		poolNode:            poolNode,
		pingInterval:        cfg.PingInterval,
		missedPingThreshold: cfg.MissedPingThreshold,
		telemetry:           rec,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: health tracker: %w", err)
	}

	r := &Registry{
		name: name, redis: cfg.Redis, appMap: appMap, healthMap: healthMap,
		poolNode: poolNode, health: health, telemetry: rec,
	}
	for appID := range appMap.Map() {
		_ = health.StartPingLoop(ctx, appID)
	}
	return r, nil
}

// Register adds or refreshes d in the cluster-wide app map and starts
// health tracking for it.
func (r *Registry) Register(ctx context.Context, d Descriptor) error {
	if d.AppID == "" {
		return fmt.Errorf("registry: app id is required")
	}
	if d.Address == "" {
		return fmt.Errorf("registry: address is required")
	}
	d.RegisteredAt = time.Now()
	raw, err := encodeDescriptor(d)
	if err != nil {
		return fmt.Errorf("registry: encode descriptor: %w", err)
	}
	if _, err := r.appMap.Set(ctx, d.AppID, raw); err != nil {
		return fmt.Errorf("registry: set app: %w", err)
	}
	if err := r.health.StartPingLoop(ctx, d.AppID); err != nil {
		return fmt.Errorf("registry: start ping loop: %w", err)
	}
	r.telemetry.SessionLifecycle(ctx, d.AppID, "", "registered")
	return nil
}

// Unregister removes an App from the cluster-wide map and stops tracking it.
func (r *Registry) Unregister(ctx context.Context, appID string) error {
	if _, err := r.appMap.Delete(ctx, appID); err != nil {
		return fmt.Errorf("registry: delete app: %w", err)
	}
	r.health.StopPingLoop(ctx, appID)
	r.telemetry.SessionLifecycle(ctx, appID, "", "unregistered")
	return nil
}

// Lookup returns the descriptor for appID and whether it is currently
// reachable (health.IsHealthy).
func (r *Registry) Lookup(appID string) (Descriptor, bool, error) {
	raw, ok := r.appMap.Get(appID)
	if !ok {
		return Descriptor{}, false, nil
	}
	d, err := decodeDescriptor(raw)
	if err != nil {
		return Descriptor{}, false, fmt.Errorf("registry: decode descriptor: %w", err)
	}
	return d, r.health.IsHealthy(appID), nil
}

// List returns every registered App's descriptor.
func (r *Registry) List() ([]Descriptor, error) {
	raws := r.appMap.Map()
	out := make([]Descriptor, 0, len(raws))
	for _, raw := range raws {
		d, err := decodeDescriptor(raw)
		if err != nil {
			return nil, fmt.Errorf("registry: decode descriptor: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// RecordHeartbeat records a liveness pong for appID. The registry sends no
// pings; an App stays healthy only while its owner keeps calling this.
func (r *Registry) RecordHeartbeat(ctx context.Context, appID string) error {
	return r.health.RecordPong(ctx, appID)
}

// Close releases the Pulse pool node and replicated maps.
func (r *Registry) Close() error {
	r.health.Close()
	r.healthMap.Close()
	r.appMap.Close()
	return r.poolNode.Close(context.Background())
}
