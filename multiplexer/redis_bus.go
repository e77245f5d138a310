package multiplexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus broadcasts bridge messages across processes sharing one Redis
// instance, using plain Redis Pub/Sub rather than goa.design/pulse's
// replicated maps: rmap models converging key/value state, while the
// bridge is pure fire-and-forget broadcast, which go-redis's native
// Publish/Subscribe already expresses directly.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	subs   map[uint64]func(BridgeMessage)
	nextID uint64
	cancel context.CancelFunc
}

// NewRedisBus subscribes to channel on client and returns a running RedisBus.
// The caller must call Close to stop the read loop and release the
// underlying PubSub connection.
func NewRedisBus(ctx context.Context, client *redis.Client, channel string, logger *slog.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b := &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger,
		pubsub:  ps,
		subs:    make(map[uint64]func(BridgeMessage)),
		cancel:  cancel,
	}
	go b.readLoop(runCtx)
	return b, nil
}

func (b *RedisBus) readLoop(ctx context.Context) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg BridgeMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Error("multiplexer: malformed bridge message", "error", err)
				continue
			}
			b.mu.Lock()
			handlers := make([]func(BridgeMessage), 0, len(b.subs))
			for _, h := range b.subs {
				handlers = append(handlers, h)
			}
			b.mu.Unlock()
			for _, h := range handlers {
				h(msg)
			}
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg BridgeMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBus) Subscribe(handler func(BridgeMessage)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *RedisBus) Close() error {
	b.cancel()
	return b.pubsub.Close()
}
