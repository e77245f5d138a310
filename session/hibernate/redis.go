// Package hibernate provides SnapshotStore backends for persisting
// hibernated session state outside process memory.
package hibernate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickline/tickline/session"
)

const defaultKeyPrefix = "tickline:session:"

// RedisOptions configures a Redis-backed SnapshotStore.
type RedisOptions struct {
	// Client is the Redis connection used to store snapshots. Required.
	Client *redis.Client
	// KeyPrefix namespaces snapshot keys. Defaults to "tickline:session:".
	KeyPrefix string
	// TTL expires snapshots after the given duration. Zero means no
	// expiration (snapshots live until Delete is called).
	TTL time.Duration
}

// RedisStore implements session.SnapshotStore on top of a Redis string
// value per session, holding the JSON-encoded Snapshot.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. opts.Client is required.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: opts.Client, prefix: prefix, ttl: opts.TTL}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Save implements session.SnapshotStore.
func (s *RedisStore) Save(ctx context.Context, snap session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("hibernate: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.SessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("hibernate: redis set: %w", err)
	}
	return nil
}

// Load implements session.SnapshotStore.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (session.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("hibernate: redis get: %w", err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return session.Snapshot{}, false, fmt.Errorf("hibernate: unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Delete implements session.SnapshotStore.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("hibernate: redis del: %w", err)
	}
	return nil
}
