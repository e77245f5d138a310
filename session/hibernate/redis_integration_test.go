package hibernate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
	"github.com/tickline/tickline/session"
)

var (
	testRedisContainer testcontainers.Container
	skipRedisTests     bool
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipRedisTests = true
		t.Skipf("docker not available, skipping Redis hibernation test: %v", containerErr)
	}

	host, err := testRedisContainer.Host(ctx)
	if err != nil {
		t.Skipf("failed to get container host: %v", err)
	}
	port, err := testRedisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Skipf("failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

// TestRedisStoreRoundTrip exercises §8 invariant 3 ("hibernation round-trip")
// against a real Redis instance via testcontainers, instead of a fake
// client, the way the teacher's store tests run against a containerized
// backend rather than a mock.
func TestRedisStoreRoundTrip(t *testing.T) {
	if skipRedisTests {
		t.Skip("docker not available, skipping Redis hibernation test")
	}
	client := setupRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore(RedisOptions{Client: client, KeyPrefix: "tickline-test:", TTL: time.Minute})
	require.NoError(t, err)

	snap := session.Snapshot{
		Version:   1,
		SessionID: "sess-redis-1",
		Tick:      5,
		Timeline: []content.TimelineEntry{
			{Kind: "assistant", Message: content.Message{Role: content.RoleAssistant, Content: []content.Block{content.TextBlock{Text: "hello"}}}},
		},
		ComponentState: session.ComponentState{"count": float64(7)},
		Usage:          adapter.Usage{InputTokens: 4, OutputTokens: 5, TotalTokens: 9},
		Timestamp:      time.Now().UTC().Truncate(time.Millisecond),
	}

	require.NoError(t, store.Save(ctx, snap))

	got, found, err := store.Load(ctx, "sess-redis-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, snap.SessionID, got.SessionID)
	require.Equal(t, snap.Tick, got.Tick)
	require.Equal(t, snap.Timeline, got.Timeline)
	require.Equal(t, snap.Usage, got.Usage)

	require.NoError(t, store.Delete(ctx, "sess-redis-1"))
	_, found, err = store.Load(ctx, "sess-redis-1")
	require.NoError(t, err)
	require.False(t, found)
}
