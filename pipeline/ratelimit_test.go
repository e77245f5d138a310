package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterEnforcesPerDayBudget(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(RateLimiterOptions{
		PerDay: 2,
		Now:    func() time.Time { return fixed },
	})
	ctx := context.Background()
	require.NoError(t, l.Allow(ctx))
	require.NoError(t, l.Allow(ctx))
	err := l.Allow(ctx)
	require.Error(t, err)
	var dayErr ErrDayLimitExceeded
	require.ErrorAs(t, err, &dayErr)
	require.Equal(t, 2, dayErr.Limit)
}

func TestRateLimiterResetsOnNewDay(t *testing.T) {
	day := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	l := NewRateLimiter(RateLimiterOptions{
		PerDay: 1,
		Now:    func() time.Time { return day },
	})
	ctx := context.Background()
	require.NoError(t, l.Allow(ctx))
	require.Error(t, l.Allow(ctx))

	day = day.Add(2 * time.Minute) // now 2026-01-02
	require.NoError(t, l.Allow(ctx))
}

func TestRateLimiterNoLimitsAlwaysAllows(t *testing.T) {
	l := NewRateLimiter(RateLimiterOptions{})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow(ctx))
	}
}
