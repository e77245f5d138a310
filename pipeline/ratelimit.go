package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"
)

// RateLimiter enforces both a per-minute message budget and a hard per-day
// cap for content delivered to a single client connection. The per-minute
// budget is a token bucket holding PerMinute tokens and refilling at
// PerMinute per minute; it is not a sliding window, so after an idle minute
// up to about twice PerMinute deliveries can pass within one rolling minute.
// The per-day cap is a calendar-day (UTC) counter.
type RateLimiter struct {
	mu sync.Mutex

	perMinute *rate.Limiter

	dayLimit int
	dayCount int
	dayKey   string // the day this count applies to, as YYYY-MM-DD

	now func() time.Time

	cluster    *rmap.Map
	clusterKey string
}

// RateLimiterOptions configures a RateLimiter.
type RateLimiterOptions struct {
	// PerMinute sizes the per-minute token bucket: up to PerMinute
	// deliveries at once, refilled at PerMinute per minute. Zero disables
	// the per-minute limit.
	PerMinute int
	// PerDay bounds the number of deliveries allowed in one calendar day.
	// Zero disables the per-day limit.
	PerDay int
	// Cluster, when set, shares the per-day counter across processes via a
	// Pulse replicated map keyed by ClusterKey. Nil means process-local.
	Cluster *rmap.Map
	// ClusterKey names this limiter's entry in Cluster. Required when
	// Cluster is set.
	ClusterKey string
	// Now overrides the clock; defaults to time.Now. Used in tests.
	Now func() time.Time
}

// NewRateLimiter constructs a RateLimiter from opts.
func NewRateLimiter(opts RateLimiterOptions) *RateLimiter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var lim *rate.Limiter
	if opts.PerMinute > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(opts.PerMinute)/60.0), opts.PerMinute)
	}
	return &RateLimiter{
		perMinute:  lim,
		dayLimit:   opts.PerDay,
		now:        now,
		cluster:    opts.Cluster,
		clusterKey: opts.ClusterKey,
	}
}

// ErrDayLimitExceeded is returned by Allow when the per-day budget is spent.
type ErrDayLimitExceeded struct{ Limit int }

func (e ErrDayLimitExceeded) Error() string {
	return "pipeline: per-day delivery limit exceeded (" + strconv.Itoa(e.Limit) + ")"
}

// Allow blocks until the per-minute budget admits one delivery (if
// configured), then checks and increments the per-day counter. It returns
// ErrDayLimitExceeded without blocking further if the day's budget is spent.
func (l *RateLimiter) Allow(ctx context.Context) error {
	if l.perMinute != nil {
		if err := l.perMinute.Wait(ctx); err != nil {
			return err
		}
	}
	if l.dayLimit <= 0 {
		return nil
	}
	return l.consumeDayBudget(ctx)
}

func (l *RateLimiter) consumeDayBudget(ctx context.Context) error {
	today := l.now().UTC().Format("2006-01-02")

	if l.cluster != nil && l.clusterKey != "" {
		return l.consumeClusterDayBudget(ctx, today)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dayKey != today {
		l.dayKey = today
		l.dayCount = 0
	}
	if l.dayCount >= l.dayLimit {
		return ErrDayLimitExceeded{Limit: l.dayLimit}
	}
	l.dayCount++
	return nil
}

// consumeClusterDayBudget coordinates the per-day counter across processes
// using a Pulse replicated map entry of the form "<day>:<count>", retrying a
// bounded number of times on concurrent-writer conflicts.
func (l *RateLimiter) consumeClusterDayBudget(ctx context.Context, today string) error {
	const maxAttempts = 5
	key := l.clusterKey

	for i := 0; i < maxAttempts; i++ {
		cur, ok := l.cluster.Get(key)
		if !ok {
			next := today + ":1"
			if _, err := l.cluster.SetIfNotExists(ctx, key, next); err != nil {
				return err
			}
			return nil
		}
		day, count := splitDayCounter(cur)
		if day != today {
			count = 0
		}
		if count >= l.dayLimit {
			return ErrDayLimitExceeded{Limit: l.dayLimit}
		}
		next := today + ":" + strconv.Itoa(count+1)
		prev, err := l.cluster.TestAndSet(ctx, key, cur, next)
		if err != nil {
			return err
		}
		if prev == cur {
			return nil
		}
		// Lost the race to another node; retry with the fresh value.
	}
	return nil
}

func splitDayCounter(v string) (day string, count int) {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] == ':' {
			day = v[:i]
			count, _ = strconv.Atoi(v[i+1:])
			return day, count
		}
	}
	return "", 0
}
