// Package corpus provides note-count sources for tier detection.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds one upstream count query. The fetch runs on a
// detached context (see CountPublishedNotes), so it needs its own deadline.
const fetchTimeout = 10 * time.Second

// CachedCounter memoizes an upstream note count with a TTL. Tier detection
// tolerates staleness, and a bounded TTL keeps per-request detection from
// hammering the store. Concurrent refreshes after expiry are deduplicated
// via singleflight, so a burst of requests costs one query.
//
// Failures are not cached: a failed refresh propagates to its callers and
// the next call retries.
type CachedCounter struct {
	upstream func(ctx context.Context) (int64, error)
	ttl      time.Duration
	logger   *slog.Logger

	group   singleflight.Group
	count   atomic.Int64
	countAt atomic.Int64 // unix nanos of last successful refresh, 0 = never
}

// NewCachedCounter wraps upstream with a ttl cache. A non-positive ttl
// disables caching and every call hits upstream (still deduplicated).
func NewCachedCounter(upstream func(ctx context.Context) (int64, error), ttl time.Duration, logger *slog.Logger) *CachedCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCounter{upstream: upstream, ttl: ttl, logger: logger}
}

// CountPublishedNotes returns the cached count if fresh, refreshing it
// otherwise. The refresh runs on a detached context because singleflight
// reuses the first caller's context for everyone in the flight; callers
// still get ctx cancellation while waiting.
func (c *CachedCounter) CountPublishedNotes(ctx context.Context) (int64, error) {
	if at := c.countAt.Load(); at != 0 && time.Since(time.Unix(0, at)) < c.ttl {
		return c.count.Load(), nil
	}

	ch := c.group.DoChan("count", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		n, err := c.upstream(fetchCtx)
		if err != nil {
			return int64(0), fmt.Errorf("corpus: count published notes: %w", err)
		}
		c.count.Store(n)
		c.countAt.Store(time.Now().UnixNano())
		c.logger.Debug("corpus: note count refreshed", "count", n)
		return n, nil
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// Invalidate drops the cached count; the next call refreshes.
func (c *CachedCounter) Invalidate() {
	c.countAt.Store(0)
}
