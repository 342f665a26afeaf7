package price

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"ticker-alarm-bot/internal/types"
)

const (
	defaultCacheSize    = 1024
	defaultFetchTimeout = 10 * time.Second
)

// Cache keeps successful snapshots for a short TTL and collapses concurrent
// lookups of the same ticker into one upstream call. Failures are not cached.
type Cache struct {
	source Source
	lru    *expirable.LRU[string, types.PriceSnapshot]
	group  singleflight.Group
}

func NewCache(source Source, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache{
		source: source,
		lru:    expirable.NewLRU[string, types.PriceSnapshot](size, nil, ttl),
	}
}

// Fetch waits for the shared lookup only as long as ctx allows. The shared
// lookup itself is detached from any single caller's cancellation, so one
// caller giving up never fails the others waiting on the same ticker.
func (c *Cache) Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error) {
	key := strings.ToUpper(ticker)
	if snapshot, ok := c.lru.Get(key); ok {
		return snapshot, nil
	}

	results := c.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := detachedContext(ctx)
		defer cancel()

		snapshot, err := c.source.Fetch(fetchCtx, ticker)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, snapshot)
		return snapshot, nil
	})

	select {
	case <-ctx.Done():
		return types.PriceSnapshot{}, types.NewFetchError(ticker, ctx.Err())
	case res := <-results:
		if res.Err != nil {
			return types.PriceSnapshot{}, res.Err
		}
		return res.Val.(types.PriceSnapshot), nil
	}
}

// detachedContext keeps ctx's values and deadline but not its cancellation.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithTimeout(detached, defaultFetchTimeout)
}
