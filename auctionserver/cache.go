package auctionserver

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cloudx-io/slotauction/core"
)

// DefaultSnapshotCacheSize bounds the number of cached snapshots across all groups.
const DefaultSnapshotCacheSize = 1024

type snapshotKey struct {
	group     core.GroupID
	count     int
	hasCutoff bool
	cutoff    time.Duration
}

// SnapshotCache memoizes winner snapshots per group and ledger size.
// The ledger is append-only, so a snapshot stays valid until the next accepted bid.
// Thread-safe.
type SnapshotCache struct {
	cache *lru.Cache[snapshotKey, *core.Snapshot]
}

func NewSnapshotCache(size int) (*SnapshotCache, error) {
	cache, err := lru.New[snapshotKey, *core.Snapshot](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &SnapshotCache{cache: cache}, nil
}

// Snapshot returns the auction's snapshot as of cutoff, computing it on a miss.
func (c *SnapshotCache) Snapshot(ctx context.Context, auction *core.Auction, cutoff *time.Duration) (*core.Snapshot, error) {
	count, err := auction.Ledger.Count(ctx, auction.Group)
	if err != nil {
		return nil, fmt.Errorf("count bids: %w", err)
	}

	key := snapshotKey{group: auction.Group, count: count}
	if cutoff != nil {
		key.hasCutoff = true
		key.cutoff = *cutoff
	}

	if snapshot, ok := c.cache.Get(key); ok {
		return snapshot, nil
	}

	snapshot, err := auction.Snapshot(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, snapshot)
	return snapshot, nil
}

// Len reports the number of cached snapshots.
func (c *SnapshotCache) Len() int {
	return c.cache.Len()
}
