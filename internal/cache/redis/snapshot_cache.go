package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// DefaultSnapshotTTL bounds how long a snapshot outlives the last
// aggregation pass that wrote it.
const DefaultSnapshotTTL = 10 * time.Minute

// SnapshotCache implements domain.SnapshotCache using Redis hashes with JSON-
// serialized snapshots.
//
// Key schema:
//
//	{prefix}:snapshot:{marketID} - hash with field "data" containing JSON
type SnapshotCache struct {
	rdb  *redis.Client
	keys keyspace
	ttl  time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A
// non-positive ttl selects DefaultSnapshotTTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{rdb: c.rdb, keys: c.keys, ttl: ttl}
}

func (sc *SnapshotCache) snapshotKey(id string) string { return sc.keys.key("snapshot", id) }

// Set stores every snapshot of one aggregation pass in a single transaction.
// Degraded snapshots are skipped so a failed read never overwrites the last
// good value.
func (sc *SnapshotCache) Set(ctx context.Context, snaps []domain.MarketSnapshot) error {
	pipe := sc.rdb.TxPipeline()
	queued := 0
	for _, s := range snaps {
		if s.Degraded {
			continue
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("redis: marshal snapshot %s: %w", s.ID, err)
		}
		key := sc.snapshotKey(s.ID)
		pipe.HSet(ctx, key, "data", data)
		pipe.Expire(ctx, key, sc.ttl)
		queued++
	}
	if queued == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshots: %w", err)
	}
	return nil
}

// Get retrieves the latest snapshot of a market.
// It returns domain.ErrNotFound when the key does not exist.
func (sc *SnapshotCache) Get(ctx context.Context, id string) (domain.MarketSnapshot, error) {
	data, err := sc.rdb.HGet(ctx, sc.snapshotKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", id, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", id, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
