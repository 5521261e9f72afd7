package domain

import (
	"context"
	"time"
)

// SnapshotCache holds the latest aggregated snapshot per market.
type SnapshotCache interface {
	Set(ctx context.Context, snaps []MarketSnapshot) error
	Get(ctx context.Context, id string) (MarketSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Publisher fans an event payload out on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event channels.
const (
	ChannelMarkets = "markets"
	ChannelTrades  = "trades"
)
