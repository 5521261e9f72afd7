// Package redis implements the snapshot cache, event bus, rate limiter and
// lock manager on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces keys and channels when none is configured.
const DefaultKeyPrefix = "poolbot"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix is prepended to every key and channel so several
	// deployments can share one server.
	KeyPrefix string
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// keyspace builds namespaced key and channel names.
type keyspace string

func newKeyspace(prefix string) keyspace {
	prefix = strings.Trim(prefix, ": ")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return keyspace(prefix)
}

// key returns prefix:kind:id.
func (k keyspace) key(kind, id string) string {
	return string(k) + ":" + kind + ":" + id
}

// channel returns prefix:name.
func (k keyspace) channel(name string) string {
	return string(k) + ":" + name
}

// Client is a connected go-redis client plus the deployment keyspace.
type Client struct {
	rdb  *redis.Client
	keys keyspace
}

// New connects and pings the server.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, keys: newKeyspace(cfg.KeyPrefix)}, nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
