// Package memcached implements core.ArtifactCache on memcached.
//
// Artifacts are content addressed, so an entry never goes stale; memcached
// may still evict under memory pressure, which only costs a storage read.
package memcached

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/Skryldev/grsync/core"
)

// Items above memcached's default 1MiB slab are not cached.
const maxItemSize = 1 << 20

// Client is the subset of *memcache.Client used here.
type Client interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// Config lists the servers and per-item settings of a Cache.
type Config struct {
	Servers []string
	Timeout time.Duration
	// Expiry is the memcached TTL; zero keeps items until evicted.
	Expiry time.Duration
	Logger core.Logger
}

// Cache is a core.ArtifactCache backed by memcached.  Errors degrade to misses.
type Cache struct {
	client Client
	expiry time.Duration
	logger core.Logger
}

// New connects to a fixed server list.
func New(cfg Config) (*Cache, error) {
	var servers memcache.ServerList
	if err := servers.SetServers(cfg.Servers...); err != nil {
		return nil, err
	}
	client := memcache.NewFromSelector(&servers)
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient builds a Cache over an existing client.
func NewWithClient(client Client, cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Cache{client: client, expiry: cfg.Expiry, logger: logger}
}

// key hashes path so arbitrary resource paths fit memcached's key rules.
func key(path string) string {
	sum := sha1.Sum([]byte(path))
	return "grsync:" + hex.EncodeToString(sum[:])
}

func (c *Cache) Get(_ context.Context, path string) ([]byte, bool) {
	item, err := c.client.Get(key(path))
	if err != nil {
		if err != memcache.ErrCacheMiss {
			c.logger.Warn("memcached get failed", "path", path, "error", err)
		}
		return nil, false
	}
	return item.Value, true
}

func (c *Cache) Set(_ context.Context, path string, data []byte) {
	if len(data) > maxItemSize {
		return
	}
	err := c.client.Set(&memcache.Item{
		Key:        key(path),
		Value:      data,
		Expiration: int32(c.expiry.Seconds()),
	})
	if err != nil {
		c.logger.Warn("memcached set failed", "path", path, "error", err)
	}
}

var _ core.ArtifactCache = (*Cache)(nil)
