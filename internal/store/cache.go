package store

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache это тонкая обертка над ristretto с единым TTL.
type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func NewCache(maxCost int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func (c *Cache) Get(key any) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.c.Get(key)
}

func (c *Cache) Set(key, val any) {
	if c == nil {
		return
	}
	c.c.SetWithTTL(key, val, 1, c.ttl)
}

func (c *Cache) Del(key any) {
	if c == nil {
		return
	}
	c.c.Del(key)
}

// Wait дожидается применения буферизованных Set, нужен в тестах.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.c.Wait()
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.c.Close()
}
