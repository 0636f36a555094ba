// Package cache provides a sharded last-price cache.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const numShards = 16

// PriceCache stores the latest price per symbol, sharded to reduce lock
// contention between feed writers and gateway readers.
type PriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *PriceCache) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for a symbol.
func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = priceEntry{price: price, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// Get retrieves a price for a symbol.
func (c *PriceCache) Get(symbol string) (decimal.Decimal, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, ok
}

// GetWithAge retrieves a price and its age.
func (c *PriceCache) GetWithAge(symbol string) (decimal.Decimal, time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return decimal.Zero, 0, false
	}
	return entry.price, time.Since(entry.updatedAt), true
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// All returns a copy of every cached price.
func (c *PriceCache) All() map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			result[sym] = entry.price
		}
		shard.mu.RUnlock()
	}
	return result
}
