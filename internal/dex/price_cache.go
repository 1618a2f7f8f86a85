package dex

import "sync"

// PriceCache holds one base price per unordered token pair. Entries are
// created on first use and never change afterwards.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[pair]float64
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[pair]float64)}
}

// GetOrCreate returns the base price for the pair, calling generate only if
// no price exists yet. generate runs under the write lock.
func (c *PriceCache) GetOrCreate(tokenA, tokenB string, generate func() float64) float64 {
	key := pairKey(tokenA, tokenB)

	c.mu.RLock()
	price, ok := c.prices[key]
	c.mu.RUnlock()
	if ok {
		return price
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if price, ok := c.prices[key]; ok {
		return price
	}
	price = generate()
	c.prices[key] = price
	return price
}

// Get returns the cached base price for the pair, if any.
func (c *PriceCache) Get(tokenA, tokenB string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[pairKey(tokenA, tokenB)]
	return price, ok
}

// Len returns the number of cached pairs.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// pair is an unordered token pair with its tokens sorted.
type pair struct {
	a, b string
}

// pairKey is order-independent: (SOL, USDC) and (USDC, SOL) share a key.
func pairKey(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a: a, b: b}
}
