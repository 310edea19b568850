package eta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

// Client is the interface used by the matcher to get pickup ETAs.
type Client interface {
	EstimateMinutes(ctx context.Context, from, to models.Coord) (float64, error)
}

// Flat estimates travel time from great-circle distance at the baseline speed.
type Flat struct {
	TrafficFactor float64
}

func (f Flat) EstimateMinutes(_ context.Context, from, to models.Coord) (float64, error) {
	tf := f.TrafficFactor
	if tf == 0 {
		tf = 1
	}
	return geo.EstimateTravelMinutes(geo.DistanceKm(from, to), tf)
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

// ~11m precision, enough to share lookups between nearby pings
func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lng)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Chain tries Primary (typically a routing engine) through the cache and
// falls back to Fallback when the primary fails.
type Chain struct {
	Primary  Client
	Fallback Client
	Cache    *Cache
}

func (c *Chain) EstimateMinutes(ctx context.Context, from, to models.Coord) (float64, error) {
	if c.Cache != nil {
		if v, ok := c.Cache.Get(from, to); ok {
			return v, nil
		}
	}
	if c.Primary != nil {
		if v, err := c.Primary.EstimateMinutes(ctx, from, to); err == nil {
			if c.Cache != nil {
				c.Cache.Set(from, to, v)
			}
			return v, nil
		}
	}
	if c.Fallback == nil {
		return Flat{}.EstimateMinutes(ctx, from, to)
	}
	return c.Fallback.EstimateMinutes(ctx, from, to)
}
