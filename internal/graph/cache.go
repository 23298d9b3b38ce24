package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedDriver wraps a Driver with a read cache. Any write flushes it.
type CachedDriver struct {
	Driver
	cache  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedDriver wraps a driver, caching read results for ttl.
func NewCachedDriver(d Driver, ttl time.Duration) *CachedDriver {
	return &CachedDriver{
		Driver: d,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

func cacheKey(query string, params map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"q": query,
		"p": params,
	})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// Execute serves from cache when possible.
func (d *CachedDriver) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	key := cacheKey(query, params)
	if v, ok := d.cache.Get(key); ok {
		d.hits.Add(1)
		return v.([]Record), nil
	}
	d.misses.Add(1)

	records, err := d.Driver.Execute(ctx, query, params)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, records)
	return records, nil
}

// ExecuteWrite flushes the cache, then writes.
func (d *CachedDriver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	d.cache.Flush()
	return d.Driver.ExecuteWrite(ctx, query, params)
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns cache statistics.
func (d *CachedDriver) Stats() CacheStats {
	hits, misses := d.hits.Load(), d.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Size:    d.cache.ItemCount(),
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
	}
}
