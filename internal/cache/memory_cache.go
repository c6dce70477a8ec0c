package cache

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/rpg-companion/internal/visibility"
)

// MemoryCache кеш результатов в памяти процесса с TTL
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	byMap   map[string]map[string]struct{} // mapID -> ключи
	metrics CacheMetrics

	// now источник времени (подменяется в тестах)
	now func() time.Time
}

type memoryEntry struct {
	tiles   []visibility.Tile
	expires time.Time
}

// NewMemoryCache создаёт кеш; ttl <= 0 означает 30 секунд
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		byMap:   make(map[string]map[string]struct{}),
		metrics: CacheMetrics{LastUpdate: time.Now()},
		now:     time.Now,
	}
}

// Get возвращает копию закешированного набора
func (c *MemoryCache) Get(ctx context.Context, key Key) ([]visibility.Tile, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalRequests++
	k := key.String()
	entry, ok := c.entries[k]
	if ok && c.now().After(entry.expires) {
		c.deleteLocked(key.MapID, k)
		ok = false
	}
	if !ok {
		c.metrics.CacheMisses++
		c.updateHitRatioLocked()
		return nil, ErrCacheMiss
	}

	c.metrics.CacheHits++
	c.updateHitRatioLocked()
	return copyTiles(entry.tiles), nil
}

// Set сохраняет копию набора
func (c *MemoryCache) Set(ctx context.Context, key Key, tiles []visibility.Tile) error {
	if err := validateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	c.entries[k] = memoryEntry{tiles: copyTiles(tiles), expires: c.now().Add(c.ttl)}
	keys, ok := c.byMap[key.MapID]
	if !ok {
		keys = make(map[string]struct{})
		c.byMap[key.MapID] = keys
	}
	keys[k] = struct{}{}
	return nil
}

// InvalidateMap удаляет все записи карты
func (c *MemoryCache) InvalidateMap(ctx context.Context, mapID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.byMap[mapID] {
		delete(c.entries, k)
	}
	delete(c.byMap, mapID)
	c.metrics.Invalidations++
	return nil
}

// Close очищает кеш
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]memoryEntry)
	c.byMap = make(map[string]map[string]struct{})
	return nil
}

// GetMetrics возвращает копию метрик
func (c *MemoryCache) GetMetrics() *CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := c.metrics
	metrics.TotalKeys = int64(len(c.entries))
	metrics.LastUpdate = time.Now()
	return &metrics
}

func (c *MemoryCache) deleteLocked(mapID, k string) {
	delete(c.entries, k)
	if keys, ok := c.byMap[mapID]; ok {
		delete(keys, k)
		if len(keys) == 0 {
			delete(c.byMap, mapID)
		}
	}
}

func (c *MemoryCache) updateHitRatioLocked() {
	total := c.metrics.CacheHits + c.metrics.CacheMisses
	if total > 0 {
		c.metrics.HitRatio = float64(c.metrics.CacheHits) / float64(total)
	}
}

// copyTiles копирует срез тайлов; payload разделяется, он не изменяется после вставки
func copyTiles(tiles []visibility.Tile) []visibility.Tile {
	result := make([]visibility.Tile, len(tiles))
	copy(result, tiles)
	return result
}
