package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// Key идентифицирует результат запроса видимости.
// Version берётся из индекса карты: после изменения тайлов старые ключи
// больше не запрашиваются и доживают до TTL или InvalidateMap.
type Key struct {
	MapID   string
	Version uint64
	Center  vec.Vec2
	Radius  float64
}

// String возвращает ключ в виде "<map>:<version>:<x>:<y>:<radius>"
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%d:%d:%s", k.MapID, k.Version, k.Center.X, k.Center.Y,
		strconv.FormatFloat(k.Radius, 'g', -1, 64))
}

// ResultCache определяет интерфейс для кеширования наборов видимых тайлов.
//
// Использование:
//
//	tiles, err := rc.Get(ctx, key)
//	if cache.IsCacheMiss(err) {
//		tiles = query()
//		_ = rc.Set(ctx, key, tiles)
//	}
type ResultCache interface {
	// Get возвращает закешированный набор тайлов.
	// Возвращает ErrCacheMiss если ключ не найден или истёк.
	Get(ctx context.Context, key Key) ([]visibility.Tile, error)

	// Set сохраняет набор тайлов с TTL кеша.
	Set(ctx context.Context, key Key, tiles []visibility.Tile) error

	// InvalidateMap удаляет все записи карты.
	InvalidateMap(ctx context.Context, mapID string) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	// Общие метрики
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
	Invalidations int64   `json:"invalidations"`

	// Метрики производительности
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	// Метрики хранилища
	TotalKeys int64 `json:"total_keys"`

	// Последнее обновление
	LastUpdate time.Time `json:"last_update"`
}

// Ошибки кеша
var (
	ErrCacheMiss  = NewCacheError("cache miss")
	ErrInvalidKey = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}

func validateKey(key Key) error {
	if key.MapID == "" {
		return ErrInvalidKey
	}
	return visibility.ValidateRadius(key.Radius)
}
