package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит конфигурацию Redis кеша результатов.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix пространство имён ключей; версии индекса локальны для инстанса,
	// поэтому префикс включает ID инстанса
	Prefix string

	TTL      time.Duration
	Compress bool
}

// RedisCache реализует ResultCache поверх Redis.
//
// Особенности:
// - значения хранятся в JSON, опционально сжатые zstd
// - для каждой карты ведётся множество ключей, по которому работает InvalidateMap
// - метрики hit ratio и latency
type RedisCache struct {
	client *redis.Client
	config RedisConfig
	codec  *tileCodec

	// Метрики
	metrics      *CacheMetrics
	metricsMutex sync.RWMutex

	// Статистика latency
	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64
}

// NewRedisCache создаёт новый Redis кеш результатов.
func NewRedisCache(config RedisConfig) (*RedisCache, error) {
	// Настройки по умолчанию
	if config.TTL == 0 {
		config.TTL = 30 * time.Second
	}
	if config.Prefix == "" {
		config.Prefix = "rpg:vis:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	codec, err := newTileCodec(config.Compress)
	if err != nil {
		rdb.Close()
		return nil, err
	}

	logging.Info("Redis cache initialized: %s (compress: %v, ttl: %v)", config.Addr, config.Compress, config.TTL)
	return &RedisCache{
		client:  rdb,
		config:  config,
		codec:   codec,
		metrics: &CacheMetrics{LastUpdate: time.Now()},
	}, nil
}

func (r *RedisCache) entryKey(key Key) string {
	return r.config.Prefix + "entry:" + key.String()
}

func (r *RedisCache) mapSetKey(mapID string) string {
	return r.config.Prefix + "keys:" + mapID
}

// Get получает набор тайлов из Redis.
func (r *RedisCache) Get(ctx context.Context, key Key) ([]visibility.Tile, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	defer r.recordLatency(start)

	atomic.AddInt64(&r.metrics.TotalRequests, 1)

	val, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&r.metrics.CacheMisses, 1)
		r.updateHitRatio()
		return nil, ErrCacheMiss
	}
	if err != nil {
		atomic.AddInt64(&r.metrics.CacheMisses, 1)
		r.updateHitRatio()
		logging.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	tiles, err := r.codec.decode(val)
	if err != nil {
		// Повреждённая запись считается промахом
		logging.Warn("Redis cache entry %s corrupted: %v", key, err)
		atomic.AddInt64(&r.metrics.CacheMisses, 1)
		r.updateHitRatio()
		_ = r.client.Del(ctx, r.entryKey(key)).Err()
		return nil, ErrCacheMiss
	}

	atomic.AddInt64(&r.metrics.CacheHits, 1)
	r.updateHitRatio()
	return tiles, nil
}

// Set сохраняет набор тайлов и регистрирует ключ в множестве карты.
func (r *RedisCache) Set(ctx context.Context, key Key, tiles []visibility.Tile) error {
	if err := validateKey(key); err != nil {
		return err
	}

	start := time.Now()
	defer r.recordLatency(start)

	data, err := r.codec.encode(tiles)
	if err != nil {
		return fmt.Errorf("cache encode error: %w", err)
	}

	entryKey := r.entryKey(key)
	setKey := r.mapSetKey(key.MapID)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entryKey, data, r.config.TTL)
	pipe.SAdd(ctx, setKey, entryKey)
	pipe.Expire(ctx, setKey, 2*r.config.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		logging.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// InvalidateMap удаляет все записи карты.
func (r *RedisCache) InvalidateMap(ctx context.Context, mapID string) error {
	start := time.Now()
	defer r.recordLatency(start)

	setKey := r.mapSetKey(mapID)
	keys, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis smembers error: %w", err)
	}

	keys = append(keys, setKey)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		logging.Error("Redis invalidate error for map %s: %v", mapID, err)
		return fmt.Errorf("redis delete error: %w", err)
	}

	atomic.AddInt64(&r.metrics.Invalidations, 1)
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	r.codec.close()

	err := r.client.Close()
	if err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}

	logging.Info("Redis cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisCache) GetMetrics() *CacheMetrics {
	r.updateLatencyMetrics()

	r.metricsMutex.RLock()
	defer r.metricsMutex.RUnlock()

	metrics := CacheMetrics{
		TotalRequests: atomic.LoadInt64(&r.metrics.TotalRequests),
		CacheHits:     atomic.LoadInt64(&r.metrics.CacheHits),
		CacheMisses:   atomic.LoadInt64(&r.metrics.CacheMisses),
		Invalidations: atomic.LoadInt64(&r.metrics.Invalidations),
		HitRatio:      r.metrics.HitRatio,
		AvgLatencyMs:  r.metrics.AvgLatencyMs,
		MaxLatencyMs:  r.metrics.MaxLatencyMs,
		LastUpdate:    time.Now(),
	}
	return &metrics
}

// recordLatency записывает latency метрику.
func (r *RedisCache) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	atomic.AddInt64(&r.latencySum, latency)
	atomic.AddInt64(&r.latencyCount, 1)

	// Обновляем максимальную latency
	for {
		current := atomic.LoadInt64(&r.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&r.maxLatency, current, latency) {
			break
		}
	}
}

// updateLatencyMetrics обновляет метрики latency.
func (r *RedisCache) updateLatencyMetrics() {
	count := atomic.LoadInt64(&r.latencyCount)
	if count == 0 {
		return
	}

	sum := atomic.LoadInt64(&r.latencySum)
	max := atomic.LoadInt64(&r.maxLatency)

	r.metricsMutex.Lock()
	r.metrics.AvgLatencyMs = float64(sum) / float64(count) / 1e6 // нс в мс
	r.metrics.MaxLatencyMs = float64(max) / 1e6
	r.metricsMutex.Unlock()
}

// updateHitRatio обновляет hit ratio в метриках.
func (r *RedisCache) updateHitRatio() {
	hits := atomic.LoadInt64(&r.metrics.CacheHits)
	misses := atomic.LoadInt64(&r.metrics.CacheMisses)
	total := hits + misses

	if total > 0 {
		r.metricsMutex.Lock()
		r.metrics.HitRatio = float64(hits) / float64(total)
		r.metricsMutex.Unlock()
	}
}
