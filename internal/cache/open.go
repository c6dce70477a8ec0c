package cache

import (
	"github.com/annel0/rpg-companion/internal/config"
)

// Open создаёт кеш результатов по конфигурации.
// Возвращает nil, nil если кеш выключен; пустой RedisAddr означает кеш в памяти.
func Open(cfg config.CacheConfig, instanceID string) (ResultCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return NewMemoryCache(cfg.TTL), nil
	}
	return NewRedisCache(RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   "rpg:vis:" + instanceID + ":",
		TTL:      cfg.TTL,
		Compress: cfg.Compress,
	})
}
