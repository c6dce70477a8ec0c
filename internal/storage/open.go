package storage

import (
	"fmt"
	"strings"

	"github.com/annel0/rpg-companion/internal/config"
)

// Open создаёт репозиторий тайлов по конфигурации
func Open(cfg config.StorageConfig) (TileRepo, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryTileRepo(), nil
	case "badger":
		return NewBadgerTileRepo(cfg.DataPath)
	case "mongo":
		return NewMongoTileRepo(MongoConfig{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	case "maria":
		return NewMariaTileRepo(cfg.Maria.DSN)
	case "postgres":
		return NewPostgresTileRepo(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища: %s", cfg.Driver)
	}
}
