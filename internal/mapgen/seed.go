package mapgen

import (
	"context"
	"fmt"

	"github.com/annel0/rpg-companion/internal/config"
	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// seedBatchSize размер пачки тайлов на одну запись в хранилище
const seedBatchSize = 1024

// Seed создаёт карту cfg.Name и заполняет её сгенерированным ландшафтом.
// Если карта с таким именем уже есть, она возвращается без изменений (created = false).
func Seed(ctx context.Context, mgr *maps.Manager, cfg config.MapGenConfig) (*maps.Map, bool, error) {
	for _, m := range mgr.List() {
		if m.Name() == cfg.Name {
			return m, false, nil
		}
	}

	metric, err := visibility.MetricByName(cfg.Metric)
	if err != nil {
		return nil, false, err
	}

	tiles, err := NewGenerator(cfg.Seed).Generate(metric, Shape{Width: cfg.Width, Height: cfg.Height, Radius: cfg.Radius})
	if err != nil {
		return nil, false, err
	}

	m, err := mgr.Create(ctx, maps.Spec{Name: cfg.Name, Metric: metric.Name()})
	if err != nil {
		return nil, false, fmt.Errorf("create map: %w", err)
	}

	for start := 0; start < len(tiles); start += seedBatchSize {
		end := start + seedBatchSize
		if end > len(tiles) {
			end = len(tiles)
		}
		if err := m.PutTiles(ctx, tiles[start:end]); err != nil {
			return nil, false, fmt.Errorf("put tiles: %w", err)
		}
	}

	logging.GetMapsLogger().Info("🌍 Сгенерирована карта %s (%s): %d тайлов, seed=%d", m.Name(), m.ID(), len(tiles), cfg.Seed)
	return m, true, nil
}
