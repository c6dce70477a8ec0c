package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// importBatchSize размер пачки тайлов при загрузке снимка
const importBatchSize = 1024

// ImportOptions переопределения при загрузке снимка. Пустые поля берутся из снимка.
type ImportOptions struct {
	MapID string `json:"map_id"`
	Name  string `json:"name"`
}

// Service выгрузка и загрузка карт менеджера
type Service struct {
	store   ObjectStore
	manager *maps.Manager
	logger  *logging.Logger
	clock   func() time.Time
}

// NewService создаёт сервис снимков
func NewService(store ObjectStore, manager *maps.Manager) *Service {
	return &Service{
		store:   store,
		manager: manager,
		logger:  logging.GetStorageLogger(),
		clock:   time.Now,
	}
}

// Export сохраняет текущее состояние карты как новый снимок
func (s *Service) Export(ctx context.Context, mapID string) (ObjectInfo, error) {
	m, err := s.manager.Get(mapID)
	if err != nil {
		return ObjectInfo{}, err
	}

	tiles := m.Tiles()
	snap := &Snapshot{
		Version:    FormatVersion,
		Source:     s.manager.InstanceID(),
		ExportedAt: s.clock().UTC(),
		Map:        m.Meta(),
		Tiles:      make([]visibility.Tile, 0, len(tiles)),
	}
	for _, tile := range tiles {
		snap.Tiles = append(snap.Tiles, *tile)
	}

	data, err := Encode(snap)
	if err != nil {
		return ObjectInfo{}, err
	}

	key := objectKey(mapID, snap.ExportedAt)
	if err := s.store.Put(ctx, key, data); err != nil {
		return ObjectInfo{}, fmt.Errorf("store snapshot: %w", err)
	}

	s.logger.Info("📸 Снимок карты %s сохранён: %s (%d тайлов, %d байт)", mapID, key, len(snap.Tiles), len(data))
	return ObjectInfo{Key: key, Size: int64(len(data)), LastModified: snap.ExportedAt}, nil
}

// Import создаёт новую карту из снимка. Карта с тем же ID не перезаписывается (maps.ErrMapExists).
func (s *Service) Import(ctx context.Context, key string, opts ImportOptions) (*maps.Map, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}

	spec := maps.Spec{
		ID:       snap.Map.ID,
		Name:     snap.Map.Name,
		Metric:   snap.Map.Metric,
		CellSize: snap.Map.CellSize,
	}
	if snap.Map.PayloadSchema != "" {
		spec.PayloadSchema = json.RawMessage(snap.Map.PayloadSchema)
	}
	if opts.MapID != "" {
		spec.ID = opts.MapID
	}
	if opts.Name != "" {
		spec.Name = opts.Name
	}

	m, err := s.manager.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(snap.Tiles); start += importBatchSize {
		end := start + importBatchSize
		if end > len(snap.Tiles) {
			end = len(snap.Tiles)
		}
		if err := m.PutTiles(ctx, snap.Tiles[start:end]); err != nil {
			return nil, fmt.Errorf("put tiles: %w", err)
		}
	}

	s.logger.Info("📥 Карта %s загружена из снимка %s (%d тайлов)", m.ID(), key, len(snap.Tiles))
	return m, nil
}

// List возвращает снимки карты; пустой mapID - снимки всех карт
func (s *Service) List(ctx context.Context, mapID string) ([]ObjectInfo, error) {
	prefix := ""
	if mapID != "" {
		prefix = mapID + "/"
	}
	return s.store.List(ctx, prefix)
}
