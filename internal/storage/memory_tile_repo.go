package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// MemoryTileRepo реализует TileRepo в памяти.
// Используется для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryTileRepo struct {
	mu    sync.RWMutex
	maps  map[string]MapMeta
	tiles map[string]map[vec.Vec2]visibility.Tile // mapID -> coord -> тайл
}

// NewMemoryTileRepo создает новый репозиторий тайлов в памяти.
func NewMemoryTileRepo() *MemoryTileRepo {
	return &MemoryTileRepo{
		maps:  make(map[string]MapMeta),
		tiles: make(map[string]map[vec.Vec2]visibility.Tile),
	}
}

// SaveMap сохраняет описание карты.
func (r *MemoryTileRepo) SaveMap(ctx context.Context, meta MapMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("пустой ID карты")
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.maps[meta.ID] = meta
	if _, ok := r.tiles[meta.ID]; !ok {
		r.tiles[meta.ID] = make(map[vec.Vec2]visibility.Tile)
	}
	return nil
}

// ListMaps возвращает карты, отсортированные по ID.
func (r *MemoryTileRepo) ListMaps(ctx context.Context) ([]MapMeta, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]MapMeta, 0, len(r.maps))
	for _, meta := range r.maps {
		result = append(result, meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveTile сохраняет тайл.
func (r *MemoryTileRepo) SaveTile(ctx context.Context, mapID string, tile visibility.Tile) error {
	return r.SaveTiles(ctx, mapID, []visibility.Tile{tile})
}

// SaveTiles сохраняет несколько тайлов.
func (r *MemoryTileRepo) SaveTiles(ctx context.Context, mapID string, tiles []visibility.Tile) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.tiles[mapID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	for _, tile := range tiles {
		bucket[tile.Coord] = tile
	}
	return nil
}

// DeleteTile удаляет тайл.
func (r *MemoryTileRepo) DeleteTile(ctx context.Context, mapID string, coord vec.Vec2) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if bucket, ok := r.tiles[mapID]; ok {
		delete(bucket, coord)
	}
	return nil
}

// LoadTiles загружает тайлы карты.
func (r *MemoryTileRepo) LoadTiles(ctx context.Context, mapID string) ([]visibility.Tile, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.tiles[mapID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}

	result := make([]visibility.Tile, 0, len(bucket))
	for _, tile := range bucket {
		result = append(result, tile)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Coord.Less(result[j].Coord) })
	return result, nil
}

// Close ничего не делает для in-memory хранилища.
func (r *MemoryTileRepo) Close() error {
	return nil
}
