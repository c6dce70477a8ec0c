package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/dgraph-io/badger/v3"
)

// BadgerTileRepo встроенное хранилище карт на BadgerDB.
// Ключи: map:<id> для описаний карт, tile:<id>:<x>:<y> для тайлов; значения в JSON.
type BadgerTileRepo struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerTileRepo открывает BadgerDB в каталоге <dataPath>/maps
func NewBadgerTileRepo(dataPath string) (*BadgerTileRepo, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "maps"))
	opts.Logger = nil // Отключаем логирование BadgerDB
	return openBadgerTileRepo(opts)
}

// NewInMemoryBadgerTileRepo открывает BadgerDB без диска (тесты, эфемерные инстансы)
func NewInMemoryBadgerTileRepo() (*BadgerTileRepo, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadgerTileRepo(opts)
}

func openBadgerTileRepo(opts badger.Options) (*BadgerTileRepo, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerTileRepo{db: db, isReady: true}, nil
}

func mapKey(mapID string) []byte {
	return []byte("map:" + mapID)
}

func tilePrefix(mapID string) []byte {
	return []byte("tile:" + mapID + ":")
}

func tileKey(mapID string, coord vec.Vec2) []byte {
	return []byte(fmt.Sprintf("tile:%s:%d:%d", mapID, coord.X, coord.Y))
}

// SaveMap сохраняет описание карты
func (r *BadgerTileRepo) SaveMap(ctx context.Context, meta MapMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("пустой ID карты")
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("ошибка сериализации карты: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mapKey(meta.ID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// ListMaps возвращает все карты
func (r *BadgerTileRepo) ListMaps(ctx context.Context) ([]MapMeta, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	result := make([]MapMeta, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("map:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var meta MapMeta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return err
			}
			result = append(result, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения карт из BadgerDB: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveTile сохраняет тайл
func (r *BadgerTileRepo) SaveTile(ctx context.Context, mapID string, tile visibility.Tile) error {
	return r.SaveTiles(ctx, mapID, []visibility.Tile{tile})
}

// SaveTiles сохраняет тайлы через WriteBatch
func (r *BadgerTileRepo) SaveTiles(ctx context.Context, mapID string, tiles []visibility.Tile) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	if err := r.ensureMap(mapID); err != nil {
		return err
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()

	for _, tile := range tiles {
		data, err := json.Marshal(newTileDoc(mapID, tile))
		if err != nil {
			return fmt.Errorf("ошибка сериализации тайла: %w", err)
		}
		if err := wb.Set(tileKey(mapID, tile.Coord), data); err != nil {
			return fmt.Errorf("ошибка записи тайла: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// DeleteTile удаляет тайл
func (r *BadgerTileRepo) DeleteTile(ctx context.Context, mapID string, coord vec.Vec2) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tileKey(mapID, coord))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// LoadTiles загружает все тайлы карты
func (r *BadgerTileRepo) LoadTiles(ctx context.Context, mapID string) ([]visibility.Tile, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	if err := r.ensureMap(mapID); err != nil {
		return nil, err
	}

	result := make([]visibility.Tile, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tilePrefix(mapID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var doc tileDoc
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			// Префикс tile:<id>: совпадает и с картами, чей ID начинается с "<id>:"
			if doc.MapID != mapID {
				continue
			}
			result = append(result, doc.toTile())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения тайлов из BadgerDB: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Coord.Less(result[j].Coord) })
	return result, nil
}

// Close закрывает хранилище
func (r *BadgerTileRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}

	r.isReady = false
	return r.db.Close()
}

// ensureMap проверяет, что описание карты сохранено
func (r *BadgerTileRepo) ensureMap(mapID string) error {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(mapKey(mapID))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	return err
}
