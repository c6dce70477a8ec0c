package storage

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// ErrMapNotFound возвращается, если карта с указанным ID не сохранена
var ErrMapNotFound = errors.New("map not found")

// MapMeta описание карты: система координат фиксируется через имя метрики.
// PayloadSchema необязательная JSON Schema полезной нагрузки тайлов (текстом).
type MapMeta struct {
	ID            string    `json:"id" bson:"_id"`
	Name          string    `json:"name" bson:"name"`
	Metric        string    `json:"metric" bson:"metric"`
	CellSize      int       `json:"cell_size" bson:"cell_size"`
	PayloadSchema string    `json:"payload_schema,omitempty" bson:"payload_schema,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// TileRepo определяет интерфейс постоянного хранения карт и тайлов.
// Движок видимости о нём не знает: репозиторий только наполняет индекс при старте
// и сохраняет изменения, сделанные через API.
type TileRepo interface {
	// SaveMap создаёт или обновляет описание карты.
	SaveMap(ctx context.Context, meta MapMeta) error

	// ListMaps возвращает все сохранённые карты.
	ListMaps(ctx context.Context) ([]MapMeta, error)

	// SaveTile сохраняет тайл (last-write-wins по координате).
	SaveTile(ctx context.Context, mapID string, tile visibility.Tile) error

	// SaveTiles сохраняет несколько тайлов за один запрос (генерация карт).
	SaveTiles(ctx context.Context, mapID string, tiles []visibility.Tile) error

	// DeleteTile удаляет тайл; отсутствие тайла не ошибка.
	DeleteTile(ctx context.Context, mapID string, coord vec.Vec2) error

	// LoadTiles загружает все тайлы карты.
	LoadTiles(ctx context.Context, mapID string) ([]visibility.Tile, error)

	// Close закрывает соединение с хранилищем.
	Close() error
}

// tileDoc сериализуемое представление тайла
type tileDoc struct {
	MapID   string                 `json:"map_id" bson:"map_id"`
	X       int                    `json:"x" bson:"x"`
	Y       int                    `json:"y" bson:"y"`
	Payload map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
}

func newTileDoc(mapID string, tile visibility.Tile) tileDoc {
	return tileDoc{MapID: mapID, X: tile.Coord.X, Y: tile.Coord.Y, Payload: tile.Payload}
}

func (d tileDoc) toTile() visibility.Tile {
	return visibility.Tile{Coord: vec.Vec2{X: d.X, Y: d.Y}, Payload: d.Payload}
}

// checkCtx проверяет контекст на отмену
func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
