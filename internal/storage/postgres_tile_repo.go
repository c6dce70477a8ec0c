package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pgBatchSize размер пачки INSERT при массовой вставке тайлов
const pgBatchSize = 500

// pgMapRow строка таблицы maps
type pgMapRow struct {
	ID            string  `gorm:"primaryKey;size:64"`
	Name          string  `gorm:"size:255;not null"`
	Metric        string  `gorm:"size:32;not null"`
	CellSize      int     `gorm:"not null;default:0"`
	PayloadSchema *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (pgMapRow) TableName() string { return "maps" }

// pgTileRow строка таблицы map_tiles; payload хранится как jsonb
type pgTileRow struct {
	MapID     string `gorm:"primaryKey;size:64"`
	X         int    `gorm:"primaryKey;autoIncrement:false"`
	Y         int    `gorm:"primaryKey;autoIncrement:false"`
	Payload   []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (pgTileRow) TableName() string { return "map_tiles" }

// PostgresTileRepo реализует TileRepo для PostgreSQL через GORM
type PostgresTileRepo struct {
	db *gorm.DB
}

// NewPostgresTileRepo подключается к PostgreSQL и создаёт таблицы через AutoMigrate.
//
//	dsn - host=localhost user=rpg password=rpg dbname=rpg_companion sslmode=disable
func NewPostgresTileRepo(dsn string) (*PostgresTileRepo, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.AutoMigrate(&pgMapRow{}, &pgTileRow{}); err != nil {
		closeGorm(db)
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	return &PostgresTileRepo{db: db}, nil
}

// SaveMap создаёт или обновляет описание карты
func (r *PostgresTileRepo) SaveMap(ctx context.Context, meta MapMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("пустой ID карты")
	}

	row := pgMapRow{
		ID:        meta.ID,
		Name:      meta.Name,
		Metric:    meta.Metric,
		CellSize:  meta.CellSize,
		CreatedAt: meta.CreatedAt.UTC(),
	}
	if meta.PayloadSchema != "" {
		row.PayloadSchema = &meta.PayloadSchema
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "metric", "cell_size", "payload_schema"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("ошибка сохранения карты %s: %w", meta.ID, err)
	}
	return nil
}

// ListMaps возвращает все карты, отсортированные по ID
func (r *PostgresTileRepo) ListMaps(ctx context.Context) ([]MapMeta, error) {
	var rows []pgMapRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения карт: %w", err)
	}

	result := make([]MapMeta, 0, len(rows))
	for _, row := range rows {
		meta := MapMeta{
			ID:        row.ID,
			Name:      row.Name,
			Metric:    row.Metric,
			CellSize:  row.CellSize,
			CreatedAt: row.CreatedAt,
		}
		if row.PayloadSchema != nil {
			meta.PayloadSchema = *row.PayloadSchema
		}
		result = append(result, meta)
	}
	return result, nil
}

// SaveTile сохраняет тайл
func (r *PostgresTileRepo) SaveTile(ctx context.Context, mapID string, tile visibility.Tile) error {
	return r.SaveTiles(ctx, mapID, []visibility.Tile{tile})
}

// SaveTiles сохраняет тайлы в одной транзакции пачками по pgBatchSize
func (r *PostgresTileRepo) SaveTiles(ctx context.Context, mapID string, tiles []visibility.Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	if err := r.ensureMap(ctx, mapID); err != nil {
		return err
	}

	now := time.Now().UTC()
	rows := make([]pgTileRow, 0, len(tiles))
	for _, tile := range tiles {
		row := pgTileRow{MapID: mapID, X: tile.Coord.X, Y: tile.Coord.Y, UpdatedAt: now}
		if tile.Payload != nil {
			data, err := json.Marshal(tile.Payload)
			if err != nil {
				return fmt.Errorf("ошибка сериализации payload (%d, %d): %w", tile.Coord.X, tile.Coord.Y, err)
			}
			row.Payload = data
		}
		rows = append(rows, row)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "map_id"}, {Name: "x"}, {Name: "y"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).CreateInBatches(rows, pgBatchSize).Error
		if err != nil {
			return fmt.Errorf("ошибка сохранения тайлов карты %s: %w", mapID, err)
		}
		return nil
	})
}

// DeleteTile удаляет тайл; отсутствие строки не ошибка
func (r *PostgresTileRepo) DeleteTile(ctx context.Context, mapID string, coord vec.Vec2) error {
	err := r.db.WithContext(ctx).
		Where("map_id = ? AND x = ? AND y = ?", mapID, coord.X, coord.Y).
		Delete(&pgTileRow{}).Error
	if err != nil {
		return fmt.Errorf("ошибка удаления тайла (%d, %d): %w", coord.X, coord.Y, err)
	}
	return nil
}

// LoadTiles загружает все тайлы карты в порядке (Y, X)
func (r *PostgresTileRepo) LoadTiles(ctx context.Context, mapID string) ([]visibility.Tile, error) {
	if err := r.ensureMap(ctx, mapID); err != nil {
		return nil, err
	}

	var rows []pgTileRow
	if err := r.db.WithContext(ctx).Where("map_id = ?", mapID).Order("y, x").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения тайлов: %w", err)
	}

	result := make([]visibility.Tile, 0, len(rows))
	for _, row := range rows {
		tile := visibility.Tile{Coord: vec.Vec2{X: row.X, Y: row.Y}}
		if len(row.Payload) > 0 {
			if err := json.Unmarshal(row.Payload, &tile.Payload); err != nil {
				return nil, fmt.Errorf("ошибка разбора payload (%d, %d): %w", row.X, row.Y, err)
			}
		}
		result = append(result, tile)
	}
	return result, nil
}

// Close закрывает пул соединений
func (r *PostgresTileRepo) Close() error {
	return closeGorm(r.db)
}

func (r *PostgresTileRepo) ensureMap(ctx context.Context, mapID string) error {
	var row pgMapRow
	err := r.db.WithContext(ctx).Select("id").Where("id = ?", mapID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	return err
}

func closeGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
