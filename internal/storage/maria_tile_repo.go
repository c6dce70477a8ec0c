package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	_ "github.com/go-sql-driver/mysql"
)

// MariaTileRepo реализует TileRepo для базы данных MariaDB/MySQL.
// Использует таблицы maps и map_tiles; payload тайла хранится как JSON.
type MariaTileRepo struct {
	db *sql.DB
}

// NewMariaTileRepo создает новый репозиторий тайлов для MariaDB.
// Автоматически создает таблицы, если они не существуют.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaTileRepo(dsn string) (*MariaTileRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaTileRepo{db: db}

	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

// createTables создает таблицы maps и map_tiles, если они не существуют.
func (r *MariaTileRepo) createTables() error {
	queries := []string{`
		CREATE TABLE IF NOT EXISTS maps (
			id         VARCHAR(64)  PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			metric     VARCHAR(32)  NOT NULL,
			cell_size  INT          NOT NULL DEFAULT 0,
			payload_schema TEXT     NULL,
			created_at DATETIME(6)  NOT NULL
		) ENGINE=InnoDB
	`, `
		CREATE TABLE IF NOT EXISTS map_tiles (
			map_id     VARCHAR(64) NOT NULL,
			x          INT         NOT NULL,
			y          INT         NOT NULL,
			payload    JSON        NULL,
			updated_at TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE   CURRENT_TIMESTAMP,
			PRIMARY KEY (map_id, x, y)
		) ENGINE=InnoDB
	`}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return fmt.Errorf("ошибка создания таблицы: %w", err)
		}
	}
	return nil
}

// SaveMap сохраняет описание карты.
func (r *MariaTileRepo) SaveMap(ctx context.Context, meta MapMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("пустой ID карты")
	}

	query := `
		INSERT INTO maps (id, name, metric, cell_size, payload_schema, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			metric = VALUES(metric),
			cell_size = VALUES(cell_size),
			payload_schema = VALUES(payload_schema)
	`

	var payloadSchema interface{}
	if meta.PayloadSchema != "" {
		payloadSchema = meta.PayloadSchema
	}

	_, err := r.db.ExecContext(ctx, query, meta.ID, meta.Name, meta.Metric, meta.CellSize, payloadSchema, meta.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("ошибка сохранения карты %s: %w", meta.ID, err)
	}
	return nil
}

// ListMaps возвращает все карты.
func (r *MariaTileRepo) ListMaps(ctx context.Context) ([]MapMeta, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, metric, cell_size, payload_schema, created_at FROM maps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения карт: %w", err)
	}
	defer rows.Close()

	result := make([]MapMeta, 0)
	for rows.Next() {
		var (
			meta          MapMeta
			payloadSchema sql.NullString
		)
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.Metric, &meta.CellSize, &payloadSchema, &meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки карты: %w", err)
		}
		meta.PayloadSchema = payloadSchema.String
		result = append(result, meta)
	}
	return result, rows.Err()
}

// SaveTile сохраняет тайл.
func (r *MariaTileRepo) SaveTile(ctx context.Context, mapID string, tile visibility.Tile) error {
	return r.SaveTiles(ctx, mapID, []visibility.Tile{tile})
}

// SaveTiles сохраняет тайлы в одной транзакции.
func (r *MariaTileRepo) SaveTiles(ctx context.Context, mapID string, tiles []visibility.Tile) error {
	if len(tiles) == 0 {
		return nil // Нечего сохранять
	}
	if err := r.ensureMap(ctx, mapID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	query := `
		INSERT INTO map_tiles (map_id, x, y, payload)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			payload = VALUES(payload),
			updated_at = CURRENT_TIMESTAMP
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, tile := range tiles {
		var payload interface{}
		if tile.Payload != nil {
			data, err := json.Marshal(tile.Payload)
			if err != nil {
				return fmt.Errorf("ошибка сериализации payload (%d, %d): %w", tile.Coord.X, tile.Coord.Y, err)
			}
			payload = string(data)
		}

		if _, err := stmt.ExecContext(ctx, mapID, tile.Coord.X, tile.Coord.Y, payload); err != nil {
			return fmt.Errorf("ошибка сохранения тайла (%d, %d): %w", tile.Coord.X, tile.Coord.Y, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// DeleteTile удаляет тайл; отсутствие строки не ошибка.
func (r *MariaTileRepo) DeleteTile(ctx context.Context, mapID string, coord vec.Vec2) error {
	query := `DELETE FROM map_tiles WHERE map_id = ? AND x = ? AND y = ?`

	if _, err := r.db.ExecContext(ctx, query, mapID, coord.X, coord.Y); err != nil {
		return fmt.Errorf("ошибка удаления тайла (%d, %d): %w", coord.X, coord.Y, err)
	}
	return nil
}

// LoadTiles загружает все тайлы карты.
func (r *MariaTileRepo) LoadTiles(ctx context.Context, mapID string) ([]visibility.Tile, error) {
	if err := r.ensureMap(ctx, mapID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT x, y, payload FROM map_tiles WHERE map_id = ?`, mapID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения тайлов: %w", err)
	}
	defer rows.Close()

	result := make([]visibility.Tile, 0)
	for rows.Next() {
		var (
			tile    visibility.Tile
			payload sql.NullString
		)
		if err := rows.Scan(&tile.Coord.X, &tile.Coord.Y, &payload); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки тайла: %w", err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &tile.Payload); err != nil {
				return nil, fmt.Errorf("ошибка разбора payload (%d, %d): %w", tile.Coord.X, tile.Coord.Y, err)
			}
		}
		result = append(result, tile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Coord.Less(result[j].Coord) })
	return result, nil
}

// Close закрывает соединение с базой данных.
func (r *MariaTileRepo) Close() error {
	return r.db.Close()
}

func (r *MariaTileRepo) ensureMap(ctx context.Context, mapID string) error {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM maps WHERE id = ?`, mapID).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	return err
}
