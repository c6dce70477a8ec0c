package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB tile repository.
type MongoConfig struct {
	URI      string // e.g. mongodb://localhost:27017
	Database string // e.g. rpg_companion
}

// MongoTileRepo implements TileRepo on MongoDB backend.
// Collections: maps (one document per map) and tiles (one document per tile).
type MongoTileRepo struct {
	client     *mongo.Client
	maps       *mongo.Collection
	tiles      *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoTileRepo establishes connection and returns repository.
func NewMongoTileRepo(cfg MongoConfig) (*MongoTileRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "rpg_companion"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Вложенные документы payload декодируем в map, а не в bson.D
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	db := client.Database(cfg.Database)
	repo := &MongoTileRepo{
		client:     client,
		maps:       db.Collection("maps"),
		tiles:      db.Collection("tiles"),
		ctxTimeout: 5 * time.Second,
	}

	if err := repo.ensureIndexes(); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

func (m *MongoTileRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	coordIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "map_id", Value: 1}, {Key: "x", Value: 1}, {Key: "y", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("map_coord_unique"),
	}
	_, err := m.tiles.Indexes().CreateMany(ctx, []mongo.IndexModel{coordIdx})
	return err
}

func (m *MongoTileRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.ctxTimeout)
}

// SaveMap upserts map metadata.
func (m *MongoTileRepo) SaveMap(ctx context.Context, meta MapMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("пустой ID карты")
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := m.maps.ReplaceOne(ctx, bson.M{"_id": meta.ID}, meta, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ошибка сохранения карты в MongoDB: %w", err)
	}
	return nil
}

// ListMaps returns all stored maps ordered by id.
func (m *MongoTileRepo) ListMaps(ctx context.Context) ([]MapMeta, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	cur, err := m.maps.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения карт из MongoDB: %w", err)
	}
	defer cur.Close(ctx)

	result := make([]MapMeta, 0)
	if err := cur.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("ошибка декодирования карт: %w", err)
	}
	return result, nil
}

// SaveTile upserts a single tile.
func (m *MongoTileRepo) SaveTile(ctx context.Context, mapID string, tile visibility.Tile) error {
	return m.SaveTiles(ctx, mapID, []visibility.Tile{tile})
}

// SaveTiles upserts tiles with one BulkWrite.
func (m *MongoTileRepo) SaveTiles(ctx context.Context, mapID string, tiles []visibility.Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.ensureMap(ctx, mapID); err != nil {
		return err
	}

	models := make([]mongo.WriteModel, 0, len(tiles))
	for _, tile := range tiles {
		doc := newTileDoc(mapID, tile)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"map_id": mapID, "x": doc.X, "y": doc.Y}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := m.tiles.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("ошибка сохранения тайлов в MongoDB: %w", err)
	}
	return nil
}

// DeleteTile removes a tile; missing tile is not an error.
func (m *MongoTileRepo) DeleteTile(ctx context.Context, mapID string, coord vec.Vec2) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := m.tiles.DeleteOne(ctx, bson.M{"map_id": mapID, "x": coord.X, "y": coord.Y})
	if err != nil {
		return fmt.Errorf("ошибка удаления тайла из MongoDB: %w", err)
	}
	return nil
}

// LoadTiles returns all tiles of the map.
func (m *MongoTileRepo) LoadTiles(ctx context.Context, mapID string) ([]visibility.Tile, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.ensureMap(ctx, mapID); err != nil {
		return nil, err
	}

	cur, err := m.tiles.Find(ctx, bson.M{"map_id": mapID})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения тайлов из MongoDB: %w", err)
	}
	defer cur.Close(ctx)

	result := make([]visibility.Tile, 0)
	for cur.Next(ctx) {
		var doc tileDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ошибка декодирования тайла: %w", err)
		}
		result = append(result, doc.toTile())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Coord.Less(result[j].Coord) })
	return result, nil
}

// Close disconnects client.
func (m *MongoTileRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoTileRepo) ensureMap(ctx context.Context, mapID string) error {
	err := m.maps.FindOne(ctx, bson.M{"_id": mapID}).Err()
	if err == mongo.ErrNoDocuments {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	return err
}
