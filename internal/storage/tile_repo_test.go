package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/annel0/rpg-companion/internal/config"
	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTileRepo общий сценарий для всех реализаций TileRepo
func testTileRepo(t *testing.T, repo TileRepo) {
	ctx := context.Background()
	mapID := uuid.NewString()

	t.Run("Unknown map", func(t *testing.T) {
		_, err := repo.LoadTiles(ctx, "missing-"+mapID)
		assert.ErrorIs(t, err, ErrMapNotFound)

		err = repo.SaveTile(ctx, "missing-"+mapID, visibility.Tile{Coord: vec.Vec2{X: 1, Y: 1}})
		assert.ErrorIs(t, err, ErrMapNotFound)
	})

	t.Run("Save map", func(t *testing.T) {
		meta := MapMeta{
			ID:            mapID,
			Name:          "Подземелье",
			Metric:        "hex",
			CellSize:      8,
			PayloadSchema: `{"type":"object"}`,
			CreatedAt:     time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, repo.SaveMap(ctx, meta))

		maps, err := repo.ListMaps(ctx)
		require.NoError(t, err)

		var found *MapMeta
		for i := range maps {
			if maps[i].ID == mapID {
				found = &maps[i]
			}
		}
		require.NotNil(t, found, "карта не найдена в списке")
		assert.Equal(t, "Подземелье", found.Name)
		assert.Equal(t, "hex", found.Metric)
		assert.Equal(t, 8, found.CellSize)
		assert.JSONEq(t, `{"type":"object"}`, found.PayloadSchema)
	})

	t.Run("Save and load tiles", func(t *testing.T) {
		tiles := []visibility.Tile{
			{Coord: vec.Vec2{X: 2, Y: 1}, Payload: map[string]interface{}{"terrain": "forest"}},
			{Coord: vec.Vec2{X: -3, Y: 0}},
			{Coord: vec.Vec2{X: 0, Y: 1}, Payload: map[string]interface{}{"terrain": "water"}},
		}
		require.NoError(t, repo.SaveTiles(ctx, mapID, tiles))

		loaded, err := repo.LoadTiles(ctx, mapID)
		require.NoError(t, err)
		require.Len(t, loaded, 3)

		// Порядок (Y, X)
		assert.Equal(t, vec.Vec2{X: -3, Y: 0}, loaded[0].Coord)
		assert.Equal(t, vec.Vec2{X: 0, Y: 1}, loaded[1].Coord)
		assert.Equal(t, vec.Vec2{X: 2, Y: 1}, loaded[2].Coord)
		assert.Equal(t, "water", loaded[1].Payload["terrain"])
		assert.Empty(t, loaded[0].Payload)
	})

	t.Run("Last write wins", func(t *testing.T) {
		tile := visibility.Tile{Coord: vec.Vec2{X: 2, Y: 1}, Payload: map[string]interface{}{"terrain": "road"}}
		require.NoError(t, repo.SaveTile(ctx, mapID, tile))

		loaded, err := repo.LoadTiles(ctx, mapID)
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		assert.Equal(t, "road", loaded[2].Payload["terrain"])
	})

	t.Run("Delete tile", func(t *testing.T) {
		require.NoError(t, repo.DeleteTile(ctx, mapID, vec.Vec2{X: -3, Y: 0}))
		// Повторное удаление не ошибка
		require.NoError(t, repo.DeleteTile(ctx, mapID, vec.Vec2{X: -3, Y: 0}))

		loaded, err := repo.LoadTiles(ctx, mapID)
		require.NoError(t, err)
		assert.Len(t, loaded, 2)
	})
}

func TestMemoryTileRepo(t *testing.T) {
	repo := NewMemoryTileRepo()
	defer repo.Close()

	testTileRepo(t, repo)
}

func TestMemoryTileRepoCancelledContext(t *testing.T) {
	repo := NewMemoryTileRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.SaveMap(ctx, MapMeta{ID: "m"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerTileRepo(t *testing.T) {
	repo, err := NewInMemoryBadgerTileRepo()
	require.NoError(t, err)
	defer repo.Close()

	testTileRepo(t, repo)
}

func TestBadgerTileRepoPrefixIsolation(t *testing.T) {
	repo, err := NewInMemoryBadgerTileRepo()
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	require.NoError(t, repo.SaveMap(ctx, MapMeta{ID: "a", Name: "a", Metric: "chebyshev"}))
	require.NoError(t, repo.SaveMap(ctx, MapMeta{ID: "a:b", Name: "a:b", Metric: "chebyshev"}))
	require.NoError(t, repo.SaveTile(ctx, "a:b", visibility.Tile{Coord: vec.Vec2{X: 7, Y: 7}}))
	require.NoError(t, repo.SaveTile(ctx, "a", visibility.Tile{Coord: vec.Vec2{X: 1, Y: 2}}))

	tiles, err := repo.LoadTiles(ctx, "a")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, vec.Vec2{X: 1, Y: 2}, tiles[0].Coord)

	tiles, err = repo.LoadTiles(ctx, "a:b")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, vec.Vec2{X: 7, Y: 7}, tiles[0].Coord)
}

func TestBadgerTileRepoReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewBadgerTileRepo(dir)
	require.NoError(t, err)
	require.NoError(t, repo.SaveMap(ctx, MapMeta{ID: "persist", Name: "p", Metric: "chebyshev"}))
	require.NoError(t, repo.SaveTile(ctx, "persist", visibility.Tile{Coord: vec.Vec2{X: 5, Y: -5}}))
	require.NoError(t, repo.Close())
	// Повторное закрытие безопасно
	require.NoError(t, repo.Close())

	repo, err = NewBadgerTileRepo(dir)
	require.NoError(t, err)
	defer repo.Close()

	tiles, err := repo.LoadTiles(ctx, "persist")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, vec.Vec2{X: 5, Y: -5}, tiles[0].Coord)
}

func TestMongoTileRepo(t *testing.T) {
	uri := os.Getenv("RPG_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("RPG_TEST_MONGO_URI не задан, пропускаем тест MongoDB")
	}

	repo, err := NewMongoTileRepo(MongoConfig{URI: uri, Database: "rpg_companion_test"})
	if err != nil {
		t.Skipf("MongoDB недоступна: %v", err)
	}
	defer repo.Close()

	testTileRepo(t, repo)
}

func TestMariaTileRepo(t *testing.T) {
	dsn := os.Getenv("RPG_TEST_MARIA_DSN")
	if dsn == "" {
		t.Skip("RPG_TEST_MARIA_DSN не задан, пропускаем тест MariaDB")
	}

	repo, err := NewMariaTileRepo(dsn)
	if err != nil {
		t.Skipf("MariaDB недоступна: %v", err)
	}
	defer repo.Close()

	testTileRepo(t, repo)
}

func TestPostgresTileRepo(t *testing.T) {
	dsn := os.Getenv("RPG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RPG_TEST_POSTGRES_DSN не задан, пропускаем тест PostgreSQL")
	}

	repo, err := NewPostgresTileRepo(dsn)
	if err != nil {
		t.Skipf("PostgreSQL недоступна: %v", err)
	}
	defer repo.Close()

	testTileRepo(t, repo)
}

func TestOpen(t *testing.T) {
	repo, err := Open(config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryTileRepo{}, repo)

	repo, err = Open(config.StorageConfig{Driver: "badger", DataPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &BadgerTileRepo{}, repo)
	require.NoError(t, repo.Close())

	_, err = Open(config.StorageConfig{Driver: "cassandra"})
	assert.Error(t, err)
}
