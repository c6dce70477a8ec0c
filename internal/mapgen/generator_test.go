package mapgen

import (
	"testing"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRect(t *testing.T) {
	tiles, err := NewGenerator(1).Generate(visibility.Chebyshev, Shape{Width: 8, Height: 6})
	require.NoError(t, err)
	require.Len(t, tiles, 48)

	assert.Equal(t, vec.Vec2{X: -4, Y: -3}, tiles[0].Coord)
	assert.Equal(t, vec.Vec2{X: 3, Y: 2}, tiles[len(tiles)-1].Coord)

	for i := 1; i < len(tiles); i++ {
		assert.True(t, tiles[i-1].Coord.Less(tiles[i].Coord), "тайлы должны идти в порядке (Y, X)")
	}
}

func TestGenerateHexagon(t *testing.T) {
	tiles, err := NewGenerator(1).Generate(visibility.Hex, Shape{Radius: 4})
	require.NoError(t, err)
	// 1 + 3*r*(r+1)
	require.Len(t, tiles, 61)

	origin := vec.Vec2{}
	for _, tile := range tiles {
		assert.LessOrEqual(t, visibility.Hex.Distance(origin, tile.Coord), 4.0)
	}

	// Весь шестиугольник попадает в запрос индекса тем же радиусом
	index := visibility.NewTileIndex(visibility.Hex, 0)
	for _, tile := range tiles {
		index.Insert(tile)
	}
	found, err := index.QueryRadius(origin, 4)
	require.NoError(t, err)
	assert.Len(t, found, 61)
}

func TestGenerateDeterministic(t *testing.T) {
	first, err := NewGenerator(7).Generate(visibility.Manhattan, Shape{Width: 10, Height: 10})
	require.NoError(t, err)
	second, err := NewGenerator(7).Generate(visibility.Manhattan, Shape{Width: 10, Height: 10})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGeneratePayload(t *testing.T) {
	tiles, err := NewGenerator(3).Generate(nil, Shape{Width: 16, Height: 16})
	require.NoError(t, err)

	known := map[string]bool{}
	for _, terrain := range []Terrain{TerrainDeepWater, TerrainWater, TerrainPlains, TerrainDesert,
		TerrainForest, TerrainHills, TerrainMountains} {
		known[string(terrain)] = true
	}

	for _, tile := range tiles {
		terrain, ok := tile.Payload[KeyTerrain].(string)
		require.True(t, ok)
		assert.True(t, known[terrain], "неизвестная местность %s", terrain)

		elevation, ok := tile.Payload[KeyElevation].(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, elevation, 0.0)
		assert.LessOrEqual(t, elevation, 1.0)
	}
}

func TestGenerateInvalidShape(t *testing.T) {
	_, err := NewGenerator(1).Generate(visibility.Euclidean, Shape{Width: 0, Height: 5})
	assert.Error(t, err)

	_, err = NewGenerator(1).Generate(visibility.Hex, Shape{Radius: -1})
	assert.Error(t, err)

	tiles, err := NewGenerator(1).Generate(visibility.Hex, Shape{Radius: 0})
	require.NoError(t, err)
	assert.Len(t, tiles, 1)
}

func TestTerrainFor(t *testing.T) {
	tests := []struct {
		elevation, biome float64
		want             Terrain
	}{
		{0.1, 0.5, TerrainDeepWater},
		{0.25, 0.5, TerrainWater},
		{0.5, 0.1, TerrainDesert},
		{0.5, 0.9, TerrainForest},
		{0.5, 0.5, TerrainPlains},
		{0.7, 0.5, TerrainHills},
		{0.9, 0.5, TerrainMountains},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, terrainFor(tt.elevation, tt.biome))
	}
}
