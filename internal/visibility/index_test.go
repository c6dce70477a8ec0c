package visibility

import (
	"math"
	"math/rand"
	"testing"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coords(tiles []*Tile) []vec.Vec2 {
	result := make([]vec.Vec2, 0, len(tiles))
	for _, t := range tiles {
		result = append(result, t.Coord)
	}
	return result
}

func newIndexWith(metric Metric, cellSize int, points ...vec.Vec2) *TileIndex {
	idx := NewTileIndex(metric, cellSize)
	for _, p := range points {
		idx.Insert(Tile{Coord: p})
	}
	return idx
}

func TestQueryRadiusChebyshevScenario(t *testing.T) {
	idx := newIndexWith(Chebyshev, 0, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 1, Y: 0}, vec.Vec2{X: 5, Y: 5})

	tiles, err := idx.QueryRadius(vec.Vec2{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}}, coords(tiles))
}

func TestQueryRadiusHexScenario(t *testing.T) {
	idx := newIndexWith(Hex, 0,
		vec.Hex{Q: 0, R: 0}.ToVec2(),
		vec.Hex{Q: 1, R: -1}.ToVec2(),
		vec.Hex{Q: 3, R: 0}.ToVec2(),
	)

	tiles, err := idx.QueryRadius(vec.Vec2{}, 1)
	require.NoError(t, err)
	// (1,-1) отсортирован раньше, потому что r = -1
	assert.ElementsMatch(t, []vec.Vec2{{X: 0, Y: 0}, {X: 1, Y: -1}}, coords(tiles))
}

func TestQueryRadiusNegativeRadius(t *testing.T) {
	idx := newIndexWith(Chebyshev, 0, vec.Vec2{})

	_, err := idx.QueryRadius(vec.Vec2{}, -1)
	assert.ErrorIs(t, err, ErrInvalidRadius)

	_, err = idx.QueryRadius(vec.Vec2{}, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidRadius)

	// Пустой индекс тоже отвергает отрицательный радиус
	_, err = NewTileIndex(Hex, 0).QueryRadius(vec.Vec2{}, -0.5)
	assert.ErrorIs(t, err, ErrInvalidRadius)
}

func TestQueryRadiusEmptyIndex(t *testing.T) {
	tiles, err := NewTileIndex(Euclidean, 0).QueryRadius(vec.Vec2{X: 3, Y: 3}, 100)
	require.NoError(t, err)
	assert.NotNil(t, tiles)
	assert.Empty(t, tiles)
}

func TestQueryRadiusZero(t *testing.T) {
	idx := newIndexWith(Manhattan, 4, vec.Vec2{X: 2, Y: 2}, vec.Vec2{X: 2, Y: 3})

	tiles, err := idx.QueryRadius(vec.Vec2{X: 2, Y: 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec2{{X: 2, Y: 2}}, coords(tiles))

	// Центр без тайла - допустимый запрос
	tiles, err = idx.QueryRadius(vec.Vec2{X: 9, Y: 9}, 0)
	require.NoError(t, err)
	assert.Empty(t, tiles)
}

func TestQueryRadiusInfinite(t *testing.T) {
	idx := newIndexWith(Euclidean, 8, vec.Vec2{X: -1000, Y: 1000}, vec.Vec2{X: 5, Y: 5})

	tiles, err := idx.QueryRadius(vec.Vec2{}, math.Inf(1))
	require.NoError(t, err)
	assert.Len(t, tiles, 2)
}

func TestInsertReplacesAndRemove(t *testing.T) {
	idx := NewTileIndex(Chebyshev, 0)
	coord := vec.Vec2{X: -17, Y: 33}

	idx.Insert(Tile{Coord: coord, Payload: map[string]interface{}{"terrain": "grass"}})
	v1 := idx.Version()
	idx.Insert(Tile{Coord: coord, Payload: map[string]interface{}{"terrain": "water"}})

	assert.Equal(t, 1, idx.Len())
	assert.Greater(t, idx.Version(), v1)

	tile, ok := idx.Get(coord)
	require.True(t, ok)
	assert.Equal(t, "water", tile.Payload["terrain"])

	idx.Remove(coord)
	idx.Remove(coord) // повторное удаление не ошибка
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, idx.CellCount())

	_, ok = idx.Get(coord)
	assert.False(t, ok)
}

func TestNegativeCoordinatesCells(t *testing.T) {
	idx := newIndexWith(Chebyshev, 16, vec.Vec2{X: -1, Y: -1}, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: -16, Y: -16}, vec.Vec2{X: -17, Y: 0})

	// (-1,-1) и (-16,-16) в одной ячейке, (0,0) и (-17,0) в своих
	assert.Equal(t, 3, idx.CellCount())

	tiles, err := idx.QueryRadius(vec.Vec2{X: 0, Y: 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec2{{X: -1, Y: -1}, {X: 0, Y: 0}}, coords(tiles))
}

// bruteForce эталонный линейный проход
func bruteForce(points []vec.Vec2, metric Metric, center vec.Vec2, radius float64) map[vec.Vec2]bool {
	result := make(map[vec.Vec2]bool)
	for _, p := range points {
		if metric.Distance(center, p) <= radius {
			result[p] = true
		}
	}
	return result
}

func TestQueryRadiusMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, metric := range []Metric{Chebyshev, Manhattan, Euclidean, Hex} {
		t.Run(metric.Name(), func(t *testing.T) {
			idx := NewTileIndex(metric, 7)
			seen := make(map[vec.Vec2]bool)
			var points []vec.Vec2
			for i := 0; i < 2000; i++ {
				p := vec.Vec2{X: rng.Intn(200) - 100, Y: rng.Intn(200) - 100}
				idx.Insert(Tile{Coord: p})
				if !seen[p] {
					seen[p] = true
					points = append(points, p)
				}
			}

			for i := 0; i < 200; i++ {
				center := vec.Vec2{X: rng.Intn(240) - 120, Y: rng.Intn(240) - 120}
				radius := rng.Float64() * 40

				tiles, err := idx.QueryRadius(center, radius)
				require.NoError(t, err)

				expected := bruteForce(points, metric, center, radius)
				require.Len(t, tiles, len(expected), "center=%v radius=%.2f", center, radius)
				for _, tile := range tiles {
					assert.True(t, expected[tile.Coord], "лишний тайл %v", tile.Coord)
				}
			}
		})
	}
}

func TestQueryRadiusDeterministic(t *testing.T) {
	idx := NewTileIndex(Hex, 0)
	for q := -10; q <= 10; q++ {
		for r := -10; r <= 10; r++ {
			idx.Insert(Tile{Coord: vec.Vec2{X: q, Y: r}})
		}
	}

	first, err := idx.QueryRadius(vec.Vec2{X: 2, Y: -3}, 4)
	require.NoError(t, err)
	second, err := idx.QueryRadius(vec.Vec2{X: 2, Y: -3}, 4)
	require.NoError(t, err)

	assert.Equal(t, coords(first), coords(second))
	// Гекс радиуса 4 содержит 1 + 3*4*5 = 61 клетку
	assert.Len(t, first, 61)
}

func TestIndexStats(t *testing.T) {
	idx := newIndexWith(Chebyshev, 2, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 1, Y: 1}, vec.Vec2{X: 5, Y: 5})
	assert.Contains(t, idx.Stats(), "3 tiles, 2 cells")
	assert.Len(t, idx.Tiles(), 3)
}

func TestQueryRadiusExtremeCoordinates(t *testing.T) {
	far := vec.Vec2{X: math.MaxInt - 1, Y: 0}
	idx := newIndexWith(Chebyshev, 0, vec.Vec2{}, far, vec.Vec2{X: math.MinInt, Y: math.MinInt})

	tiles, err := idx.QueryRadius(vec.Vec2{X: math.MaxInt - 2}, 5)
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec2{far}, coords(tiles))

	tiles, err = idx.QueryRadius(vec.Vec2{X: math.MinInt + 1, Y: math.MinInt + 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec2{{X: math.MinInt, Y: math.MinInt}}, coords(tiles))

	// Начало координат не попадает в окно у края диапазона
	tiles, err = idx.QueryRadius(vec.Vec2{X: math.MaxInt, Y: math.MaxInt}, 10)
	require.NoError(t, err)
	assert.Empty(t, tiles)
}

func TestQueryRadiusMaxIntCellSizeOne(t *testing.T) {
	corner := vec.Vec2{X: math.MaxInt, Y: math.MaxInt}
	// Занятых ячеек больше, чем в окне 2x2, поэтому обходятся именно кандидаты
	idx := newIndexWith(Chebyshev, 1, corner, vec.Vec2{X: math.MaxInt - 1, Y: math.MaxInt},
		vec.Vec2{}, vec.Vec2{X: 0, Y: 1}, vec.Vec2{X: 0, Y: 2})
	cells, bounded := idx.candidateCells(corner, 1)
	require.True(t, bounded)
	assert.Len(t, cells, 4)

	tiles, err := idx.QueryRadius(corner, 1)
	require.NoError(t, err)
	assert.Len(t, tiles, 2)
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, math.MaxInt, saturatingAdd(math.MaxInt-2, 5))
	assert.Equal(t, math.MinInt, saturatingAdd(math.MinInt+2, -5))
	assert.Equal(t, 7, saturatingAdd(2, 5))
	assert.Equal(t, -3, saturatingAdd(2, -5))
}
