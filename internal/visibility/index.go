package visibility

import (
	"fmt"
	"math"
	"sort"

	"github.com/annel0/rpg-companion/internal/vec"
)

// DefaultCellSize размер ячейки сетки по умолчанию (в тайлах)
const DefaultCellSize = 16

// TileIndex пространственный индекс тайлов на сетке ячеек.
//
// Индекс не синхронизирован: параллельные чтения безопасны, а Insert/Remove
// вызывающая сторона должна сериализовать относительно QueryRadius
// (один писатель, много читателей).
type TileIndex struct {
	metric   Metric
	cellSize int
	cells    map[cellKey]map[vec.Vec2]*Tile
	tiles    map[vec.Vec2]*Tile
	version  uint64
}

// cellKey ключ ячейки пространственной сетки
type cellKey struct {
	x, y int
}

// NewTileIndex создаёт пустой индекс для заданной метрики
func NewTileIndex(metric Metric, cellSize int) *TileIndex {
	if metric == nil {
		metric = Chebyshev
	}
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}

	return &TileIndex{
		metric:   metric,
		cellSize: cellSize,
		cells:    make(map[cellKey]map[vec.Vec2]*Tile),
		tiles:    make(map[vec.Vec2]*Tile),
	}
}

// Metric возвращает метрику индекса
func (ti *TileIndex) Metric() Metric {
	return ti.metric
}

// Insert добавляет тайл или заменяет тайл с той же координатой (last-write-wins)
func (ti *TileIndex) Insert(tile Tile) {
	stored := &tile
	key := ti.cellOf(tile.Coord)

	cell, exists := ti.cells[key]
	if !exists {
		cell = make(map[vec.Vec2]*Tile)
		ti.cells[key] = cell
	}
	cell[tile.Coord] = stored
	ti.tiles[tile.Coord] = stored
	ti.version++
}

// Remove удаляет тайл по координате; отсутствие тайла не ошибка
func (ti *TileIndex) Remove(coord vec.Vec2) {
	if _, exists := ti.tiles[coord]; !exists {
		return
	}
	delete(ti.tiles, coord)

	key := ti.cellOf(coord)
	if cell, exists := ti.cells[key]; exists {
		delete(cell, coord)
		if len(cell) == 0 {
			delete(ti.cells, key)
		}
	}
	ti.version++
}

// Get возвращает тайл по координате
func (ti *TileIndex) Get(coord vec.Vec2) (*Tile, bool) {
	tile, ok := ti.tiles[coord]
	return tile, ok
}

// QueryRadius возвращает все тайлы, для которых distance(center, coord) <= radius.
// Результат без дубликатов и отсортирован по (Y, X).
func (ti *TileIndex) QueryRadius(center vec.Vec2, radius float64) ([]*Tile, error) {
	if err := ValidateRadius(radius); err != nil {
		return nil, err
	}

	result := make([]*Tile, 0)
	if len(ti.tiles) == 0 {
		return result, nil
	}

	collect := func(cell map[vec.Vec2]*Tile) {
		for coord, tile := range cell {
			if ti.metric.Distance(center, coord) <= radius {
				result = append(result, tile)
			}
		}
	}

	candidates, bounded := ti.candidateCells(center, radius)
	if bounded {
		for _, key := range candidates {
			if cell, exists := ti.cells[key]; exists {
				collect(cell)
			}
		}
	} else {
		// Окно поиска больше занятой области - дешевле пройти по всем ячейкам
		for _, cell := range ti.cells {
			collect(cell)
		}
	}

	sortTiles(result)
	return result, nil
}

// Tiles возвращает снимок всех тайлов в детерминированном порядке
func (ti *TileIndex) Tiles() []*Tile {
	result := make([]*Tile, 0, len(ti.tiles))
	for _, tile := range ti.tiles {
		result = append(result, tile)
	}
	sortTiles(result)
	return result
}

// Len возвращает количество тайлов
func (ti *TileIndex) Len() int {
	return len(ti.tiles)
}

// CellCount возвращает количество занятых ячеек
func (ti *TileIndex) CellCount() int {
	return len(ti.cells)
}

// Version увеличивается при каждом изменении индекса.
// По версии вызывающая сторона понимает, что закешированный VisibleSet устарел.
func (ti *TileIndex) Version() uint64 {
	return ti.version
}

// Stats возвращает статистику индекса
func (ti *TileIndex) Stats() string {
	maxPerCell := 0
	for _, cell := range ti.cells {
		if len(cell) > maxPerCell {
			maxPerCell = len(cell)
		}
	}

	avgPerCell := 0.0
	if len(ti.cells) > 0 {
		avgPerCell = float64(len(ti.tiles)) / float64(len(ti.cells))
	}

	return fmt.Sprintf("TileIndex Stats: metric=%s, %d tiles, %d cells, avg %.2f tiles/cell, max %d tiles/cell",
		ti.metric.Name(), len(ti.tiles), len(ti.cells), avgPerCell, maxPerCell)
}

// Вспомогательные методы

// candidateCells возвращает ячейки, пересекающиеся с квадратом center ± floor(radius).
// bounded=false означает, что выгоднее обойти все занятые ячейки.
func (ti *TileIndex) candidateCells(center vec.Vec2, radius float64) ([]cellKey, bool) {
	ext, ok := extent(radius)
	if !ok {
		return nil, false
	}

	// У краёв диапазона int окно обрезается, а не переполняется
	minCell := ti.cellOf(vec.Vec2{X: saturatingAdd(center.X, -ext), Y: saturatingAdd(center.Y, -ext)})
	maxCell := ti.cellOf(vec.Vec2{X: saturatingAdd(center.X, ext), Y: saturatingAdd(center.Y, ext)})

	spanX := int64(maxCell.x) - int64(minCell.x) + 1
	spanY := int64(maxCell.y) - int64(minCell.y) + 1
	if spanX <= 0 || spanY <= 0 || spanX > int64(len(ti.cells)) || spanY > int64(len(ti.cells)) {
		return nil, false
	}
	span := spanX * spanY
	if span <= 0 || span > int64(len(ti.cells)) {
		return nil, false
	}

	cells := make([]cellKey, 0, span)
	// Счётчики вместо x <= maxCell.x: при cellSize 1 граница может быть MaxInt
	for i := int64(0); i < spanX; i++ {
		for j := int64(0); j < spanY; j++ {
			cells = append(cells, cellKey{x: minCell.x + int(i), y: minCell.y + int(j)})
		}
	}
	return cells, true
}

// cellOf возвращает ячейку для координаты с корректным округлением отрицательных значений
func (ti *TileIndex) cellOf(coord vec.Vec2) cellKey {
	return cellKey{x: floorDiv(coord.X, ti.cellSize), y: floorDiv(coord.Y, ti.cellSize)}
}

// saturatingAdd складывает с насыщением на границах int
func saturatingAdd(a, b int) int {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return math.MaxInt
	case b < 0 && a < math.MinInt-b:
		return math.MinInt
	}
	return a + b
}

func floorDiv(v, size int) int {
	q := v / size
	if v%size != 0 && v < 0 {
		q--
	}
	return q
}

func sortTiles(tiles []*Tile) {
	sort.Slice(tiles, func(i, j int) bool {
		return tiles[i].Coord.Less(tiles[j].Coord)
	})
}
