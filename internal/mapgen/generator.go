package mapgen

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// Terrain тип местности тайла
type Terrain string

const (
	TerrainDeepWater Terrain = "deep_water"
	TerrainWater     Terrain = "water"
	TerrainPlains    Terrain = "plains"
	TerrainDesert    Terrain = "desert"
	TerrainForest    Terrain = "forest"
	TerrainHills     Terrain = "hills"
	TerrainMountains Terrain = "mountains"
)

// Константы высот для генерации
const (
	DeepWaterMax    = 0.20 // Ниже - глубинная вода
	ShallowWaterMax = 0.30 // Ниже - мелководье
	HillsStart      = 0.60 // Выше - холмы
	MountainStart   = 0.80 // Выше - горы
)

// Ключи payload сгенерированного тайла
const (
	KeyTerrain   = "terrain"
	KeyElevation = "elevation"
	KeyFeature   = "feature"
)

// Shape форма генерируемой области.
// Для декартовых карт используется прямоугольник Width x Height с центром в начале координат,
// для гексагональных - шестиугольник радиуса Radius.
type Shape struct {
	Width  int
	Height int
	Radius int
}

// Generator генерирует ландшафт карты
type Generator struct {
	Seed          int64   // Сид для генерации шума
	NoiseScale    float64 // Масштаб основного шума (высота)
	BiomeScale    float64 // Масштаб шума биомов
	ForestDensity float64 // Плотность деревьев на равнинах (от 0 до 1)

	height *noise2D
	biome  *noise2D
}

// NewGenerator создаёт новый генератор
func NewGenerator(seed int64) *Generator {
	return &Generator{
		Seed:          seed,
		NoiseScale:    0.08, // Настройка сглаженности ландшафта
		BiomeScale:    0.03, // Настройка размера биомов
		ForestDensity: 0.05, // 5% шанс появления деревьев на равнинах
		height:        newNoise2D(seed),
		biome:         newNoise2D(seed + 42),
	}
}

// Generate создаёт тайлы области в системе координат метрики.
// Результат детерминирован для одного сида и отсортирован по (Y, X).
func (g *Generator) Generate(metric visibility.Metric, shape Shape) ([]visibility.Tile, error) {
	if metric == nil {
		metric = visibility.Chebyshev
	}

	if metric.System() == visibility.CoordHex {
		if shape.Radius < 0 {
			return nil, fmt.Errorf("mapgen: negative hex radius %d", shape.Radius)
		}
		return g.generateHexagon(shape.Radius), nil
	}

	if shape.Width <= 0 || shape.Height <= 0 {
		return nil, fmt.Errorf("mapgen: invalid size %dx%d", shape.Width, shape.Height)
	}
	return g.generateRect(shape.Width, shape.Height), nil
}

func (g *Generator) generateRect(width, height int) []visibility.Tile {
	tiles := make([]visibility.Tile, 0, width*height)
	startX, startY := -width/2, -height/2

	for y := startY; y < startY+height; y++ {
		for x := startX; x < startX+width; x++ {
			pos := vec.Vec2{X: x, Y: y}
			tiles = append(tiles, g.tileAt(pos, float64(x), float64(y)))
		}
	}
	return tiles
}

func (g *Generator) generateHexagon(radius int) []visibility.Tile {
	tiles := make([]visibility.Tile, 0, 1+3*radius*(radius+1))

	// Порядок по r, затем по q совпадает с порядком индекса (Y, X)
	for r := -radius; r <= radius; r++ {
		qMin := maxInt(-radius, -r-radius)
		qMax := minInt(radius, -r+radius)
		for q := qMin; q <= qMax; q++ {
			hex := vec.Hex{Q: q, R: r}
			pixel := hex.ToPixel()
			tiles = append(tiles, g.tileAt(hex.ToVec2(), pixel.X, pixel.Y))
		}
	}
	return tiles
}

// tileAt вычисляет тайл по плоским координатам сэмплирования шума
func (g *Generator) tileAt(pos vec.Vec2, sx, sy float64) visibility.Tile {
	elevation := g.height.at(sx*g.NoiseScale, sy*g.NoiseScale)
	biomeValue := g.biome.at(sx*g.BiomeScale, sy*g.BiomeScale)
	terrain := terrainFor(elevation, biomeValue)

	payload := map[string]interface{}{
		KeyTerrain:   string(terrain),
		KeyElevation: math.Round(elevation*1000) / 1000,
	}

	// Локальный генератор случайных чисел для детерминированности:
	// уникальный сид на основе глобального сида и координат
	rng := rand.New(rand.NewSource(g.Seed + int64(pos.X)*31 + int64(pos.Y)*17))
	if feature := featureFor(terrain, g.ForestDensity, rng); feature != "" {
		payload[KeyFeature] = feature
	}

	return visibility.Tile{Coord: pos, Payload: payload}
}

// terrainFor определяет местность на основе высоты и значения биома
func terrainFor(elevation, biomeValue float64) Terrain {
	switch {
	case elevation < DeepWaterMax:
		return TerrainDeepWater
	case elevation < ShallowWaterMax:
		return TerrainWater
	case elevation >= MountainStart:
		return TerrainMountains
	case elevation >= HillsStart:
		return TerrainHills
	}

	// Для средних высот выбираем биом на основе biomeValue
	switch {
	case biomeValue < 0.35:
		return TerrainDesert
	case biomeValue > 0.65:
		return TerrainForest
	}
	return TerrainPlains
}

// featureFor добавляет объекты на сушу
func featureFor(terrain Terrain, forestDensity float64, rng *rand.Rand) string {
	roll := rng.Float64()
	switch terrain {
	case TerrainForest:
		if roll < 0.15 { // 15% шанс дерева в лесу
			return "tree"
		}
	case TerrainPlains:
		if roll < forestDensity {
			return "tree"
		}
	case TerrainDesert:
		if roll < 0.02 { // 2% шанс кактуса в пустыне
			return "cactus"
		}
	case TerrainMountains:
		if roll < 0.1 { // 10% шанс руды
			return "ore"
		}
	}
	return ""
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
