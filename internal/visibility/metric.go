package visibility

import (
	"fmt"
	"math"
	"strings"

	"github.com/annel0/rpg-companion/internal/vec"
)

// CoordSystem система координат карты. Карта использует одну систему всё время жизни.
type CoordSystem string

const (
	// CoordCartesian смещённые/декартовы координаты {x, y}
	CoordCartesian CoordSystem = "cartesian"
	// CoordHex осевые гекс-координаты {q, r}
	CoordHex CoordSystem = "hex"
)

// Metric функция расстояния для конкретной системы координат и правила смежности.
//
// Все реализации удовлетворяют |a.X-b.X| <= Distance(a, b) и |a.Y-b.Y| <= Distance(a, b),
// на этом построен отбор ячеек-кандидатов в TileIndex.
type Metric interface {
	// Name возвращает имя метрики для конфигурации и логов
	Name() string
	// System возвращает систему координат, к которой применима метрика
	System() CoordSystem
	// Distance возвращает расстояние между двумя координатами
	Distance(a, b vec.Vec2) float64
}

// Встроенные метрики
var (
	// Chebyshev сетка с 8 соседями (диагональ стоит 1)
	Chebyshev Metric = chebyshevMetric{}
	// Manhattan сетка с 4 соседями
	Manhattan Metric = manhattanMetric{}
	// Euclidean евклидово расстояние между центрами клеток
	Euclidean Metric = euclideanMetric{}
	// Hex осевые гекс-координаты, 6 соседей
	Hex Metric = hexMetric{}
)

var metricsByName = map[string]Metric{
	Chebyshev.Name(): Chebyshev,
	Manhattan.Name(): Manhattan,
	Euclidean.Name(): Euclidean,
	Hex.Name():       Hex,
}

// MetricByName возвращает метрику по имени (регистр не важен).
// Пустое имя означает Chebyshev.
func MetricByName(name string) (Metric, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Chebyshev, nil
	}
	m, ok := metricsByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return m, nil
}

type chebyshevMetric struct{}

func (chebyshevMetric) Name() string        { return "chebyshev" }
func (chebyshevMetric) System() CoordSystem { return CoordCartesian }
func (chebyshevMetric) Distance(a, b vec.Vec2) float64 {
	return math.Max(axisDelta(a.X, b.X), axisDelta(a.Y, b.Y))
}

type manhattanMetric struct{}

func (manhattanMetric) Name() string        { return "manhattan" }
func (manhattanMetric) System() CoordSystem { return CoordCartesian }
func (manhattanMetric) Distance(a, b vec.Vec2) float64 {
	return axisDelta(a.X, b.X) + axisDelta(a.Y, b.Y)
}

type euclideanMetric struct{}

func (euclideanMetric) Name() string        { return "euclidean" }
func (euclideanMetric) System() CoordSystem { return CoordCartesian }
func (euclideanMetric) Distance(a, b vec.Vec2) float64 {
	dx, dy := axisDelta(a.X, b.X), axisDelta(a.Y, b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

type hexMetric struct{}

func (hexMetric) Name() string        { return "hex" }
func (hexMetric) System() CoordSystem { return CoordHex }
func (hexMetric) Distance(a, b vec.Vec2) float64 {
	dq := float64(a.X) - float64(b.X)
	dr := float64(a.Y) - float64(b.Y)
	return (math.Abs(dq) + math.Abs(dr) + math.Abs(dq+dr)) / 2
}

// axisDelta модуль разности по оси во float64: int-разность переполняется
// у краёв диапазона и меняет знак
func axisDelta(a, b int) float64 {
	return math.Abs(float64(a) - float64(b))
}

// maxExtent ограничивает полуразмер окна поиска, дальше индекс просто обходит все ячейки
const maxExtent = 1 << 30

// extent возвращает полуразмер квадрата, гарантированно покрывающего круг радиуса radius
func extent(radius float64) (int, bool) {
	if math.IsInf(radius, 1) || radius > maxExtent {
		return 0, false
	}
	return int(math.Floor(radius)), true
}
