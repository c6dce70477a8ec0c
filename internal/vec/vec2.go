package vec

import "math"

// Vec2 представляет целочисленные 2D координаты тайла.
// Для гексагональных карт X хранит q, а Y хранит r (см. Hex).
type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Abs возвращает покомпонентный модуль
func (v Vec2) Abs() Vec2 {
	return Vec2{X: absInt(v.X), Y: absInt(v.Y)}
}

// Less задаёт детерминированный порядок: сначала по Y, затем по X
func (v Vec2) Less(other Vec2) bool {
	if v.Y != other.Y {
		return v.Y < other.Y
	}
	return v.X < other.X
}

// DistanceTo вычисляет евклидово расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// ChebyshevTo вычисляет расстояние Чебышёва (8 соседей)
func (v Vec2) ChebyshevTo(other Vec2) int {
	d := v.Sub(other).Abs()
	if d.X > d.Y {
		return d.X
	}
	return d.Y
}

// ManhattanTo вычисляет манхэттенское расстояние (4 соседа)
func (v Vec2) ManhattanTo(other Vec2) int {
	d := v.Sub(other).Abs()
	return d.X + d.Y
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
