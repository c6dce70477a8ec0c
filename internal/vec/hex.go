package vec

import "math"

// Hex представляет координаты гекса в осевой системе (q, r).
// Третья кубическая координата вычисляется: s = -q - r.
type Hex struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// HexDirections шесть смещений к соседям в осевых координатах
var HexDirections = [6]Hex{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// HexFromVec2 интерпретирует ключ индекса как осевые координаты
func HexFromVec2(v Vec2) Hex {
	return Hex{Q: v.X, R: v.Y}
}

// ToVec2 упаковывает гекс в ключ индекса (X=q, Y=r)
func (h Hex) ToVec2() Vec2 {
	return Vec2{X: h.Q, Y: h.R}
}

// S возвращает третью кубическую координату
func (h Hex) S() int {
	return -h.Q - h.R
}

// Neighbors возвращает шесть соседних гексов
func (h Hex) Neighbors() [6]Hex {
	var result [6]Hex
	for i, dir := range HexDirections {
		result[i] = Hex{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// DistanceTo возвращает гексагональное расстояние:
// (|q1-q2| + |r1-r2| + |(q1+r1)-(q2+r2)|) / 2
func (h Hex) DistanceTo(other Hex) int {
	dq := h.Q - other.Q
	dr := h.R - other.R
	return (absInt(dq) + absInt(dr) + absInt(dq+dr)) / 2
}

// ToPixel переводит центр гекса (pointy-top, размер 1) в плоские координаты
func (h Hex) ToPixel() Vec2Float {
	x := math.Sqrt(3) * (float64(h.Q) + float64(h.R)/2)
	y := 1.5 * float64(h.R)
	return Vec2Float{X: x, Y: y}
}
