package visibility

import (
	"fmt"

	"github.com/annel0/rpg-companion/internal/vec"
)

// MaxCoordinate предельный модуль компоненты координаты, принимаемой извне.
// Разности таких координат и окна поиска вокруг них помещаются в int.
const MaxCoordinate = 1 << 30

// CoordInput координата в том виде, в котором она приходит извне (JSON).
// Указатели позволяют отличить отсутствующее поле от нуля.
type CoordInput struct {
	X *int `json:"x,omitempty"`
	Y *int `json:"y,omitempty"`
	Q *int `json:"q,omitempty"`
	R *int `json:"r,omitempty"`
}

// ParseCoord проверяет форму координаты для системы координат карты.
// Декартова координата обязана иметь x и y, гекс - q и r; смешивать нельзя.
func ParseCoord(system CoordSystem, in CoordInput) (vec.Vec2, error) {
	switch system {
	case CoordHex:
		if in.Q == nil || in.R == nil {
			return vec.Vec2{}, fmt.Errorf("%w: hex coordinate requires q and r", ErrInvalidCoordinate)
		}
		if in.X != nil || in.Y != nil {
			return vec.Vec2{}, fmt.Errorf("%w: hex coordinate must not contain x/y", ErrInvalidCoordinate)
		}
		if err := checkRange(*in.Q, *in.R); err != nil {
			return vec.Vec2{}, err
		}
		return vec.Hex{Q: *in.Q, R: *in.R}.ToVec2(), nil
	case CoordCartesian:
		if in.X == nil || in.Y == nil {
			return vec.Vec2{}, fmt.Errorf("%w: cartesian coordinate requires x and y", ErrInvalidCoordinate)
		}
		if in.Q != nil || in.R != nil {
			return vec.Vec2{}, fmt.Errorf("%w: cartesian coordinate must not contain q/r", ErrInvalidCoordinate)
		}
		if err := checkRange(*in.X, *in.Y); err != nil {
			return vec.Vec2{}, err
		}
		return vec.Vec2{X: *in.X, Y: *in.Y}, nil
	default:
		return vec.Vec2{}, fmt.Errorf("%w: unknown coordinate system %q", ErrInvalidCoordinate, system)
	}
}

// FormatCoord обратное преобразование для ответа клиенту
func FormatCoord(system CoordSystem, v vec.Vec2) CoordInput {
	a, b := v.X, v.Y
	if system == CoordHex {
		return CoordInput{Q: &a, R: &b}
	}
	return CoordInput{X: &a, Y: &b}
}

func checkRange(a, b int) error {
	if a < -MaxCoordinate || a > MaxCoordinate || b < -MaxCoordinate || b > MaxCoordinate {
		return fmt.Errorf("%w: (%d, %d) out of range ±%d", ErrInvalidCoordinate, a, b, MaxCoordinate)
	}
	return nil
}
