package visibility

import (
	"errors"
	"fmt"
	"math"
)

// Ошибки движка видимости
var (
	// ErrInvalidRadius возвращается для отрицательного (или NaN) радиуса.
	// Радиус никогда не обрезается до нуля молча.
	ErrInvalidRadius = errors.New("invalid radius")

	// ErrInvalidCoordinate возвращается, когда координата не соответствует
	// системе координат карты (например, у гекса нет q или r).
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrUnknownMetric возвращается для неизвестного имени метрики.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrMetricMismatch возвращается, если индекс и политика используют разные метрики.
	ErrMetricMismatch = errors.New("metric mismatch")
)

// ValidateRadius проверяет, что радиус неотрицателен.
func ValidateRadius(radius float64) error {
	if math.IsNaN(radius) || radius < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, radius)
	}
	return nil
}
