package visibility

import (
	"math"
	"math/rand"
	"testing"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricValues(t *testing.T) {
	tests := []struct {
		metric   Metric
		a, b     vec.Vec2
		expected float64
	}{
		{Chebyshev, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 3, Y: -2}, 3},
		{Manhattan, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 3, Y: -2}, 5},
		{Euclidean, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 3, Y: 4}, 5},
		{Hex, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 3, Y: 0}, 3},
		{Hex, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 1, Y: -1}, 1},
		{Hex, vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 2, Y: 2}, 4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.metric.Distance(tt.a, tt.b), "%s %v-%v", tt.metric.Name(), tt.a, tt.b)
	}
}

func TestMetricSymmetryAndTriangle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	random := func() vec.Vec2 { return vec.Vec2{X: rng.Intn(60) - 30, Y: rng.Intn(60) - 30} }

	for _, metric := range []Metric{Chebyshev, Manhattan, Euclidean, Hex} {
		for i := 0; i < 500; i++ {
			a, b, c := random(), random(), random()
			assert.Equal(t, metric.Distance(a, b), metric.Distance(b, a), metric.Name())
			assert.LessOrEqual(t, metric.Distance(a, c), metric.Distance(a, b)+metric.Distance(b, c)+1e-9, metric.Name())

			// На этом свойстве построен отбор ячеек в индексе
			d := a.Sub(b).Abs()
			assert.LessOrEqual(t, float64(d.X), metric.Distance(a, b)+1e-9, metric.Name())
			assert.LessOrEqual(t, float64(d.Y), metric.Distance(a, b)+1e-9, metric.Name())
		}
	}
}

func TestMetricByName(t *testing.T) {
	m, err := MetricByName("HEX")
	require.NoError(t, err)
	assert.Equal(t, CoordHex, m.System())

	m, err = MetricByName("")
	require.NoError(t, err)
	assert.Equal(t, "chebyshev", m.Name())

	_, err = MetricByName("taxicab")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestParseCoord(t *testing.T) {
	one, two := 1, 2

	v, err := ParseCoord(CoordHex, CoordInput{Q: &one, R: &two})
	require.NoError(t, err)
	assert.Equal(t, vec.Vec2{X: 1, Y: 2}, v)

	_, err = ParseCoord(CoordHex, CoordInput{Q: &one})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = ParseCoord(CoordHex, CoordInput{X: &one, Y: &two})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	v, err = ParseCoord(CoordCartesian, CoordInput{X: &two, Y: &one})
	require.NoError(t, err)
	assert.Equal(t, vec.Vec2{X: 2, Y: 1}, v)

	_, err = ParseCoord(CoordCartesian, CoordInput{X: &one, Y: &two, R: &one})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = ParseCoord(CoordSystem("polar"), CoordInput{X: &one, Y: &two})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	huge, small := MaxCoordinate+1, -MaxCoordinate
	_, err = ParseCoord(CoordCartesian, CoordInput{X: &huge, Y: &one})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = ParseCoord(CoordHex, CoordInput{Q: &one, R: &huge})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	v, err = ParseCoord(CoordCartesian, CoordInput{X: &small, Y: &one})
	require.NoError(t, err)
	assert.Equal(t, vec.Vec2{X: -MaxCoordinate, Y: 1}, v)

	out := FormatCoord(CoordHex, vec.Vec2{X: 4, Y: -1})
	require.NotNil(t, out.Q)
	assert.Equal(t, 4, *out.Q)
	assert.Equal(t, -1, *out.R)
	assert.Nil(t, out.X)
}

func TestMetricExtremeCoordinates(t *testing.T) {
	a := vec.Vec2{X: math.MaxInt, Y: 0}
	b := vec.Vec2{X: math.MinInt, Y: 0}

	// Разность не помещается в int, но расстояние остаётся большим и положительным
	for _, m := range []Metric{Chebyshev, Manhattan, Euclidean, Hex} {
		d := m.Distance(a, b)
		assert.Greater(t, d, 1e18, m.Name())
		assert.Equal(t, d, m.Distance(b, a), m.Name())
	}

	assert.Equal(t, 0.0, Chebyshev.Distance(a, a))
}
