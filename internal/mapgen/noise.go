package mapgen

import (
	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина
const (
	noiseAlpha   = 2.0 // Сглаживание шума
	noiseBeta    = 2.0 // Частота шума
	noiseOctaves = 3   // Количество октав
)

// noise2D генератор шума со своим сидом; в отличие от глобального экземпляра
// несколько генераторов с разными сидами не мешают друг другу
type noise2D struct {
	p *perlin.Perlin
}

func newNoise2D(seed int64) *noise2D {
	return &noise2D{p: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed)}
}

// at возвращает значение шума для указанных координат (от 0 до 1)
func (n *noise2D) at(x, y float64) float64 {
	// Получаем значение шума (примерно от -1 до 1)
	v := (n.p.Noise2D(x, y) + 1.0) / 2.0
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
