package util

import (
	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина
const (
	perlinAlpha   = 2.0 // Сглаживание шума
	perlinBeta    = 2.0 // Частота шума
	perlinOctaves = int32(3)
)

// PerlinField - поле шума Перлина со своим сидом.
// Каждое поле независимо, глобального состояния нет.
type PerlinField struct {
	noise *perlin.Perlin
	scale float64
}

// NewPerlinField создаёт поле с указанным сидом и масштабом координат.
// Масштаб не должен быть целым: в целых узлах решётки шум Перлина равен нулю.
func NewPerlinField(seed int64, scale float64) *PerlinField {
	if scale <= 0 {
		scale = 0.173
	}
	return &PerlinField{
		noise: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed),
		scale: scale,
	}
}

// At возвращает значение шума для координат тайла (от 0 до 1)
func (f *PerlinField) At(x, y int) float64 {
	// Получаем значение шума (примерно от -1 до 1)
	n := f.noise.Noise2D(float64(x)*f.scale, float64(y)*f.scale)

	// Преобразуем в диапазон от 0 до 1
	v := (n + 1.0) / 2.0
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
