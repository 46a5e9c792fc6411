package vec

import (
	"encoding/json"
	"fmt"
)

// Vec2 представляет 2D координаты тайла
type Vec2 struct {
	X, Y int
}

// Manhattan возвращает манхэттенское расстояние до другой точки
func (v Vec2) Manhattan(other Vec2) int {
	return abs(v.X-other.X) + abs(v.Y-other.Y)
}

// Add возвращает сумму координат
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// In проверяет, что точка лежит внутри прямоугольника w×h
func (v Vec2) In(w, h int) bool {
	return v.X >= 0 && v.X < w && v.Y >= 0 && v.Y < h
}

// Dir4 - смещения 4-соседства. Порядок фиксирован: от него зависят
// детерминированные выборы при равенстве.
var Dir4 = [4]Vec2{{X: 1, Y: 0}, {X: -1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1}}

// Dir8 - смещения 8-соседства (построчно, без центра)
var Dir8 = [8]Vec2{
	{X: -1, Y: -1}, {X: 0, Y: -1}, {X: 1, Y: -1},
	{X: -1, Y: 0}, {X: 1, Y: 0},
	{X: -1, Y: 1}, {X: 0, Y: 1}, {X: 1, Y: 1},
}

// Neighbors4 возвращает 4-соседей точки (без проверки границ)
func (v Vec2) Neighbors4() [4]Vec2 {
	var out [4]Vec2
	for i, d := range Dir4 {
		out[i] = v.Add(d)
	}
	return out
}

// Neighbors8 возвращает 8-соседей точки (без проверки границ)
func (v Vec2) Neighbors8() [8]Vec2 {
	var out [8]Vec2
	for i, d := range Dir8 {
		out[i] = v.Add(d)
	}
	return out
}

// String возвращает "x,y"
func (v Vec2) String() string {
	return fmt.Sprintf("%d,%d", v.X, v.Y)
}

// MarshalJSON кодирует точку как [x, y] - так её ждут просмотрщики шардов.
func (v Vec2) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{v.X, v.Y})
}

// UnmarshalJSON декодирует [x, y]
func (v *Vec2) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	v.X, v.Y = pair[0], pair[1]
	return nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
