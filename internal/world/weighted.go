package world

import "github.com/annel0/shard-engine/internal/rng"

// Weighted - элемент взвешенной таблицы выбора
type Weighted[T any] struct {
	Value  T
	Weight float64
}

// WeightedTable - упорядоченная таблица; порядок записей участвует в выборе
type WeightedTable[T any] []Weighted[T]

// Total возвращает сумму положительных весов
func (t WeightedTable[T]) Total() float64 {
	total := 0.0
	for _, e := range t {
		if e.Weight > 0 {
			total += e.Weight
		}
	}
	return total
}

// Pick выбирает значение пропорционально весу.
// Пустая таблица или нулевая сумма весов возвращают fallback.
func (t WeightedTable[T]) Pick(r rng.KeyedRNG, key string, fallback T) T {
	total := t.Total()
	if total <= 0 {
		return fallback
	}
	roll := r.Randf(key) * total
	acc := 0.0
	for _, e := range t {
		if e.Weight <= 0 {
			continue
		}
		acc += e.Weight
		if roll < acc {
			return e.Value
		}
	}
	// Погрешность округления: последний положительный элемент
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Weight > 0 {
			return t[i].Value
		}
	}
	return fallback
}

// Values возвращает значения с положительным весом
func (t WeightedTable[T]) Values() []T {
	out := make([]T, 0, len(t))
	for _, e := range t {
		if e.Weight > 0 {
			out = append(out, e.Value)
		}
	}
	return out
}

// Filter возвращает подтаблицу записей, прошедших предикат
func (t WeightedTable[T]) Filter(keep func(T) bool) WeightedTable[T] {
	out := make(WeightedTable[T], 0, len(t))
	for _, e := range t {
		if keep(e.Value) {
			out = append(out, e)
		}
	}
	return out
}
