// Package rng содержит детерминированный генератор случайных чисел без
// внутреннего состояния. Каждое значение - функция от (seed, namespace, key),
// поэтому любой этап генерации можно воспроизвести отдельно от остальных
// и в любом порядке вызовов.
//
// Генератор НЕ криптостойкий: использовать только для контента.
package rng

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// ErrEmptyInput возвращается Choice/Sample на пустой последовательности
var ErrEmptyInput = errors.New("rng: empty input sequence")

// MaxSeed - верхняя граница сида (8 десятичных знаков)
const MaxSeed = 99_999_999

// KeyedRNG переносит пару (seed, namespace), чтобы вызывающий код передавал только ключи.
// Значение неизменяемо: WithNamespace возвращает новую копию.
type KeyedRNG struct {
	Seed      int
	Namespace string
}

// New создаёт генератор для сида и пространства имён
func New(seed int, namespace string) KeyedRNG {
	return KeyedRNG{Seed: seed, Namespace: namespace}
}

// WithNamespace возвращает генератор с пространством имён "{old}.{extra}"
func (r KeyedRNG) WithNamespace(extra string) KeyedRNG {
	if r.Namespace == "" {
		return KeyedRNG{Seed: r.Seed, Namespace: extra}
	}
	return KeyedRNG{Seed: r.Seed, Namespace: r.Namespace + "." + extra}
}

// Uint64 возвращает 64-битный хеш (seed, namespace, key)
func (r KeyedRNG) Uint64(key string) uint64 {
	return Hash64(r.Seed, r.Namespace, key)
}

// Randf возвращает равномерное число в [0, 1)
func (r KeyedRNG) Randf(key string) float64 {
	return unitFloat(r.Uint64(key))
}

// Randi возвращает целое в [lo, hi] включительно.
// Границы в обратном порядке меняются местами.
func (r KeyedRNG) Randi(key string, lo, hi int) int {
	if lo > hi {
		lo, hi = hi, lo
	}
	span := uint64(hi-lo) + 1
	return lo + int(r.Uint64(key)%span)
}

// Coinflip - испытание Бернулли с вероятностью p (p обрезается до [0, 1])
func (r KeyedRNG) Coinflip(key string, p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}
	return r.Randf(key) < p
}

// Jitter возвращает симметричный шум в [-amp, amp)
func (r KeyedRNG) Jitter(key string, amp float64) float64 {
	return (r.Randf(key) - 0.5) * 2 * amp
}

// ValueNoise2D - хешевый шум для целочисленных координат в [0, 1)
func (r KeyedRNG) ValueNoise2D(key string, x, y int) float64 {
	return r.Randf(key + "." + strconv.Itoa(x) + "." + strconv.Itoa(y))
}

// Permutation возвращает перестановку индексов [0, n) (Фишер–Йейтс)
func (r KeyedRNG) Permutation(key string, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := r.Randi(fmt.Sprintf("%s.swap.%d", key, i), 0, i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

// Choice выбирает один элемент непустой последовательности
func Choice[T any](r KeyedRNG, key string, seq []T) (T, error) {
	var zero T
	if len(seq) == 0 {
		return zero, fmt.Errorf("choice %q: %w", key, ErrEmptyInput)
	}
	return seq[r.Randi(key, 0, len(seq)-1)], nil
}

// Sample выбирает k различных элементов без возвращения.
// k больше длины последовательности обрезается.
func Sample[T any](r KeyedRNG, key string, seq []T, k int) ([]T, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("sample %q: %w", key, ErrEmptyInput)
	}
	if k < 0 {
		k = 0
	}
	if k > len(seq) {
		k = len(seq)
	}
	idx := make([]int, len(seq))
	for i := range idx {
		idx[i] = i
	}
	// Частичная перетасовка первых k позиций
	for i := 0; i < k; i++ {
		j := r.Randi(fmt.Sprintf("%s.swap.%d", key, i), i, len(idx)-1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := make([]T, k)
	for i := 0; i < k; i++ {
		out[i] = seq[idx[i]]
	}
	return out, nil
}

// Shuffle возвращает перетасованную копию последовательности
func Shuffle[T any](r KeyedRNG, key string, seq []T) []T {
	out := make([]T, len(seq))
	for i, j := range r.Permutation(key, len(seq)) {
		out[i] = seq[j]
	}
	return out
}

// Hash64 хеширует (seed, namespace, key) в uint64.
// Сид нормализуется к 8 знакам с ведущими нулями, поля разделены "|".
func Hash64(seed int, namespace, key string) uint64 {
	h, _ := blake2b.New(8, nil) // размер 8 валиден, ошибки не бывает
	h.Write([]byte(fmt.Sprintf("%08d", seed)))
	if namespace != "" {
		h.Write([]byte{'|'})
		h.Write([]byte(namespace))
	}
	h.Write([]byte{'|'})
	h.Write([]byte(key))
	return binary.BigEndian.Uint64(h.Sum(nil))
}

// HashString хеширует произвольную строку в uint64 (для вывода сидов)
func HashString(s string) uint64 {
	sum := blake2b.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// unitFloat переводит uint64 в [0, 1) по старшим 53 битам
func unitFloat(u uint64) float64 {
	return float64(u>>11) * (1.0 / (1 << 53))
}
