package rng

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedRNG_Deterministic(t *testing.T) {
	a := New(1337, "v2.normal-16")
	b := New(1337, "v2.normal-16")

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k.%d", i)
		assert.Equal(t, a.Randf(key), b.Randf(key), "одинаковые аргументы должны давать одинаковое значение")
		assert.Equal(t, a.Randi(key, -3, 9), b.Randi(key, -3, 9))
	}
}

func TestKeyedRNG_KeysAndSeedsDiffer(t *testing.T) {
	r := New(42, "ns")
	assert.NotEqual(t, r.Uint64("a"), r.Uint64("b"))
	assert.NotEqual(t, r.Uint64("a"), New(43, "ns").Uint64("a"))
	assert.NotEqual(t, r.Uint64("a"), New(42, "other").Uint64("a"))
	assert.NotEqual(t, r.Uint64("a"), New(42, "").Uint64("a"))
}

func TestKeyedRNG_Ranges(t *testing.T) {
	r := New(7, "")
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("r.%d", i)
		f := r.Randf(key)
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)

		n := r.Randi(key, 2, 5)
		assert.GreaterOrEqual(t, n, 2)
		assert.LessOrEqual(t, n, 5)

		// Перевёрнутые границы
		m := r.Randi(key, 5, 2)
		assert.Equal(t, n, m)

		j := r.Jitter(key, 0.025)
		assert.GreaterOrEqual(t, j, -0.025)
		assert.Less(t, j, 0.025)
	}
	assert.Equal(t, 4, r.Randi("single", 4, 4))
}

func TestKeyedRNG_WithNamespace(t *testing.T) {
	base := New(99, "v2")
	child := base.WithNamespace("hydrology")
	assert.Equal(t, "v2.hydrology", child.Namespace)
	assert.Equal(t, "v2", base.Namespace, "исходный генератор не должен меняться")
	assert.Equal(t, New(99, "v2.hydrology").Randf("x"), child.Randf("x"))

	root := New(99, "").WithNamespace("hydrology")
	assert.Equal(t, "hydrology", root.Namespace)
}

func TestKeyedRNG_Coinflip(t *testing.T) {
	r := New(5, "flip")
	assert.False(t, r.Coinflip("a", 0))
	assert.True(t, r.Coinflip("a", 1))
	assert.False(t, r.Coinflip("a", -2))
	assert.True(t, r.Coinflip("a", 3))

	hits := 0
	for i := 0; i < 2000; i++ {
		if r.Coinflip(fmt.Sprintf("c.%d", i), 0.5) {
			hits++
		}
	}
	assert.InDelta(t, 1000, hits, 150)
}

func TestChoiceAndSample(t *testing.T) {
	r := New(11, "pick")

	_, err := Choice(r, "empty", []string{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyInput))

	_, err = Sample(r, "empty", []int{}, 2)
	assert.ErrorIs(t, err, ErrEmptyInput)

	seq := []string{"coast", "beach", "marsh-lite"}
	v, err := Choice(r, "biome.coast", seq)
	require.NoError(t, err)
	assert.Contains(t, seq, v)

	got, err := Sample(r, "s", []int{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	seen := map[int]bool{}
	for _, x := range got {
		assert.False(t, seen[x], "элементы выборки должны быть различны")
		seen[x] = true
	}

	all, err := Sample(r, "s", []int{1, 2}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestShuffleIsPermutation(t *testing.T) {
	r := New(3, "")
	in := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	out := Shuffle(r, "shuffle", in)
	require.Len(t, out, len(in))

	sorted := append([]int(nil), out...)
	sort.Ints(sorted)
	assert.Equal(t, in, sorted)
	assert.Equal(t, out, Shuffle(r, "shuffle", in))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, in, "вход не должен изменяться")
}

func TestValueNoise2D(t *testing.T) {
	r := New(123, "res")
	assert.Equal(t, r.ValueNoise2D("ore", 3, 4), r.Randf("ore.3.4"))
	assert.NotEqual(t, r.ValueNoise2D("ore", 3, 4), r.ValueNoise2D("ore", 4, 3))
}
