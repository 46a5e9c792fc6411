package resources

import (
	"testing"

	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mixedGrid() *world.Grid {
	g := world.NewGrid(16, 16, world.BiomePlains)
	g.Each(func(p vec.Vec2, _ world.Biome) {
		switch {
		case g.RingDistance(p) == 0:
			g.Set(p, world.BiomeOcean)
		case p.X < 6:
			g.Set(p, world.BiomeMountains)
		case p.X > 10:
			g.Set(p, world.BiomeForest)
		}
	})
	return g
}

func TestBuildPotentials(t *testing.T) {
	g := mixedGrid()
	layer := Build(rng.New(1337, "resources"), g, nil, Params{
		Potentials: []string{"ore", "timber", "ore", "mana"},
		Thresholds: map[string]float64{"ore": 50},
	})

	require.Len(t, layer.Potentials, 3, "дубликаты отбрасываются")
	ore := layer.Potentials["ore"]
	assert.Equal(t, 50.0, ore.Threshold)
	assert.Equal(t, defaultThreshold, layer.Potentials["timber"].Threshold)

	for _, p := range ore.High {
		assert.GreaterOrEqual(t, ore.Grid[p.Y][p.X], 50)
		assert.Equal(t, world.BiomeMountains, g.At(p), "только горы дают руду выше 50")
	}
	assert.LessOrEqual(t, ore.Coverage.P10, ore.Coverage.P50)
	assert.LessOrEqual(t, ore.Coverage.P50, ore.Coverage.P90)

	// Океан без сродства к руде
	assert.Zero(t, ore.Grid[0][0])
	// Неизвестный ресурс есть только на суше
	assert.Zero(t, layer.Potentials["mana"].Grid[0][0])
	assert.Positive(t, layer.Potentials["mana"].Grid[8][8])
}

func TestBuildDeterministic(t *testing.T) {
	g := mixedGrid()
	p := Params{Potentials: []string{"ore", "fish"}}
	a := Build(rng.New(9, "resources"), g, nil, p)
	b := Build(rng.New(9, "resources"), g, nil, p)
	assert.Equal(t, a, b)
}

func TestPercentile(t *testing.T) {
	vals := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 1, percentile(vals, 10))
	assert.Equal(t, 5, percentile(vals, 50))
	assert.Equal(t, 9, percentile(vals, 90))
	assert.Zero(t, percentile(nil, 50))
}
