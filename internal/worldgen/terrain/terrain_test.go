package terrain

import (
	"testing"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPack() *registry.BiomePack {
	return &registry.BiomePack{
		ID: "test",
		Coast: world.WeightedTable[world.Biome]{
			{Value: world.BiomeCoast, Weight: 3},
			{Value: world.BiomeBeach, Weight: 1},
		},
		ForestChance: 0.28,
		MarshChance:  0.05,
	}
}

func testParams(w, h int, worldType string) Params {
	cfg := registry.DefaultTierConfig()
	cfg.Grid.Width, cfg.Grid.Height = w, h
	cfg.World.Type = worldType
	cfg.Normalize()
	return ParamsFromConfig(cfg)
}

func TestHeightmapNormalizedAndDeterministic(t *testing.T) {
	r := rng.New(1337, "")
	for _, wt := range []string{registry.WorldContinent, registry.WorldArchipelago, registry.WorldMixed} {
		a := BuildHeightmap(r, testParams(24, 16, wt))
		b := BuildHeightmap(r, testParams(24, 16, wt))

		require.Len(t, a.Values, 24*16)
		assert.Equal(t, a.Values, b.Values, "высоты должны совпадать для %s", wt)
		for _, v := range a.Values {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		assert.GreaterOrEqual(t, a.SeaLevel, seaLevelLo)
		assert.LessOrEqual(t, a.SeaLevel, seaLevelHi)
	}

	other := BuildHeightmap(rng.New(1338, ""), testParams(24, 16, registry.WorldMixed))
	same := BuildHeightmap(r, testParams(24, 16, registry.WorldMixed))
	assert.NotEqual(t, same.Values, other.Values)
}

func TestSolveSeaLevelHitsTarget(t *testing.T) {
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i) / 1000
	}
	level := SolveSeaLevel(values, 0.44)
	hm := &Heightmap{W: 1000, H: 1, Values: values, SeaLevel: level}
	assert.InDelta(t, 0.44, hm.LandRatio(level), 0.01)

	// Цель вне досягаемого диапазона упирается в границу поиска
	assert.InDelta(t, seaLevelHi, SolveSeaLevel(values, 0.01), 1e-3)
}

func TestPaintRingInvariants(t *testing.T) {
	for seed := 0; seed < 20; seed++ {
		r := rng.New(seed, "")
		hm := BuildHeightmap(r, testParams(16, 16, registry.WorldMixed))
		for _, ring := range []int{1, 2} {
			for cw := 1; cw <= 3; cw++ {
				res := Paint(r, hm, ring, cw, testPack())
				res.Grid.Each(func(p vec.Vec2, b world.Biome) {
					d := res.Grid.RingDistance(p)
					switch {
					case d < ring:
						assert.Equal(t, world.BiomeOcean, b, "seed %d tile %v", seed, p)
					case d < ring+cw:
						assert.True(t, b.IsCoast(), "seed %d tile %v: %s", seed, p, b)
					default:
						assert.True(t, b.IsInterior(), "seed %d tile %v: %s", seed, p, b)
					}
				})
				assert.Equal(t, world.BiomeOcean, res.Grid.At(vec.Vec2{X: 0, Y: 0}))
			}
		}
	}
}

func TestPaintBasinsAreLowland(t *testing.T) {
	r := rng.New(42, "")
	hm := BuildHeightmap(r, testParams(32, 32, registry.WorldArchipelago))
	res := Paint(r, hm, 1, 1, testPack())

	for _, p := range res.Basins {
		assert.True(t, hm.BelowSea(p))
		b := res.Grid.At(p)
		assert.Contains(t, []world.Biome{world.BiomePlains, world.BiomeMarshLite}, b)
		assert.True(t, res.IsBasin(p))
	}
}

func TestResolveCoastWidth(t *testing.T) {
	r := rng.New(7, "")
	w := ResolveCoastWidth(r, registry.IntRange{Min: 1, Max: 2})
	assert.Contains(t, []int{1, 2}, w)
	assert.Equal(t, w, ResolveCoastWidth(r, registry.IntRange{Min: 1, Max: 2}))
	assert.Equal(t, 3, ResolveCoastWidth(r, registry.IntRange{Min: 5, Max: 9}))
	assert.Equal(t, 1, ResolveCoastWidth(r, registry.IntRange{Min: -3, Max: 0}))
}

func TestRingCounts(t *testing.T) {
	ocean, coast, interior := RingCounts(16, 16, 1, 2)
	assert.Equal(t, 16*16-14*14, ocean)
	assert.Equal(t, 14*14-10*10, coast)
	assert.Equal(t, 100, interior)

	_, _, interior = RingCounts(8, 8, 2, 3)
	assert.Zero(t, interior)
}
