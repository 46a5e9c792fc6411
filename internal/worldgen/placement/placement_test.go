package placement

import (
	"encoding/json"
	"testing"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/hydrology"
	"github.com/annel0/shard-engine/internal/worldgen/terrain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generatedShard(t *testing.T, seed, size int) (*world.Grid, *hydrology.Result) {
	t.Helper()
	cfg := registry.DefaultTierConfig()
	cfg.Grid.Width, cfg.Grid.Height = size, size
	cfg.Normalize()
	pack := &registry.BiomePack{
		Coast:        world.WeightedTable[world.Biome]{{Value: world.BiomeBeach, Weight: 1}},
		ForestChance: 0.28,
		MarshChance:  0.05,
	}
	r := rng.New(seed, "")
	painted := terrain.Paint(r, terrain.BuildHeightmap(r, terrain.ParamsFromConfig(cfg)), 1, 1, pack)
	hyd := hydrology.Generate(r.WithNamespace("hydrology"), painted, hydrology.ParamsFromConfig(cfg))
	return painted.Grid, hyd
}

// flatShard - плоская равнина с океанским кольцом без рек и озёр
func flatShard(w, h int) (*world.Grid, *hydrology.Result) {
	g := world.NewGrid(w, h, world.BiomePlains)
	g.Each(func(p vec.Vec2, _ world.Biome) {
		if g.RingDistance(p) == 0 {
			g.Set(p, world.BiomeOcean)
		}
	})
	painted := &terrain.Result{
		Grid:   g,
		Height: &terrain.Heightmap{W: w, H: h, Values: make([]float64, w*h), SeaLevel: 0},
	}
	hyd := hydrology.Generate(rng.New(0, "hydrology"), painted, hydrology.Params{
		Rivers:  &registry.IntRange{},
		MinDist: 3,
	})
	return g, hyd
}

func TestSuitability(t *testing.T) {
	assert.Equal(t, 1.0, Suitability(world.BiomePlains))
	assert.Equal(t, 0.75, Suitability(world.BiomeForest))
	assert.Equal(t, 0.65, Suitability(world.BiomeHills))
	assert.Equal(t, 0.35, Suitability(world.BiomeMarshLite))
	assert.Equal(t, 0.6, Suitability(world.BiomeMountains))
}

func TestPlacementSpacingAndPorts(t *testing.T) {
	params := Params{
		Budget:  registry.TierCounts{City: 2, Town: 3, Village: 5, Port: 3},
		Spacing: registry.TierCounts{City: 6, Town: 5, Village: 4, Port: 4},
	}
	for seed := 0; seed < 20; seed++ {
		g, hyd := generatedShard(t, seed, 32)
		res := Place(rng.New(seed, "settlements"), g, hyd, params)

		check := func(sites []Site, minDist int) {
			for i := range sites {
				for j := i + 1; j < len(sites); j++ {
					assert.GreaterOrEqual(t, sites[i].Pos.Manhattan(sites[j].Pos), minDist, "seed %d %s", seed, sites[i].Kind)
				}
			}
		}
		check(res.Cities, 6)
		check(res.Towns, 5)
		check(res.Villages, 4)
		check(res.Ports, 4)

		for _, p := range res.Ports {
			assert.Positive(t, g.OceanNeighbors4(p.Pos), "seed %d: порт у океана", seed)
			assert.True(t, p.HasTag(TagOceanCoast))
		}
		for _, s := range res.All() {
			if s.Kind == KindPort {
				continue
			}
			assert.True(t, g.At(s.Pos).IsInterior())
			assert.False(t, g.IsShore(s.Pos))
			assert.False(t, hyd.IsLake(s.Pos))
		}

		seen := map[vec.Vec2]bool{}
		for _, s := range res.All() {
			assert.False(t, seen[s.Pos], "seed %d: два объекта на одном тайле", seed)
			seen[s.Pos] = true
		}
	}
}

func TestZeroBudgetYieldsNothing(t *testing.T) {
	g, hyd := generatedShard(t, 3, 16)
	res := Place(rng.New(3, "settlements"), g, hyd, Params{Spacing: registry.TierCounts{City: 6, Town: 5, Village: 4, Port: 4}})
	assert.Empty(t, res.All())
}

func TestPortsPreferCoves(t *testing.T) {
	g, hyd := flatShard(12, 12)
	res := Place(rng.New(9, "settlements"), g, hyd, Params{
		Budget:  registry.TierCounts{Port: 2},
		Spacing: registry.TierCounts{Port: 4},
	})
	require.Len(t, res.Ports, 2)
	for _, p := range res.Ports {
		assert.Equal(t, 1, g.OceanNeighbors4(p.Pos), "прямой берег лучше угла")
		assert.False(t, p.HasTag(TagRiverMouth))
	}
}

func TestPlacePOI(t *testing.T) {
	g, hyd := flatShard(16, 16)
	settled := Place(rng.New(1, "settlements"), g, hyd, Params{
		Budget:  registry.TierCounts{City: 1},
		Spacing: registry.TierCounts{City: 6},
	})
	tables := []*registry.POITable{{
		ID: "t",
		Entries: []registry.POIEntry{
			{Tag: "ruins", Weight: 1, Biomes: []world.Biome{world.BiomePlains}},
			{Tag: "cave", Weight: 1, Biomes: []world.Biome{world.BiomeMountains}},
		},
	}}

	pois := PlacePOI(rng.New(1, "poi"), g, hyd, settled, POIParams{Budget: 4, MinSpacing: 3, Tables: tables})
	require.Len(t, pois, 4)
	for i, p := range pois {
		assert.Equal(t, KindPOI, p.Kind)
		assert.True(t, p.HasTag("ruins"), "на равнине нет пещер")
		assert.NotEqual(t, settled.Cities[0].Pos, p.Pos)
		for _, q := range pois[i+1:] {
			assert.GreaterOrEqual(t, p.Pos.Manhattan(q.Pos), 3)
		}
	}

	assert.Empty(t, PlacePOI(rng.New(1, "poi"), g, hyd, settled, POIParams{Budget: 0, Tables: tables}))
}

func TestSiteJSON(t *testing.T) {
	s := Site{Kind: KindPort, Pos: vec.Vec2{X: 3, Y: 4}, Score: 1.234567, Tags: []string{TagOceanCoast}}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"port","x":3,"y":4,"score":1.2346,"tags":["ocean_coast"]}`, string(data))

	var back Site
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s.Pos, back.Pos)
}
