// Package resources строит слой потенциалов ресурсов: поле шума Перлина
// на каждый ресурс, умноженное на сродство биома, в шкале 0..100.
package resources

import (
	"math"
	"sort"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/util"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/hydrology"
)

const (
	defaultThreshold = 70.0
	noiseScale       = 0.173
)

// affinity - сродство биомов к ресурсу; отсутствующий биом даёт 0
var affinity = map[string]map[world.Biome]float64{
	"ore": {
		world.BiomeMountains: 1.0, world.BiomeHills: 0.8, world.BiomeCliffs: 0.6,
		world.BiomeForest: 0.3, world.BiomePlains: 0.2, world.BiomeMarshLite: 0.1,
		world.BiomeCoast: 0.1, world.BiomeBeach: 0.1,
	},
	"timber": {
		world.BiomeForest: 1.0, world.BiomeMarshLite: 0.5, world.BiomeHills: 0.4,
		world.BiomePlains: 0.3, world.BiomeMountains: 0.2, world.BiomeCoast: 0.1,
	},
	"fish": {
		world.BiomeOcean: 0.9, world.BiomeCoast: 0.8, world.BiomeBeach: 0.7,
		world.BiomeCliffs: 0.4, world.BiomeMarshLite: 0.2,
	},
	"clay": {
		world.BiomeMarshLite: 1.0, world.BiomePlains: 0.5, world.BiomeBeach: 0.4,
		world.BiomeCoast: 0.3, world.BiomeForest: 0.2,
	},
}

// Бонусы сродства от воды
var (
	riverAffinity = map[string]float64{"fish": 0.6, "clay": 0.3}
	lakeAffinity  = map[string]float64{"fish": 1.0, "clay": 0.4}
)

// Params - список ресурсов и пороги «богатых» тайлов
type Params struct {
	Potentials []string
	Thresholds map[string]float64
}

// ParamsFromConfig собирает Params из конфига тира
func ParamsFromConfig(cfg registry.TierConfig) Params {
	return Params{Potentials: cfg.Resources.Potentials, Thresholds: cfg.Resources.Thresholds}
}

// Coverage - перцентили значений потенциала по карте
type Coverage struct {
	P10 int `json:"p10"`
	P50 int `json:"p50"`
	P90 int `json:"p90"`
}

// Potential - поле одного ресурса
type Potential struct {
	Threshold float64    `json:"threshold"`
	High      []vec.Vec2 `json:"high"`
	Coverage  Coverage   `json:"coverage"`
	Grid      [][]int    `json:"grid"`
}

// Layer - все потенциалы по имени
type Layer struct {
	Potentials map[string]*Potential `json:"potentials"`
}

// Build считает потенциалы. Сид поля Перлина берётся из KeyedRNG по ключу
// resources.{name}.seed, поэтому слой детерминирован.
func Build(r rng.KeyedRNG, g *world.Grid, hyd *hydrology.Result, p Params) *Layer {
	layer := &Layer{Potentials: map[string]*Potential{}}
	for _, name := range p.Potentials {
		if _, dup := layer.Potentials[name]; dup || name == "" {
			continue
		}
		threshold, ok := p.Thresholds[name]
		if !ok {
			threshold = defaultThreshold
		}
		seed := int64(r.Uint64("resources."+name+".seed") >> 1)
		layer.Potentials[name] = buildPotential(util.NewPerlinField(seed, noiseScale), g, hyd, name, threshold)
	}
	return layer
}

func buildPotential(field *util.PerlinField, g *world.Grid, hyd *hydrology.Result, name string, threshold float64) *Potential {
	pot := &Potential{Threshold: threshold, High: []vec.Vec2{}, Grid: make([][]int, g.H)}
	values := make([]int, 0, g.W*g.H)
	for y := 0; y < g.H; y++ {
		pot.Grid[y] = make([]int, g.W)
	}

	g.Each(func(p vec.Vec2, b world.Biome) {
		a := tileAffinity(name, b, hyd, p)
		v := int(math.Round(100 * a * (0.5 + 0.5*field.At(p.X, p.Y))))
		pot.Grid[p.Y][p.X] = v
		values = append(values, v)
		if float64(v) >= threshold {
			pot.High = append(pot.High, p)
		}
	})

	sort.Ints(values)
	pot.Coverage = Coverage{P10: percentile(values, 10), P50: percentile(values, 50), P90: percentile(values, 90)}
	return pot
}

// tileAffinity: неизвестный ресурс равномерно распределён по суше
func tileAffinity(name string, b world.Biome, hyd *hydrology.Result, p vec.Vec2) float64 {
	table, known := affinity[name]
	var a float64
	switch {
	case known:
		a = table[b]
	case b.IsLand():
		a = 0.5
	}
	if hyd != nil {
		if hyd.IsRiver(p) {
			a += riverAffinity[name]
		}
		if hyd.IsLake(p) {
			a += lakeAffinity[name]
		}
	}
	return math.Min(1, a)
}

// percentile по отсортированному срезу (ближайший ранг)
func percentile(sorted []int, pct int) int {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(pct)/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
