// Package terrain строит поле высот шарда и раскрашивает сетку биомов:
// океанское кольцо по краю, прибрежный пояс и внутренние биомы по высоте.
package terrain

import (
	"fmt"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
)

// Пороги внутренней классификации по нормализованной высоте суши
const (
	mountainsAbove = 0.80
	hillsAbove     = 0.55
	elevJitter     = 0.05
)

// Result - раскрашенная сетка и всё, что из неё следует для следующих этапов
type Result struct {
	Grid       *world.Grid
	Height     *Heightmap
	OceanRing  int
	CoastWidth int
	// Basins - внутренние тайлы ниже уровня моря, построчно
	Basins []vec.Vec2
}

// IsBasin проверяет принадлежность тайла низинам
func (r *Result) IsBasin(p vec.Vec2) bool {
	return r.Grid.At(p).IsInterior() && r.Height.BelowSea(p)
}

// ResolveCoastWidth один раз тянет ширину прибрежного пояса из диапазона
// и зажимает её в [1, 3]. План и генерация используют один и тот же ключ.
func ResolveCoastWidth(r rng.KeyedRNG, cw registry.IntRange) int {
	w := r.Randi("water.coastw", cw.Min, cw.Max)
	if w < 1 {
		return 1
	}
	if w > 3 {
		return 3
	}
	return w
}

// Paint раскрашивает сетку по кольцам и высотам.
// Кольцо < oceanRing - океан; следующие coastW колец - прибрежные биомы пака;
// остальное классифицируется по высоте с покоординатным джиттером.
func Paint(r rng.KeyedRNG, hm *Heightmap, oceanRing, coastW int, pack *registry.BiomePack) *Result {
	g := world.NewGrid(hm.W, hm.H, world.BiomeOcean)
	res := &Result{Grid: g, Height: hm, OceanRing: oceanRing, CoastWidth: coastW}
	basinMarsh := clamp(pack.MarshChance*6, 0, 1)

	g.Each(func(p vec.Vec2, _ world.Biome) {
		ring := g.RingDistance(p)
		switch {
		case ring < oceanRing:
			return
		case ring < oceanRing+coastW:
			g.Set(p, pack.Coast.Pick(r, tileKey("coast", p), world.BiomeCoast))
			return
		}

		z := clamp(hm.LandNorm(p)+r.Jitter(tileKey("bio.jit", p), elevJitter), 0, 1)
		switch {
		case z > mountainsAbove:
			g.Set(p, world.BiomeMountains)
		case z > hillsAbove:
			g.Set(p, world.BiomeHills)
		case hm.BelowSea(p):
			res.Basins = append(res.Basins, p)
			if r.Randf(tileKey("marsh.jit", p)) < basinMarsh {
				g.Set(p, world.BiomeMarshLite)
			} else {
				g.Set(p, world.BiomePlains)
			}
		case r.Randf(tileKey("forest.jit", p)) < pack.ForestChance:
			g.Set(p, world.BiomeForest)
		case r.Randf(tileKey("marsh.jit", p)) < pack.MarshChance:
			g.Set(p, world.BiomeMarshLite)
		default:
			g.Set(p, world.BiomePlains)
		}
	})
	return res
}

// RingCounts оценивает число тайлов океана, побережья и внутренней суши
// без построения сетки.
func RingCounts(w, h, oceanRing, coastW int) (ocean, coast, interior int) {
	inner := func(r int) int {
		iw, ih := w-2*r, h-2*r
		if iw <= 0 || ih <= 0 {
			return 0
		}
		return iw * ih
	}
	total := w * h
	afterOcean := inner(oceanRing)
	afterCoast := inner(oceanRing + coastW)
	return total - afterOcean, afterOcean - afterCoast, afterCoast
}

func tileKey(prefix string, p vec.Vec2) string {
	return fmt.Sprintf("%s.%d.%d", prefix, p.X, p.Y)
}
