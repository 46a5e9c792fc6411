// Package hydrology прокладывает реки и выращивает озёра на раскрашенной сетке.
//
// Основа - поле расстояний до океана (BFS от всех океанских тайлов).
// Реки начинаются в самых удалённых от моря тайлах и спускаются по полю
// строго вниз до тайла, соседствующего с океаном. Озёра растут вокруг
// низменных внутренних тайлов и никогда не касаются края карты.
package hydrology

import (
	"fmt"
	"math"
	"sort"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/terrain"
)

const (
	// minRiverLen - реки короче отбрасываются
	minRiverLen = 2
	// sourceSpacing - манхэттенский зазор между истоками
	sourceSpacing = 4
	// lakeSeedDist - минимальное расстояние семени озера до океана
	lakeSeedDist = 3
	// lakeGap - минимальный зазор между семенем и уже выращенными озёрами
	lakeGap = 2
)

// Params - параметры гидрологии из конфига тира
type Params struct {
	// Rivers == nil: число рек выводится из площади суши
	Rivers     *registry.IntRange
	MinDist    int
	LakeChance float64
	LakeSize   registry.IntRange
	// LakesMax == 0: число слотов под озёра выводится из площади суши
	LakesMax int
}

// ParamsFromConfig собирает Params из конфига тира
func ParamsFromConfig(cfg registry.TierConfig) Params {
	return Params{
		Rivers:     cfg.Hydrology.Rivers,
		MinDist:    cfg.Hydrology.MinDist,
		LakeChance: cfg.Hydrology.LakeChance,
		LakeSize:   cfg.Hydrology.LakeSize,
		LakesMax:   cfg.Hydrology.LakesMax,
	}
}

// Lake - связное множество тайлов озера (в построчном порядке)
type Lake struct {
	Tiles []vec.Vec2 `json:"tiles"`
}

// Result - реки, озёра и поле расстояний
type Result struct {
	W, H   int
	Dist   []int
	Rivers [][]vec.Vec2
	Lakes  []Lake

	// RiversWanted и LakesWanted - разыгранные бюджеты до отсева
	RiversWanted int
	LakesWanted  int

	riverTiles map[vec.Vec2]bool
	lakeTiles  map[vec.Vec2]bool
	mouths     map[vec.Vec2]bool
}

// DistAt возвращает расстояние тайла до океана
func (r *Result) DistAt(p vec.Vec2) int {
	return r.Dist[p.Y*r.W+p.X]
}

// IsRiver - тайл принадлежит хотя бы одной реке
func (r *Result) IsRiver(p vec.Vec2) bool { return r.riverTiles[p] }

// IsLake - тайл принадлежит озеру
func (r *Result) IsLake(p vec.Vec2) bool { return r.lakeTiles[p] }

// NearMouth - тайл является устьем реки или его 4-соседом
func (r *Result) NearMouth(p vec.Vec2) bool { return r.mouths[p] }

// RiverTiles возвращает множество речных тайлов
func (r *Result) RiverTiles() map[vec.Vec2]bool { return r.riverTiles }

// DistanceField считает 4-связное BFS-расстояние каждого тайла до ближайшего океана.
// На сетке без океана все значения равны -1.
func DistanceField(g *world.Grid) []int {
	dist := make([]int, g.W*g.H)
	for i := range dist {
		dist[i] = -1
	}
	queue := make([]vec.Vec2, 0, len(dist))
	g.Each(func(p vec.Vec2, b world.Biome) {
		if b == world.BiomeOcean {
			dist[p.Y*g.W+p.X] = 0
			queue = append(queue, p)
		}
	})
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		d := dist[cur.Y*g.W+cur.X] + 1
		for _, q := range cur.Neighbors4() {
			if !g.In(q) || dist[q.Y*g.W+q.X] >= 0 {
				continue
			}
			dist[q.Y*g.W+q.X] = d
			queue = append(queue, q)
		}
	}
	return dist
}

// Generate строит реки и озёра. r должен быть уже в пространстве имён гидрологии.
func Generate(r rng.KeyedRNG, painted *terrain.Result, p Params) *Result {
	g := painted.Grid
	res := &Result{
		W:          g.W,
		H:          g.H,
		Dist:       DistanceField(g),
		riverTiles: map[vec.Vec2]bool{},
		lakeTiles:  map[vec.Vec2]bool{},
		mouths:     map[vec.Vec2]bool{},
	}

	land := g.Count(world.Biome.IsInterior)
	scale := math.Sqrt(math.Max(1, float64(land)))

	if p.Rivers != nil {
		res.RiversWanted = r.Randi("rivers.n", p.Rivers.Min, p.Rivers.Max)
	} else {
		res.RiversWanted = maxInt(1, int(scale/6))
	}

	for _, src := range pickSources(r, g, res, p.MinDist, res.RiversWanted) {
		path := route(r, g, res, src)
		if len(path) < minRiverLen {
			continue
		}
		res.Rivers = append(res.Rivers, path)
		for _, t := range path {
			res.riverTiles[t] = true
		}
		mouth := path[len(path)-1]
		res.mouths[mouth] = true
		for _, q := range mouth.Neighbors4() {
			if g.In(q) {
				res.mouths[q] = true
			}
		}
	}

	slots := p.LakesMax
	if slots == 0 {
		slots = maxInt(0, int(scale/10))
	}
	for i := 0; i < slots; i++ {
		if r.Coinflip(fmt.Sprintf("lake.slot.%d", i), p.LakeChance) {
			res.LakesWanted++
		}
	}
	growLakes(r, painted, res, p.LakeSize)
	return res
}

type rankedTile struct {
	p     vec.Vec2
	score float64
}

// pickSources ранжирует внутренние тайлы с dist >= minDist по убыванию
// расстояния, ничьи разбиваются броском RNG.
func pickSources(r rng.KeyedRNG, g *world.Grid, res *Result, minDist, n int) []vec.Vec2 {
	if n <= 0 {
		return nil
	}
	var cand []rankedTile
	g.Each(func(p vec.Vec2, b world.Biome) {
		d := res.DistAt(p)
		if !b.IsInterior() || d < minDist {
			return
		}
		cand = append(cand, rankedTile{p: p, score: float64(d) + r.Randf(tileKey("src", p))})
	})
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].score > cand[j].score })

	var picked []vec.Vec2
	for _, c := range cand {
		if len(picked) >= n {
			break
		}
		if tooClose(c.p, picked, sourceSpacing) {
			continue
		}
		picked = append(picked, c.p)
	}
	return picked
}

// route спускается из src по полю расстояний. Каждый шаг строго уменьшает dist,
// поэтому путь не может зациклиться и заканчивается на тайле с dist == 1.
func route(r rng.KeyedRNG, g *world.Grid, res *Result, src vec.Vec2) []vec.Vec2 {
	path := []vec.Vec2{src}
	cur := src
	for steps := 0; steps < g.W*g.H && res.DistAt(cur) > 1; steps++ {
		best := res.DistAt(cur)
		var lower []vec.Vec2
		for _, q := range cur.Neighbors4() {
			if !g.In(q) {
				continue
			}
			d := res.DistAt(q)
			switch {
			case d < best:
				best = d
				lower = append(lower[:0], q)
			case d == best && d < res.DistAt(cur):
				lower = append(lower, q)
			}
		}
		if len(lower) == 0 {
			break
		}
		cur = lower[r.Randi(tileKey("route", cur), 0, len(lower)-1)]
		path = append(path, cur)
	}
	return path
}

// growLakes выращивает до LakesWanted озёр от самых низких подходящих тайлов
func growLakes(r rng.KeyedRNG, painted *terrain.Result, res *Result, size registry.IntRange) {
	if res.LakesWanted == 0 {
		return
	}
	g, hm := painted.Grid, painted.Height

	var seeds []rankedTile
	g.Each(func(p vec.Vec2, b world.Biome) {
		if !lakeAllowed(g, res, p) || res.DistAt(p) < lakeSeedDist {
			return
		}
		seeds = append(seeds, rankedTile{p: p, score: hm.At(p) + r.Jitter(tileKey("lake.seed", p), 0.02)})
	})
	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].score < seeds[j].score })

	for _, s := range seeds {
		if len(res.Lakes) >= res.LakesWanted {
			break
		}
		if !lakeAllowed(g, res, s.p) || nearLake(res, s.p) {
			continue
		}
		i := len(res.Lakes)
		target := r.Randi(fmt.Sprintf("lake.size.%d", i), size.Min, size.Max)
		tiles := growLake(r.WithNamespace(fmt.Sprintf("lake.%d", i)), g, res, s.p, target)
		for _, t := range tiles {
			res.lakeTiles[t] = true
		}
		res.Lakes = append(res.Lakes, Lake{Tiles: tiles})
	}
}

// growLake растит озеро фронтом со случайным порядком раскрытия
func growLake(r rng.KeyedRNG, g *world.Grid, res *Result, seed vec.Vec2, target int) []vec.Vec2 {
	tiles := map[vec.Vec2]bool{seed: true}
	frontier := []vec.Vec2{seed}
	for step := 0; len(frontier) > 0 && len(tiles) < target; step++ {
		idx := r.Randi(fmt.Sprintf("grow.%d", step), 0, len(frontier)-1)
		cur := frontier[idx]
		frontier = append(frontier[:idx], frontier[idx+1:]...)

		for _, k := range r.Permutation(tileKey("dirs", cur), len(vec.Dir4)) {
			q := cur.Add(vec.Dir4[k])
			if len(tiles) >= target {
				break
			}
			if tiles[q] || !lakeAllowed(g, res, q) {
				continue
			}
			tiles[q] = true
			frontier = append(frontier, q)
		}
	}

	out := make([]vec.Vec2, 0, len(tiles))
	for t := range tiles {
		out = append(out, t)
	}
	sortRowMajor(out)
	return out
}

// lakeAllowed: внутренняя суша, не у края карты, не у океана, не река и не другое озеро
func lakeAllowed(g *world.Grid, res *Result, p vec.Vec2) bool {
	if !g.In(p) || !g.At(p).IsInterior() {
		return false
	}
	if g.RingDistance(p) <= 1 || res.DistAt(p) <= 1 {
		return false
	}
	return !res.riverTiles[p] && !res.lakeTiles[p]
}

func nearLake(res *Result, p vec.Vec2) bool {
	for _, l := range res.Lakes {
		if tooClose(p, l.Tiles, lakeGap+1) {
			return true
		}
	}
	return false
}

func tooClose(p vec.Vec2, others []vec.Vec2, minDist int) bool {
	for _, o := range others {
		if p.Manhattan(o) < minDist {
			return true
		}
	}
	return false
}

func sortRowMajor(ps []vec.Vec2) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Y != ps[j].Y {
			return ps[i].Y < ps[j].Y
		}
		return ps[i].X < ps[j].X
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func tileKey(prefix string, p vec.Vec2) string {
	return fmt.Sprintf("%s.%d.%d", prefix, p.X, p.Y)
}
