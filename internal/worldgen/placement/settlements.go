// Package placement выбирает тайлы для поселений, портов и точек интереса.
//
// Кандидаты оцениваются, сортируются по убыванию оценки и отбираются
// жадно с минимальным манхэттенским зазором внутри яруса.
package placement

import (
	"fmt"
	"sort"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/hydrology"
)

// Бонусы и разброс оценки пригодности
const (
	riverBonus    = 0.5
	coastBonus    = 0.4
	settleJitter  = 0.025
	mouthBonus    = 0.6
	portJitter    = 0.025
	oceanNeighbor = 0.2
)

// Params - бюджеты и зазоры ярусов
type Params struct {
	Budget  registry.TierCounts
	Spacing registry.TierCounts
}

// ParamsFromConfig собирает Params из конфига тира
func ParamsFromConfig(cfg registry.TierConfig) Params {
	return Params{Budget: cfg.Settlements.Budget, Spacing: cfg.Settlements.Spacing}
}

// Result - выбранные поселения по ярусам
type Result struct {
	Cities   []Site
	Towns    []Site
	Villages []Site
	Ports    []Site
}

// All возвращает объекты в порядке: города, посёлки, деревни, порты
func (r *Result) All() []Site {
	out := make([]Site, 0, len(r.Cities)+len(r.Towns)+len(r.Villages)+len(r.Ports))
	out = append(out, r.Cities...)
	out = append(out, r.Towns...)
	out = append(out, r.Villages...)
	return append(out, r.Ports...)
}

// LandNodes - координаты сухопутных поселений
func (r *Result) LandNodes() []vec.Vec2 {
	var out []vec.Vec2
	for _, group := range [][]Site{r.Cities, r.Towns, r.Villages} {
		for _, s := range group {
			out = append(out, s.Pos)
		}
	}
	return out
}

// PortNodes - координаты портов
func (r *Result) PortNodes() []vec.Vec2 {
	out := make([]vec.Vec2, 0, len(r.Ports))
	for _, s := range r.Ports {
		out = append(out, s.Pos)
	}
	return out
}

// Occupied - множество занятых тайлов
func (r *Result) Occupied() map[vec.Vec2]bool {
	out := map[vec.Vec2]bool{}
	for _, s := range r.All() {
		out[s.Pos] = true
	}
	return out
}

// Suitability - базовая пригодность биома для поселения
func Suitability(b world.Biome) float64 {
	switch b {
	case world.BiomePlains:
		return 1.0
	case world.BiomeForest:
		return 0.75
	case world.BiomeHills:
		return 0.65
	case world.BiomeMarshLite:
		return 0.35
	default:
		return 0.6
	}
}

type candidate struct {
	pos   vec.Vec2
	score float64
	mouth bool
}

// Place выбирает порты и поселения всех ярусов.
// Нулевой бюджет яруса даёт пустой список без ошибки.
func Place(r rng.KeyedRNG, g *world.Grid, hyd *hydrology.Result, p Params) *Result {
	res := &Result{}
	taken := map[vec.Vec2]bool{}

	res.Ports = pickPorts(r, g, hyd, p.Budget.Port, p.Spacing.Port, taken)

	cand := settlementCandidates(r, g, hyd)
	res.Cities = pickN(cand, g, KindCity, p.Budget.City, p.Spacing.City, taken)
	res.Towns = pickN(cand, g, KindTown, p.Budget.Town, p.Spacing.Town, taken)
	res.Villages = pickN(cand, g, KindVillage, p.Budget.Village, p.Spacing.Village, taken)
	return res
}

func settlementCandidates(r rng.KeyedRNG, g *world.Grid, hyd *hydrology.Result) []candidate {
	var cand []candidate
	g.Each(func(p vec.Vec2, b world.Biome) {
		if !b.IsInterior() || hyd.IsLake(p) || hyd.IsRiver(p) {
			return
		}
		s := Suitability(b)
		for _, q := range p.Neighbors4() {
			if hyd.IsRiver(q) {
				s += riverBonus
				break
			}
		}
		if g.OceanNeighbors4(p) > 0 {
			s += coastBonus
		}
		s += r.Jitter(tileKey("settle.jit", p), settleJitter)
		cand = append(cand, candidate{pos: p, score: s})
	})
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].score > cand[j].score })
	return cand
}

// pickN жадно берёт n лучших кандидатов с зазором minDist внутри яруса.
// Береговые тайлы и уже занятые другими ярусами пропускаются.
func pickN(cand []candidate, g *world.Grid, kind Kind, n, minDist int, taken map[vec.Vec2]bool) []Site {
	var picks []Site
	for _, c := range cand {
		if len(picks) >= n {
			break
		}
		if taken[c.pos] || g.IsShore(c.pos) || tooClose(c.pos, picks, minDist) {
			continue
		}
		picks = append(picks, Site{Kind: kind, Pos: c.pos, Score: c.score})
		taken[c.pos] = true
	}
	return picks
}

// pickPorts оценивает береговую сушу: бухты (ровно один океанский сосед)
// лучше открытого берега, устья рек получают бонус.
func pickPorts(r rng.KeyedRNG, g *world.Grid, hyd *hydrology.Result, n, minDist int, taken map[vec.Vec2]bool) []Site {
	if n <= 0 {
		return nil
	}
	var cand []candidate
	g.Each(func(p vec.Vec2, b world.Biome) {
		if !b.IsLand() || hyd.IsLake(p) {
			return
		}
		o4 := g.OceanNeighbors4(p)
		if o4 == 0 {
			return
		}
		score := float64(g.OceanNeighbors8(p)) * oceanNeighbor
		switch o4 {
		case 1:
			score += 0.75
		case 2:
			score += 0.25
		default:
			score -= 0.4
		}
		mouth := hyd.NearMouth(p)
		if mouth {
			score += mouthBonus
		}
		score += r.Jitter(tileKey("ports.jit", p), portJitter)
		cand = append(cand, candidate{pos: p, score: score, mouth: mouth})
	})
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].score > cand[j].score })

	var ports []Site
	for _, c := range cand {
		if len(ports) >= n {
			break
		}
		if taken[c.pos] || tooClose(c.pos, ports, minDist) {
			continue
		}
		tags := []string{TagOceanCoast}
		if c.mouth {
			tags = append(tags, TagRiverMouth)
		}
		ports = append(ports, Site{Kind: KindPort, Pos: c.pos, Score: c.score, Tags: tags})
		taken[c.pos] = true
	}
	return ports
}

func tooClose(p vec.Vec2, picks []Site, minDist int) bool {
	for _, s := range picks {
		if p.Manhattan(s.Pos) < minDist {
			return true
		}
	}
	return false
}

func tileKey(prefix string, p vec.Vec2) string {
	return fmt.Sprintf("%s.%d.%d", prefix, p.X, p.Y)
}
