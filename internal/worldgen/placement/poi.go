package placement

import (
	"sort"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/hydrology"
)

// POIParams - бюджет, зазор и таблицы точек интереса
type POIParams struct {
	Budget     int
	MinSpacing int
	Tables     []*registry.POITable
}

// PlacePOI выбирает до Budget тайлов внутренней суши вне поселений и озёр.
// Тег берётся из объединённых таблиц с учётом биома тайла; тайл, для биома
// которого нет ни одной записи, пропускается.
func PlacePOI(r rng.KeyedRNG, g *world.Grid, hyd *hydrology.Result, settled *Result, p POIParams) []Site {
	if p.Budget <= 0 || len(p.Tables) == 0 {
		return nil
	}
	occupied := settled.Occupied()

	var entries []registry.POIEntry
	for _, t := range p.Tables {
		entries = append(entries, t.Entries...)
	}

	var cand []candidate
	g.Each(func(pos vec.Vec2, b world.Biome) {
		if !b.IsInterior() || hyd.IsLake(pos) || hyd.IsRiver(pos) || occupied[pos] {
			return
		}
		cand = append(cand, candidate{pos: pos, score: r.Randf(tileKey("poi", pos))})
	})
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].score > cand[j].score })

	var picks []Site
	for _, c := range cand {
		if len(picks) >= p.Budget {
			break
		}
		if tooClose(c.pos, picks, p.MinSpacing) {
			continue
		}
		biome := g.At(c.pos)
		var table world.WeightedTable[string]
		for _, e := range entries {
			if e.Allows(biome) {
				table = append(table, world.Weighted[string]{Value: e.Tag, Weight: e.Weight})
			}
		}
		tag := table.Pick(r, tileKey("poi.tag", c.pos), "")
		if tag == "" {
			continue
		}
		picks = append(picks, Site{Kind: KindPOI, Pos: c.pos, Score: c.score, Tags: []string{tag, biome.String()}})
	}
	return picks
}
