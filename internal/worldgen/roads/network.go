// Package roads соединяет поселения и порты дорожной сетью:
// жадное минимальное остовное дерево по манхэттенскому расстоянию,
// затем A* по суше для каждого ребра и учёт мостов через реки.
package roads

import (
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
)

// Edge - ребро сети между двумя узлами
type Edge struct {
	A vec.Vec2 `json:"a"`
	B vec.Vec2 `json:"b"`
}

func (e Edge) same(o Edge) bool {
	return (e.A == o.A && e.B == o.B) || (e.A == o.B && e.B == o.A)
}

// Road - реализованное ребро с путём по тайлам
type Road struct {
	Edge
	Path []vec.Vec2 `json:"path"`
}

// Bridge - речной тайл на дороге. Span - длина непрерывного речного участка,
// которому принадлежит тайл; OverSpan отмечает участки длиннее допустимого.
type Bridge struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Span     int  `json:"span"`
	OverSpan bool `json:"over_span,omitempty"`
}

// Network - результат построения сети
type Network struct {
	Edges       []Edge   `json:"edges"`
	Roads       []Road   `json:"roads"`
	Bridges     []Bridge `json:"bridges"`
	Unreachable []Edge   `json:"unreachable,omitempty"`
}

// Paths возвращает пути всех дорог
func (n *Network) Paths() [][]vec.Vec2 {
	out := make([][]vec.Vec2, 0, len(n.Roads))
	for _, r := range n.Roads {
		out = append(out, r.Path)
	}
	return out
}

// OverSpanCount - число мостов длиннее допустимого пролёта
func (n *Network) OverSpanCount() int {
	c := 0
	for _, b := range n.Bridges {
		if b.OverSpan {
			c++
		}
	}
	return c
}

// SpanningEdges строит остовное дерево O(n²): множество used начинается
// с первого узла, на каждом шаге добавляется ближайшая пара used–left.
// Перебор идёт по срезам, поэтому результат детерминирован.
func SpanningEdges(nodes []vec.Vec2) []Edge {
	if len(nodes) < 2 {
		return nil
	}
	used := []vec.Vec2{nodes[0]}
	left := append([]vec.Vec2(nil), nodes[1:]...)
	edges := make([]Edge, 0, len(nodes)-1)

	for len(left) > 0 {
		bestD, bestU, bestL := -1, 0, 0
		for i, a := range used {
			for j, b := range left {
				if d := a.Manhattan(b); bestD < 0 || d < bestD {
					bestD, bestU, bestL = d, i, j
				}
			}
		}
		edges = append(edges, Edge{A: used[bestU], B: left[bestL]})
		used = append(used, left[bestL])
		left = append(left[:bestL], left[bestL+1:]...)
	}
	return edges
}

// Build соединяет узлы сетью. land - сухопутные поселения, ports - порты.
// Каждый порт дополнительно получает ребро к ближайшему сухопутному узлу.
func Build(g *world.Grid, rivers map[vec.Vec2]bool, land, ports []vec.Vec2, maxSpan int) *Network {
	nodes := append(append([]vec.Vec2(nil), land...), ports...)
	net := &Network{Edges: SpanningEdges(nodes), Roads: []Road{}, Bridges: []Bridge{}}

	for _, p := range ports {
		if len(land) == 0 {
			break
		}
		nearest := land[0]
		for _, q := range land[1:] {
			if p.Manhattan(q) < p.Manhattan(nearest) {
				nearest = q
			}
		}
		extra := Edge{A: p, B: nearest}
		if !containsEdge(net.Edges, extra) {
			net.Edges = append(net.Edges, extra)
		}
	}

	seen := map[vec.Vec2]bool{}
	for _, e := range net.Edges {
		path := FindPath(g, rivers, e.A, e.B)
		if len(path) < 2 {
			net.Unreachable = append(net.Unreachable, e)
			continue
		}
		net.Roads = append(net.Roads, Road{Edge: e, Path: path})
		net.Bridges = append(net.Bridges, bridgesOn(path, rivers, maxSpan, seen)...)
	}
	return net
}

// bridgesOn выделяет речные тайлы пути, пропуская уже учтённые
func bridgesOn(path []vec.Vec2, rivers map[vec.Vec2]bool, maxSpan int, seen map[vec.Vec2]bool) []Bridge {
	var out []Bridge
	for i := 0; i < len(path); {
		if !rivers[path[i]] {
			i++
			continue
		}
		j := i
		for j < len(path) && rivers[path[j]] {
			j++
		}
		span := j - i
		for _, t := range path[i:j] {
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, Bridge{X: t.X, Y: t.Y, Span: span, OverSpan: span > maxSpan})
		}
		i = j
	}
	return out
}

func containsEdge(edges []Edge, e Edge) bool {
	for _, x := range edges {
		if x.same(e) {
			return true
		}
	}
	return false
}
