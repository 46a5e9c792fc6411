package roads

import (
	"testing"

	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(x, y int) vec.Vec2 { return vec.Vec2{X: x, Y: y} }

func islandGrid(w, h int) *world.Grid {
	g := world.NewGrid(w, h, world.BiomePlains)
	g.Each(func(p vec.Vec2, _ world.Biome) {
		if g.RingDistance(p) == 0 {
			g.Set(p, world.BiomeOcean)
		}
	})
	return g
}

func TestSpanningEdges(t *testing.T) {
	assert.Nil(t, SpanningEdges(nil))
	assert.Nil(t, SpanningEdges([]vec.Vec2{v(1, 1)}))

	nodes := []vec.Vec2{v(0, 0), v(10, 0), v(1, 0), v(11, 0)}
	edges := SpanningEdges(nodes)
	require.Len(t, edges, 3)
	assert.Equal(t, Edge{A: v(0, 0), B: v(1, 0)}, edges[0])
	assert.Equal(t, Edge{A: v(1, 0), B: v(10, 0)}, edges[1])
	assert.Equal(t, Edge{A: v(10, 0), B: v(11, 0)}, edges[2])
}

func TestFindPathBasics(t *testing.T) {
	g := islandGrid(10, 10)

	path := FindPath(g, nil, v(1, 1), v(8, 1))
	require.Len(t, path, 8)
	assert.Equal(t, v(1, 1), path[0])
	assert.Equal(t, v(8, 1), path[len(path)-1])
	for i := 1; i < len(path); i++ {
		assert.Equal(t, 1, path[i].Manhattan(path[i-1]))
		assert.True(t, g.Walkable(path[i]))
	}

	assert.Equal(t, []vec.Vec2{v(2, 2)}, FindPath(g, nil, v(2, 2), v(2, 2)))
	assert.Nil(t, FindPath(g, nil, v(0, 0), v(2, 2)), "старт в океане")
}

func TestFindPathUnreachable(t *testing.T) {
	g := islandGrid(10, 10)
	for y := 0; y < 10; y++ {
		g.Set(v(5, y), world.BiomeOcean)
	}
	assert.Nil(t, FindPath(g, nil, v(2, 2), v(7, 2)))
}

func TestRiverCostPrefersDetour(t *testing.T) {
	g := islandGrid(9, 9)
	// Вертикальная река x=4 с разрывом на y=7
	rivers := map[vec.Vec2]bool{}
	for y := 1; y <= 6; y++ {
		rivers[v(4, y)] = true
	}

	// Обход через разрыв дороже, чем +2 за мост: дорога идёт через реку
	path := FindPath(g, rivers, v(2, 1), v(6, 1))
	require.NotNil(t, path)
	crossings := 0
	for _, p := range path {
		if rivers[p] {
			crossings++
		}
	}
	assert.Equal(t, 1, crossings)

	// Рядом с разрывом обход бесплатен: мост не нужен
	path = FindPath(g, rivers, v(2, 7), v(6, 7))
	for _, p := range path {
		assert.False(t, rivers[p])
	}
}

func TestBuildRecordsBridgesAndPortEdges(t *testing.T) {
	g := islandGrid(12, 12)
	rivers := map[vec.Vec2]bool{}
	for y := 1; y <= 10; y++ {
		rivers[v(6, y)] = true
	}

	land := []vec.Vec2{v(3, 5), v(9, 5)}
	ports := []vec.Vec2{v(1, 9)}
	net := Build(g, rivers, land, ports, 2)

	require.Len(t, net.Edges, 2, "MST по трём узлам даёт два ребра, ребро порта уже в нём")
	assert.Empty(t, net.Unreachable)
	require.Len(t, net.Roads, 2)
	require.NotEmpty(t, net.Bridges)

	seen := map[vec.Vec2]bool{}
	for _, b := range net.Bridges {
		p := v(b.X, b.Y)
		assert.True(t, rivers[p])
		assert.False(t, seen[p], "мосты без повторов")
		seen[p] = true
		assert.Equal(t, 1, b.Span)
		assert.False(t, b.OverSpan)
	}
	assert.Zero(t, net.OverSpanCount())
}

func TestBridgeSpan(t *testing.T) {
	rivers := map[vec.Vec2]bool{v(1, 0): true, v(2, 0): true, v(3, 0): true}
	path := []vec.Vec2{v(0, 0), v(1, 0), v(2, 0), v(3, 0), v(4, 0)}
	bridges := bridgesOn(path, rivers, 2, map[vec.Vec2]bool{})
	require.Len(t, bridges, 3)
	for _, b := range bridges {
		assert.Equal(t, 3, b.Span)
		assert.True(t, b.OverSpan)
	}
}
