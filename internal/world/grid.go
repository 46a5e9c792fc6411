package world

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/shard-engine/internal/vec"
)

// Grid - прямоугольная карта биомов H×W, хранится построчно.
// Все строки имеют одинаковую длину W.
type Grid struct {
	W, H  int
	Cells []Biome
}

// NewGrid создаёт карту, заполненную одним биомом
func NewGrid(w, h int, fill Biome) *Grid {
	cells := make([]Biome, w*h)
	for i := range cells {
		cells[i] = fill
	}
	return &Grid{W: w, H: h, Cells: cells}
}

// In проверяет принадлежность точки карте
func (g *Grid) In(p vec.Vec2) bool {
	return p.In(g.W, g.H)
}

// At возвращает биом тайла; точка должна лежать внутри карты
func (g *Grid) At(p vec.Vec2) Biome {
	return g.Cells[p.Y*g.W+p.X]
}

// Set меняет биом тайла
func (g *Grid) Set(p vec.Vec2, b Biome) {
	g.Cells[p.Y*g.W+p.X] = b
}

// IsOcean - true только для океанских тайлов внутри карты
func (g *Grid) IsOcean(p vec.Vec2) bool {
	return g.In(p) && g.At(p) == BiomeOcean
}

// Walkable - суша внутри карты
func (g *Grid) Walkable(p vec.Vec2) bool {
	return g.In(p) && g.At(p) != BiomeOcean
}

// OceanNeighbors4 считает океанских 4-соседей
func (g *Grid) OceanNeighbors4(p vec.Vec2) int {
	n := 0
	for _, q := range p.Neighbors4() {
		if g.IsOcean(q) {
			n++
		}
	}
	return n
}

// OceanNeighbors8 считает океанских 8-соседей
func (g *Grid) OceanNeighbors8(p vec.Vec2) int {
	n := 0
	for _, q := range p.Neighbors8() {
		if g.IsOcean(q) {
			n++
		}
	}
	return n
}

// IsShore - суша с хотя бы одним океанским 4-соседом
func (g *Grid) IsShore(p vec.Vec2) bool {
	return g.Walkable(p) && g.OceanNeighbors4(p) > 0
}

// RingDistance - расстояние до ближайшего края карты
func (g *Grid) RingDistance(p vec.Vec2) int {
	return RingDistance(p, g.W, g.H)
}

// RingDistance - минимальное расстояние точки до края прямоугольника w×h
func RingDistance(p vec.Vec2, w, h int) int {
	d := p.X
	if p.Y < d {
		d = p.Y
	}
	if w-1-p.X < d {
		d = w - 1 - p.X
	}
	if h-1-p.Y < d {
		d = h - 1 - p.Y
	}
	return d
}

// Each обходит все тайлы построчно
func (g *Grid) Each(fn func(p vec.Vec2, b Biome)) {
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			fn(vec.Vec2{X: x, Y: y}, g.Cells[y*g.W+x])
		}
	}
}

// Count считает тайлы, удовлетворяющие предикату
func (g *Grid) Count(pred func(Biome) bool) int {
	n := 0
	for _, b := range g.Cells {
		if pred(b) {
			n++
		}
	}
	return n
}

// Clone возвращает независимую копию
func (g *Grid) Clone() *Grid {
	cells := make([]Biome, len(g.Cells))
	copy(cells, g.Cells)
	return &Grid{W: g.W, H: g.H, Cells: cells}
}

// Rows возвращает карту как grid[y][x] строковых меток
func (g *Grid) Rows() [][]string {
	rows := make([][]string, g.H)
	for y := 0; y < g.H; y++ {
		row := make([]string, g.W)
		for x := 0; x < g.W; x++ {
			row[x] = g.Cells[y*g.W+x].String()
		}
		rows[y] = row
	}
	return rows
}

func (g *Grid) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Rows())
}

func (g *Grid) UnmarshalJSON(data []byte) error {
	var rows [][]Biome
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}
	cells := make([]Biome, 0, w*h)
	for y, row := range rows {
		if len(row) != w {
			return fmt.Errorf("grid row %d has width %d, want %d", y, len(row), w)
		}
		cells = append(cells, row...)
	}
	g.W, g.H, g.Cells = w, h, cells
	return nil
}
