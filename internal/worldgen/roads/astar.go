package roads

import (
	"container/heap"

	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
)

// Стоимость шага: обычный тайл и речной (мост)
const (
	stepCost  = 1
	riverCost = 3
)

type node struct {
	pos vec.Vec2
	f   int
	seq int
}

// openSet - min-куча по f; при равенстве раньше выходит узел, добавленный раньше
type openSet []node

func (s openSet) Len() int { return len(s) }
func (s openSet) Less(i, j int) bool {
	if s[i].f != s[j].f {
		return s[i].f < s[j].f
	}
	return s[i].seq < s[j].seq
}
func (s openSet) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s *openSet) Push(x any)   { *s = append(*s, x.(node)) }
func (s *openSet) Pop() any {
	old := *s
	n := old[len(old)-1]
	*s = old[:len(old)-1]
	return n
}

// FindPath ищет путь A* по суше между start и goal.
// Речные тайлы стоят дороже, эвристика - манхэттенское расстояние.
// Число раскрытий ограничено 10*W*H; при неудаче возвращается nil.
func FindPath(g *world.Grid, rivers map[vec.Vec2]bool, start, goal vec.Vec2) []vec.Vec2 {
	if !g.Walkable(start) || !g.Walkable(goal) {
		return nil
	}
	if start == goal {
		return []vec.Vec2{start}
	}

	open := &openSet{{pos: start, f: start.Manhattan(goal)}}
	came := map[vec.Vec2]vec.Vec2{}
	gScore := map[vec.Vec2]int{start: 0}
	closed := map[vec.Vec2]bool{}
	limit := 10 * g.W * g.H
	seq := 0

	for expansions := 0; open.Len() > 0 && expansions < limit; expansions++ {
		cur := heap.Pop(open).(node)
		if cur.pos == goal {
			return reconstruct(came, start, goal)
		}
		if closed[cur.pos] {
			continue
		}
		closed[cur.pos] = true

		for _, q := range cur.pos.Neighbors4() {
			if !g.Walkable(q) || closed[q] {
				continue
			}
			cost := stepCost
			if rivers[q] {
				cost = riverCost
			}
			ng := gScore[cur.pos] + cost
			if old, ok := gScore[q]; ok && ng >= old {
				continue
			}
			gScore[q] = ng
			came[q] = cur.pos
			seq++
			heap.Push(open, node{pos: q, f: ng + q.Manhattan(goal), seq: seq})
		}
	}
	return nil
}

func reconstruct(came map[vec.Vec2]vec.Vec2, start, goal vec.Vec2) []vec.Vec2 {
	path := []vec.Vec2{goal}
	for cur := goal; cur != start; {
		cur = came[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
