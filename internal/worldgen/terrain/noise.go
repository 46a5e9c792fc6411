package terrain

import (
	"math"
	"strconv"

	"github.com/annel0/shard-engine/internal/rng"
)

// latticeNoise - билинейный value-noise на целочисленной решётке.
// Значения узлов берутся из KeyedRNG и кешируются: одни и те же узлы
// запрашиваются соседними тайлами много раз.
type latticeNoise struct {
	r     rng.KeyedRNG
	ns    string
	cache map[[2]int]float64
}

func newLatticeNoise(r rng.KeyedRNG, ns string) *latticeNoise {
	return &latticeNoise{r: r, ns: ns, cache: make(map[[2]int]float64)}
}

func (n *latticeNoise) node(ix, iy int) float64 {
	k := [2]int{ix, iy}
	if v, ok := n.cache[k]; ok {
		return v
	}
	v := n.r.ValueNoise2D(n.ns, ix, iy)
	n.cache[k] = v
	return v
}

// at возвращает шум в [0, 1)
func (n *latticeNoise) at(x, y float64) float64 {
	fx0, fy0 := math.Floor(x), math.Floor(y)
	ix, iy := int(fx0), int(fy0)
	ux, uy := fade(x-fx0), fade(y-fy0)

	a := lerp(n.node(ix, iy), n.node(ix+1, iy), ux)
	b := lerp(n.node(ix, iy+1), n.node(ix+1, iy+1), ux)
	return lerp(a, b, uy)
}

// fbm - сумма октав value-noise с растущей частотой и падающей амплитудой
type fbm struct {
	layers     []*latticeNoise
	lacunarity float64
	gain       float64
}

func newFBM(r rng.KeyedRNG, ns string, octaves int, lacunarity, gain float64) *fbm {
	if octaves < 1 {
		octaves = 1
	}
	f := &fbm{lacunarity: lacunarity, gain: gain}
	for o := 0; o < octaves; o++ {
		f.layers = append(f.layers, newLatticeNoise(r, ns+"."+strconv.Itoa(o)))
	}
	return f
}

// at возвращает значение примерно в [-1, 1]
func (f *fbm) at(x, y float64) float64 {
	amp, freq, total := 0.5, 1.0, 0.0
	for _, layer := range f.layers {
		total += (layer.at(x*freq, y*freq)*2 - 1) * amp
		freq *= f.lacunarity
		amp *= f.gain
	}
	return clamp(total, -1, 1)
}

// fade - smootherstep
func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
