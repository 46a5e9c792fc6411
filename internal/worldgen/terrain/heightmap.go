package terrain

import (
	"math"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/vec"
)

// Границы и число шагов бинарного поиска уровня моря
const (
	seaLevelLo    = 0.20
	seaLevelHi    = 0.80
	seaLevelIters = 18
)

// Params - параметры рельефа, извлечённые из эффективного конфига
type Params struct {
	Width, Height int
	WorldType     string
	LandmassRatio float64
	Noise         registry.NoiseConfig
}

// ParamsFromConfig собирает Params из конфига тира
func ParamsFromConfig(cfg registry.TierConfig) Params {
	return Params{
		Width:         cfg.Grid.Width,
		Height:        cfg.Grid.Height,
		WorldType:     cfg.World.Type,
		LandmassRatio: cfg.World.LandmassRatio,
		Noise:         cfg.Noise,
	}
}

// Heightmap - нормализованное поле высот в [0, 1] и уровень моря
type Heightmap struct {
	W, H     int
	Values   []float64
	SeaLevel float64
}

// At возвращает высоту тайла
func (hm *Heightmap) At(p vec.Vec2) float64 {
	return hm.Values[p.Y*hm.W+p.X]
}

// BelowSea - тайл ниже уровня моря
func (hm *Heightmap) BelowSea(p vec.Vec2) bool {
	return hm.At(p) < hm.SeaLevel
}

// LandNorm переводит высоту в долю от диапазона [SeaLevel, 1]; ниже моря - 0
func (hm *Heightmap) LandNorm(p vec.Vec2) float64 {
	v := hm.At(p)
	if v < hm.SeaLevel {
		return 0
	}
	return (v - hm.SeaLevel) / math.Max(1e-6, 1-hm.SeaLevel)
}

// LandRatio - доля тайлов с высотой не ниже порога
func (hm *Heightmap) LandRatio(threshold float64) float64 {
	return landRatio(hm.Values, threshold)
}

// Scaled возвращает высоты как целые 0..100 построчно
func (hm *Heightmap) Scaled() [][]int {
	out := make([][]int, hm.H)
	for y := 0; y < hm.H; y++ {
		row := make([]int, hm.W)
		for x := 0; x < hm.W; x++ {
			row[x] = int(math.Round(hm.Values[y*hm.W+x] * 100))
		}
		out[y] = row
	}
	return out
}

// BuildHeightmap строит поле высот: два fBm-слоя, маска формы мира,
// нормализация, сглаживание и подбор уровня моря.
func BuildHeightmap(r rng.KeyedRNG, p Params) *Heightmap {
	w, h := p.Width, p.Height
	n := p.Noise

	lo := newFBM(r, "hm.lo", n.Octaves, n.Lacunarity, n.Gain)
	hi := newFBM(r, "hm.hi", n.Octaves-1, n.Lacunarity, n.Gain)
	hiFreq := n.Frequency * 2.2

	values := make([]float64, w*h)
	minV, maxV := math.Inf(1), math.Inf(-1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			nx, ny := float64(x)/math.Max(1, float64(w)), float64(y)/math.Max(1, float64(h))
			raw := 0.65*lo.at(nx*n.Frequency, ny*n.Frequency) + 0.35*hi.at(nx*hiFreq, ny*hiFreq)
			v := raw * worldMask(p.WorldType, nx, ny)
			values[y*w+x] = v
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
	}

	span := math.Max(1e-6, maxV-minV)
	for i, v := range values {
		values[i] = (v - minV) / span
	}

	for i := 0; i < n.SmoothIters; i++ {
		values = smooth(values, w, h)
	}

	return &Heightmap{W: w, H: h, Values: values, SeaLevel: SolveSeaLevel(values, p.LandmassRatio)}
}

// worldMask задаёт форму мира: континент тянет сушу к центру,
// архипелаг почти плоский, смешанный тип - промежуточный.
func worldMask(worldType string, nx, ny float64) float64 {
	cx, cy := nx-0.5, ny-0.5
	r := math.Sqrt(cx*cx+cy*cy) * math.Sqrt2
	switch worldType {
	case registry.WorldContinent:
		return 1 - math.Pow(r, 1.5)
	case registry.WorldArchipelago:
		return 0.85
	default:
		return 0.9 - math.Pow(r, 1.2)*0.4
	}
}

// smooth усредняет каждый тайл с его 8-соседями внутри карты
func smooth(values []float64, w, h int) []float64 {
	out := make([]float64, len(values))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := vec.Vec2{X: x, Y: y}
			sum, cnt := values[y*w+x], 1.0
			for _, q := range p.Neighbors8() {
				if q.In(w, h) {
					sum += values[q.Y*w+q.X]
					cnt++
				}
			}
			out[y*w+x] = sum / cnt
		}
	}
	return out
}

// SolveSeaLevel бинарным поиском в [0.2, 0.8] подбирает порог,
// при котором доля суши ближе всего к target.
func SolveSeaLevel(values []float64, target float64) float64 {
	lo, hi := seaLevelLo, seaLevelHi
	for i := 0; i < seaLevelIters; i++ {
		mid := (lo + hi) * 0.5
		if landRatio(values, mid) > target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) * 0.5
}

func landRatio(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	land := 0
	for _, v := range values {
		if v >= threshold {
			land++
		}
	}
	return float64(land) / float64(len(values))
}
