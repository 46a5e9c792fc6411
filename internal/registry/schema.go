package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/annel0/shard-engine/internal/world"
)

// Границы размеров сетки
const (
	MinGridSize = 8
	MaxGridSize = 128
)

// Типы формы мира
const (
	WorldContinent   = "continent"
	WorldArchipelago = "archipelago"
	WorldMixed       = "mixed"
)

// IntRange - включительный диапазон [Min, Max].
// В JSON принимает число, [a], [a, b] или {"min": a, "max": b}.
type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r *IntRange) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch {
	case len(data) > 0 && data[0] == '[':
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		switch len(arr) {
		case 0:
			return fmt.Errorf("empty range")
		case 1:
			r.Min, r.Max = int(arr[0]), int(arr[0])
		default:
			r.Min, r.Max = int(arr[0]), int(arr[1])
		}
	case len(data) > 0 && data[0] == '{':
		var obj struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.Min != nil {
			r.Min = int(*obj.Min)
		}
		if obj.Max != nil {
			r.Max = int(*obj.Max)
		} else {
			r.Max = r.Min
		}
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		r.Min, r.Max = int(n), int(n)
	}
	if r.Min > r.Max {
		r.Min, r.Max = r.Max, r.Min
	}
	return nil
}

// Clamp сужает диапазон до [lo, hi]
func (r IntRange) Clamp(lo, hi int) IntRange {
	return IntRange{Min: clampInt(r.Min, lo, hi), Max: clampInt(r.Max, lo, hi)}
}

type GridConfig struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	TileSize int `json:"tile_size"`
}

type WorldConfig struct {
	Type          string  `json:"type"`
	LandmassRatio float64 `json:"landmass_ratio"`
}

type NoiseConfig struct {
	Octaves     int     `json:"octaves"`
	Frequency   float64 `json:"frequency"`
	Lacunarity  float64 `json:"lacunarity"`
	Gain        float64 `json:"gain"`
	SmoothIters int     `json:"smooth_iters"`
}

type WaterConfig struct {
	OceanRing  int      `json:"ocean_ring"`
	CoastWidth IntRange `json:"coast_width"`
}

type BiomesRef struct {
	Pack string `json:"pack"`
}

// HydrologyConfig - параметры рек и озёр.
// Rivers == nil означает «вывести из площади суши»; LakesMax == 0 аналогично.
type HydrologyConfig struct {
	Rivers     *IntRange `json:"rivers"`
	LakeChance float64   `json:"lake_chance"`
	LakeSize   IntRange  `json:"lake_size"`
	LakesMax   int       `json:"lakes_max"`
	MinDist    int       `json:"min_dist"`
}

// TierCounts - число объектов по ярусам поселений
type TierCounts struct {
	City    int `json:"city"`
	Town    int `json:"town"`
	Village int `json:"village"`
	Port    int `json:"port"`
}

// Total - сумма по всем ярусам
func (c TierCounts) Total() int { return c.City + c.Town + c.Village + c.Port }

type SettlementsConfig struct {
	Budget  TierCounts `json:"budget"`
	Spacing TierCounts `json:"spacing"`
}

type BridgeConfig struct {
	MaxSpan int `json:"max_span"`
}

type RoadsConfig struct {
	Connectivity string       `json:"connectivity"`
	Bridge       BridgeConfig `json:"bridge"`
}

type POIConfig struct {
	Budget     int      `json:"budget"`
	MinSpacing int      `json:"min_spacing"`
	Tables     []string `json:"tables"`
}

type ResourcesConfig struct {
	Potentials []string           `json:"potentials"`
	Thresholds map[string]float64 `json:"thresholds"`
}

// TierConfig - типизированное представление эффективного конфига тира
type TierConfig struct {
	ID          string            `json:"id"`
	Version     string            `json:"version"`
	Label       string            `json:"label"`
	Grid        GridConfig        `json:"grid"`
	World       WorldConfig       `json:"world"`
	Noise       NoiseConfig       `json:"noise"`
	Water       WaterConfig       `json:"water"`
	Biomes      BiomesRef         `json:"biomes"`
	Hydrology   HydrologyConfig   `json:"hydrology"`
	Settlements SettlementsConfig `json:"settlements"`
	Roads       RoadsConfig       `json:"roads"`
	POI         POIConfig         `json:"poi"`
	Resources   ResourcesConfig   `json:"resources"`
}

// DefaultTierConfig возвращает значения для полей, которых нет в шаблоне
func DefaultTierConfig() TierConfig {
	return TierConfig{
		Grid:  GridConfig{Width: 16, TileSize: 32},
		World: WorldConfig{Type: WorldMixed, LandmassRatio: 0.44},
		Noise: NoiseConfig{Octaves: 4, Frequency: 1.3, Lacunarity: 2.0, Gain: 0.5, SmoothIters: 1},
		Water: WaterConfig{OceanRing: 1, CoastWidth: IntRange{Min: 1, Max: 2}},
		Hydrology: HydrologyConfig{
			LakeChance: 0.5,
			LakeSize:   IntRange{Min: 3, Max: 6},
			MinDist:    3,
		},
		Settlements: SettlementsConfig{
			Spacing: TierCounts{City: 6, Town: 5, Village: 4, Port: 4},
		},
		Roads: RoadsConfig{Connectivity: "mst", Bridge: BridgeConfig{MaxSpan: 2}},
		POI:   POIConfig{MinSpacing: 3},
	}
}

// DecodeTierConfig превращает эффективный конфиг в TierConfig и нормализует его
func DecodeTierConfig(effective map[string]any) (TierConfig, error) {
	cfg := DefaultTierConfig()
	raw, err := json.Marshal(effective)
	if err != nil {
		return cfg, fmt.Errorf("encode effective config: %v: %w", err, ErrConfigParse)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode effective config: %v: %w", err, ErrConfigParse)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize приводит значения к допустимым границам
func (c *TierConfig) Normalize() {
	c.Grid.Width = clampInt(c.Grid.Width, MinGridSize, MaxGridSize)
	if c.Grid.Height <= 0 {
		c.Grid.Height = c.Grid.Width
	}
	c.Grid.Height = clampInt(c.Grid.Height, MinGridSize, MaxGridSize)

	c.World.Type = strings.ToLower(strings.TrimSpace(c.World.Type))
	switch c.World.Type {
	case WorldContinent, WorldArchipelago, WorldMixed:
	default:
		c.World.Type = WorldMixed
	}
	c.World.LandmassRatio = clampFloat(c.World.LandmassRatio, 0.05, 0.9)

	if c.Noise.Octaves < 1 {
		c.Noise.Octaves = 1
	}
	if c.Noise.Frequency <= 0 {
		c.Noise.Frequency = 1.3
	}
	if c.Noise.Lacunarity <= 0 {
		c.Noise.Lacunarity = 2.0
	}
	if c.Noise.Gain <= 0 {
		c.Noise.Gain = 0.5
	}
	if c.Noise.SmoothIters < 0 {
		c.Noise.SmoothIters = 0
	}

	// Внешнее кольцо всегда океан
	short := c.Grid.Width
	if c.Grid.Height < short {
		short = c.Grid.Height
	}
	c.Water.OceanRing = clampInt(c.Water.OceanRing, 1, short/4)
	c.Water.CoastWidth = c.Water.CoastWidth.Clamp(1, 3)

	if c.Hydrology.Rivers != nil {
		rv := c.Hydrology.Rivers.Clamp(0, c.Grid.Width*c.Grid.Height)
		c.Hydrology.Rivers = &rv
	}
	c.Hydrology.LakeChance = clampFloat(c.Hydrology.LakeChance, 0, 1)
	c.Hydrology.LakeSize = c.Hydrology.LakeSize.Clamp(1, c.Grid.Width*c.Grid.Height)
	if c.Hydrology.MinDist < 1 {
		c.Hydrology.MinDist = 1
	}
	if c.Hydrology.LakesMax < 0 {
		c.Hydrology.LakesMax = 0
	}

	b := &c.Settlements.Budget
	b.City, b.Town, b.Village, b.Port = maxInt(b.City, 0), maxInt(b.Town, 0), maxInt(b.Village, 0), maxInt(b.Port, 0)
	s := &c.Settlements.Spacing
	s.City, s.Town, s.Village, s.Port = orDefault(s.City, 6), orDefault(s.Town, 5), orDefault(s.Village, 4), orDefault(s.Port, 4)

	if c.Roads.Bridge.MaxSpan < 1 {
		c.Roads.Bridge.MaxSpan = 1
	}
	c.POI.Budget = maxInt(c.POI.Budget, 0)
	if c.POI.MinSpacing < 1 {
		c.POI.MinSpacing = 1
	}
}

// BiomePack - типизированный биом-пак
type BiomePack struct {
	ID      string
	Version string
	// Coast - взвешенная таблица прибрежных биомов
	Coast world.WeightedTable[world.Biome]
	// ForestChance и MarshChance - независимые броски для равнинных тайлов
	ForestChance float64
	MarshChance  float64
	// Warnings - записи пака, отброшенные при декодировании
	Warnings []string
}

// IDAtVersion возвращает провенанс пака
func (p *BiomePack) IDAtVersion() string {
	v := p.Version
	if v == "" {
		v = "0.0.0"
	}
	return p.ID + "@" + v
}

// CoastSet возвращает множество допустимых прибрежных биомов
func (p *BiomePack) CoastSet() map[world.Biome]bool {
	set := map[world.Biome]bool{}
	for _, b := range p.Coast.Values() {
		set[b] = true
	}
	if len(set) == 0 {
		set[world.BiomeCoast] = true
	}
	return set
}

type weightedEntry struct {
	ID     string   `json:"id"`
	Weight *float64 `json:"weight"`
}

func (e *weightedEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.ID = s
		return nil
	}
	type plain weightedEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = weightedEntry(p)
	return nil
}

type biomePackDoc struct {
	Coast    []weightedEntry    `json:"coast"`
	Interior map[string]float64 `json:"interior"`
}

// DecodeBiomePack разбирает документ биом-пака.
// Некорректные записи прибрежной таблицы отбрасываются в Warnings.
func DecodeBiomePack(doc *LoadedDoc) (*BiomePack, error) {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("biome pack %s: %v: %w", doc.ID, err, ErrConfigParse)
	}
	var d biomePackDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("biome pack %s: %v: %w", doc.ID, err, ErrConfigParse)
	}

	pack := &BiomePack{ID: doc.ID, Version: doc.Version, ForestChance: 0.28, MarshChance: 0.05}
	for _, e := range d.Coast {
		id := e.ID
		if id == "" {
			id = "coast"
		}
		b, err := world.ParseBiome(id)
		if err != nil || !b.IsCoast() {
			pack.Warnings = append(pack.Warnings, fmt.Sprintf("coast entry %q is not a coast biome", id))
			continue
		}
		w := 1.0
		if e.Weight != nil {
			w = *e.Weight
		}
		if w <= 0 {
			continue
		}
		pack.Coast = append(pack.Coast, world.Weighted[world.Biome]{Value: b, Weight: w})
	}
	if len(pack.Coast) == 0 {
		pack.Coast = world.WeightedTable[world.Biome]{{Value: world.BiomeCoast, Weight: 1}}
	}

	for _, name := range sortedFloatKeys(d.Interior) {
		chance := clampFloat(d.Interior[name], 0, 1)
		switch name {
		case world.BiomeForest.String():
			pack.ForestChance = chance
		case world.BiomeMarshLite.String():
			pack.MarshChance = chance
		default:
			pack.Warnings = append(pack.Warnings, fmt.Sprintf("interior entry %q has no jitter roll", name))
		}
	}
	return pack, nil
}

// POIEntry - взвешенная запись таблицы POI.
// Пустой список Biomes допускает любую внутреннюю сушу.
type POIEntry struct {
	Tag    string        `json:"tag"`
	Weight float64       `json:"weight"`
	Biomes []world.Biome `json:"biomes"`
}

// Allows проверяет, допускает ли запись биом тайла
func (e POIEntry) Allows(b world.Biome) bool {
	if len(e.Biomes) == 0 {
		return b.IsInterior()
	}
	for _, x := range e.Biomes {
		if x == b {
			return true
		}
	}
	return false
}

// POITable - типизированная таблица POI
type POITable struct {
	ID      string     `json:"id"`
	Version string     `json:"version"`
	Entries []POIEntry `json:"entries"`
}

// DecodePOITable разбирает документ таблицы POI
func DecodePOITable(doc *LoadedDoc) (*POITable, error) {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("poi table %s: %v: %w", doc.ID, err, ErrConfigParse)
	}
	var t POITable
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("poi table %s: %v: %w", doc.ID, err, ErrConfigParse)
	}
	t.ID, t.Version = doc.ID, doc.Version
	for i := range t.Entries {
		if t.Entries[i].Weight == 0 {
			t.Entries[i].Weight = 1
		}
	}
	return &t, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func sortedFloatKeys(m map[string]float64) []string {
	generic := make(map[string]any, len(m))
	for k := range m {
		generic[k] = nil
	}
	return sortedKeys(generic)
}
