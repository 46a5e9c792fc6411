// Package shard собирает итоговый документ шарда и сохраняет его на диск.
//
// Документ содержит канонические секции grid/sites/layers/provenance и
// совместимые со старыми просмотрщиками tiles[y][x] = {"biome": ...} и pois.
package shard

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/hydrology"
	"github.com/annel0/shard-engine/internal/worldgen/placement"
	"github.com/annel0/shard-engine/internal/worldgen/resources"
	"github.com/annel0/shard-engine/internal/worldgen/roads"
)

// Версии формата
const (
	Generator     = "v2"
	SchemaVersion = "2.0.0"
)

// Meta - заголовок документа
type Meta struct {
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	Seed          int    `json:"seed"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	// CreatedAt - время записи по часам движка. Единственное поле документа,
	// которое не выводится из (seed, template, overrides).
	CreatedAt     string `json:"createdAt"`
	Version       string `json:"version"`
	Template      string `json:"template"`
	BiomePack     string `json:"biomePack"`
	Generator     string `json:"generator"`
	OverridesHash string `json:"overridesHash"`
}

// Provenance - всё, что нужно для воспроизведения документа
type Provenance struct {
	Generator        string   `json:"generator"`
	SchemaVersion    string   `json:"schema_version"`
	Template         string   `json:"template"`
	BiomePack        string   `json:"biome_pack"`
	Seed             int      `json:"seed"`
	OverridesHash    string   `json:"overrides_hash"`
	IgnoredOverrides []string `json:"ignored_overrides"`
}

// LegacyTile - форма тайла для старых просмотрщиков
type LegacyTile struct {
	Biome string `json:"biome"`
}

// LegacyPOI - плоская точка интереса для старых просмотрщиков
type LegacyPOI struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	X    int            `json:"x"`
	Y    int            `json:"y"`
	Meta map[string]any `json:"meta"`
}

type WaterLayer struct {
	OceanRing  int        `json:"ocean_ring"`
	CoastWidth int        `json:"coast_width"`
	Basins     []vec.Vec2 `json:"basins"`
}

type HydrologyLayer struct {
	Rivers [][]vec.Vec2     `json:"rivers"`
	Lakes  []hydrology.Lake `json:"lakes"`
}

type SettlementsLayer struct {
	Cities   []placement.Site `json:"cities"`
	Towns    []placement.Site `json:"towns"`
	Villages []placement.Site `json:"villages"`
	Ports    []placement.Site `json:"ports"`
}

type RoadsLayer struct {
	Paths       [][]vec.Vec2   `json:"paths"`
	Bridges     []roads.Bridge `json:"bridges"`
	Edges       []roads.Edge   `json:"edges"`
	Unreachable []roads.Edge   `json:"unreachable,omitempty"`
}

type WorldLayer struct {
	Type          string               `json:"type"`
	LandmassRatio float64              `json:"landmass_ratio"`
	SeaLevel      float64              `json:"sea_level"`
	Noise         registry.NoiseConfig `json:"noise"`
}

// Layers - производные слои генерации
type Layers struct {
	Water       WaterLayer       `json:"water"`
	Hydrology   HydrologyLayer   `json:"hydrology"`
	Settlements SettlementsLayer `json:"settlements"`
	Roads       RoadsLayer       `json:"roads"`
	Elevation   [][]int          `json:"elevation"`
	World       WorldLayer       `json:"world"`
	POI         []placement.Site `json:"poi"`
	Resources   *resources.Layer `json:"resources,omitempty"`
}

// Document - полный документ шарда
type Document struct {
	Meta       Meta             `json:"meta"`
	Tiles      [][]LegacyTile   `json:"tiles"`
	POIs       []LegacyPOI      `json:"pois"`
	Grid       *world.Grid      `json:"grid"`
	Sites      []placement.Site `json:"sites"`
	Layers     Layers           `json:"layers"`
	Provenance Provenance       `json:"provenance"`
}

// FileName возвращает имя файла шарда "{seed:08d}_{name}.json"
func (d *Document) FileName() string {
	return FileName(d.Meta.Seed, d.Meta.Name)
}

// AssembleInput - исходные данные для сборки документа
type AssembleInput struct {
	Name       string
	Seed       int
	Grid       *world.Grid
	Sites      []placement.Site
	Layers     Layers
	Provenance Provenance
	Template   string
	BiomePack  string
	CreatedAt  time.Time
}

// Assemble проверяет прямоугольность сетки и собирает документ
// вместе с legacy-секциями.
func Assemble(in AssembleInput) (*Document, error) {
	if in.Grid == nil {
		return nil, fmt.Errorf("сетка шарда не задана")
	}
	if len(in.Grid.Cells) != in.Grid.W*in.Grid.H {
		return nil, fmt.Errorf("сетка %dx%d содержит %d тайлов", in.Grid.W, in.Grid.H, len(in.Grid.Cells))
	}

	safe := SafeName(in.Name)
	sites := in.Sites
	if sites == nil {
		sites = []placement.Site{}
	}

	doc := &Document{
		Meta: Meta{
			Name:          safe,
			DisplayName:   DisplayName(safe),
			Seed:          in.Seed,
			Width:         in.Grid.W,
			Height:        in.Grid.H,
			CreatedAt:     in.CreatedAt.UTC().Format(time.RFC3339),
			Version:       SchemaVersion,
			Template:      in.Template,
			BiomePack:     in.BiomePack,
			Generator:     Generator,
			OverridesHash: in.Provenance.OverridesHash,
		},
		Tiles:      LegacyTiles(in.Grid),
		POIs:       LegacyPOIs(sites),
		Grid:       in.Grid,
		Sites:      sites,
		Layers:     in.Layers,
		Provenance: in.Provenance,
	}
	return doc, nil
}

// LegacyTiles переводит сетку в tiles[y][x] = {"biome": label}
func LegacyTiles(g *world.Grid) [][]LegacyTile {
	rows := g.Rows()
	out := make([][]LegacyTile, len(rows))
	for y, row := range rows {
		out[y] = make([]LegacyTile, len(row))
		for x, label := range row {
			out[y][x] = LegacyTile{Biome: label}
		}
	}
	return out
}

// LegacyPOIs переводит объекты в плоские POI.
// Имя берётся из первого тега, иначе из типа.
func LegacyPOIs(sites []placement.Site) []LegacyPOI {
	out := make([]LegacyPOI, 0, len(sites))
	for _, s := range sites {
		name := string(s.Kind)
		if len(s.Tags) > 0 {
			name = s.Tags[0]
		}
		meta := map[string]any{"score": s.Score}
		if len(s.Tags) > 0 {
			meta["tags"] = s.Tags
		}
		out = append(out, LegacyPOI{Type: string(s.Kind), Name: name, X: s.Pos.X, Y: s.Pos.Y, Meta: meta})
	}
	return out
}

// SafeName оставляет в имени только буквы, цифры, '_' и '-'
func SafeName(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FileName возвращает "{seed:08d}_{safe name}.json"
func FileName(seed int, name string) string {
	return fmt.Sprintf("%08d_%s.json", seed, SafeName(name))
}

// DisplayName превращает "old_harbor" в "Old Harbor"
func DisplayName(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
