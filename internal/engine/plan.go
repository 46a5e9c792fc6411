package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/shard-engine/internal/cache"
	"github.com/annel0/shard-engine/internal/eventbus"
	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/shard"
	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/terrain"
)

// Коды предупреждений плана
const (
	WarnPackEntryDropped = "biome_pack_entry_dropped"
	WarnIgnoredOverrides = "ignored_overrides"
	WarnInvalidOverride  = "invalid_override"
	WarnGridClamped      = "grid_clamped"
	WarnNoInterior       = "no_interior"
	WarnDenseBudget      = "dense_budget"
	WarnFileExists       = "file_exists"
)

// Warning - замечание к плану
type Warning struct {
	Code       string `json:"code"`
	Layer      string `json:"layer"`
	Severity   string `json:"severity"` // info | warn | error
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

type PlanGrid struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	TileSize int `json:"tile_size"`
}

type POIBudget struct {
	Budget     int      `json:"budget"`
	MinSpacing int      `json:"min_spacing"`
	Tables     []string `json:"tables"`
}

type PlanBudgets struct {
	Settlements registry.TierCounts `json:"settlements"`
	POI         POIBudget           `json:"poi"`
}

type TileCounts struct {
	Land     int `json:"land"`
	Ocean    int `json:"ocean"`
	Coast    int `json:"coast"`
	Interior int `json:"interior"`
}

type WaterPlan struct {
	OceanRing       int               `json:"ocean_ring"`
	CoastWidthRange registry.IntRange `json:"coast_width_range"`
	CoastWidth      int               `json:"coast_width"`
	CoastlineOK     bool              `json:"coastline_ok"`
	EstimatedCounts TileCounts        `json:"estimated_counts"`
}

type HydrologyCounts struct {
	Rivers *registry.IntRange `json:"rivers"`
	Lakes  int                `json:"lakes"`
}

type HydrologyChosen struct {
	Rivers int `json:"rivers"`
	Lakes  int `json:"lakes"`
}

type HydrologyPlan struct {
	Requested    HydrologyCounts   `json:"requested"`
	Chosen       HydrologyChosen   `json:"chosen"`
	LakeChance   float64           `json:"lake_chance"`
	LakeSize     registry.IntRange `json:"lake_size"`
	RiverSources []vec.Vec2        `json:"river_sources,omitempty"`
	LakeSeeds    []vec.Vec2        `json:"lake_seeds,omitempty"`
}

type BiomeWeight struct {
	Biome  world.Biome `json:"biome"`
	Weight float64     `json:"weight"`
}

type BiomesPlan struct {
	Pack         string        `json:"pack"`
	Coast        []BiomeWeight `json:"coast"`
	ForestChance float64       `json:"forest_chance"`
	MarshChance  float64       `json:"marsh_chance"`
	Smoothing    int           `json:"smoothing"`
	WorldType    string        `json:"world_type"`
	Landmass     float64       `json:"landmass_ratio"`
}

type SettlementPreview struct {
	Cities   []vec.Vec2 `json:"cities,omitempty"`
	Towns    []vec.Vec2 `json:"towns,omitempty"`
	Villages []vec.Vec2 `json:"villages,omitempty"`
	Ports    []vec.Vec2 `json:"ports,omitempty"`
}

type SettlementsPlan struct {
	Budget            registry.TierCounts `json:"budget"`
	Spacing           registry.TierCounts `json:"spacing"`
	CandidatesScanned int                 `json:"candidates_scanned"`
	Selected          *SettlementPreview  `json:"selected,omitempty"`
	Constraints       []string            `json:"constraints"`
}

type RoadsPlan struct {
	Connectivity string `json:"connectivity"`
	Nodes        int    `json:"nodes"`
	Edges        int    `json:"edges"`
	MaxSpan      int    `json:"bridge_max_span"`
}

type POIPlan struct {
	POIBudget
	Preview []string `json:"preview,omitempty"`
}

type ResourcesPlan struct {
	Potentials []string           `json:"potentials"`
	Thresholds map[string]float64 `json:"thresholds"`
	Policy     string             `json:"policy"`
}

type PlanLayers struct {
	Water       WaterPlan       `json:"water"`
	Hydrology   HydrologyPlan   `json:"hydrology"`
	Biomes      BiomesPlan      `json:"biomes"`
	Settlements SettlementsPlan `json:"settlements"`
	Roads       RoadsPlan       `json:"roads"`
	POI         POIPlan         `json:"poi"`
	Resources   ResourcesPlan   `json:"resources"`
}

type TileCountsEstimate struct {
	Land       int `json:"land"`
	Ocean      int `json:"ocean"`
	Coast      int `json:"coast"`
	RiverTiles int `json:"river_tiles"`
	LakeTiles  int `json:"lake_tiles"`
}

type Connectivity struct {
	RoadComponents int `json:"road_components"`
	RiverOutlets   int `json:"river_outlets"`
}

type PlanMetrics struct {
	TileCountsEstimate TileCountsEstimate `json:"tile_counts_estimate"`
	Connectivity       Connectivity       `json:"connectivity"`
}

type WouldWrite struct {
	Filename string   `json:"filename"`
	Path     string   `json:"path"`
	Exists   bool     `json:"exists"`
	Compat   []string `json:"compat"`
}

// PlanResult - предпросмотр генерации без материализованной сетки
type PlanResult struct {
	OK         bool                  `json:"ok"`
	PlanID     string                `json:"plan_id"`
	Timestamp  string                `json:"timestamp"`
	Seed       int                   `json:"seed"`
	Cached     bool                  `json:"cached"`
	Verbosity  Verbosity             `json:"verbosity"`
	Provenance shard.Provenance      `json:"provenance"`
	Grid       PlanGrid              `json:"grid"`
	Diff       registry.OverrideDiff `json:"diff"`
	Budgets    PlanBudgets           `json:"budgets"`
	Layers     PlanLayers            `json:"layers"`
	Metrics    PlanMetrics           `json:"metrics"`
	Warnings   []Warning             `json:"warnings"`
	WouldWrite WouldWrite            `json:"would_write"`
	Effective  map[string]any        `json:"effective,omitempty"`
}

// Plan строит предпросмотр шарда. Файлы не пишутся никогда.
// Тот же запрос с тем же сидом даёт тот же план с точностью до timestamp.
func (e *Engine) Plan(ctx context.Context, req *PlanRequest) (*PlanResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Plan", trace.WithAttributes(requestAttrs(req)...))
	defer span.End()

	r, err := e.resolve(ctx, req)
	if err != nil {
		return nil, e.fail(span, "plan", err)
	}
	span.SetAttributes(attribute.Int("shard.seed", r.seed))

	key := cache.PlanKey(req.TemplateID, r.pack.IDAtVersion(), shard.SafeName(req.Name), r.seed, r.res.Diff.Hash, string(req.PlanVerbosity))
	if plan := e.cachedPlan(ctx, key); plan != nil {
		e.metrics.planned.WithLabelValues(req.TemplateID, "true").Inc()
		return plan, nil
	}

	plan := e.buildPlan(r)
	e.storePlan(ctx, key, plan)
	e.metrics.planned.WithLabelValues(req.TemplateID, "false").Inc()

	e.publish(ctx, eventbus.EventShardPlanned, map[string]any{
		"plan_id":  plan.PlanID,
		"seed":     plan.Seed,
		"template": plan.Provenance.Template,
		"filename": plan.WouldWrite.Filename,
	})
	return plan, nil
}

// cachedPlan возвращает план из кеша с новым timestamp; промах и ошибки дают nil
func (e *Engine) cachedPlan(ctx context.Context, key string) *PlanResult {
	if e.cache == nil {
		return nil
	}
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			e.log.Warn("Кеш планов недоступен: %v", err)
		}
		return nil
	}
	var plan PlanResult
	if err := json.Unmarshal(data, &plan); err != nil {
		e.log.Warn("Повреждённая запись кеша %s: %v", key, err)
		return nil
	}
	plan.Cached = true
	plan.Timestamp = e.timestamp()
	// Файл мог появиться после того, как план попал в кеш
	plan.WouldWrite.Exists = e.store.Exists(plan.WouldWrite.Filename)
	return &plan
}

func (e *Engine) storePlan(ctx context.Context, key string, plan *PlanResult) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(plan)
	if err != nil {
		e.log.Warn("План не сериализован для кеша: %v", err)
		return
	}
	if err := e.cache.Set(ctx, key, data, 0); err != nil {
		e.log.Warn("План не сохранён в кеш: %v", err)
	}
}

func (e *Engine) timestamp() string {
	return e.clock().UTC().Format(time.RFC3339)
}

// buildPlan - вся арифметика плана; чистая функция от resolved и хранилища
func (e *Engine) buildPlan(r *resolved) *PlanResult {
	cfg := r.res.Config
	req := r.req
	w, h := cfg.Grid.Width, cfg.Grid.Height
	previews := req.PlanVerbosity != VerbosityMini

	root := rng.New(r.seed, "")
	coastW := terrain.ResolveCoastWidth(root, cfg.Water.CoastWidth)
	ocean, coast, interior := terrain.RingCounts(w, h, cfg.Water.OceanRing, coastW)
	inner := cfg.Water.OceanRing + coastW

	plan := &PlanResult{
		OK:         true,
		PlanID:     fmt.Sprintf("plan-%d-%s", r.seed, req.TemplateID),
		Timestamp:  e.timestamp(),
		Seed:       r.seed,
		Verbosity:  req.PlanVerbosity,
		Provenance: r.provenance(),
		Grid:       PlanGrid{Width: w, Height: h, TileSize: cfg.Grid.TileSize},
		Diff:       r.res.Diff,
		Budgets: PlanBudgets{
			Settlements: cfg.Settlements.Budget,
			POI:         poiBudget(cfg),
		},
		Warnings: []Warning{},
	}

	plan.Layers.Water = WaterPlan{
		OceanRing:       cfg.Water.OceanRing,
		CoastWidthRange: cfg.Water.CoastWidth,
		CoastWidth:      coastW,
		CoastlineOK:     interior > 0,
		EstimatedCounts: TileCounts{Land: coast + interior, Ocean: ocean, Coast: coast, Interior: interior},
	}

	// Гидрология: те же ключи, что использует генерация
	hr := root.WithNamespace("hydrology")
	scale := math.Sqrt(math.Max(1, float64(interior)))
	rivers := 0
	if cfg.Hydrology.Rivers != nil {
		rivers = hr.Randi("rivers.n", cfg.Hydrology.Rivers.Min, cfg.Hydrology.Rivers.Max)
	} else {
		rivers = maxInt(1, int(scale/6))
	}
	slots := cfg.Hydrology.LakesMax
	if slots == 0 {
		slots = maxInt(0, int(scale/10))
	}
	lakes := 0
	for i := 0; i < slots; i++ {
		if hr.Coinflip(fmt.Sprintf("lake.slot.%d", i), cfg.Hydrology.LakeChance) {
			lakes++
		}
	}
	if interior == 0 {
		rivers, lakes = 0, 0
	}
	plan.Layers.Hydrology = HydrologyPlan{
		Requested:  HydrologyCounts{Rivers: cfg.Hydrology.Rivers, Lakes: slots},
		Chosen:     HydrologyChosen{Rivers: rivers, Lakes: lakes},
		LakeChance: cfg.Hydrology.LakeChance,
		LakeSize:   cfg.Hydrology.LakeSize,
	}
	if previews {
		plan.Layers.Hydrology.RiverSources = interiorPoints(hr, "plan.river", rivers, w, h, inner)
		plan.Layers.Hydrology.LakeSeeds = interiorPoints(hr, "plan.lake", lakes, w, h, inner)
	}

	plan.Layers.Biomes = BiomesPlan{
		Pack:         r.pack.IDAtVersion(),
		Coast:        coastWeights(r.pack),
		ForestChance: r.pack.ForestChance,
		MarshChance:  r.pack.MarshChance,
		Smoothing:    cfg.Noise.SmoothIters,
		WorldType:    cfg.World.Type,
		Landmass:     cfg.World.LandmassRatio,
	}

	budget := cfg.Settlements.Budget
	plan.Layers.Settlements = SettlementsPlan{
		Budget:            budget,
		Spacing:           cfg.Settlements.Spacing,
		CandidatesScanned: interior,
		Constraints: []string{
			"interior_land_only",
			"not_on_river_or_lake",
			"ports_adjacent_to_ocean",
			"manhattan_spacing_per_tier",
		},
	}
	if previews {
		sr := root.WithNamespace("settlements")
		plan.Layers.Settlements.Selected = &SettlementPreview{
			Cities:   interiorPoints(sr, "plan.city", budget.City, w, h, inner),
			Towns:    interiorPoints(sr, "plan.town", budget.Town, w, h, inner),
			Villages: interiorPoints(sr, "plan.village", budget.Village, w, h, inner),
			Ports:    shorePoints(sr, "plan.port", budget.Port, w, h, cfg.Water.OceanRing),
		}
	}

	nodes := budget.Total()
	plan.Layers.Roads = RoadsPlan{
		Connectivity: cfg.Roads.Connectivity,
		Nodes:        nodes,
		Edges:        maxInt(0, nodes-1),
		MaxSpan:      cfg.Roads.Bridge.MaxSpan,
	}

	plan.Layers.POI = POIPlan{POIBudget: poiBudget(cfg)}
	if previews {
		plan.Layers.POI.Preview = poiPreview(root.WithNamespace("poi"), r.poi, cfg.POI.Budget)
	}

	plan.Layers.Resources = ResourcesPlan{
		Potentials: append([]string{}, cfg.Resources.Potentials...),
		Thresholds: resourceThresholds(cfg.Resources),
		Policy:     "perlin_x_biome_affinity",
	}

	depth := maxInt(1, minInt(w, h)/2-inner)
	roadComponents := 0
	if nodes > 0 {
		roadComponents = 1
	}
	plan.Metrics = PlanMetrics{
		TileCountsEstimate: TileCountsEstimate{
			Land:       coast + interior,
			Ocean:      ocean,
			Coast:      coast,
			RiverTiles: minInt(interior, rivers*depth),
			LakeTiles:  minInt(interior, lakes*(cfg.Hydrology.LakeSize.Min+cfg.Hydrology.LakeSize.Max)/2),
		},
		Connectivity: Connectivity{RoadComponents: roadComponents, RiverOutlets: rivers},
	}

	plan.Warnings = e.planWarnings(r, interior)

	file := shard.FileName(r.seed, req.Name)
	plan.WouldWrite = WouldWrite{
		Filename: file,
		Path:     e.store.URLFor(file),
		Exists:   e.store.Exists(file),
		Compat:   []string{"tiles", "pois"},
	}
	if plan.WouldWrite.Exists {
		plan.Warnings = append(plan.Warnings, Warning{
			Code:       WarnFileExists,
			Layer:      "output",
			Severity:   "warn",
			Message:    fmt.Sprintf("файл %s уже существует и будет перезаписан", file),
			Suggestion: "укажите другое имя или сид",
		})
	}

	if req.PlanVerbosity == VerbosityFull {
		plan.Effective = r.res.Effective
	}
	return plan
}

func (e *Engine) planWarnings(r *resolved, interior int) []Warning {
	cfg := r.res.Config
	out := []Warning{}

	for _, msg := range r.pack.Warnings {
		out = append(out, Warning{
			Code:     WarnPackEntryDropped,
			Layer:    "biomes",
			Severity: "warn",
			Message:  fmt.Sprintf("%s: %s", r.pack.IDAtVersion(), msg),
		})
	}

	if n := len(r.res.Diff.Ignored); n > 0 {
		out = append(out, Warning{
			Code:       WarnIgnoredOverrides,
			Layer:      "overrides",
			Severity:   "info",
			Message:    fmt.Sprintf("%d переопределений не совпали с ключами шаблона %s", n, r.res.Tier.IDAtVersion()),
			Suggestion: "проверьте пути в ignored_overrides",
		})
	}
	for _, inv := range r.res.Diff.Invalid {
		out = append(out, Warning{
			Code:     WarnInvalidOverride,
			Layer:    "overrides",
			Severity: "warn",
			Message:  fmt.Sprintf("%s: %s", inv.Path, inv.Reason),
		})
	}

	if rw, rh, ok := requestedGrid(r.res.Effective); ok && (rw != cfg.Grid.Width || rh != cfg.Grid.Height) {
		out = append(out, Warning{
			Code:     WarnGridClamped,
			Layer:    "grid",
			Severity: "warn",
			Message: fmt.Sprintf("сетка %dx%d приведена к %dx%d (допустимо %d..%d)",
				rw, rh, cfg.Grid.Width, cfg.Grid.Height, registry.MinGridSize, registry.MaxGridSize),
		})
	}

	if interior == 0 {
		out = append(out, Warning{
			Code:       WarnNoInterior,
			Layer:      "water",
			Severity:   "error",
			Message:    "океанское кольцо и побережье занимают всю карту",
			Suggestion: "уменьшите water.ocean_ring или water.coast_width",
		})
	} else if demand := cfg.Settlements.Budget.Total() + cfg.POI.Budget; demand*4 > interior {
		out = append(out, Warning{
			Code:       WarnDenseBudget,
			Layer:      "settlements",
			Severity:   "info",
			Message:    fmt.Sprintf("бюджет %d объектов на %d тайлов внутренней суши, часть может не поместиться", demand, interior),
			Suggestion: "уменьшите бюджеты или увеличьте сетку",
		})
	}
	return out
}

// requestedGrid достаёт размеры сетки до нормализации
func requestedGrid(effective map[string]any) (w, h int, ok bool) {
	grid, isMap := effective["grid"].(map[string]any)
	if !isMap {
		return 0, 0, false
	}
	w, ok = asInt(grid["width"])
	if !ok {
		return 0, 0, false
	}
	h, hok := asInt(grid["height"])
	if !hok || h <= 0 {
		h = w
	}
	return w, h, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func poiBudget(cfg registry.TierConfig) POIBudget {
	tables := cfg.POI.Tables
	if tables == nil {
		tables = []string{}
	}
	return POIBudget{Budget: cfg.POI.Budget, MinSpacing: cfg.POI.MinSpacing, Tables: tables}
}

func coastWeights(pack *registry.BiomePack) []BiomeWeight {
	out := make([]BiomeWeight, 0, len(pack.Coast))
	for _, e := range pack.Coast {
		out = append(out, BiomeWeight{Biome: e.Value, Weight: e.Weight})
	}
	return out
}

// resourceThresholds подставляет порог по умолчанию для ресурсов без порога
func resourceThresholds(rc registry.ResourcesConfig) map[string]float64 {
	out := make(map[string]float64, len(rc.Potentials))
	for _, name := range rc.Potentials {
		if t, ok := rc.Thresholds[name]; ok {
			out[name] = t
		} else {
			out[name] = 70
		}
	}
	return out
}

// interiorPoints тянет n точек внутри прямоугольника, оставшегося после колец
func interiorPoints(r rng.KeyedRNG, prefix string, n, w, h, inner int) []vec.Vec2 {
	if n <= 0 || w-2*inner <= 0 || h-2*inner <= 0 {
		return nil
	}
	out := make([]vec.Vec2, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, vec.Vec2{
			X: r.Randi(fmt.Sprintf("%s.%d.x", prefix, i), inner, w-1-inner),
			Y: r.Randi(fmt.Sprintf("%s.%d.y", prefix, i), inner, h-1-inner),
		})
	}
	return out
}

// shorePoints тянет n точек на первом кольце после океана
func shorePoints(r rng.KeyedRNG, prefix string, n, w, h, ring int) []vec.Vec2 {
	lo, hiX, hiY := ring, w-1-ring, h-1-ring
	if n <= 0 || hiX < lo || hiY < lo {
		return nil
	}
	out := make([]vec.Vec2, 0, n)
	for i := 0; i < n; i++ {
		side := r.Randi(fmt.Sprintf("%s.%d.side", prefix, i), 0, 3)
		var p vec.Vec2
		switch side {
		case 0:
			p = vec.Vec2{X: r.Randi(fmt.Sprintf("%s.%d.t", prefix, i), lo, hiX), Y: lo}
		case 1:
			p = vec.Vec2{X: r.Randi(fmt.Sprintf("%s.%d.t", prefix, i), lo, hiX), Y: hiY}
		case 2:
			p = vec.Vec2{X: lo, Y: r.Randi(fmt.Sprintf("%s.%d.t", prefix, i), lo, hiY)}
		default:
			p = vec.Vec2{X: hiX, Y: r.Randi(fmt.Sprintf("%s.%d.t", prefix, i), lo, hiY)}
		}
		out = append(out, p)
	}
	return out
}

// poiPreview тянет теги из объединённых таблиц без учёта биома
func poiPreview(r rng.KeyedRNG, tables []*registry.POITable, budget int) []string {
	var table world.WeightedTable[string]
	for _, t := range tables {
		for _, e := range t.Entries {
			table = append(table, world.Weighted[string]{Value: e.Tag, Weight: e.Weight})
		}
	}
	if budget <= 0 || len(table) == 0 {
		return nil
	}
	out := make([]string, 0, budget)
	for i := 0; i < budget; i++ {
		if tag := table.Pick(r, fmt.Sprintf("plan.poi.%d", i), ""); tag != "" {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
