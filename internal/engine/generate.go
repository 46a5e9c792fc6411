package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/shard-engine/internal/eventbus"
	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/shard"
	"github.com/annel0/shard-engine/internal/storage"
	"github.com/annel0/shard-engine/internal/worldgen/hydrology"
	"github.com/annel0/shard-engine/internal/worldgen/placement"
	"github.com/annel0/shard-engine/internal/worldgen/resources"
	"github.com/annel0/shard-engine/internal/worldgen/roads"
	"github.com/annel0/shard-engine/internal/worldgen/terrain"
)

// Этапы генерации
const (
	PhaseTerrain     = "terrain"
	PhaseHydrology   = "hydrology"
	PhaseSettlements = "settlements"
	PhaseRoads       = "roads"
	PhasePOI         = "poi"
	PhaseResources   = "resources"
	PhaseAssemble    = "assemble"
	PhasePersist     = "persist"
)

// GenerateResult - дескриптор сохранённого шарда
type GenerateResult struct {
	OK         bool                  `json:"ok"`
	File       string                `json:"file"`
	Path       string                `json:"path"`
	Meta       shard.Meta            `json:"meta"`
	Provenance shard.Provenance      `json:"provenance"`
	Diff       registry.OverrideDiff `json:"diff"`
	Warnings   []Warning             `json:"warnings"`

	Document *shard.Document `json:"-"`
}

// Generate материализует шард и атомарно записывает его.
// Ошибки индекса и шины событий после записи не отменяют результат.
func (e *Engine) Generate(ctx context.Context, req *PlanRequest) (*GenerateResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Generate", trace.WithAttributes(requestAttrs(req)...))
	defer span.End()
	started := time.Now()

	r, err := e.resolve(ctx, req)
	if err != nil {
		return nil, e.fail(span, "generate", err)
	}
	span.SetAttributes(attribute.Int("shard.seed", r.seed))

	doc, err := e.build(ctx, r)
	if err != nil {
		return nil, e.fail(span, "generate", err)
	}

	phaseStart := time.Now()
	desc, err := e.store.Save(ctx, doc)
	e.metrics.observePhase(PhasePersist, phaseStart)
	if err != nil {
		e.log.Error("Шард %s не записан: %v", doc.FileName(), err)
		return nil, e.fail(span, "generate", err)
	}

	e.indexShard(ctx, r, doc, desc)

	e.metrics.generateDuration.WithLabelValues(req.TemplateID).Observe(time.Since(started).Seconds())
	e.metrics.generated.WithLabelValues(req.TemplateID).Inc()
	e.log.Info("Шард %s сохранён за %v", desc.File, time.Since(started))

	e.publish(ctx, eventbus.EventShardGenerated, desc.Meta)

	warnings := e.planWarnings(r, interiorCount(r))
	return &GenerateResult{
		OK:         true,
		File:       desc.File,
		Path:       desc.Path,
		Meta:       desc.Meta,
		Provenance: doc.Provenance,
		Diff:       r.res.Diff,
		Warnings:   warnings,
		Document:   doc,
	}, nil
}

// Render строит документ шарда без записи на диск
func (e *Engine) Render(ctx context.Context, req *PlanRequest) (*shard.Document, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Render", trace.WithAttributes(requestAttrs(req)...))
	defer span.End()

	r, err := e.resolve(ctx, req)
	if err != nil {
		return nil, e.fail(span, "render", err)
	}
	doc, err := e.build(ctx, r)
	if err != nil {
		return nil, e.fail(span, "render", err)
	}
	return doc, nil
}

// build прогоняет этапы. Каждый этап получает своё пространство имён RNG,
// рельеф работает в корневом, поэтому этапы не влияют на выборы друг друга.
func (e *Engine) build(ctx context.Context, r *resolved) (*shard.Document, error) {
	cfg := r.res.Config
	root := rng.New(r.seed, "")

	var painted *terrain.Result
	e.phase(ctx, PhaseTerrain, func() {
		hm := terrain.BuildHeightmap(root, terrain.ParamsFromConfig(cfg))
		coastW := terrain.ResolveCoastWidth(root, cfg.Water.CoastWidth)
		painted = terrain.Paint(root, hm, cfg.Water.OceanRing, coastW, r.pack)
	})
	g := painted.Grid

	var hyd *hydrology.Result
	e.phase(ctx, PhaseHydrology, func() {
		hyd = hydrology.Generate(root.WithNamespace("hydrology"), painted, hydrology.ParamsFromConfig(cfg))
	})

	var settled *placement.Result
	e.phase(ctx, PhaseSettlements, func() {
		settled = placement.Place(root.WithNamespace("settlements"), g, hyd, placement.ParamsFromConfig(cfg))
	})

	var net *roads.Network
	e.phase(ctx, PhaseRoads, func() {
		net = roads.Build(g, hyd.RiverTiles(), settled.LandNodes(), settled.PortNodes(), cfg.Roads.Bridge.MaxSpan)
	})
	if n := net.OverSpanCount(); n > 0 {
		e.log.Debug("Мостов длиннее %d тайлов: %d", cfg.Roads.Bridge.MaxSpan, n)
	}

	var pois []placement.Site
	e.phase(ctx, PhasePOI, func() {
		pois = placement.PlacePOI(root.WithNamespace("poi"), g, hyd, settled, placement.POIParams{
			Budget:     cfg.POI.Budget,
			MinSpacing: cfg.POI.MinSpacing,
			Tables:     r.poi,
		})
	})

	var res *resources.Layer
	if len(cfg.Resources.Potentials) > 0 {
		e.phase(ctx, PhaseResources, func() {
			res = resources.Build(root.WithNamespace("resources"), g, hyd, resources.ParamsFromConfig(cfg))
		})
	}

	sites := append(settled.All(), pois...)
	if pois == nil {
		pois = []placement.Site{}
	}

	var doc *shard.Document
	var err error
	e.phase(ctx, PhaseAssemble, func() {
		doc, err = shard.Assemble(shard.AssembleInput{
			Name:  r.req.Name,
			Seed:  r.seed,
			Grid:  g,
			Sites: sites,
			Layers: shard.Layers{
				Water: shard.WaterLayer{
					OceanRing:  painted.OceanRing,
					CoastWidth: painted.CoastWidth,
					Basins:     nonNil(painted.Basins),
				},
				Hydrology: shard.HydrologyLayer{
					Rivers: nonNil(hyd.Rivers),
					Lakes:  nonNil(hyd.Lakes),
				},
				Settlements: shard.SettlementsLayer{
					Cities:   nonNil(settled.Cities),
					Towns:    nonNil(settled.Towns),
					Villages: nonNil(settled.Villages),
					Ports:    nonNil(settled.Ports),
				},
				Roads: shard.RoadsLayer{
					Paths:       nonNil(net.Paths()),
					Bridges:     nonNil(net.Bridges),
					Edges:       nonNil(net.Edges),
					Unreachable: net.Unreachable,
				},
				Elevation: painted.Height.Scaled(),
				World: shard.WorldLayer{
					Type:          cfg.World.Type,
					LandmassRatio: cfg.World.LandmassRatio,
					SeaLevel:      painted.Height.SeaLevel,
					Noise:         cfg.Noise,
				},
				POI:       pois,
				Resources: res,
			},
			Provenance: r.provenance(),
			Template:   r.res.Tier.IDAtVersion(),
			BiomePack:  r.pack.IDAtVersion(),
			CreatedAt:  e.clock(),
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// phase выполняет этап под отдельным спаном и пишет его время в метрики
func (e *Engine) phase(ctx context.Context, name string, fn func()) {
	_, span := e.tracer.Start(ctx, "engine.phase."+name)
	start := time.Now()
	fn()
	e.metrics.observePhase(name, start)
	e.log.Debug("Этап %s: %v", name, time.Since(start))
	span.End()
}

// indexShard записывает шард в индекс и снимок, если бэкенд их поддерживает
func (e *Engine) indexShard(ctx context.Context, r *resolved, doc *shard.Document, desc *shard.Descriptor) {
	if e.index == nil {
		return
	}
	created, err := time.Parse(time.RFC3339, doc.Meta.CreatedAt)
	if err != nil {
		created = e.clock().UTC()
	}
	rec := storage.ShardRecord{
		Name:          doc.Meta.Name,
		File:          desc.File,
		Path:          desc.Path,
		Seed:          r.seed,
		Template:      doc.Meta.Template,
		BiomePack:     doc.Meta.BiomePack,
		OverridesHash: doc.Meta.OverridesHash,
		Width:         doc.Meta.Width,
		Height:        doc.Meta.Height,
		CreatedAt:     created,
	}
	if err := e.index.Put(ctx, rec); err != nil {
		e.log.Warn("Шард %s не добавлен в индекс: %v", desc.File, err)
		return
	}

	snaps, ok := e.index.(storage.SnapshotStore)
	if !ok {
		return
	}
	data, err := shard.Encode(doc)
	if err != nil {
		e.log.Warn("Снимок %s не сериализован: %v", desc.File, err)
		return
	}
	if err := snaps.SaveSnapshot(ctx, desc.File, data); err != nil {
		e.log.Warn("Снимок %s не сохранён: %v", desc.File, err)
	}
}

// interiorCount - оценка внутренней суши для предупреждений
func interiorCount(r *resolved) int {
	cfg := r.res.Config
	coastW := terrain.ResolveCoastWidth(rng.New(r.seed, ""), cfg.Water.CoastWidth)
	_, _, interior := terrain.RingCounts(cfg.Grid.Width, cfg.Grid.Height, cfg.Water.OceanRing, coastW)
	return interior
}

// nonNil заменяет nil-срез пустым, чтобы в JSON был [] вместо null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
