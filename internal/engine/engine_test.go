package engine

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/shard-engine/internal/cache"
	"github.com/annel0/shard-engine/internal/eventbus"
	"github.com/annel0/shard-engine/internal/logging"
	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/rng"
	"github.com/annel0/shard-engine/internal/shard"
	"github.com/annel0/shard-engine/internal/storage"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/templates"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts Options) (*Engine, string) {
	t.Helper()
	reg := registry.New(templates.FS)
	require.NoError(t, reg.LoadAll())

	dir := t.TempDir()
	store, err := shard.NewFileStore(dir, "/static/public/shards", 3, time.Millisecond)
	require.NoError(t, err)

	if opts.Logger == nil {
		opts.Logger = logging.NewConsoleLogger("engine", io.Discard)
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	e, err := New(reg, store, opts)
	require.NoError(t, err)
	return e, dir
}

func seedPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func request(name string, seed int) *PlanRequest {
	return &PlanRequest{TemplateID: "normal-16", Name: name, Seed: seedPtr(seed)}
}

func TestRequestValidation(t *testing.T) {
	cases := map[string]*PlanRequest{
		"no template":   {Name: "a"},
		"blank name":    {TemplateID: "normal-16", Name: "   "},
		"symbols only":  {TemplateID: "normal-16", Name: "!!!"},
		"negative seed": {TemplateID: "normal-16", Name: "a", Seed: seedPtr(-1)},
		"huge seed":     {TemplateID: "normal-16", Name: "a", Seed: seedPtr(rng.MaxSeed + 1)},
		"bad verbosity": {TemplateID: "normal-16", Name: "a", PlanVerbosity: "loud"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			req.Normalize()
			assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)
		})
	}

	req, err := DecodeRequest([]byte(`{"templateId":"normal-16","name":"  Old Harbor "}`))
	require.NoError(t, err)
	assert.Equal(t, "Old Harbor", req.Name)
	assert.Equal(t, VerbosityNormal, req.PlanVerbosity)
	assert.True(t, req.AutoSeedEnabled())

	_, err = DecodeRequest([]byte(`{"templateId":`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDeriveSeed(t *testing.T) {
	a := DeriveSeed("harbor", "normal-16", "sha1:0", 0)
	assert.Equal(t, a, DeriveSeed("harbor", "normal-16", "sha1:0", 0))
	assert.NotEqual(t, a, DeriveSeed("harbor", "normal-16", "sha1:0", 1))
	assert.NotEqual(t, a, DeriveSeed("harbor", "normal-32", "sha1:0", 0))
	assert.GreaterOrEqual(t, a, 0)
	assert.LessOrEqual(t, a, rng.MaxSeed)
}

func TestGenerateScenario(t *testing.T) {
	e, dir := newTestEngine(t, Options{})

	res, err := e.Generate(context.Background(), request("harbor", 1337))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "00001337_harbor.json", res.File)
	assert.Equal(t, "/static/public/shards/00001337_harbor.json", res.Path)
	assert.Equal(t, "normal-16@1.2.0", res.Provenance.Template)
	assert.Equal(t, shard.Generator, res.Provenance.Generator)
	assert.FileExists(t, dir+"/"+res.File)

	doc := res.Document
	require.NotNil(t, doc)
	assert.Equal(t, 16, doc.Grid.W)
	assert.Equal(t, 16, doc.Grid.H)
	assert.Equal(t, world.BiomeOcean, doc.Grid.Cells[0])
	assert.Equal(t, "ocean", doc.Tiles[0][0].Biome)

	// Кольцо 0 целиком океан
	for y := 0; y < doc.Grid.H; y++ {
		for x := 0; x < doc.Grid.W; x++ {
			if x == 0 || y == 0 || x == doc.Grid.W-1 || y == doc.Grid.H-1 {
				assert.Equal(t, "ocean", doc.Tiles[y][x].Biome, "тайл %d,%d", x, y)
			}
		}
	}

	loaded, err := e.Store().Load(res.File)
	require.NoError(t, err)
	assert.Equal(t, doc.Grid.Cells, loaded.Grid.Cells)
}

func TestGenerateDeterministic(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	a, err := e.Render(ctx, request("twin", 1337))
	require.NoError(t, err)
	b, err := e.Render(ctx, request("twin", 1337))
	require.NoError(t, err)

	da, err := shard.Encode(a)
	require.NoError(t, err)
	db, err := shard.Encode(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(da), string(db))

	c, err := e.Render(ctx, request("twin", 1338))
	require.NoError(t, err)
	assert.NotEqual(t, a.Grid.Cells, c.Grid.Cells)
}

func TestGenerateDeterministicExceptCreatedAt(t *testing.T) {
	render := func(now time.Time) map[string]any {
		e, _ := newTestEngine(t, Options{Clock: func() time.Time { return now }})
		doc, err := e.Render(context.Background(), request("twin", 1337))
		require.NoError(t, err)
		data, err := shard.Encode(doc)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}

	a := render(fixedNow)
	b := render(fixedNow.Add(36 * time.Hour))
	assert.NotEqual(t, a["meta"].(map[string]any)["createdAt"], b["meta"].(map[string]any)["createdAt"])

	delete(a["meta"].(map[string]any), "createdAt")
	delete(b["meta"].(map[string]any), "createdAt")
	assert.Equal(t, a, b, "кроме meta.createdAt документ зависит только от запроса")
}

func TestPlanDoesNotWrite(t *testing.T) {
	e, dir := newTestEngine(t, Options{})

	plan, err := e.Plan(context.Background(), request("preview", 1337))
	require.NoError(t, err)
	assert.True(t, plan.OK)
	assert.Equal(t, "plan-1337-normal-16", plan.PlanID)
	assert.Equal(t, "2024-05-01T12:00:00Z", plan.Timestamp)
	assert.Equal(t, 16, plan.Grid.Width)
	assert.Equal(t, "00001337_preview.json", plan.WouldWrite.Filename)
	assert.False(t, plan.WouldWrite.Exists)
	assert.Equal(t, []string{"tiles", "pois"}, plan.WouldWrite.Compat)

	water := plan.Layers.Water
	assert.Equal(t, 1, water.OceanRing)
	assert.GreaterOrEqual(t, water.CoastWidth, 1)
	assert.LessOrEqual(t, water.CoastWidth, 2)
	counts := water.EstimatedCounts
	assert.Equal(t, 16*16, counts.Ocean+counts.Coast+counts.Interior)
	assert.Equal(t, 60, counts.Ocean)

	hyd := plan.Layers.Hydrology
	assert.GreaterOrEqual(t, hyd.Chosen.Rivers, 1)
	assert.LessOrEqual(t, hyd.Chosen.Rivers, 2)
	assert.Len(t, hyd.RiverSources, hyd.Chosen.Rivers)
	assert.NotNil(t, plan.Layers.Settlements.Selected)
	assert.Equal(t, 4, plan.Layers.Roads.Edges)
	assert.Nil(t, plan.Effective)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPlanMatchesGenerate(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	plan, err := e.Plan(ctx, request("same", 4242))
	require.NoError(t, err)
	doc, err := e.Render(ctx, request("same", 4242))
	require.NoError(t, err)

	assert.Equal(t, plan.Layers.Water.CoastWidth, doc.Layers.Water.CoastWidth)
	assert.Equal(t, plan.Seed, doc.Meta.Seed)
	assert.Equal(t, plan.Provenance, doc.Provenance)
}

func TestPlanVerbosity(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	req := request("mini", 7)
	req.PlanVerbosity = VerbosityMini
	mini, err := e.Plan(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, mini.Layers.Hydrology.RiverSources)
	assert.Nil(t, mini.Layers.Settlements.Selected)
	assert.Empty(t, mini.Layers.POI.Preview)

	req = request("full", 7)
	req.PlanVerbosity = VerbosityFull
	full, err := e.Plan(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, full.Effective)
	assert.Contains(t, full.Effective, "grid")
}

func TestPlanWarnings(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	req := request("wide", 11)
	req.Overrides = map[string]any{
		"grid":            map[string]any{"width": 400},
		"unknown_section": map[string]any{"x": 1},
	}
	plan, err := e.Plan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, registry.MaxGridSize, plan.Grid.Width)
	assert.Contains(t, plan.Diff.Ignored, "unknown_section")
	assert.Contains(t, plan.Diff.Ignored, "unknown_section.x")

	codes := map[string]bool{}
	for _, w := range plan.Warnings {
		codes[w.Code] = true
	}
	assert.True(t, codes[WarnGridClamped])
	assert.True(t, codes[WarnIgnoredOverrides])
}

func TestResolveErrors(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	_, err := e.Plan(ctx, &PlanRequest{TemplateID: "missing", Name: "x"})
	assert.ErrorIs(t, err, registry.ErrNotFound)

	req := request("x", 1)
	req.BiomePack = "no-such-pack"
	_, err = e.Generate(ctx, req)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = e.Generate(ctx, &PlanRequest{TemplateID: "normal-16", Name: ""})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAutoSeedAvoidsTakenSeed(t *testing.T) {
	idx := storage.NewMemoryShardIndex()
	e, _ := newTestEngine(t, Options{Index: idx})
	ctx := context.Background()

	first := DeriveSeed("harbor", "normal-16", "sha1:0", 0)
	require.NoError(t, idx.Put(ctx, storage.ShardRecord{
		Name: "other",
		File: shard.FileName(first, "other"),
		Seed: first,
	}))

	plan, err := e.Plan(ctx, &PlanRequest{TemplateID: "normal-16", Name: "harbor"})
	require.NoError(t, err)
	assert.Equal(t, DeriveSeed("harbor", "normal-16", "sha1:0", 1), plan.Seed)

	// Без autoSeed сид не перевыводится
	plan, err = e.Plan(ctx, &PlanRequest{TemplateID: "normal-16", Name: "harbor", AutoSeed: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, first, plan.Seed)

	// Тот же шард под своим именем сид не занимает
	plan, err = e.Plan(ctx, &PlanRequest{TemplateID: "normal-16", Name: "other"})
	require.NoError(t, err)
	assert.Equal(t, DeriveSeed("other", "normal-16", "sha1:0", 0), plan.Seed)
}

func TestGenerateIndexesAndSnapshots(t *testing.T) {
	idx, err := storage.NewInMemoryBadgerShardIndex()
	require.NoError(t, err)
	defer idx.Close()

	e, _ := newTestEngine(t, Options{Index: idx})
	ctx := context.Background()

	res, err := e.Generate(ctx, request("indexed", 99))
	require.NoError(t, err)

	rec, ok, err := idx.Get(ctx, "indexed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, rec.Seed)
	assert.Equal(t, res.File, rec.File)
	assert.Equal(t, fixedNow, rec.CreatedAt.UTC())

	snap, ok, err := idx.LoadSnapshot(ctx, res.File)
	require.NoError(t, err)
	require.True(t, ok)
	raw, err := e.Store().LoadRaw(res.File)
	require.NoError(t, err)
	assert.Equal(t, raw, snap)
}

func TestPlanCache(t *testing.T) {
	now := fixedNow
	c := cache.NewMemoryCache(cache.CacheConfig{Backend: "memory"})
	e, _ := newTestEngine(t, Options{Cache: c, Clock: func() time.Time { return now }})
	ctx := context.Background()

	first, err := e.Plan(ctx, request("cached", 5))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	now = now.Add(time.Minute)
	second, err := e.Plan(ctx, request("cached", 5))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.PlanID, second.PlanID)
	assert.Equal(t, first.Layers.Hydrology, second.Layers.Hydrology)
	assert.Equal(t, "2024-05-01T12:01:00Z", second.Timestamp)

	require.NoError(t, e.ReloadRegistry(ctx))
	third, err := e.Plan(ctx, request("cached", 5))
	require.NoError(t, err)
	assert.False(t, third.Cached, "перезагрузка шаблонов сбрасывает кеш")
}

func TestGeneratePublishesEvent(t *testing.T) {
	bus := eventbus.NewMemoryBus(8)
	got := make(chan *eventbus.Envelope, 1)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventShardGenerated}},
		func(_ context.Context, ev *eventbus.Envelope) { got <- ev })
	require.NoError(t, err)

	e, _ := newTestEngine(t, Options{Bus: bus})
	res, err := e.Generate(context.Background(), request("evented", 3))
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, eventbus.SourceShardEngine, ev.Source)
		var meta shard.Meta
		require.NoError(t, eventbus.DecodePayload(ev, &meta))
		assert.Equal(t, res.Meta, meta)
	case <-time.After(2 * time.Second):
		t.Fatal("событие ShardGenerated не получено")
	}
}
