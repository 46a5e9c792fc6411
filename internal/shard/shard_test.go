package shard

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/annel0/shard-engine/internal/vec"
	"github.com/annel0/shard-engine/internal/world"
	"github.com/annel0/shard-engine/internal/worldgen/placement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument(t *testing.T) *Document {
	t.Helper()
	g := world.NewGrid(8, 8, world.BiomePlains)
	g.Each(func(p vec.Vec2, _ world.Biome) {
		if g.RingDistance(p) == 0 {
			g.Set(p, world.BiomeOcean)
		}
	})
	doc, err := Assemble(AssembleInput{
		Name: " old harbor!_1 ",
		Seed: 1337,
		Grid: g,
		Sites: []placement.Site{
			{Kind: placement.KindCity, Pos: vec.Vec2{X: 3, Y: 3}, Score: 1.23456},
			{Kind: placement.KindPOI, Pos: vec.Vec2{X: 5, Y: 4}, Score: 0.5, Tags: []string{"ruins", "plains"}},
		},
		Provenance: Provenance{Generator: Generator, SchemaVersion: SchemaVersion, Seed: 1337, OverridesHash: "sha1:0", IgnoredOverrides: []string{}},
		Template:   "normal-16@1.2.0",
		BiomePack:  "temperate-base@1.0.0",
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return doc
}

func TestAssemble(t *testing.T) {
	doc := testDocument(t)

	assert.Equal(t, "oldharbor_1", doc.Meta.Name)
	assert.Equal(t, "Oldharbor 1", doc.Meta.DisplayName)
	assert.Equal(t, "00001337_oldharbor_1.json", doc.FileName())
	assert.Equal(t, "2024-05-01T12:00:00Z", doc.Meta.CreatedAt)
	assert.Equal(t, 8, doc.Meta.Width)

	require.Len(t, doc.Tiles, 8)
	assert.Equal(t, "ocean", doc.Tiles[0][0].Biome)
	assert.Equal(t, "plains", doc.Tiles[3][3].Biome)

	require.Len(t, doc.POIs, 2)
	assert.Equal(t, "city", doc.POIs[0].Name)
	assert.Equal(t, "ruins", doc.POIs[1].Name)
	assert.Equal(t, "poi", doc.POIs[1].Type)
}

func TestAssembleRejectsBrokenGrid(t *testing.T) {
	_, err := Assemble(AssembleInput{Name: "x"})
	assert.Error(t, err)

	g := world.NewGrid(8, 8, world.BiomeOcean)
	g.Cells = g.Cells[:10]
	_, err = Assemble(AssembleInput{Name: "x", Grid: g})
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "00000042_abc-d_e.json", FileName(42, "a b c-d_e/"))
	assert.Equal(t, "Old Harbor", DisplayName("old_harbor"))
	assert.Equal(t, "", DisplayName(""))
	assert.Equal(t, "", SafeName("../"))
}

func TestFileStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "/static/public/shards/", 3, time.Millisecond)
	require.NoError(t, err)

	doc := testDocument(t)
	desc, err := store.Save(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "00001337_oldharbor_1.json", desc.File)
	assert.Equal(t, "/static/public/shards/00001337_oldharbor_1.json", desc.Path)
	assert.True(t, store.Exists(desc.File))

	raw, err := store.LoadRaw(desc.File)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "{\n  \"meta\""))

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, key := range []string{"meta", "tiles", "pois", "grid", "sites", "layers", "provenance"} {
		assert.Contains(t, generic, key)
	}

	loaded, err := store.Load(desc.File)
	require.NoError(t, err)
	assert.Equal(t, doc.Meta, loaded.Meta)
	assert.Equal(t, doc.Grid.Cells, loaded.Grid.Cells)

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, doc.Meta.Seed, list[0].Meta.Seed)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "", 1, time.Millisecond)
	require.NoError(t, err)

	for _, name := range []string{"../etc/passwd", "missing.json", ".tmp_x.json", "a.txt"} {
		_, err := store.LoadRaw(name)
		assert.ErrorIs(t, err, ErrShardNotFound, name)
	}
}

func TestFileStoreRetriesRename(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "", 4, time.Millisecond)
	require.NoError(t, err)

	calls := 0
	store.rename = func(oldpath, newpath string) error {
		calls++
		if calls < 3 {
			return errors.New("file is locked")
		}
		return os.Rename(oldpath, newpath)
	}

	desc, err := store.Save(context.Background(), testDocument(t))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.FileExists(t, filepath.Join(dir, desc.File))
}

func TestFileStorePersistenceError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "", 3, time.Millisecond)
	require.NoError(t, err)

	calls := 0
	store.rename = func(string, string) error {
		calls++
		return errors.New("file is locked")
	}

	_, err = store.Save(context.Background(), testDocument(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "00001337_oldharbor_1.json")
	assert.Equal(t, 3, calls)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "ни итогового, ни временного файла")
}
