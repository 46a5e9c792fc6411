package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/shard-engine/internal/config"
	"github.com/annel0/shard-engine/internal/engine"
	"github.com/annel0/shard-engine/internal/logging"
)

func TestMain(m *testing.M) {
	logging.SetLogDir("")
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.ShardsDir = filepath.Join(t.TempDir(), "shards")
	return cfg
}

func TestBuildDefaults(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := Build(context.Background(), testConfig(t), reg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Index)
	assert.Nil(t, a.Cache, "cache.backend none")
	assert.Nil(t, a.Webhooks)

	seed := 42
	res, err := a.Engine.Generate(context.Background(), &engine.PlanRequest{
		TemplateID: "normal-16",
		Name:       "wired",
		Seed:       &seed,
	})
	require.NoError(t, err)

	rec, ok, err := a.Index.Get(context.Background(), "wired")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.File, rec.File)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "shard_engine_generated_total")
}

func TestBuildWithCacheAndBadger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "memory"
	cfg.Index.Backend = "badger"
	cfg.Index.BadgerDir = t.TempDir()

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	req := &engine.PlanRequest{TemplateID: "normal-16", Name: "cached"}
	first, err := a.Engine.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := a.Engine.Plan(context.Background(), &engine.PlanRequest{TemplateID: "normal-16", Name: "cached"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Seed, second.Seed)
}

func TestBuildWithWebhooks(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := testConfig(t)
	cfg.Webhooks = []config.WebhookConfig{{Name: "catalog", URL: hook.URL, Retries: 1}}

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Webhooks)
	hooks := a.Webhooks.GetWebhooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, "catalog", hooks[0].Name)
	assert.Equal(t, []string{"*"}, hooks[0].Events)
	assert.Equal(t, 30, hooks[0].Timeout)
}

func TestBuildFailsOnMissingTemplates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.TemplatesDir = filepath.Join(t.TempDir(), "nope")

	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}
