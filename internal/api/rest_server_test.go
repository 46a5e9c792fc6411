package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/shard-engine/internal/engine"
	"github.com/annel0/shard-engine/internal/eventbus"
	"github.com/annel0/shard-engine/internal/logging"
	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/shard"
	"github.com/annel0/shard-engine/internal/storage"
	"github.com/annel0/shard-engine/templates"
)

var quiet = logging.NewConsoleLogger("api", io.Discard)

type testEnv struct {
	server *RestServer
	dir    string
	reg    *prometheus.Registry
}

func newTestServer(t *testing.T, opts engine.Options, webhooks *OutboundWebhookManager) *testEnv {
	t.Helper()
	reg := registry.New(templates.FS)
	require.NoError(t, reg.LoadAll())

	dir := t.TempDir()
	store, err := shard.NewFileStore(dir, "/static/public/shards", 3, time.Millisecond)
	require.NoError(t, err)

	opts.Logger = quiet
	eng, err := engine.New(reg, store, opts)
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	srv := NewRestServer(Config{
		Engine:     eng,
		Registerer: promReg,
		Gatherer:   promReg,
		Webhooks:   webhooks,
		Logger:     quiet,
	})
	return &testEnv{server: srv, dir: dir, reg: promReg}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestInfoAndTiers(t *testing.T) {
	env := newTestServer(t, engine.Options{}, nil)

	w := env.do(t, http.MethodGet, GeneratorPrefix+"/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, shard.Generator, info["generator"])
	assert.Contains(t, info["templates"], "normal-16")

	w = env.do(t, http.MethodGet, GeneratorPrefix+"/tiers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tiers := decode(t, w)["tiers"].([]any)
	require.NotEmpty(t, tiers)

	found := false
	for _, raw := range tiers {
		tier := raw.(map[string]any)
		if tier["id"] == "normal-16" {
			found = true
			grid := tier["grid"].(map[string]any)
			assert.EqualValues(t, 16, grid["width"])
		}
	}
	assert.True(t, found)
}

func TestPlanEndpoint(t *testing.T) {
	env := newTestServer(t, engine.Options{}, nil)

	w := env.do(t, http.MethodPost, GeneratorPrefix+"/plan", map[string]any{
		"templateId": "normal-16",
		"name":       "harbor",
		"seed":       1337,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	plan := decode(t, w)
	assert.Equal(t, true, plan["ok"])
	assert.Equal(t, "plan-1337-normal-16", plan["plan_id"])
	ww := plan["would_write"].(map[string]any)
	assert.Equal(t, "00001337_harbor.json", ww["filename"])

	entries, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "план не пишет файлов")
}

func TestGenerateAndFetch(t *testing.T) {
	env := newTestServer(t, engine.Options{Index: storage.NewMemoryShardIndex()}, nil)

	w := env.do(t, http.MethodPost, GeneratorPrefix+"/generate", map[string]any{
		"templateId": "normal-16",
		"name":       "harbor",
		"seed":       1337,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "00001337_harbor.json", res["file"])
	assert.Equal(t, "/static/public/shards/00001337_harbor.json", res["path"])

	w = env.do(t, http.MethodGet, ShardsPrefix, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	assert.EqualValues(t, 1, list["count"])

	byFile := env.do(t, http.MethodGet, ShardsPrefix+"/00001337_harbor.json", nil)
	require.Equal(t, http.StatusOK, byFile.Code)
	assert.Contains(t, byFile.Header().Get("Content-Type"), "application/json")

	byName := env.do(t, http.MethodGet, ShardsPrefix+"/harbor", nil)
	require.Equal(t, http.StatusOK, byName.Code)
	assert.Equal(t, byFile.Body.String(), byName.Body.String())

	doc := decode(t, byName)
	meta := doc["meta"].(map[string]any)
	assert.EqualValues(t, 1337, meta["seed"])
}

func TestErrorMapping(t *testing.T) {
	env := newTestServer(t, engine.Options{}, nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed json", http.MethodPost, GeneratorPrefix + "/plan", "{", http.StatusBadRequest},
		{"empty name", http.MethodPost, GeneratorPrefix + "/plan", map[string]any{"templateId": "normal-16", "name": " "}, http.StatusBadRequest},
		{"seed out of range", http.MethodPost, GeneratorPrefix + "/generate", map[string]any{"templateId": "normal-16", "name": "a", "seed": 100_000_000}, http.StatusBadRequest},
		{"unknown template", http.MethodPost, GeneratorPrefix + "/plan", map[string]any{"templateId": "nope", "name": "a"}, http.StatusNotFound},
		{"unknown pack", http.MethodPost, GeneratorPrefix + "/generate", map[string]any{"templateId": "normal-16", "name": "a", "biomePack": "nope"}, http.StatusNotFound},
		{"missing shard", http.MethodGet, ShardsPrefix + "/00000001_ghost.json", nil, http.StatusNotFound},
		{"missing shard by name", http.MethodGet, ShardsPrefix + "/ghost", nil, http.StatusNotFound},
		{"not a shard file", http.MethodGet, ShardsPrefix + "/.tmp_x.json", nil, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, false, body["ok"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRegistryEndpoints(t *testing.T) {
	env := newTestServer(t, engine.Options{}, nil)

	w := env.do(t, http.MethodGet, "/api/registry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	catalog := decode(t, w)["registry"].(map[string]any)
	assert.Contains(t, catalog["biomes"], "temperate-base")
	assert.Contains(t, catalog["poi"], "ruins-common")

	w = env.do(t, http.MethodPost, "/api/registry/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestServer(t, engine.Options{}, nil)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode(t, w)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 0, health["shards"])

	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shard_engine_http_request_duration_seconds")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t, engine.Options{}, nil)

	w := env.do(t, http.MethodOptions, GeneratorPrefix+"/plan", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebhookReceivesGeneratedEvent(t *testing.T) {
	type delivery struct {
		header http.Header
		body   []byte
	}
	received := make(chan delivery, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	bus := eventbus.NewMemoryBus(16)
	manager := NewOutboundWebhookManager([]OutboundWebhook{{
		Name:   "catalog",
		URL:    hook.URL,
		Secret: "s3cret",
		Events: []string{eventbus.EventShardGenerated},
	}}, quiet)
	require.NoError(t, manager.Attach(context.Background(), bus))
	defer manager.Close()

	env := newTestServer(t, engine.Options{Bus: bus}, manager)

	w := env.do(t, http.MethodPost, GeneratorPrefix+"/generate", map[string]any{
		"templateId": "normal-16",
		"name":       "hooked",
		"seed":       7,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	select {
	case d := <-received:
		assert.Equal(t, eventbus.EventShardGenerated, d.header.Get("X-Event-Type"))
		assert.Equal(t, generateSignature(d.body, "s3cret"), d.header.Get("X-Webhook-Signature"))

		var ev OutboundWebhookEvent
		require.NoError(t, json.Unmarshal(d.body, &ev))
		assert.Equal(t, eventbus.SourceShardEngine, ev.Source)
		var meta shard.Meta
		require.NoError(t, json.Unmarshal(ev.Data, &meta))
		assert.Equal(t, "hooked", meta.Name)
		assert.Equal(t, 7, meta.Seed)
	case <-time.After(3 * time.Second):
		t.Fatal("webhook не получил ShardGenerated")
	}

	w = env.do(t, http.MethodGet, "/api/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.EqualValues(t, 1, data["count"])
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestWebhookRetriesAndCountsFailures(t *testing.T) {
	calls := make(chan struct{}, 8)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- struct{}{}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer hook.Close()

	manager := NewOutboundWebhookManager([]OutboundWebhook{{
		Name:       "flaky",
		URL:        hook.URL,
		RetryCount: 2,
	}}, quiet)
	manager.retryDelay = time.Millisecond

	ev, err := eventbus.NewEnvelope(eventbus.EventShardPlanned, map[string]string{"plan_id": "plan-1-normal-16"})
	require.NoError(t, err)
	manager.Enqueue(ev)
	manager.Close()

	assert.Len(t, calls, 3, "первая попытка и два повтора")
	hooks := manager.GetWebhooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, 1, hooks[0].FailureCount)
	assert.NotNil(t, hooks[0].LastUsed)
}
