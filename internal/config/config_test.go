package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHARD_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.RESTPort)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Equal(t, "./static/public/shards", cfg.Engine.ShardsDir)
	assert.Equal(t, "/static/public/shards", cfg.Engine.PublicPrefix)
	assert.Equal(t, 5, cfg.Engine.WriteRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.RetryDelay)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Empty(t, cfg.Engine.TemplatesDir)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
server:
  rest_port: 9000
engine:
  shards_dir: /tmp/shards
  retry_delay: 120ms
index:
  backend: badger
  badger_dir: /tmp/idx
cache:
  backend: memory
  max_entries: 32
webhooks:
  - name: catalog
    url: http://localhost:9999/hook
    events: [ShardGenerated]
    retries: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))
	t.Setenv("SHARD_REST_PORT", "9100")
	t.Setenv("CACHE_BACKEND", "redis")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.RESTPort, "окружение перекрывает файл")
	assert.Equal(t, "/tmp/shards", cfg.Engine.ShardsDir)
	assert.Equal(t, 120*time.Millisecond, cfg.Engine.RetryDelay)
	assert.Equal(t, 5, cfg.Engine.WriteRetries, "незаданное поле остаётся по умолчанию")
	assert.Equal(t, "badger", cfg.Index.Backend)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 32, cfg.Cache.MaxEntries)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, "catalog", cfg.Webhooks[0].Name)
	assert.Equal(t, []string{"ShardGenerated"}, cfg.Webhooks[0].Events)
	assert.Equal(t, 2, cfg.Webhooks[0].Retries)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  backend: mongo\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("webhooks:\n  - name: empty\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
