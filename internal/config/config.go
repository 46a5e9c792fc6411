package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/annel0/shard-engine/internal/cache"
	"github.com/annel0/shard-engine/internal/storage"
)

// Config корневая структура конфигурации приложения.
// Порядок источников: значения по умолчанию, YAML-файл, переменные окружения.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Engine    EngineConfig        `yaml:"engine"`
	Index     storage.IndexConfig `yaml:"index"`
	Cache     cache.CacheConfig   `yaml:"cache"`
	EventBus  EventBusConfig      `yaml:"eventbus"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
	Logging   LoggingConfig       `yaml:"logging"`
	Webhooks  []WebhookConfig     `yaml:"webhooks"`
}

type ServerConfig struct {
	RESTPort    int    `yaml:"rest_port" env:"SHARD_REST_PORT"`
	MetricsPath string `yaml:"metrics_path" env:"SHARD_METRICS_PATH"`
	// StaticDir раздаётся под /static; пусто - статика не раздаётся
	StaticDir string `yaml:"static_dir" env:"SHARD_STATIC_DIR"`
}

type EngineConfig struct {
	// TemplatesDir - каталог шаблонов; пусто - встроенные шаблоны
	TemplatesDir string        `yaml:"templates_dir" env:"SHARD_TEMPLATES_DIR"`
	ShardsDir    string        `yaml:"shards_dir" env:"SHARD_SHARDS_DIR"`
	PublicPrefix string        `yaml:"public_prefix" env:"SHARD_PUBLIC_PREFIX"`
	WriteRetries int           `yaml:"write_retries" env:"SHARD_WRITE_RETRIES"`
	RetryDelay   time.Duration `yaml:"retry_delay" env:"SHARD_RETRY_DELAY"`
}

type EventBusConfig struct {
	// URL NATS; пусто - шина в памяти
	URL       string `yaml:"url" env:"SHARD_EVENTBUS_URL"`
	Stream    string `yaml:"stream" env:"SHARD_EVENTBUS_STREAM"`
	Retention int    `yaml:"retention_hours" env:"SHARD_EVENTBUS_RETENTION_HOURS"`
	Buffer    int    `yaml:"buffer" env:"SHARD_EVENTBUS_BUFFER"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"SHARD_TELEMETRY_ENABLED"`
	ServiceName string  `yaml:"service_name" env:"SHARD_TELEMETRY_SERVICE"`
	Endpoint    string  `yaml:"endpoint" env:"SHARD_TELEMETRY_ENDPOINT"` // host:port OTLP HTTP
	Insecure    bool    `yaml:"insecure" env:"SHARD_TELEMETRY_INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SHARD_TELEMETRY_SAMPLE_RATIO"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"SHARD_LOG_LEVEL"`
	// Dir - каталог файловых логов; пусто - только консоль
	Dir string `yaml:"dir" env:"SHARD_LOG_DIR"`
}

// WebhookConfig описывает исходящий webhook; задаётся только в YAML
type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Retries        int      `yaml:"retries"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			RESTPort:    8088,
			MetricsPath: "/metrics",
			StaticDir:   "./static",
		},
		Engine: EngineConfig{
			ShardsDir:    "./static/public/shards",
			PublicPrefix: "/static/public/shards",
			WriteRetries: 5,
			RetryDelay:   50 * time.Millisecond,
		},
		Index: storage.IndexConfig{
			Backend:   "memory",
			BadgerDir: "./data",
		},
		Cache: cache.CacheConfig{Backend: "none"},
		EventBus: EventBusConfig{
			Stream:    "SHARDS",
			Retention: 24,
			Buffer:    256,
		},
		Telemetry: TelemetryConfig{ServiceName: "shard-engine", SampleRatio: 1},
		Logging:   LoggingConfig{Level: "INFO", Dir: "logs"},
	}
}

// Load читает YAML файл конфигурации и накладывает переменные окружения.
// Если path == "", берётся SHARD_CONFIG; если нет и его - только дефолты и окружение.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SHARD_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
		}
	}

	// webhooks задаются только в YAML
	webhooks := cfg.Webhooks
	cfg.Webhooks = nil
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Webhooks = webhooks

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения после слияния источников
func (c *Config) Validate() error {
	if c.Server.RESTPort <= 0 || c.Server.RESTPort > 65535 {
		return fmt.Errorf("server.rest_port %d вне диапазона", c.Server.RESTPort)
	}
	if c.Engine.ShardsDir == "" {
		return fmt.Errorf("engine.shards_dir не задан")
	}
	if c.Engine.WriteRetries < 1 {
		return fmt.Errorf("engine.write_retries должен быть >= 1")
	}
	switch c.Index.Backend {
	case "memory", "badger", "maria", "mysql":
	default:
		return fmt.Errorf("index.backend: неизвестный бэкенд %q", c.Index.Backend)
	}
	switch c.Cache.Backend {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("cache.backend: неизвестный бэкенд %q", c.Cache.Backend)
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhooks[%d]: url не задан", i)
		}
	}
	return nil
}

// RetentionDuration - срок хранения событий в стриме
func (e EventBusConfig) RetentionDuration() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}
