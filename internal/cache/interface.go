package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CacheRepo - кеш готовых ответов /plan.
// План - чистая функция от (template, seed, name, overrides, verbosity)
// при неизменных шаблонах; TTL ограничивает память, Purge сбрасывает кеш при reload.
//
// Использование:
//
//	c := NewMemoryCache(cfg)
//	data, err := c.Get(ctx, PlanKey(...))
//	err = c.Set(ctx, key, data, 0)
type CacheRepo interface {
	// Get получает значение по ключу.
	// Возвращает ErrCacheMiss если ключ не найден или истёк.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с указанным TTL.
	// TTL = 0 означает TTL по умолчанию из конфигурации.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша.
	Delete(ctx context.Context, key string) error

	// Purge удаляет все планы. Вызывается после перезагрузки шаблонов:
	// ключ содержит id шаблона, но не его содержимое.
	Purge(ctx context.Context) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys int64 `json:"total_keys"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	Backend string `yaml:"backend" env:"CACHE_BACKEND"` // none | memory | redis

	RedisURL      string `yaml:"redis_url" env:"CACHE_REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CACHE_REDIS_DB"`

	DefaultTTL time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"CACHE_MAX_TTL"`
	MaxEntries int           `yaml:"max_entries" env:"CACHE_MAX_ENTRIES"`

	MaxConnections int           `yaml:"max_connections" env:"CACHE_MAX_CONNECTIONS"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" env:"CACHE_POOL_TIMEOUT"`
}

func (c *CacheConfig) applyDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 1 * time.Hour
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 1024
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
}

func (c CacheConfig) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	return ttl
}

// Ошибки кеша
var (
	ErrCacheMiss  = NewCacheError("cache miss")
	ErrInvalidKey = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}

// keyPrefix отделяет ключи планов от прочих ключей в общем Redis
const keyPrefix = "shard:plan:"

// PlanKey строит ключ кеша плана из всех входов, влияющих на ответ
func PlanKey(templateID, biomePack, name string, seed int, overridesHash, verbosity string) string {
	raw := strings.Join([]string{templateID, biomePack, name, strconv.Itoa(seed), overridesHash, verbosity}, "\x1f")
	return keyPrefix + strconv.FormatUint(xxhash.Sum64String(raw), 16)
}

// New создаёт кеш по cfg.Backend; "none" и пустое значение дают nil
func New(cfg CacheConfig) (CacheRepo, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryCache(cfg), nil
	case "redis":
		rc, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, NewCacheError("unknown cache backend: " + cfg.Backend)
	}
}
