package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/shard-engine/internal/logging"
)

// RedisCache хранит планы в Redis, сжатыми zstd.
// Несколько экземпляров сервера делят один кеш.
type RedisCache struct {
	client *redis.Client
	config CacheConfig
	log    *logging.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	hits, misses atomic.Int64
	latencySum   atomic.Int64 // нс
	latencyCount atomic.Int64
	maxLatency   atomic.Int64
}

// NewRedisCache подключается к Redis и проверяет соединение
func NewRedisCache(cfg CacheConfig) (*RedisCache, error) {
	cfg.applyDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisURL,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.MaxConnections,
		PoolTimeout:  cfg.PoolTimeout,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisURL, err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	log := logging.GetCacheLogger()
	log.Info("Кеш планов в Redis %s, db %d", cfg.RedisURL, cfg.RedisDB)
	return &RedisCache{client: rdb, config: cfg, log: log, encoder: encoder, decoder: decoder}, nil
}

// Get возвращает распакованный план
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	defer r.observe(time.Now())

	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		r.misses.Add(1)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	data, err := r.decoder.DecodeAll(raw, nil)
	if err != nil {
		// запись другой версии или битая: считаем промахом и удаляем
		r.misses.Add(1)
		r.log.Warn("Запись %s не распакована: %v", key, err)
		_ = r.client.Del(ctx, key).Err()
		return nil, ErrCacheMiss
	}
	r.hits.Add(1)
	return data, nil
}

// Set сжимает и сохраняет план; ttl ограничивается MaxTTL
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	defer r.observe(time.Now())

	if err := r.client.Set(ctx, key, r.encoder.EncodeAll(value, nil), r.config.clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	defer r.observe(time.Now())
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Purge удаляет ключи планов, не трогая остальные ключи базы
func (r *RedisCache) Purge(ctx context.Context) error {
	keys, err := r.planKeys(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += purgeBatch {
		end := start + purgeBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis purge: %w", err)
		}
	}
	r.log.Info("Кеш планов очищен: %d ключей", len(keys))
	return nil
}

const purgeBatch = 256

func (r *RedisCache) planKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", purgeBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func (r *RedisCache) Close() error {
	r.encoder.Close()
	r.decoder.Close()
	return r.client.Close()
}

// GetMetrics считает ключи планов через SCAN, поэтому не для горячего пути
func (r *RedisCache) GetMetrics() *CacheMetrics {
	hits, misses := r.hits.Load(), r.misses.Load()
	m := &CacheMetrics{
		TotalRequests: hits + misses,
		CacheHits:     hits,
		CacheMisses:   misses,
		MaxLatencyMs:  float64(r.maxLatency.Load()) / 1e6,
		LastUpdate:    time.Now(),
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(hits) / float64(m.TotalRequests)
	}
	if n := r.latencyCount.Load(); n > 0 {
		m.AvgLatencyMs = float64(r.latencySum.Load()) / float64(n) / 1e6
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if keys, err := r.planKeys(ctx); err == nil {
		m.TotalKeys = int64(len(keys))
	}
	return m
}

func (r *RedisCache) observe(start time.Time) {
	d := time.Since(start).Nanoseconds()
	r.latencySum.Add(d)
	r.latencyCount.Add(1)
	for {
		cur := r.maxLatency.Load()
		if d <= cur || r.maxLatency.CompareAndSwap(cur, d) {
			return
		}
	}
}
