// Package storage хранит индекс сгенерированных шардов.
//
// Индекс нужен для проверки уникальности сида при autoSeed и для каталога
// /api/shards. Сами документы лежат в файловом хранилище shard.FileStore;
// badger-бэкенд дополнительно держит их сжатые снимки.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/annel0/shard-engine/internal/logging"
)

// ErrIndexClosed - операция над закрытым индексом
var ErrIndexClosed = errors.New("storage: index closed")

// ShardRecord - запись индекса об одном сохранённом шарде
type ShardRecord struct {
	Name          string    `json:"name"`
	File          string    `json:"file"`
	Path          string    `json:"path"`
	Seed          int       `json:"seed"`
	Template      string    `json:"template"`
	BiomePack     string    `json:"biome_pack"`
	OverridesHash string    `json:"overrides_hash"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate проверяет обязательные поля записи
func (r ShardRecord) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("пустое имя шарда")
	}
	if r.File == "" {
		return fmt.Errorf("шард %s: пустое имя файла", r.Name)
	}
	if r.Seed < 0 {
		return fmt.Errorf("шард %s: недействительный сид %d", r.Name, r.Seed)
	}
	return nil
}

// ShardIndex - индекс шардов.
//
// Реализации: MemoryShardIndex (по умолчанию), BadgerShardIndex (встроенная БД),
// MariaShardIndex (общая SQL-база для нескольких экземпляров сервера).
type ShardIndex interface {
	// Put добавляет или заменяет запись по имени шарда.
	Put(ctx context.Context, rec ShardRecord) error

	// Get возвращает запись по имени; bool=false если записи нет.
	Get(ctx context.Context, name string) (ShardRecord, bool, error)

	// BySeed возвращает все шарды с данным сидом.
	BySeed(ctx context.Context, seed int) ([]ShardRecord, error)

	// List возвращает все записи, отсортированные по имени файла.
	List(ctx context.Context) ([]ShardRecord, error)

	// Delete удаляет запись; отсутствие записи не ошибка.
	Delete(ctx context.Context, name string) error

	// Close освобождает ресурсы индекса.
	Close() error
}

// SnapshotStore хранит копии документов шардов
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, file string, doc []byte) error
	LoadSnapshot(ctx context.Context, file string) ([]byte, bool, error)
}

// SeedTaken сообщает, занят ли сид шардом с другим именем
func SeedTaken(ctx context.Context, idx ShardIndex, seed int, name string) (bool, error) {
	recs, err := idx.BySeed(ctx, seed)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.Name != name {
			return true, nil
		}
	}
	return false, nil
}

// IndexConfig выбирает бэкенд индекса
type IndexConfig struct {
	Backend   string `yaml:"backend" env:"INDEX_BACKEND"` // memory | badger | maria
	BadgerDir string `yaml:"badger_dir" env:"INDEX_BADGER_DIR"`
	MariaDSN  string `yaml:"maria_dsn" env:"INDEX_MARIA_DSN"`
}

// NewIndex создаёт индекс по конфигурации
func NewIndex(cfg IndexConfig) (ShardIndex, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryShardIndex(), nil
	case "badger":
		idx, err := NewBadgerShardIndex(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		logging.GetStorageLogger().Info("Badger индекс открыт: %s", cfg.BadgerDir)
		return idx, nil
	case "maria", "mysql":
		idx, err := NewMariaShardIndex(cfg.MariaDSN)
		if err != nil {
			return nil, err
		}
		logging.GetStorageLogger().Info("Индекс в MariaDB подключён")
		return idx, nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд индекса: %s", cfg.Backend)
	}
}

func sortRecords(recs []ShardRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].File < recs[j].File })
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
