package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
)

// Префиксы ключей BadgerDB
const (
	shardKeyPrefix = "shard:"
	seedKeyPrefix  = "seed:"
	snapKeyPrefix  = "snap:"
)

// BadgerShardIndex хранит индекс шардов и сжатые снимки документов в BadgerDB
type BadgerShardIndex struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBadgerShardIndex открывает индекс в {dataPath}/shard-index
func NewBadgerShardIndex(dataPath string) (*BadgerShardIndex, error) {
	dbPath := filepath.Join(dataPath, "shard-index")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	return openBadgerIndex(opts, dbPath)
}

// NewInMemoryBadgerShardIndex открывает BadgerDB без диска (для тестов)
func NewInMemoryBadgerShardIndex() (*BadgerShardIndex, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadgerIndex(opts, "")
}

func openBadgerIndex(opts badger.Options, dbPath string) (*BadgerShardIndex, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}

	return &BadgerShardIndex{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func shardKey(name string) []byte { return []byte(shardKeyPrefix + name) }

func seedKey(seed int, name string) []byte {
	return []byte(fmt.Sprintf("%s%08d:%s", seedKeyPrefix, seed, name))
}

func seedPrefix(seed int) []byte { return []byte(fmt.Sprintf("%s%08d:", seedKeyPrefix, seed)) }

// Close закрывает хранилище данных
func (b *BadgerShardIndex) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.isReady {
		return nil
	}

	b.isReady = false
	b.encoder.Close()
	b.decoder.Close()
	return b.db.Close()
}

// Put сохраняет запись и вторичный ключ по сиду в одной транзакции
func (b *BadgerShardIndex) Put(ctx context.Context, rec ShardRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return ErrIndexClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи %s: %w", rec.Name, err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		// Старый вторичный ключ, если шард перегенерирован с другим сидом
		if prev, ok, err := getRecord(txn, rec.Name); err != nil {
			return err
		} else if ok && prev.Seed != rec.Seed {
			if err := txn.Delete(seedKey(prev.Seed, prev.Name)); err != nil {
				return err
			}
		}
		if err := txn.Set(shardKey(rec.Name), data); err != nil {
			return err
		}
		return txn.Set(seedKey(rec.Seed, rec.Name), nil)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func getRecord(txn *badger.Txn, name string) (ShardRecord, bool, error) {
	var rec ShardRecord
	item, err := txn.Get(shardKey(name))
	if err == badger.ErrKeyNotFound {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return rec, false, fmt.Errorf("ошибка десериализации записи %s: %w", name, err)
	}
	return rec, true, nil
}

func (b *BadgerShardIndex) Get(ctx context.Context, name string) (ShardRecord, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return ShardRecord{}, false, err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return ShardRecord{}, false, ErrIndexClosed
	}

	var (
		rec ShardRecord
		ok  bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, ok, err = getRecord(txn, name)
		return err
	})
	if err != nil {
		return ShardRecord{}, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return rec, ok, nil
}

func (b *BadgerShardIndex) BySeed(ctx context.Context, seed int) ([]ShardRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, ErrIndexClosed
	}

	var out []ShardRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := seedPrefix(seed)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name := string(it.Item().Key()[len(prefix):])
			rec, ok, err := getRecord(txn, name)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	sortRecords(out)
	return out, nil
}

func (b *BadgerShardIndex) List(ctx context.Context) ([]ShardRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, ErrIndexClosed
	}

	out := []ShardRecord{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(shardKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec ShardRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	sortRecords(out)
	return out, nil
}

func (b *BadgerShardIndex) Delete(ctx context.Context, name string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return ErrIndexClosed
	}

	return b.db.Update(func(txn *badger.Txn) error {
		rec, ok, err := getRecord(txn, name)
		if err != nil || !ok {
			return err
		}
		if err := txn.Delete(seedKey(rec.Seed, name)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(snapKeyPrefix + rec.File)); err != nil {
			return err
		}
		return txn.Delete(shardKey(name))
	})
}

// SaveSnapshot сохраняет документ шарда, сжатый zstd
func (b *BadgerShardIndex) SaveSnapshot(ctx context.Context, file string, doc []byte) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return ErrIndexClosed
	}

	compressed := b.encoder.EncodeAll(doc, make([]byte, 0, len(doc)/4))
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapKeyPrefix+file), compressed)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения снимка %s: %w", file, err)
	}
	return nil
}

// LoadSnapshot возвращает распакованный документ; bool=false если снимка нет
func (b *BadgerShardIndex) LoadSnapshot(ctx context.Context, file string) ([]byte, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, false, err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, false, ErrIndexClosed
	}

	var compressed []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapKeyPrefix + file))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			compressed = append([]byte{}, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения снимка %s: %w", file, err)
	}

	doc, err := b.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка распаковки снимка %s: %w", file, err)
	}
	return doc, true, nil
}
