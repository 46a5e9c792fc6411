package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrPersistence - атомарная запись не удалась после всех попыток
var ErrPersistence = errors.New("shard: persistence failed")

// ErrShardNotFound - запрошенного файла шарда нет
var ErrShardNotFound = errors.New("shard: not found")

const tempPrefix = ".tmp_"

// Descriptor описывает сохранённый шард
type Descriptor struct {
	File string `json:"file"`
	Path string `json:"path"`
	Meta Meta   `json:"meta"`
}

// FileStore хранит документы шардов в каталоге как JSON-файлы
type FileStore struct {
	dir          string        // Каталог с файлами шардов
	publicPrefix string        // URL-префикс, под которым каталог раздаётся
	retries      int           // Число попыток переименования
	delay        time.Duration // Начальная задержка между попытками

	rename func(oldpath, newpath string) error
}

// NewFileStore создаёт хранилище и каталог под него
func NewFileStore(dir, publicPrefix string, retries int, delay time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	if retries < 1 {
		retries = 1
	}
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &FileStore{
		dir:          dir,
		publicPrefix: strings.TrimRight(publicPrefix, "/"),
		retries:      retries,
		delay:        delay,
		rename:       os.Rename,
	}, nil
}

// Dir возвращает каталог хранилища
func (s *FileStore) Dir() string { return s.dir }

// PathFor возвращает путь файла на диске
func (s *FileStore) PathFor(file string) string {
	return filepath.Join(s.dir, file)
}

// URLFor возвращает публичный путь файла
func (s *FileStore) URLFor(file string) string {
	return path.Join(s.publicPrefix, file)
}

// Exists проверяет наличие файла шарда
func (s *FileStore) Exists(file string) bool {
	_, err := os.Stat(s.PathFor(file))
	return err == nil
}

// Encode сериализует документ так же, как он будет записан на диск
func Encode(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Save атомарно записывает документ: временный файл в том же каталоге,
// затем переименование с экспоненциальными повторами.
// Файл либо появляется целиком, либо не появляется вовсе.
func (s *FileStore) Save(ctx context.Context, doc *Document) (*Descriptor, error) {
	file := doc.FileName()
	target := s.PathFor(file)

	data, err := Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации шарда %s: %v: %w", file, err, ErrPersistence)
	}
	if err := s.atomicWrite(ctx, target, data); err != nil {
		return nil, fmt.Errorf("запись %s: %v: %w", target, err, ErrPersistence)
	}

	return &Descriptor{File: file, Path: s.URLFor(file), Meta: doc.Meta}, nil
}

func (s *FileStore) atomicWrite(ctx context.Context, target string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*.json")
	if err != nil {
		return fmt.Errorf("не удалось создать временный файл: %w", err)
	}
	tmpName := tmp.Name()
	// Временный файл удаляется при любой неудаче
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи временного файла: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка синхронизации временного файла: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия временного файла: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.delay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	op := func() error {
		return s.rename(tmpName, target)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.retries-1)), ctx))
}

// LoadRaw читает файл шарда как есть
func (s *FileStore) LoadRaw(file string) ([]byte, error) {
	safe := filepath.Base(file)
	if safe != file || strings.HasPrefix(safe, tempPrefix) || filepath.Ext(safe) != ".json" {
		return nil, fmt.Errorf("%q: %w", file, ErrShardNotFound)
	}
	data, err := os.ReadFile(s.PathFor(safe))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%q: %w", file, ErrShardNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла шарда %s: %w", file, err)
	}
	return data, nil
}

// Load читает и разбирает документ
func (s *FileStore) Load(file string) (*Document, error) {
	data, err := s.LoadRaw(file)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ошибка десериализации шарда %s: %w", file, err)
	}
	return &doc, nil
}

// List перечисляет сохранённые шарды по имени файла.
// Нечитаемые файлы попадают в список с пустой meta.
func (s *FileStore) List() ([]Descriptor, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.dir, err)
	}

	var out []Descriptor
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		d := Descriptor{File: name, Path: s.URLFor(name)}
		if data, err := os.ReadFile(s.PathFor(name)); err == nil {
			var head struct {
				Meta Meta `json:"meta"`
			}
			if json.Unmarshal(data, &head) == nil {
				d.Meta = head.Meta
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}
