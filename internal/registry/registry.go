package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"
)

// Категории документов каталога
const (
	KindTiers  = "tiers"
	KindBiomes = "biomes"
	KindPOI    = "poi"
)

// LoadedDoc - загруженный JSON-документ с извлечёнными id и версией
type LoadedDoc struct {
	ID      string
	Version string
	Data    map[string]any
	Path    string
}

// IDAtVersion возвращает строку провенанса вида "id@version"
func (d *LoadedDoc) IDAtVersion() string {
	v := d.Version
	if v == "" {
		v = "0.0.0"
	}
	return d.ID + "@" + v
}

// Catalog перечисляет доступные документы по категориям
type Catalog struct {
	Tiers  []string `json:"tiers"`
	Biomes []string `json:"biomes"`
	POI    []string `json:"poi"`
}

// Resolution - результат разрешения шаблона тира с переопределениями
type Resolution struct {
	Tier      *LoadedDoc
	Effective map[string]any
	Config    TierConfig
	Diff      OverrideDiff
}

// Registry хранит шаблоны тиров, биом-паки и таблицы POI.
// Источник - любой fs.FS: встроенные шаблоны или каталог на диске.
type Registry struct {
	fsys fs.FS

	mu      sync.RWMutex
	catalog *Catalog
	tiers   map[string]*LoadedDoc
	biomes  map[string]*LoadedDoc
	poi     map[string]*LoadedDoc
}

// New создаёт реестр поверх файловой системы с catalog.json в корне
func New(fsys fs.FS) *Registry {
	return &Registry{
		fsys:   fsys,
		tiers:  make(map[string]*LoadedDoc),
		biomes: make(map[string]*LoadedDoc),
		poi:    make(map[string]*LoadedDoc),
	}
}

// NewFromDir создаёт реестр поверх каталога на диске
func NewFromDir(dir string) *Registry {
	return New(os.DirFS(dir))
}

// LoadAll загружает каталог и все документы, на которые он ссылается
func (r *Registry) LoadAll() error {
	catalog, err := r.loadCatalog()
	if err != nil {
		return err
	}

	tiers := make(map[string]*LoadedDoc, len(catalog.Tiers))
	for _, id := range catalog.Tiers {
		doc, err := r.loadDoc(KindTiers, id)
		if err != nil {
			return err
		}
		tiers[id] = doc
	}

	biomes := make(map[string]*LoadedDoc, len(catalog.Biomes))
	for _, id := range catalog.Biomes {
		doc, err := r.loadDoc(KindBiomes, id)
		if err != nil {
			return err
		}
		biomes[id] = doc
	}

	poi := make(map[string]*LoadedDoc, len(catalog.POI))
	for _, id := range catalog.POI {
		doc, err := r.loadDoc(KindPOI, id)
		if err != nil {
			return err
		}
		poi[id] = doc
	}

	r.mu.Lock()
	r.catalog = catalog
	r.tiers, r.biomes, r.poi = tiers, biomes, poi
	r.mu.Unlock()
	return nil
}

// ListTiers возвращает отсортированные id шаблонов тиров
func (r *Registry) ListTiers() ([]string, error) { return r.list(r.tiersMap) }

// ListBiomes возвращает отсортированные id биом-паков
func (r *Registry) ListBiomes() ([]string, error) { return r.list(r.biomesMap) }

// ListPOI возвращает отсортированные id таблиц POI
func (r *Registry) ListPOI() ([]string, error) { return r.list(r.poiMap) }

// TierDoc возвращает документ тира
func (r *Registry) TierDoc(id string) (*LoadedDoc, error) {
	return r.get(r.tiersMap, "tier template", id)
}

// BiomeDoc возвращает документ биом-пака
func (r *Registry) BiomeDoc(id string) (*LoadedDoc, error) {
	return r.get(r.biomesMap, "biome pack", id)
}

// POIDoc возвращает документ таблицы POI
func (r *Registry) POIDoc(id string) (*LoadedDoc, error) {
	return r.get(r.poiMap, "poi table", id)
}

// Resolve сливает шаблон тира с переопределениями и декодирует типизированный конфиг
func (r *Registry) Resolve(templateID string, overrides map[string]any) (*Resolution, error) {
	doc, err := r.TierDoc(templateID)
	if err != nil {
		return nil, err
	}

	effective, diff := ApplyOverridesStrict(doc.Data, overrides)
	cfg, err := DecodeTierConfig(effective)
	if err != nil {
		return nil, fmt.Errorf("tier %s: %w", doc.IDAtVersion(), err)
	}
	if cfg.ID == "" {
		cfg.ID = doc.ID
	}
	if cfg.Version == "" {
		cfg.Version = doc.Version
	}

	return &Resolution{Tier: doc, Effective: effective, Config: cfg, Diff: diff}, nil
}

// BiomePack возвращает типизированный биом-пак
func (r *Registry) BiomePack(id string) (*BiomePack, error) {
	doc, err := r.BiomeDoc(id)
	if err != nil {
		return nil, err
	}
	return DecodeBiomePack(doc)
}

// POITables возвращает типизированные таблицы POI; пустой список ids даёт пустой результат
func (r *Registry) POITables(ids []string) ([]*POITable, error) {
	out := make([]*POITable, 0, len(ids))
	for _, id := range ids {
		doc, err := r.POIDoc(id)
		if err != nil {
			return nil, err
		}
		tbl, err := DecodePOITable(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, tbl)
	}
	return out, nil
}

func (r *Registry) tiersMap() map[string]*LoadedDoc  { return r.tiers }
func (r *Registry) biomesMap() map[string]*LoadedDoc { return r.biomes }
func (r *Registry) poiMap() map[string]*LoadedDoc    { return r.poi }

func (r *Registry) list(sel func() map[string]*LoadedDoc) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.catalog == nil {
		return nil, ErrNotLoaded
	}
	m := sel()
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Registry) get(sel func() map[string]*LoadedDoc, what, id string) (*LoadedDoc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.catalog == nil {
		return nil, ErrNotLoaded
	}
	doc, ok := sel()[id]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return doc, nil
}

func (r *Registry) loadCatalog() (*Catalog, error) {
	raw, err := fs.ReadFile(r.fsys, "catalog.json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("catalog.json: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("read catalog.json: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("catalog.json: %v: %w", err, ErrConfigParse)
	}
	for _, key := range []string{KindTiers, KindBiomes, KindPOI} {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("catalog.json missing %q list: %w", key, ErrConfigParse)
		}
	}

	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog.json: %v: %w", err, ErrConfigParse)
	}
	return &c, nil
}

func (r *Registry) loadDoc(kind, id string) (*LoadedDoc, error) {
	p := path.Join(kind, id+".json")
	raw, err := fs.ReadFile(r.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", p, err, ErrConfigParse)
	}
	if data == nil {
		return nil, fmt.Errorf("%s: document is not an object: %w", p, ErrConfigParse)
	}

	docID, _ := data["id"].(string)
	if docID == "" {
		docID = id
		data["id"] = id
	}

	version := "1.0.0"
	if v, ok := data["version"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return nil, fmt.Errorf("%s has non-string version: %w", p, ErrConfigParse)
		}
		version = s
	}

	if kind == KindTiers {
		for _, block := range []string{"grid", "water"} {
			if _, ok := data[block].(map[string]any); !ok {
				return nil, fmt.Errorf("%s missing %q block: %w", p, block, ErrConfigParse)
			}
		}
	}

	return &LoadedDoc{ID: docID, Version: version, Data: data, Path: p}, nil
}
