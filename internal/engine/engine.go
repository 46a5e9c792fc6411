// Package engine связывает реестр шаблонов, этапы генерации и хранилище:
// Plan строит дешёвый предпросмотр без записи на диск, Generate собирает
// и атомарно сохраняет полный документ шарда.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/shard-engine/internal/cache"
	"github.com/annel0/shard-engine/internal/eventbus"
	"github.com/annel0/shard-engine/internal/logging"
	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/shard"
	"github.com/annel0/shard-engine/internal/storage"
)

// Options - необязательные зависимости движка
type Options struct {
	Index   storage.ShardIndex
	Cache   cache.CacheRepo
	Bus     eventbus.EventBus
	Metrics *Metrics
	Logger  *logging.Logger
	// Clock подменяется в тестах; по умолчанию time.Now
	Clock func() time.Time
}

// Engine выполняет plan и generate. Безопасен для параллельного использования:
// общего изменяемого состояния между вызовами нет.
type Engine struct {
	reg     *registry.Registry
	store   *shard.FileStore
	index   storage.ShardIndex
	cache   cache.CacheRepo
	bus     eventbus.EventBus
	metrics *Metrics
	tracer  trace.Tracer
	clock   func() time.Time
	log     *logging.Logger
}

// New создаёт движок поверх загруженного реестра и файлового хранилища
func New(reg *registry.Registry, store *shard.FileStore, opts Options) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("engine: реестр не задан")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: хранилище не задано")
	}

	e := &Engine{
		reg:     reg,
		store:   store,
		index:   opts.Index,
		cache:   opts.Cache,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("shard-engine/engine"),
		clock:   opts.Clock,
		log:     opts.Logger,
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.log == nil {
		e.log = logging.GetEngineLogger()
	}
	return e, nil
}

// Registry возвращает реестр шаблонов
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Store возвращает файловое хранилище шардов
func (e *Engine) Store() *shard.FileStore { return e.store }

// Index возвращает индекс шардов (может быть nil)
func (e *Engine) Index() storage.ShardIndex { return e.index }

// ReloadRegistry перечитывает шаблоны и сбрасывает кеш планов.
// При ошибке разбора остаются прежние шаблоны и прежний кеш.
func (e *Engine) ReloadRegistry(ctx context.Context) error {
	if err := e.reg.LoadAll(); err != nil {
		return err
	}
	if e.cache != nil {
		if err := e.cache.Purge(ctx); err != nil {
			e.log.Warn("Кеш планов не сброшен после перезагрузки шаблонов: %v", err)
		}
	}
	e.log.Info("Реестр шаблонов перезагружен")
	return nil
}

// resolved - всё, что plan и generate получают из запроса до генерации
type resolved struct {
	req  *PlanRequest
	res  *registry.Resolution
	pack *registry.BiomePack
	poi  []*registry.POITable
	seed int
}

func (e *Engine) resolve(ctx context.Context, req *PlanRequest) (*resolved, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := e.reg.Resolve(req.TemplateID, req.Overrides)
	if err != nil {
		return nil, err
	}

	packID := req.BiomePack
	if packID == "" {
		packID = res.Config.Biomes.Pack
	}
	if packID == "" {
		return nil, fmt.Errorf("шаблон %s не задаёт biomes.pack, а запрос не указал biomePack: %w", req.TemplateID, ErrInvalidRequest)
	}
	pack, err := e.reg.BiomePack(packID)
	if err != nil {
		return nil, err
	}

	poi, err := e.reg.POITables(res.Config.POI.Tables)
	if err != nil {
		return nil, err
	}

	seed, err := resolveSeed(ctx, req, res.Diff.Hash, e.index)
	if err != nil {
		return nil, err
	}

	if n := len(res.Diff.Ignored); n > 0 {
		e.metrics.ignoredOverrides.Add(float64(n))
	}
	e.log.Info("Разрешён шаблон %s, пак %s, сид %08d, игнорировано переопределений: %d",
		res.Tier.IDAtVersion(), pack.IDAtVersion(), seed, len(res.Diff.Ignored))

	return &resolved{req: req, res: res, pack: pack, poi: poi, seed: seed}, nil
}

// provenance собирает провенанс для плана и документа
func (r *resolved) provenance() shard.Provenance {
	ignored := r.res.Diff.Ignored
	if ignored == nil {
		ignored = []string{}
	}
	return shard.Provenance{
		Generator:        shard.Generator,
		SchemaVersion:    shard.SchemaVersion,
		Template:         r.res.Tier.IDAtVersion(),
		BiomePack:        r.pack.IDAtVersion(),
		Seed:             r.seed,
		OverridesHash:    r.res.Diff.Hash,
		IgnoredOverrides: ignored,
	}
}

// publish отправляет событие; ошибка публикации только логируется
func (e *Engine) publish(ctx context.Context, eventType string, payload any) {
	ev, err := eventbus.NewEnvelope(eventType, payload)
	if err != nil {
		e.log.Warn("Событие %s не собрано: %v", eventType, err)
		return
	}
	if e.bus != nil {
		err = e.bus.Publish(ctx, ev)
	} else {
		err = eventbus.Publish(ctx, ev)
	}
	if err != nil {
		e.log.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}

// errorKind классифицирует ошибку для метрик
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	case errors.Is(err, registry.ErrConfigParse):
		return "config_parse"
	case errors.Is(err, shard.ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrSeedConflict):
		return "seed_conflict"
	default:
		return "internal"
	}
}

func (e *Engine) fail(span trace.Span, op string, err error) error {
	e.metrics.errors.WithLabelValues(op, errorKind(err)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func requestAttrs(req *PlanRequest) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("shard.template", req.TemplateID),
		attribute.String("shard.name", req.Name),
	}
}
