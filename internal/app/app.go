// Package app собирает компоненты сервиса из конфигурации:
// реестр шаблонов, файловое хранилище, индекс, кеш планов, шину событий,
// движок и исходящие webhook'и. Используется сервером и CLI.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/shard-engine/internal/api"
	"github.com/annel0/shard-engine/internal/cache"
	"github.com/annel0/shard-engine/internal/config"
	"github.com/annel0/shard-engine/internal/engine"
	"github.com/annel0/shard-engine/internal/eventbus"
	"github.com/annel0/shard-engine/internal/logging"
	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/shard"
	"github.com/annel0/shard-engine/internal/storage"
	"github.com/annel0/shard-engine/templates"
)

// App держит собранные компоненты и закрывает их в обратном порядке
type App struct {
	Config   *config.Config
	Registry *registry.Registry
	Store    *shard.FileStore
	Index    storage.ShardIndex
	Cache    cache.CacheRepo
	Bus      eventbus.EventBus
	Engine   *engine.Engine
	Webhooks *api.OutboundWebhookManager

	closers []func()
	log     *logging.Logger
}

// Build создаёт компоненты по конфигурации. reg - куда регистрировать
// метрики движка и шины; nil - метрики не регистрируются.
// При ошибке уже созданные компоненты закрываются.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, log: logging.GetAppLogger()}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	var err error

	if cfg.Engine.TemplatesDir != "" {
		a.Registry = registry.NewFromDir(cfg.Engine.TemplatesDir)
		a.log.Info("Шаблоны из каталога %s", cfg.Engine.TemplatesDir)
	} else {
		a.Registry = registry.New(templates.FS)
		a.log.Info("Встроенные шаблоны")
	}
	if err = a.Registry.LoadAll(); err != nil {
		return nil, fmt.Errorf("загрузка шаблонов: %w", err)
	}

	a.Store, err = shard.NewFileStore(cfg.Engine.ShardsDir, cfg.Engine.PublicPrefix, cfg.Engine.WriteRetries, cfg.Engine.RetryDelay)
	if err != nil {
		return nil, err
	}

	a.Index, err = storage.NewIndex(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("индекс шардов: %w", err)
	}
	idx := a.Index
	a.onClose(func() {
		if err := idx.Close(); err != nil {
			a.log.Warn("Закрытие индекса: %v", err)
		}
	})
	a.log.Info("Индекс шардов: %s", cfg.Index.Backend)

	a.Cache, err = cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("кеш планов: %w", err)
	}
	if a.Cache != nil {
		c := a.Cache
		a.onClose(func() { _ = c.Close() })
		a.log.Info("Кеш планов: %s", cfg.Cache.Backend)
	}

	if err = a.buildBus(cfg.EventBus, reg); err != nil {
		return nil, err
	}

	a.Engine, err = engine.New(a.Registry, a.Store, engine.Options{
		Index:   a.Index,
		Cache:   a.Cache,
		Bus:     a.Bus,
		Metrics: engine.NewMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	if len(cfg.Webhooks) > 0 {
		a.Webhooks = api.NewOutboundWebhookManager(WebhooksFromConfig(cfg.Webhooks), logging.GetAPILogger())
		wh := a.Webhooks
		a.onClose(wh.Close)
		if err = wh.Attach(ctx, a.Bus); err != nil {
			return nil, err
		}
		a.log.Info("Исходящих webhook'ов: %d", len(cfg.Webhooks))
	}
	built = true
	return a, nil
}

// buildBus поднимает шину событий: JetStream при заданном URL, иначе в памяти
func (a *App) buildBus(cfg config.EventBusConfig, reg prometheus.Registerer) error {
	if cfg.URL != "" {
		js, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, cfg.RetentionDuration())
		if err != nil {
			return fmt.Errorf("шина событий %s: %w", cfg.URL, err)
		}
		a.Bus = js
		a.log.Info("Шина событий: JetStream %s, стрим %s", cfg.URL, cfg.Stream)
	} else {
		a.Bus = eventbus.NewMemoryBus(cfg.Buffer)
		a.log.Info("Шина событий: в памяти")
	}
	bus := a.Bus
	eventbus.Init(bus)
	a.onClose(func() {
		eventbus.Init(nil)
		if err := bus.Close(); err != nil {
			a.log.Warn("Закрытие шины событий: %v", err)
		}
	})

	if err := eventbus.RegisterMetrics(bus, reg); err != nil {
		return fmt.Errorf("метрики шины событий: %w", err)
	}

	sub, err := eventbus.StartLoggingListener(bus, logging.GetEventsLogger())
	if err != nil {
		return fmt.Errorf("подписка логгера событий: %w", err)
	}
	a.onClose(sub.Unsubscribe)
	return nil
}

// WebhooksFromConfig переводит конфигурацию webhook'ов в описания менеджера
func WebhooksFromConfig(cfgs []config.WebhookConfig) []api.OutboundWebhook {
	out := make([]api.OutboundWebhook, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, api.OutboundWebhook{
			Name:       c.Name,
			URL:        c.URL,
			Secret:     c.Secret,
			Events:     c.Events,
			Timeout:    c.TimeoutSeconds,
			RetryCount: c.Retries,
		})
	}
	return out
}

func (a *App) onClose(fn func()) { a.closers = append(a.closers, fn) }

// Close освобождает ресурсы в порядке, обратном созданию
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
