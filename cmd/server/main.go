package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/shard-engine/internal/api"
	"github.com/annel0/shard-engine/internal/app"
	"github.com/annel0/shard-engine/internal/config"
	"github.com/annel0/shard-engine/internal/logging"
	"github.com/annel0/shard-engine/internal/observability"
	"github.com/annel0/shard-engine/internal/shard"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию SHARD_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	logging.SetLogDir(cfg.Logging.Dir)
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("Запуск генератора шардов, REST API на порту %d", cfg.Server.RESTPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: shard.Generator,
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
			SampleRatio:    cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			logging.Warn("OpenTelemetry не инициализирован: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("Остановка OpenTelemetry: %v", err)
				}
			}()
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ ===
	components, err := app.Build(ctx, cfg, promReg)
	if err != nil {
		logging.Error("Ошибка сборки компонентов: %v", err)
		os.Exit(1)
	}
	defer components.Close()

	server := api.NewRestServer(api.Config{
		Port:        fmt.Sprintf(":%d", cfg.Server.RESTPort),
		Engine:      components.Engine,
		Registerer:  promReg,
		Gatherer:    promReg,
		MetricsPath: cfg.Server.MetricsPath,
		StaticDir:   cfg.Server.StaticDir,
		Webhooks:    components.Webhooks,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logging.Info("Сервис запущен")
	logging.Info("   REST API: http://localhost:%d%s/", cfg.Server.RESTPort, api.GeneratorPrefix)
	logging.Info("   Health check: http://localhost:%d/health", cfg.Server.RESTPort)
	logging.Info("   Метрики: http://localhost:%d%s", cfg.Server.RESTPort, cfg.Server.MetricsPath)

	select {
	case <-ctx.Done():
		logging.Info("Получен сигнал, завершение работы...")
	case err := <-errCh:
		if err != nil {
			logging.Error("REST API остановлен с ошибкой: %v", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Ошибка остановки REST API: %v", err)
	}

	logging.Info("Сервер остановлен")
}
