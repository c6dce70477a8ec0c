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

	"github.com/annel0/rpg-companion/internal/api"
	"github.com/annel0/rpg-companion/internal/cache"
	"github.com/annel0/rpg-companion/internal/config"
	"github.com/annel0/rpg-companion/internal/eventbus"
	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/annel0/rpg-companion/internal/mapgen"
	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/metrics"
	"github.com/annel0/rpg-companion/internal/observability"
	"github.com/annel0/rpg-companion/internal/snapshot"
	"github.com/annel0/rpg-companion/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (по умолчанию RPG_CONFIG)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	logging.Configure(cfg.Logging.Dir, logging.ParseLevel(cfg.Logging.Level))
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🗺️ Запуск сервиса видимости карт (instance=%s)...", cfg.Server.InstanceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === OBSERVABILITY ===
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			logging.Warn("OpenTelemetry не инициализирован: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					logging.Error("Ошибка остановки OpenTelemetry: %v", err)
				}
			}()
		}
	}

	// === ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ ===

	logging.Debug("Открытие хранилища (%s)...", cfg.Storage.Driver)
	repo, err := storage.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}
	defer repo.Close()

	resultCache, err := cache.Open(cfg.Cache, cfg.Server.InstanceID)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения кеша: %v", err)
	}
	if resultCache != nil {
		defer resultCache.Close()
	}

	logging.Debug("Подключение шины событий (%s)...", cfg.EventBus.ResolvedDriver())
	bus, err := eventbus.Open(cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения шины событий: %v", err)
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("Логгер событий не запущен: %v", err)
	}

	busMetrics := eventbus.NewMetricsExporter(bus, prometheus.DefaultRegisterer)
	if cfg.Server.MetricsPort > 0 {
		busMetrics.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))
	} else {
		busMetrics.Start()
	}
	defer busMetrics.Stop()

	manager, err := maps.NewManager(maps.Options{
		InstanceID:      cfg.Server.InstanceID,
		Policy:          cfg.Visibility.Policy,
		DefaultMetric:   cfg.Visibility.Metric,
		DefaultCellSize: cfg.Visibility.CellSize,
		Repo:            repo,
		Cache:           resultCache,
		Bus:             bus,
		Metrics:         metrics.NewVisibilityMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания менеджера карт: %v", err)
	}
	defer manager.Close()

	if err := manager.Load(ctx); err != nil {
		log.Fatalf("❌ Ошибка загрузки карт: %v", err)
	}
	if err := manager.StartReplication(ctx); err != nil {
		log.Fatalf("❌ Ошибка запуска репликации: %v", err)
	}

	if cfg.MapGen.Enabled {
		m, created, err := mapgen.Seed(ctx, manager, cfg.MapGen)
		if err != nil {
			logging.Error("❌ Ошибка генерации карты %s: %v", cfg.MapGen.Name, err)
		} else if created {
			logging.Info("🌍 Демо-карта %s (%s) готова", m.Name(), m.ID())
		}
	}

	var snapshots *snapshot.Service
	snapshotStore, err := snapshot.OpenStore(cfg.Snapshots)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения хранилища снимков: %v", err)
	}
	if snapshotStore != nil {
		snapshots = snapshot.NewService(snapshotStore, manager)
		logging.Info("📸 Снимки карт: %s/%s", cfg.Snapshots.Endpoint, cfg.Snapshots.Bucket)
	}

	restServer, err := api.NewRestServer(api.Config{
		Port:      fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Manager:   manager,
		Snapshots: snapshots,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания REST API: %v", err)
	}

	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ REST API остановлен с ошибкой: %v", err)
			cancel()
		}
	}()

	restPort := cfg.Server.GetRESTPort()
	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   👁️  Камера: ws://localhost:%d/ws/maps/<id>", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	case <-ctx.Done():
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logging.Debug("Остановка REST API...")
	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}
