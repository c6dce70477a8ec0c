package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/middleware"
	"github.com/annel0/rpg-companion/internal/snapshot"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// serviceName имя сервиса для otelgin и namespace HTTP-метрик
const serviceName = "rest_api"

// RestServer представляет REST API сервер карт
type RestServer struct {
	router    *gin.Engine
	server    *http.Server
	manager   *maps.Manager
	snapshots *snapshot.Service
	port      string
	metrics   *ServerMetrics
	logger    *logging.Logger

	sessionsMu sync.Mutex
	sessions   map[string]*viewerSession
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port      string               // порт для запуска сервера
	Manager   *maps.Manager        // реестр карт
	Snapshots *snapshot.Service    // снимки карт; nil - эндпоинты снимков отвечают 503
	Registry  *prometheus.Registry // регистр HTTP-метрик; nil - дефолтный
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Manager == nil {
		return nil, fmt.Errorf("api: maps manager is required")
	}
	if config.Port == "" {
		config.Port = ":8080"
	}

	// Устанавливаем режим релиза для gin, если тесты не выбрали свой
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	// otelgin первым: логгер берёт trace-ID из спана запроса
	router.Use(otelgin.Middleware(serviceName))

	loggerMw := middleware.NewRequestLogger(logging.GetAPILogger())
	router.Use(loggerMw.Handler())

	promMw := middleware.NewPrometheusMiddleware(serviceName, config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:    router,
		manager:   config.Manager,
		snapshots: config.Snapshots,
		port:      config.Port,
		metrics:   NewServerMetrics(),
		logger:    logging.GetAPILogger(),
		sessions:  make(map[string]*viewerSession),
	}

	// Настраиваем маршруты
	rs.setupRoutes()

	rs.server = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)

		api.GET("/maps", rs.handleListMaps)
		api.POST("/maps", rs.handleCreateMap)
		api.GET("/maps/:id", rs.handleGetMap)

		api.GET("/maps/:id/tiles", rs.handleListTiles)
		api.PUT("/maps/:id/tiles", rs.handlePutTile)
		api.DELETE("/maps/:id/tiles", rs.handleDeleteTile)

		api.POST("/maps/:id/query", rs.handleQuery)
		api.POST("/maps/:id/resolve", rs.handleResolve)

		api.POST("/maps/:id/snapshots", rs.handleExportSnapshot)
		api.GET("/snapshots", rs.handleListSnapshots)
		api.POST("/snapshots/import", rs.handleImportSnapshot)
	}

	// Поток кадров камеры
	rs.router.GET("/ws/maps/:id", rs.handleViewerStream)

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// Handler возвращает http.Handler сервера (httptest, встраивание)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// handleHealth проверка здоровья сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	snapshot := rs.metrics.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"instance_id": rs.manager.InstanceID(),
		"uptime":      snapshot.Uptime,
		"memory_mb":   snapshot.MemoryMB,
		"cpu_percent": snapshot.CPUPercent,
		"maps":        len(rs.manager.List()),
		"viewers":     rs.ViewerCount(),
		"timestamp":   time.Now().Unix(),
	})
}

// handleStats подробная статистика сервера и индексов карт
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	mapStats := make(map[string]string)
	for _, m := range rs.manager.List() {
		mapStats[m.ID()] = m.Stats()
	}
	stats["maps"] = mapStats

	systemCPU, _ := rs.metrics.GetSystemCPUUsage()
	stats["server"] = map[string]interface{}{
		"process":     rs.metrics.Snapshot(),
		"system_cpu":  round2(systemCPU),
		"viewers":     rs.ViewerCount(),
		"server_time": time.Now().Unix(),
	}

	// Детальная статистика памяти
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика сервера",
		Data:    stats,
	})
}

// Start запускает REST API сервер и блокируется до остановки
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API сервер запущен на порту %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop останавливает REST API сервер: закрывает WebSocket-сессии и ждёт активные запросы
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.closeSessions()
	return rs.server.Shutdown(ctx)
}
