package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/shard-engine/internal/engine"
	"github.com/annel0/shard-engine/internal/logging"
	"github.com/annel0/shard-engine/internal/middleware"
	"github.com/annel0/shard-engine/internal/registry"
	"github.com/annel0/shard-engine/internal/shard"
)

// Префиксы маршрутов
const (
	GeneratorPrefix = "/api/shard-gen-v2"
	ShardsPrefix    = "/api/shards"
)

// maxBodyBytes ограничивает тело запроса плана/генерации
const maxBodyBytes = 1 << 20

// RestServer представляет REST API сервер генератора
type RestServer struct {
	router           *gin.Engine
	httpServer       *http.Server
	engine           *engine.Engine
	port             string
	metrics          *ServerMetrics
	outboundWebhooks *OutboundWebhookManager
	log              *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port        string                // порт для запуска сервера, например ":8088"
	Engine      *engine.Engine        // движок генерации
	Registerer  prometheus.Registerer // куда регистрировать HTTP-метрики; nil - не регистрировать
	Gatherer    prometheus.Gatherer   // источник для эндпоинта метрик; nil - эндпоинта нет
	MetricsPath string
	StaticDir   string // раздаётся под /static; пусто - не раздаётся
	Webhooks    *OutboundWebhookManager
	Logger      *logging.Logger
}

// GenericResponse - общий формат ответа
type GenericResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Logger == nil {
		config.Logger = logging.GetAPILogger()
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware("shard-engine"))
	router.Use(middleware.NewRequestLogger(config.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("shard_engine", config.Registerer)
	router.Use(promMw.Handler())
	if config.Gatherer != nil {
		promMw.RegisterMetricsEndpoint(router, config.MetricsPath, config.Gatherer)
	}

	server := &RestServer{
		router:           router,
		engine:           config.Engine,
		port:             config.Port,
		metrics:          NewServerMetrics(),
		outboundWebhooks: config.Webhooks,
		log:              config.Logger,
	}

	server.setupRoutes(config.StaticDir)
	return server
}

// Router отдаёт gin.Engine, нужен тестам и встраиванию
func (rs *RestServer) Router() *gin.Engine { return rs.router }

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes(staticDir string) {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	gen := rs.router.Group(GeneratorPrefix)
	{
		gen.GET("/", rs.handleInfo)
		gen.GET("/tiers", rs.handleTiers)
		gen.POST("/plan", rs.handlePlan)
		gen.POST("/generate", rs.handleGenerate)
	}

	shards := rs.router.Group(ShardsPrefix)
	{
		shards.GET("", rs.handleListShards)
		shards.GET("/:name", rs.handleGetShard)
	}

	api := rs.router.Group("/api")
	{
		api.GET("/registry", rs.handleRegistry)
		api.POST("/registry/reload", rs.handleRegistryReload)
		api.GET("/webhooks", rs.handleGetOutboundWebhooks)
	}

	rs.router.GET("/health", rs.handleHealth)

	if staticDir != "" {
		rs.router.Static("/static", staticDir)
	}
}

// statusFor сопоставляет ошибку движка HTTP-статусу
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, registry.ErrConfigParse):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, shard.ErrShardNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrSeedConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (rs *RestServer) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		rs.log.Error("%s %s trace=%s: %v", c.Request.Method, c.Request.URL.Path, middleware.TraceID(c), err)
	}
	c.JSON(status, GenericResponse{OK: false, Error: err.Error()})
}

// readRequest разбирает тело запроса плана/генерации
func readRequest(c *gin.Context) (*engine.PlanRequest, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return engine.DecodeRequest(body)
}

// handleInfo описывает генератор и доступные шаблоны
func (rs *RestServer) handleInfo(c *gin.Context) {
	tiers, err := rs.engine.Registry().ListTiers()
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"generator":      shard.Generator,
		"schema_version": shard.SchemaVersion,
		"templates":      tiers,
		"verbosity":      []engine.Verbosity{engine.VerbosityMini, engine.VerbosityNormal, engine.VerbosityFull},
		"endpoints": gin.H{
			"plan":     GeneratorPrefix + "/plan",
			"generate": GeneratorPrefix + "/generate",
			"shards":   ShardsPrefix,
		},
	})
}

// handleTiers возвращает шаблоны тиров с их сеткой
func (rs *RestServer) handleTiers(c *gin.Context) {
	reg := rs.engine.Registry()
	ids, err := reg.ListTiers()
	if err != nil {
		rs.writeError(c, err)
		return
	}

	tiers := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		res, err := reg.Resolve(id, nil)
		if err != nil {
			rs.writeError(c, err)
			return
		}
		tiers = append(tiers, gin.H{
			"id":      id,
			"label":   res.Config.Label,
			"version": res.Tier.IDAtVersion(),
			"grid":    gin.H{"width": res.Config.Grid.Width, "height": res.Config.Grid.Height},
			"pack":    res.Config.Biomes.Pack,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "tiers": tiers})
}

func (rs *RestServer) handlePlan(c *gin.Context) {
	req, err := readRequest(c)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	plan, err := rs.engine.Plan(c.Request.Context(), req)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (rs *RestServer) handleGenerate(c *gin.Context) {
	req, err := readRequest(c)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	res, err := rs.engine.Generate(c.Request.Context(), req)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// handleListShards перечисляет сохранённые шарды
func (rs *RestServer) handleListShards(c *gin.Context) {
	list, err := rs.engine.Store().List()
	if err != nil {
		rs.writeError(c, err)
		return
	}
	if list == nil {
		list = []shard.Descriptor{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(list), "shards": list})
}

// handleGetShard отдаёт документ шарда как есть.
// Имя без .json ищется по имени шарда: в индексе, затем среди файлов.
func (rs *RestServer) handleGetShard(c *gin.Context) {
	file, err := rs.resolveShardFile(c.Request.Context(), c.Param("name"))
	if err != nil {
		rs.writeError(c, err)
		return
	}
	data, err := rs.engine.Store().LoadRaw(file)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (rs *RestServer) resolveShardFile(ctx context.Context, name string) (string, error) {
	if strings.HasSuffix(name, ".json") {
		return name, nil
	}
	safe := shard.SafeName(name)
	if idx := rs.engine.Index(); idx != nil {
		rec, ok, err := idx.Get(ctx, safe)
		if err != nil {
			return "", err
		}
		if ok {
			return rec.File, nil
		}
	}

	list, err := rs.engine.Store().List()
	if err != nil {
		return "", err
	}
	// последний по имени файла: при равных сидах порядок не важен
	found := ""
	for _, d := range list {
		if d.Meta.Name == safe {
			found = d.File
		}
	}
	if found == "" {
		return "", fmt.Errorf("%q: %w", name, shard.ErrShardNotFound)
	}
	return found, nil
}

// handleRegistry перечисляет загруженные документы реестра
func (rs *RestServer) handleRegistry(c *gin.Context) {
	reg := rs.engine.Registry()
	tiers, err := reg.ListTiers()
	if err != nil {
		rs.writeError(c, err)
		return
	}
	biomes, err := reg.ListBiomes()
	if err != nil {
		rs.writeError(c, err)
		return
	}
	poi, err := reg.ListPOI()
	if err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "registry": registry.Catalog{Tiers: tiers, Biomes: biomes, POI: poi}})
}

// handleRegistryReload перечитывает шаблоны; при ошибке остаются прежние
func (rs *RestServer) handleRegistryReload(c *gin.Context) {
	if err := rs.engine.ReloadRegistry(c.Request.Context()); err != nil {
		rs.writeError(c, err)
		return
	}
	rs.handleRegistry(c)
}

// handleGetOutboundWebhooks возвращает список исходящих webhook'ов
func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	webhooks := []OutboundWebhook{}
	if rs.outboundWebhooks != nil {
		webhooks = rs.outboundWebhooks.GetWebhooks()
	}
	c.JSON(http.StatusOK, GenericResponse{
		OK: true,
		Data: gin.H{
			"webhooks": webhooks,
			"count":    len(webhooks),
		},
	})
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	shards := 0
	if list, err := rs.engine.Store().List(); err == nil {
		shards = len(list)
	}
	c.JSON(http.StatusOK, rs.metrics.Report(shards))
}

// Start запускает сервер; блокирует до Shutdown
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.log.Info("REST API слушает %s", rs.port)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	return rs.httpServer.Shutdown(ctx)
}
