package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute заменяет путь запросов мимо маршрутов,
// иначе каждый случайный URL стал бы новой серией
const unmatchedRoute = "<unmatched>"

// PrometheusMiddleware снимает HTTP-метрики по шаблону маршрута gin.
//
//	mw := middleware.NewPrometheusMiddleware("shard_engine", reg)
//	r.Use(mw.Handler())
//	mw.RegisterMetricsEndpoint(r, "/metrics", reg)
//
// Метрики (с префиксом service):
//   - http_request_duration_seconds{method,path,status}
//   - http_response_size_bytes{method,path}
//   - http_requests_inflight
//   - http_request_errors_total{method,path,status}, только 4xx и 5xx
//
// Запросы к эндпоинту метрик не учитываются.
type PrometheusMiddleware struct {
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inflight prometheus.Gauge
	errors   *prometheus.CounterVec

	metricsPath string
}

// NewPrometheusMiddleware создаёт метрики и регистрирует их в reg; nil - без регистрации
func NewPrometheusMiddleware(service string, reg prometheus.Registerer) *PrometheusMiddleware {
	pm := &PrometheusMiddleware{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность HTTP-запросов.",
			// generate пишет файл с повторами, поэтому хвост длиннее обычного
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path", "status"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "http_response_size_bytes",
			Help:      "Размер тела ответа.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "path"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: service,
			Name:      "http_requests_inflight",
			Help:      "Запросов в обработке.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: service,
			Name:      "http_request_errors_total",
			Help:      "Запросов, завершившихся статусом 4xx или 5xx.",
		}, []string{"method", "path", "status"}),
	}

	if reg != nil {
		reg.MustRegister(pm.duration, pm.size, pm.inflight, pm.errors)
	}
	return pm
}

// Handler возвращает middleware для router.Use
func (pm *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if pm.metricsPath != "" && route == pm.metricsPath {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		start := time.Now()
		pm.inflight.Inc()
		defer pm.inflight.Dec()

		c.Next()

		method := c.Request.Method
		code := c.Writer.Status()
		status := strconv.Itoa(code)
		pm.duration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n > 0 {
			pm.size.WithLabelValues(method, route).Observe(float64(n))
		}
		if code >= 400 {
			pm.errors.WithLabelValues(method, route, status).Inc()
		}
	}
}

// RegisterMetricsEndpoint отдаёт метрики g по GET path
func (pm *PrometheusMiddleware) RegisterMetricsEndpoint(r *gin.Engine, path string, g prometheus.Gatherer) {
	if path == "" {
		path = "/metrics"
	}
	pm.metricsPath = path
	r.GET(path, gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}
