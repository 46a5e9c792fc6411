package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/shard-engine/internal/logging"
)

// TraceHeader - заголовок ответа с trace-ID запроса
const TraceHeader = "X-Trace-ID"

// RequestIDHeader - идентификатор, пришедший от клиента или прокси
const RequestIDHeader = "X-Request-ID"

const traceKey = "trace_id"

// RequestLogger пишет строку на каждый запрос и помечает ответ trace-ID.
// Ставится после otelgin: тогда trace-ID совпадает со спаном запроса.
type RequestLogger struct {
	log *logging.Logger
}

// NewRequestLogger; nil - логгер компонента api
func NewRequestLogger(log *logging.Logger) *RequestLogger {
	if log == nil {
		log = logging.GetAPILogger()
	}
	return &RequestLogger{log: log}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := requestTraceID(c)
		c.Set(traceKey, traceID)
		c.Header(TraceHeader, traceID)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		latency := time.Since(start).Round(time.Microsecond)

		switch {
		case status >= 500:
			rl.log.Error("%s %s %d %s ip=%s trace=%s %s", c.Request.Method, route, status, latency, c.ClientIP(), traceID, c.Errors.String())
		case status >= 400:
			rl.log.Warn("%s %s %d %s ip=%s trace=%s", c.Request.Method, route, status, latency, c.ClientIP(), traceID)
		default:
			rl.log.Debug("%s %s %d %s trace=%s", c.Request.Method, route, status, latency, traceID)
		}
	}
}

// requestTraceID: спан OpenTelemetry, затем X-Request-ID клиента, затем новый uuid
func requestTraceID(c *gin.Context) string {
	if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	if id := c.GetHeader(RequestIDHeader); id != "" && len(id) <= 64 {
		return id
	}
	return uuid.NewString()
}

// TraceID возвращает trace-ID, выставленный RequestLogger; пусто вне его цепочки
func TraceID(c *gin.Context) string {
	return c.GetString(traceKey)
}
