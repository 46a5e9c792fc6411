package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/shard-engine/internal/logging"
)

func newRouter(reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	pm := NewPrometheusMiddleware("test", reg)
	r.Use(NewRequestLogger(logging.NewConsoleLogger("http", io.Discard)).Handler())
	r.Use(pm.Handler())
	pm.RegisterMetricsEndpoint(r, "/metrics", reg)

	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/fail", func(c *gin.Context) { c.String(http.StatusNotFound, "nope") })
	return r
}

func TestRequestLoggerSetsTraceHeader(t *testing.T) {
	r := newRouter(prometheus.NewRegistry())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(TraceHeader))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(TraceHeader))
}

func TestPrometheusMiddlewareCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newRouter(reg)

	for _, path := range []string{"/ok", "/fail", "/fail", "/random/1", "/random/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, `test_http_request_errors_total{method="GET",path="/fail",status="404"} 2`), body)
	assert.Contains(t, body, "test_http_request_duration_seconds")
	assert.Contains(t, body, `test_http_request_errors_total{method="GET",path="<unmatched>",status="404"} 2`)
	assert.Contains(t, body, `test_http_response_size_bytes_count{method="GET",path="/ok"} 1`)
	assert.NotContains(t, body, `path="/metrics"`)
	assert.NotContains(t, body, "/random/1")
}
