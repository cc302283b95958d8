// metrics.go — Prometheus HTTP метрики WQT.
// Регистрирует метрики: wqt_http_requests_total, wqt_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wqt_http_requests_total",
			Help: "Общее количество HTTP-запросов к WQT",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wqt_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к WQT в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Публичные идентификаторы заменяются на {id}
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// recordActions — действия над записью, за которыми следует publicId.
var recordActions = map[string]bool{
	"view":   true,
	"edit":   true,
	"update": true,
	"delete": true,
}

// normalizePath заменяет публичные идентификаторы записей на {id}
// и неизвестные пути на {other} для ограничения кардинальности метрик.
// /card/view/c-17 → /card/view/{id}
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/auth", "/logout", "/check-session",
		"/supervisor", "/inspector",
		"/api/update-all-qr", "/api/openapi.yaml":
		return path
	}

	if strings.HasPrefix(path, "/media/") {
		return "/media/{key}"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if _, ok := model.KindByName(segments[0]); !ok {
		return "{other}"
	}

	switch {
	case len(segments) == 1:
		return "/" + segments[0] + "/"
	case len(segments) == 2 && (segments[1] == "insert" || segments[1] == "list"):
		return path
	case len(segments) == 3 && recordActions[segments[1]]:
		return "/" + segments[0] + "/" + segments[1] + "/{id}"
	default:
		return "/" + segments[0] + "/{other}"
	}
}
