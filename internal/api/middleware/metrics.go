// metrics.go: Prometheus HTTP метрики projecthub.
// Регистрирует метрики: ph_http_requests_total, ph_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики projecthub
var (
	// httpRequestsTotal: общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ph_http_requests_total",
			Help: "Общее количество HTTP-запросов к projecthub",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration: гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ph_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к projecthub в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификаторы в пути на шаблоны.
// /api/projects/<id> → /api/projects/{id}
// /api/projects/<id>/download → /api/projects/{id}/download
// /generated/<file> → /generated/{file}
// Неизвестные пути сводятся к "other".
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/projects", "/api/search", "/api/chat", "/api/generate-image",
		"/api/maintenance/reconcile":
		return path
	}

	if rest, ok := strings.CutPrefix(path, "/api/projects/"); ok && rest != "" {
		id, suffix, _ := strings.Cut(rest, "/")
		switch {
		case id == "":
		case suffix == "":
			return "/api/projects/{id}"
		case suffix == "download":
			return "/api/projects/{id}/download"
		}
	}

	if rest, ok := strings.CutPrefix(path, "/generated/"); ok && rest != "" {
		return "/generated/{file}"
	}

	return "other"
}
