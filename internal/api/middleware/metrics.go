// metrics.go — Prometheus HTTP метрики Storage Orchestrator:
// so_http_requests_total, so_http_request_duration_seconds.
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

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "so_http_requests_total",
			Help: "Общее количество HTTP-запросов к Storage Orchestrator",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "so_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Storage Orchestrator в секундах",
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

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// fileActions — допустимые суффиксы после /api/v1/files/{id}.
var fileActions = map[string]bool{
	"download":     true,
	"url":          true,
	"move":         true,
	"copy":         true,
	"virtual-path": true,
	"path-tokens":  true,
}

// normalizePath заменяет идентификаторы и ключи объектов шаблонами:
// /api/v1/files/a1b2.../download → /api/v1/files/{id}/download,
// /blobs/apps/x/y → /blobs/{bucket}/{key}.
func normalizePath(path string) string {
	const filesPrefix = "/api/v1/files/"
	switch {
	case strings.HasPrefix(path, filesPrefix):
		rest := strings.TrimPrefix(path, filesPrefix)
		if rest == "search" {
			return path
		}
		_, action, found := strings.Cut(rest, "/")
		if !found {
			return filesPrefix + "{id}"
		}
		if fileActions[action] {
			return filesPrefix + "{id}/" + action
		}
		return filesPrefix + "{id}/{unknown}"
	case strings.HasPrefix(path, "/blobs/"):
		return "/blobs/{bucket}/{key}"
	}
	return path
}
