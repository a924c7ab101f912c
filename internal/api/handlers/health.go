// health.go: обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/projecthub/internal/config"
)

// statusFail: строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// ReadinessChecker: интерфейс для проверки готовности каталога.
type ReadinessChecker interface {
	IsReady() bool
}

// DependencyHealth: состояние внешних зависимостей (DephealthService).
// Ключи карты: "name:host:port".
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	catalog ReadinessChecker
	// deps: nil, если мониторинг зависимостей выключен
	deps DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints. deps может быть nil.
func NewHealthHandler(catalog ReadinessChecker, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		catalog: catalog,
		deps:    deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "projecthub",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Каталог обязателен: без него 503. Недоступный AI только понижает
// статус до "degraded".
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	catalogCheck := map[string]any{"status": "ok"}
	if h.catalog == nil || !h.catalog.IsReady() {
		catalogCheck = map[string]any{"status": statusFail, "message": "Каталог не загружен"}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{"catalog": catalogCheck}

	if h.deps != nil {
		for key, healthy := range h.deps.Health() {
			name, _, _ := strings.Cut(key, ":")
			status := "ok"
			if !healthy {
				status = statusFail
				if overallStatus != statusFail {
					overallStatus = "degraded"
				}
			}
			checks[name] = map[string]any{"status": status, "target": key}
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "projecthub",
		"checks":    checks,
	})
}
